package columnar

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/btree"
)

// AccessObserver receives segment-level access events. Implemented by the
// metrics package; tests use it to verify pruning behavior.
type AccessObserver interface {
	SegmentScanned(table, column string, segment int)
	SegmentPruned(table string, segment int)
}

// Options configures a Store.
type Options struct {
	SegmentCapacity int
	Compression     CompressionType
	Observer        AccessObserver
	Logger          zerolog.Logger
}

// Store owns the column data of all tables. Append-only: closed segments
// are immutable and concurrent readers never block each other.
type Store struct {
	mu       sync.RWMutex
	tables   map[string]*Table
	capacity int
	comp     Compressor
	observer AccessObserver
	log      zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(opts Options) (*Store, error) {
	capacity := opts.SegmentCapacity
	if capacity <= 0 {
		capacity = DefaultSegmentCapacity
	}
	comp, err := CreateCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &Store{
		tables:   make(map[string]*Table),
		capacity: capacity,
		comp:     comp,
		observer: opts.Observer,
		log:      opts.Logger,
	}, nil
}

// CreateTable registers a new table for the given schema.
func (s *Store) CreateTable(schema *Schema) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[schema.Table]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, schema.Table)
	}
	t := newTable(schema, s.capacity, s.comp, s.observer, s.log)
	s.tables[schema.Table] = t
	s.log.Debug().Str("table", schema.Table).Int("columns", len(schema.Columns)).Msg("table created")
	return t, nil
}

// Table returns the table with the given name.
func (s *Store) Table(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// Append appends a row batch to the named table.
func (s *Store) Append(table string, batch *RowBatch) error {
	t, err := s.Table(table)
	if err != nil {
		return err
	}
	return t.Append(batch)
}

// ReadColumn returns the decoded values of one column over [lo, hi).
func (s *Store) ReadColumn(table, column string, lo, hi int64) (*ColumnVector, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	return t.ReadColumn(column, lo, hi)
}

// Table holds the columns of one table plus its segment directory. All
// columns share identical segmentation boundaries.
type Table struct {
	mu       sync.RWMutex
	schema   *Schema
	capacity int
	comp     Compressor
	observer AccessObserver
	log      zerolog.Logger

	rowCount  int64
	openStart int64
	segments  *btree.BTreeG[*SegmentDescriptor]
	cols      map[string]*columnData
}

type columnData struct {
	schema ColumnSchema
	open   *ColumnVector
	closed []*encodedSegment
}

func newTable(schema *Schema, capacity int, comp Compressor, obs AccessObserver, log zerolog.Logger) *Table {
	t := &Table{
		schema:   schema,
		capacity: capacity,
		comp:     comp,
		observer: obs,
		log:      log.With().Str("table", schema.Table).Logger(),
		segments: btree.NewBTreeG(func(a, b *SegmentDescriptor) bool {
			return a.StartRow < b.StartRow
		}),
		cols: make(map[string]*columnData, len(schema.Columns)),
	}
	for _, cs := range schema.Columns {
		t.cols[cs.Name] = &columnData{schema: cs, open: NewColumnVector(cs, capacity)}
	}
	return t
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// RowCount returns the current number of rows, including the open tail.
func (t *Table) RowCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowCount
}

// Append appends a batch, extending every column uniformly. The batch is
// validated in full before any column is touched, so a failed append has no
// partial effect. Segments close when the open tail reaches capacity or
// when the partition key value changes between consecutive rows.
func (t *Table) Append(batch *RowBatch) error {
	if err := t.validateBatch(batch); err != nil {
		return err
	}
	n := batch.Len()
	if n == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var pk *ColumnVector
	if t.schema.PartitionKey != "" {
		pk = batch.Columns[t.schema.PartitionKey]
	}

	for off := 0; off < n; {
		// A new partition key value starts its own segment.
		if pk != nil && t.openLen() > 0 {
			openPk := t.cols[t.schema.PartitionKey].open
			if !sameScalar(openPk, openPk.Len()-1, pk, off) {
				if err := t.closeOpenSegmentLocked(); err != nil {
					return err
				}
			}
		}

		take := n - off
		if room := t.capacity - t.openLen(); take > room {
			take = room
		}
		if pk != nil {
			take = partitionRun(pk, off, take)
		}
		for name, cd := range t.cols {
			cd.open.appendVector(batch.Columns[name].Slice(off, off+take))
		}
		t.rowCount += int64(take)
		off += take

		if t.openLen() >= t.capacity {
			if err := t.closeOpenSegmentLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// partitionRun shortens take so a chunk never spans a partition key change.
func partitionRun(pk *ColumnVector, off, take int) int {
	end := off + 1
	for end < off+take && sameScalar(pk, end-1, pk, end) {
		end++
	}
	return end - off
}

func sameScalar(a *ColumnVector, i int, b *ColumnVector, j int) bool {
	if a.IsNull(i) || b.IsNull(j) {
		return a.IsNull(i) && b.IsNull(j)
	}
	switch {
	case a.Type.IntPhysical():
		return a.Ints[i] == b.Ints[j]
	case a.Type == DataTypeFloat64:
		return a.Floats[i] == b.Floats[j]
	default:
		return a.Strings[i] == b.Strings[j]
	}
}

func (t *Table) openLen() int {
	for _, cd := range t.cols {
		return cd.open.Len()
	}
	return 0
}

// FlushSegment closes the open tail segment, if it holds any rows. Exposed
// for loaders that align segments with their own partitioning scheme.
func (t *Table) FlushSegment() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openLen() == 0 {
		return nil
	}
	return t.closeOpenSegmentLocked()
}

// closeOpenSegmentLocked encodes the open tail of every column and installs
// the segment descriptor. The descriptor is inserted only after every
// column encoded cleanly, so readers never see a half-closed segment.
func (t *Table) closeOpenSegmentLocked() error {
	rows := t.openLen()
	if rows == 0 {
		return nil
	}
	desc := &SegmentDescriptor{
		Index:    t.segments.Len(),
		StartRow: t.openStart,
		RowCount: rows,
		Closed:   true,
		Stats:    make(map[string]*SegmentStats, len(t.cols)),
		Dicts:    make(map[string][]string),
	}
	encoded := make(map[string]*encodedSegment, len(t.cols))
	for name, cd := range t.cols {
		es, stats, dict, err := encodeSegment(cd.open, cd.schema, t.comp)
		if err != nil {
			return fmt.Errorf("close segment %d of %s: %w", desc.Index, t.schema.Table, err)
		}
		encoded[name] = es
		desc.Stats[name] = stats
		if dict != nil {
			desc.Dicts[name] = dict
		}
	}
	for name, cd := range t.cols {
		cd.closed = append(cd.closed, encoded[name])
		cd.open = NewColumnVector(cd.schema, t.capacity)
	}
	t.segments.Set(desc)
	t.openStart += int64(rows)
	t.log.Debug().Int("segment", desc.Index).Int("rows", rows).Msg("segment closed")
	return nil
}

func (t *Table) validateBatch(batch *RowBatch) error {
	if batch == nil || batch.Columns == nil {
		return &SchemaMismatchError{Table: t.schema.Table, Reason: "empty batch"}
	}
	if len(batch.Columns) != len(t.schema.Columns) {
		return &SchemaMismatchError{
			Table:  t.schema.Table,
			Reason: fmt.Sprintf("batch has %d columns, schema has %d", len(batch.Columns), len(t.schema.Columns)),
		}
	}
	n := -1
	for _, cs := range t.schema.Columns {
		vec, ok := batch.Columns[cs.Name]
		if !ok {
			return &SchemaMismatchError{Table: t.schema.Table, Column: cs.Name, Reason: "missing from batch"}
		}
		if vec.Type != cs.Type {
			return &SchemaMismatchError{
				Table:  t.schema.Table,
				Column: cs.Name,
				Reason: fmt.Sprintf("batch type %s, schema type %s", vec.Type, cs.Type),
			}
		}
		if n == -1 {
			n = vec.Len()
		} else if vec.Len() != n {
			return &SchemaMismatchError{Table: t.schema.Table, Column: cs.Name, Reason: "ragged batch lengths"}
		}
		if !cs.Nullable && vec.Nulls != nil && !vec.Nulls.IsEmpty() {
			return &SchemaMismatchError{Table: t.schema.Table, Column: cs.Name, Reason: "null value for non-nullable column"}
		}
	}
	return nil
}

// Segments returns a snapshot of the segment directory in row order,
// including a descriptor for the open tail when it holds rows. The open
// descriptor carries no stats and is therefore never pruned.
func (t *Table) Segments() []*SegmentDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.segmentsLocked()
}

func (t *Table) segmentsLocked() []*SegmentDescriptor {
	out := make([]*SegmentDescriptor, 0, t.segments.Len()+1)
	t.segments.Scan(func(d *SegmentDescriptor) bool {
		out = append(out, d)
		return true
	})
	if open := t.openLen(); open > 0 {
		out = append(out, &SegmentDescriptor{
			Index:    t.segments.Len(),
			StartRow: t.openStart,
			RowCount: open,
		})
	}
	return out
}

// ReadSegmentColumn decodes one column of one segment.
func (t *Table) ReadSegmentColumn(desc *SegmentDescriptor, column string) (*ColumnVector, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readSegmentColumnLocked(desc, column)
}

func (t *Table) readSegmentColumnLocked(desc *SegmentDescriptor, column string) (*ColumnVector, error) {
	cd, ok := t.cols[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.schema.Table, column)
	}
	if t.observer != nil {
		t.observer.SegmentScanned(t.schema.Table, column, desc.Index)
	}
	if !desc.Closed {
		return cd.open.Slice(0, cd.open.Len()), nil
	}
	if desc.Index >= len(cd.closed) {
		return nil, fmt.Errorf("%w: segment %d of %s.%s", ErrSegmentCorrupt, desc.Index, t.schema.Table, column)
	}
	return cd.closed[desc.Index].decode(t.comp)
}

// ReadColumn returns decoded values for [lo, hi), stitched across segments.
func (t *Table) ReadColumn(column string, lo, hi int64) (*ColumnVector, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cd, ok := t.cols[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.schema.Table, column)
	}
	if lo < 0 || hi < lo || hi > t.rowCount {
		return nil, fmt.Errorf("%w: [%d, %d) of %d rows", ErrRowRangeInvalid, lo, hi, t.rowCount)
	}

	out := NewColumnVector(cd.schema, int(hi-lo))
	for _, desc := range t.segmentsLocked() {
		if desc.EndRow() <= lo || desc.StartRow >= hi {
			continue
		}
		vec, err := t.readSegmentColumnLocked(desc, column)
		if err != nil {
			return nil, err
		}
		from := int(max64(lo, desc.StartRow) - desc.StartRow)
		to := int(min64(hi, desc.EndRow()) - desc.StartRow)
		out.appendVector(vec.Slice(from, to))
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

package columnar

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

// countingObserver records segment access per table.
type countingObserver struct {
	mu      sync.Mutex
	scanned map[int]int // segment -> column reads
	pruned  []int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{scanned: make(map[int]int)}
}

func (o *countingObserver) SegmentScanned(table, column string, segment int) {
	o.mu.Lock()
	o.scanned[segment]++
	o.mu.Unlock()
}

func (o *countingObserver) SegmentPruned(table string, segment int) {
	o.mu.Lock()
	o.pruned = append(o.pruned, segment)
	o.mu.Unlock()
}

func monthlySchema() *Schema {
	return &Schema{
		Table: "flights",
		Columns: []ColumnSchema{
			{Name: "flight_date", Type: DataTypeDate},
			{Name: "airline", Type: DataTypeString},
			{Name: "passengers", Type: DataTypeInt64},
			{Name: "fare", Type: DataTypeFloat64, Nullable: true},
		},
	}
}

// loadMonthly appends one closed segment per month of 2024.
func loadMonthly(t *testing.T, store *Store) *Table {
	t.Helper()
	if _, err := store.CreateTable(monthlySchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tbl, _ := store.Table("flights")
	airlines := []string{"AA", "DL", "UA"}
	for month := 1; month <= 12; month++ {
		builder := NewBatchBuilder(monthlySchema())
		for day := 1; day <= 10; day++ {
			row := map[string]interface{}{
				"flight_date": fmt.Sprintf("2024-%02d-%02d", month, day),
				"airline":     airlines[day%len(airlines)],
				"passengers":  int64(100 + month*10 + day),
				"fare":        float64(month * 100),
			}
			if err := builder.AppendRow(row); err != nil {
				t.Fatalf("AppendRow: %v", err)
			}
		}
		if err := tbl.Append(builder.Batch()); err != nil {
			t.Fatalf("Append month %d: %v", month, err)
		}
		if err := tbl.FlushSegment(); err != nil {
			t.Fatalf("FlushSegment month %d: %v", month, err)
		}
	}
	return tbl
}

func TestPruneDateRange(t *testing.T) {
	obs := newCountingObserver()
	store, err := NewStore(Options{SegmentCapacity: 1024, Compression: CompressionSnappy, Observer: obs})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tbl := loadMonthly(t, store)

	// A June-only range must keep exactly the June segment.
	kept, err := tbl.Prune([]PruneFilter{{
		Column: "flight_date",
		Op:     PruneBetween,
		Value:  "2024-06-01",
		Hi:     "2024-06-30",
	}})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("kept %d segments, want 1", len(kept))
	}
	if kept[0].Index != 5 {
		t.Errorf("kept segment %d, want the June segment (5)", kept[0].Index)
	}
	if len(obs.pruned) != 11 {
		t.Errorf("observer saw %d pruned segments, want 11", len(obs.pruned))
	}

	// Reading the survivor touches only that segment.
	if _, err := tbl.ReadSegmentColumn(kept[0], "passengers"); err != nil {
		t.Fatalf("ReadSegmentColumn: %v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.scanned) != 1 {
		t.Errorf("scanned %d distinct segments, want 1", len(obs.scanned))
	}
}

func TestPruneOperators(t *testing.T) {
	store := newTestStore(t, 1024)
	tbl := loadMonthly(t, store)
	total := len(tbl.Segments())

	cases := []struct {
		name   string
		filter PruneFilter
		want   int
	}{
		{"EqBeforeRange", PruneFilter{Column: "flight_date", Op: PruneEQ, Value: "2023-12-01"}, 0},
		{"EqInRange", PruneFilter{Column: "flight_date", Op: PruneEQ, Value: "2024-03-05"}, 1},
		{"LtFirstDay", PruneFilter{Column: "flight_date", Op: PruneLT, Value: "2024-01-01"}, 0},
		{"LeFirstDay", PruneFilter{Column: "flight_date", Op: PruneLE, Value: "2024-01-01"}, 1},
		{"GtLastKept", PruneFilter{Column: "flight_date", Op: PruneGT, Value: "2024-11-10"}, 1},
		{"GeSecondHalf", PruneFilter{Column: "flight_date", Op: PruneGE, Value: "2024-07-01"}, 6},
		{"IntRange", PruneFilter{Column: "passengers", Op: PruneBetween, Value: 111, Hi: 130}, 2},
		{"AirlineEverywhere", PruneFilter{Column: "airline", Op: PruneEQ, Value: "AA"}, total},
		{"AirlineNowhere", PruneFilter{Column: "airline", Op: PruneEQ, Value: "ZZ"}, 0},
		{"AirlineInMixed", PruneFilter{Column: "airline", Op: PruneIn, Set: []interface{}{"ZZ", "DL"}}, total},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kept, err := tbl.Prune([]PruneFilter{tc.filter})
			if err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if len(kept) != tc.want {
				t.Errorf("kept %d segments, want %d", len(kept), tc.want)
			}
		})
	}

	t.Run("UnknownColumn", func(t *testing.T) {
		if _, err := tbl.Prune([]PruneFilter{{Column: "ghost", Op: PruneEQ, Value: 1}}); err == nil {
			t.Error("expected an error for an unknown prune column")
		}
	})
}

func TestPruneKeepsOpenTail(t *testing.T) {
	store := newTestStore(t, 1024)
	tbl := loadMonthly(t, store)

	// Rows in the open tail carry no stats and must survive any filter.
	builder := NewBatchBuilder(monthlySchema())
	row := map[string]interface{}{
		"flight_date": "2025-01-01", "airline": "QF", "passengers": int64(1), "fare": nil,
	}
	if err := builder.AppendRow(row); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	if err := tbl.Append(builder.Batch()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	kept, err := tbl.Prune([]PruneFilter{{Column: "flight_date", Op: PruneEQ, Value: "1999-01-01"}})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(kept) != 1 || kept[0].Closed {
		t.Fatalf("expected only the open tail to survive, got %d segments", len(kept))
	}
}

func TestPruneAllNullSegment(t *testing.T) {
	store := newTestStore(t, 1024)
	if _, err := store.CreateTable(monthlySchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tbl, _ := store.Table("flights")

	builder := NewBatchBuilder(monthlySchema())
	for i := 0; i < 4; i++ {
		row := map[string]interface{}{
			"flight_date": "2024-01-01", "airline": "AA", "passengers": int64(i), "fare": nil,
		}
		if err := builder.AppendRow(row); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	if err := tbl.Append(builder.Batch()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tbl.FlushSegment(); err != nil {
		t.Fatalf("FlushSegment: %v", err)
	}

	// fare is entirely null: no comparison can match.
	kept, err := tbl.Prune([]PruneFilter{{Column: "fare", Op: PruneGT, Value: 0.0}})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(kept) != 0 {
		t.Errorf("kept %d segments, want 0 for an all-null column", len(kept))
	}
}

func TestVerifyPruneDetectsDroppedMatch(t *testing.T) {
	store := newTestStore(t, 1024)
	tbl := loadMonthly(t, store)

	filters := []PruneFilter{{
		Column: "flight_date",
		Op:     PruneBetween,
		Value:  "2024-06-01",
		Hi:     "2024-06-30",
	}}
	kept, err := tbl.Prune(filters)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if err := tbl.VerifyPrune(filters, kept); err != nil {
		t.Fatalf("consistent prune flagged: %v", err)
	}

	// An empty kept set claims June matched nothing; verification must
	// notice that the June segment holds matching rows.
	err = tbl.VerifyPrune(filters, nil)
	var pi *PruneInconsistencyError
	if !errors.As(err, &pi) {
		t.Fatalf("got %v, want PruneInconsistencyError", err)
	}
	if pi.Segment != 5 {
		t.Errorf("flagged segment %d, want the June segment (5)", pi.Segment)
	}
}

// TestPruneNeverDropsMatches is the safety property: for random data and
// random range filters, every row a full scan finds must live in a kept
// segment.
func TestPruneNeverDropsMatches(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	schema := &Schema{
		Table: "rnd",
		Columns: []ColumnSchema{
			{Name: "v", Type: DataTypeInt64},
		},
	}
	store := newTestStore(t, 16)
	if _, err := store.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tbl, _ := store.Table("rnd")

	const rows = 500
	values := make([]int64, rows)
	builder := NewBatchBuilder(schema)
	for i := range values {
		values[i] = int64(rng.Intn(1000))
		if err := builder.AppendRow(map[string]interface{}{"v": values[i]}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	if err := tbl.Append(builder.Batch()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tbl.FlushSegment(); err != nil {
		t.Fatalf("FlushSegment: %v", err)
	}

	for trial := 0; trial < 100; trial++ {
		lo := int64(rng.Intn(1000))
		hi := lo + int64(rng.Intn(200))
		filters := []PruneFilter{{Column: "v", Op: PruneBetween, Value: lo, Hi: hi}}
		kept, err := tbl.Prune(filters)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if err := tbl.VerifyPrune(filters, kept); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		inKept := func(row int64) bool {
			for _, desc := range kept {
				if row >= desc.StartRow && row < desc.EndRow() {
					return true
				}
			}
			return false
		}
		for i, v := range values {
			if v >= lo && v <= hi && !inKept(int64(i)) {
				t.Fatalf("trial %d: row %d (v=%d) matches [%d, %d] but its segment was pruned", trial, i, v, lo, hi)
			}
		}
	}
}

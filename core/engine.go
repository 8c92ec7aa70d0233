package core

import (
	"fmt"
	"runtime"

	"github.com/go-playground/validator/v10"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"colstore/catalog"
	"colstore/columnar"
	"colstore/logging"
	"colstore/metrics"
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	SegmentCapacity int    `validate:"omitempty,gte=1024"`
	Compression     string `validate:"omitempty,oneof=none snappy zstd gzip"`
	Workers         int    `validate:"omitempty,gte=1,lte=1024"`

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Engine ties the catalog, the column store and a worker pool into a
// single query surface. An Engine is safe for concurrent use.
type Engine struct {
	catalog *catalog.Catalog
	store   *columnar.Store
	pool    *ants.Pool
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	if err := validator.New().Struct(&opts); err != nil {
		return nil, fmt.Errorf("engine options: %w", err)
	}

	log := logging.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	compression := columnar.CompressionSnappy
	if opts.Compression != "" {
		ct, err := columnar.ParseCompressionType(opts.Compression)
		if err != nil {
			return nil, err
		}
		compression = ct
	}

	workers := opts.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}

	var observer columnar.AccessObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}

	store, err := columnar.NewStore(columnar.Options{
		SegmentCapacity: opts.SegmentCapacity,
		Compression:     compression,
		Observer:        observer,
		Logger:          log,
	})
	if err != nil {
		pool.Release()
		return nil, err
	}

	return &Engine{
		catalog: catalog.New(),
		store:   store,
		pool:    pool,
		metrics: opts.Metrics,
		log:     log,
	}, nil
}

// CreateTable registers the schema and provisions column storage. The
// schema is validated once here; appends only check batches against it.
func (e *Engine) CreateTable(schema *columnar.Schema) error {
	if err := e.catalog.Register(schema); err != nil {
		return err
	}
	if _, err := e.store.CreateTable(schema); err != nil {
		// Roll back the registration so a retry can succeed.
		e.catalog.Drop(schema.Table)
		return err
	}
	e.log.Info().Str("table", schema.Table).Int("columns", len(schema.Columns)).Msg("table created")
	return nil
}

// Append validates and writes a batch of rows to the table.
func (e *Engine) Append(table string, batch *columnar.RowBatch) error {
	if err := e.store.Append(table, batch); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RowsAppended.Add(float64(batch.Len()))
	}
	return nil
}

// Schema returns the registered schema for a table.
func (e *Engine) Schema(table string) (*columnar.Schema, error) {
	return e.catalog.Lookup(table)
}

// Tables lists registered table names in sorted order.
func (e *Engine) Tables() []string {
	return e.catalog.List()
}

// FlushSegment closes the open tail segment of a table, making its rows
// eligible for stats-based pruning.
func (e *Engine) FlushSegment(table string) error {
	tbl, err := e.store.Table(table)
	if err != nil {
		return err
	}
	return tbl.FlushSegment()
}

// Close releases the worker pool. In-flight queries must drain first.
func (e *Engine) Close() {
	e.pool.Release()
}

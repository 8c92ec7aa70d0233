package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"colstore/columnar"
)

// Execute drives a logical plan to completion: prune segments, filter rows,
// group or window-evaluate, sort, limit. Plan shape and schema problems are
// reported before any segment is touched. Cancellation is honored between
// segments and between window partitions and surfaces as the context's
// error, a terminal state distinct from query failure.
func (e *Engine) Execute(ctx context.Context, plan *PlanNode) (*Cursor, error) {
	start := time.Now()
	queryID := uuid.NewString()
	log := e.log.With().Str("query_id", queryID).Logger()

	cursor, err := e.execute(ctx, plan, log)
	if e.metrics != nil {
		e.metrics.QueriesTotal.Inc()
		e.metrics.QuerySeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			e.metrics.QueryErrors.Inc()
		}
	}
	if err != nil {
		log.Debug().Err(err).Msg("query failed")
		return nil, err
	}
	log.Debug().Dur("elapsed", time.Since(start)).Int("rows", len(cursor.rows)).Msg("query done")
	return cursor, nil
}

func (e *Engine) execute(ctx context.Context, plan *PlanNode, log zerolog.Logger) (*Cursor, error) {
	qp, err := normalizePlan(plan)
	if err != nil {
		return nil, err
	}
	schema, err := e.catalog.Lookup(qp.table)
	if err != nil {
		return nil, stageError("scan", err)
	}
	if err := qp.bindSchema(schema); err != nil {
		return nil, err
	}
	if err := validateMetricTypes(qp, schema); err != nil {
		return nil, err
	}
	outputs := qp.outputColumns()
	if err := validateSortKeys(qp.sortKeys, outputs); err != nil {
		return nil, err
	}

	table, err := e.store.Table(qp.table)
	if err != nil {
		return nil, stageError("scan", err)
	}

	var filters []columnar.PruneFilter
	if qp.predicate != nil {
		filters = extractPruneFilters(qp.predicate)
	}
	segments, err := table.Prune(filters)
	if err != nil {
		return nil, stageError("prune", err)
	}
	log.Debug().Int("segments", len(segments)).Int("prune_filters", len(filters)).Msg("scan segments selected")

	segmentRows, err := e.scanSegments(ctx, table, qp, segments)
	if err != nil {
		return nil, err
	}

	var rows []Row
	switch {
	case qp.group != nil:
		rows, err = e.runGroupBy(ctx, qp.group, segmentRows)
		if err != nil {
			return nil, err
		}
	default:
		for _, chunk := range segmentRows {
			rows = append(rows, chunk...)
		}
		if len(qp.windows) > 0 {
			if err := e.runWindows(ctx, qp.windows, rows); err != nil {
				return nil, err
			}
		}
	}

	if err := sortRows(rows, qp.sortKeys); err != nil {
		return nil, stageError("sort", err)
	}
	// LIMIT truncates only after all upstream ordering is applied.
	if qp.limit >= 0 && len(rows) > qp.limit {
		rows = rows[:qp.limit]
	}
	return newCursor(outputs, rows, len(qp.sortKeys) > 0), nil
}

// scanSegments decodes and filters the surviving segments, one worker task
// per segment, keeping per-segment row slices in table order.
func (e *Engine) scanSegments(ctx context.Context, table *columnar.Table, qp *queryPlan, segments []*columnar.SegmentDescriptor) ([][]Row, error) {
	out := make([][]Row, len(segments))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for idx, desc := range segments {
		if err := ctx.Err(); err != nil {
			break
		}
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		idx, desc := idx, desc
		wg.Add(1)
		task := func() {
			defer wg.Done()
			rows, err := e.scanOneSegment(table, qp, desc)
			if err != nil {
				fail(err)
				return
			}
			out[idx] = rows
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			fail(stageError("scan", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) scanOneSegment(table *columnar.Table, qp *queryPlan, desc *columnar.SegmentDescriptor) ([]Row, error) {
	batch := make(map[string]*columnar.ColumnVector, len(qp.columns))
	for _, col := range qp.columns {
		vec, err := table.ReadSegmentColumn(desc, col)
		if err != nil {
			return nil, stageError("scan", err)
		}
		batch[col] = vec
	}
	n := desc.RowCount

	selected := make([]int, 0, n)
	if qp.predicate != nil {
		sel, err := evalPredicate(qp.predicate, batch, n)
		if err != nil {
			return nil, stageError("filter", err)
		}
		it := sel.truth.Iterator()
		for it.HasNext() {
			selected = append(selected, int(it.Next()))
		}
	} else {
		for i := 0; i < n; i++ {
			selected = append(selected, i)
		}
	}

	rows := make([]Row, 0, len(selected))
	for _, i := range selected {
		row := make(Row, len(qp.columns))
		for _, col := range qp.columns {
			row[col] = batch[col].Value(i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// runGroupBy folds each segment's rows into a worker-local table, then
// merges the partials in a single-threaded reduce. Workers never share
// accumulator state during the scan.
func (e *Engine) runGroupBy(ctx context.Context, spec *GroupBySpec, segmentRows [][]Row) ([]Row, error) {
	partials := make([]*aggTable, len(segmentRows))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for idx, chunk := range segmentRows {
		if err := ctx.Err(); err != nil {
			break
		}
		idx, chunk := idx, chunk
		wg.Add(1)
		task := func() {
			defer wg.Done()
			t := newAggTable(spec)
			for _, row := range chunk {
				if err := t.add(row); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = stageError("group-by", err)
					}
					mu.Unlock()
					return
				}
			}
			partials[idx] = t
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = stageError("group-by", err)
			}
			mu.Unlock()
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := newAggTable(spec)
	for _, partial := range partials {
		if partial == nil {
			continue
		}
		if err := merged.merge(partial); err != nil {
			return nil, stageError("group-by", err)
		}
	}
	rows, err := merged.finalize()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// runWindows evaluates every window function. Functions sharing a
// PARTITION BY / ORDER BY clause reuse one partition build and run as one
// group. Groups run strictly one after another: their partitionings of the
// same rows overlap, so only within a group are partitions disjoint and
// safe to evaluate in parallel. Each partition task runs to completion
// once scheduled; cancellation is observed between partitions.
func (e *Engine) runWindows(ctx context.Context, funcs []WindowFunc, rows []Row) error {
	type specGroup struct {
		funcs []*WindowFunc
	}
	groups := make(map[string]*specGroup)
	var order []string
	for i := range funcs {
		key := funcs[i].specKey()
		g, ok := groups[key]
		if !ok {
			g = &specGroup{}
			groups[key] = g
			order = append(order, key)
		}
		g.funcs = append(g.funcs, &funcs[i])
	}

	for _, key := range order {
		g := groups[key]
		parts, err := buildPartitions(rows, g.funcs[0].PartitionBy, g.funcs[0].OrderBy)
		if err != nil {
			return stageError("window", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for _, part := range parts {
			if err := ctx.Err(); err != nil {
				break
			}
			g, part := g, part
			wg.Add(1)
			task := func() {
				defer wg.Done()
				for _, fn := range g.funcs {
					if err := evalWindowPartition(fn, rows, part); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = stageError("window", err)
						}
						mu.Unlock()
						return
					}
				}
			}
			if err := e.pool.Submit(task); err != nil {
				wg.Done()
				mu.Lock()
				if firstErr == nil {
					firstErr = stageError("window", err)
				}
				mu.Unlock()
				break
			}
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// validateMetricTypes rejects SUM/AVG over non-numeric columns at plan
// time rather than per row.
func validateMetricTypes(qp *queryPlan, schema *columnar.Schema) error {
	numeric := func(stage, col string) error {
		cs, ok := schema.Column(col)
		if !ok {
			return &PlanError{Stage: stage, Reason: fmt.Sprintf("unknown column %s", col)}
		}
		switch cs.Type {
		case columnar.DataTypeInt64, columnar.DataTypeFloat64, columnar.DataTypeDecimal:
			return nil
		}
		return &PlanError{Stage: stage, Reason: fmt.Sprintf("column %s (%s) is not numeric", col, cs.Type)}
	}
	if qp.group != nil {
		for _, agg := range qp.group.Aggregates {
			if agg.Kind == AggSum || agg.Kind == AggAvg {
				if err := numeric("group-by", agg.Column); err != nil {
					return err
				}
			}
		}
	}
	for i := range qp.windows {
		fn := &qp.windows[i]
		if fn.Kind == WinSum || fn.Kind == WinAvg {
			if err := numeric("window", fn.Column); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSortKeys(keys []SortKey, outputs []string) error {
	known := make(map[string]bool, len(outputs))
	for _, c := range outputs {
		known[c] = true
	}
	for _, key := range keys {
		if !known[key.Column] {
			return &PlanError{Stage: "sort", Reason: fmt.Sprintf("sort key %s is not an output column", key.Column)}
		}
	}
	return nil
}

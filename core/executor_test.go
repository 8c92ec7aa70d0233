package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"colstore/columnar"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	engine, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func ordersSchema() *columnar.Schema {
	return &columnar.Schema{
		Table: "orders",
		Columns: []columnar.ColumnSchema{
			{Name: "id", Type: columnar.DataTypeInt64},
			{Name: "day", Type: columnar.DataTypeDate},
			{Name: "region", Type: columnar.DataTypeString},
			{Name: "amount", Type: columnar.DataTypeInt64, Nullable: true},
		},
	}
}

// seedOrders loads a small fixture and closes a segment per month so date
// filters can prune.
func seedOrders(t *testing.T, engine *Engine) {
	t.Helper()
	if err := engine.CreateTable(ordersSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	months := map[string][]Row{
		"2024-01": {
			{"id": int64(1), "day": "2024-01-10", "region": "east", "amount": int64(100)},
			{"id": int64(2), "day": "2024-01-11", "region": "west", "amount": int64(200)},
			{"id": int64(3), "day": "2024-01-12", "region": "east", "amount": nil},
		},
		"2024-02": {
			{"id": int64(4), "day": "2024-02-05", "region": "east", "amount": int64(300)},
			{"id": int64(5), "day": "2024-02-06", "region": "west", "amount": int64(50)},
		},
		"2024-03": {
			{"id": int64(6), "day": "2024-03-01", "region": "east", "amount": int64(75)},
			{"id": int64(7), "day": "2024-03-02", "region": "west", "amount": int64(25)},
		},
	}
	for _, month := range []string{"2024-01", "2024-02", "2024-03"} {
		builder := columnar.NewBatchBuilder(ordersSchema())
		for _, row := range months[month] {
			if err := builder.AppendRow(row); err != nil {
				t.Fatalf("AppendRow: %v", err)
			}
		}
		if err := engine.Append("orders", builder.Batch()); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := engine.FlushSegment("orders"); err != nil {
			t.Fatalf("FlushSegment: %v", err)
		}
	}
}

func TestExecuteScanFilter(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	plan := Scan("orders", "id", "region", "amount").
		Filter(Compare{Column: "amount", Op: OpGt, Value: 60}).
		Sort(SortKey{Column: "id"})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !cursor.Ordered() {
		t.Error("sorted result should report Ordered")
	}
	var ids []int64
	for cursor.Next() {
		ids = append(ids, cursor.Row()["id"].(int64))
	}
	if err := cursor.Err(); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	// The NULL amount row is excluded, not matched.
	if !reflect.DeepEqual(ids, []int64{1, 2, 4, 6}) {
		t.Errorf("ids = %v, want [1 2 4 6]", ids)
	}
}

func TestExecuteGroupBy(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 4})
	seedOrders(t, engine)

	plan := Scan("orders", "region", "amount").
		GroupBy(&GroupBySpec{
			Keys: []string{"region"},
			Aggregates: []AggregateSpec{
				{Kind: AggCountStar, Alias: "orders"},
				{Kind: AggSum, Column: "amount", Alias: "total"},
			},
		}).
		Sort(SortKey{Column: "region"})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d groups, want 2", len(rows))
	}
	east, west := rows[0], rows[1]
	if east["region"] != "east" || east["orders"] != int64(4) || east["total"] != int64(475) {
		t.Errorf("east group = %+v", east)
	}
	if west["region"] != "west" || west["orders"] != int64(3) || west["total"] != int64(275) {
		t.Errorf("west group = %+v", west)
	}
}

func TestExecuteGroupByHaving(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	plan := Scan("orders", "region", "amount").
		GroupBy(&GroupBySpec{
			Keys:       []string{"region"},
			Aggregates: []AggregateSpec{{Kind: AggSum, Column: "amount", Alias: "total"}},
			Having:     Compare{Column: "total", Op: OpGt, Value: 300},
		})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 1 || rows[0]["region"] != "east" {
		t.Errorf("HAVING result = %+v", rows)
	}
}

func TestExecuteWindow(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	plan := Scan("orders", "id", "day", "region", "amount").
		Window(
			WindowFunc{
				Kind: WinSum, Column: "amount", Alias: "running",
				PartitionBy: []string{"region"},
				OrderBy:     []SortKey{{Column: "day"}},
			},
			WindowFunc{
				Kind: WinRowNumber, Alias: "seq",
				PartitionBy: []string{"region"},
				OrderBy:     []SortKey{{Column: "day"}},
			},
		).
		Sort(SortKey{Column: "id"})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("got %d rows, want 7", len(rows))
	}
	// east by day: 100, NULL, 300, 75 -> running 100, 100, 400, 475.
	running := map[int64]interface{}{}
	seq := map[int64]interface{}{}
	for _, row := range rows {
		running[row["id"].(int64)] = row["running"]
		seq[row["id"].(int64)] = row["seq"]
	}
	wantRunning := map[int64]interface{}{
		1: int64(100), 3: int64(100), 4: int64(400), 6: int64(475),
		2: int64(200), 5: int64(250), 7: int64(275),
	}
	for id, want := range wantRunning {
		if running[id] != want {
			t.Errorf("running[%d] = %v, want %v", id, running[id], want)
		}
	}
	wantSeq := map[int64]interface{}{
		1: int64(1), 3: int64(2), 4: int64(3), 6: int64(4),
		2: int64(1), 5: int64(2), 7: int64(3),
	}
	for id, want := range wantSeq {
		if seq[id] != want {
			t.Errorf("seq[%d] = %v, want %v", id, seq[id], want)
		}
	}
}

func TestExecuteWindowDistinctPartitionings(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 4})
	schema := &columnar.Schema{
		Table: "shipments",
		Columns: []columnar.ColumnSchema{
			{Name: "id", Type: columnar.DataTypeInt64},
			{Name: "warehouse", Type: columnar.DataTypeString},
			{Name: "carrier", Type: columnar.DataTypeString},
			{Name: "weight", Type: columnar.DataTypeInt64},
		},
	}
	if err := engine.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	warehouses := []string{"n", "n", "n", "n", "s", "s", "s", "s"}
	carriers := []string{"p", "q", "p", "q", "p", "q", "p", "q"}
	builder := columnar.NewBatchBuilder(schema)
	for i := 0; i < 8; i++ {
		err := builder.AppendRow(map[string]interface{}{
			"id": int64(i + 1), "warehouse": warehouses[i],
			"carrier": carriers[i], "weight": int64(i + 1),
		})
		if err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	if err := engine.Append("shipments", builder.Batch()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Two running sums over partitionings that cut the rows differently;
	// both must come out as if evaluated in isolation.
	plan := Scan("shipments", "id", "warehouse", "carrier", "weight").
		Window(
			WindowFunc{
				Kind: WinSum, Column: "weight", Alias: "by_warehouse",
				PartitionBy: []string{"warehouse"},
				OrderBy:     []SortKey{{Column: "id"}},
			},
			WindowFunc{
				Kind: WinSum, Column: "weight", Alias: "by_carrier",
				PartitionBy: []string{"carrier"},
				OrderBy:     []SortKey{{Column: "id"}},
			},
		).
		Sort(SortKey{Column: "id"})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	wantWarehouse := []int64{1, 3, 6, 10, 5, 11, 18, 26}
	wantCarrier := []int64{1, 2, 4, 6, 9, 12, 16, 20}
	for i, row := range rows {
		if row["by_warehouse"] != wantWarehouse[i] {
			t.Errorf("row %d by_warehouse = %v, want %d", i, row["by_warehouse"], wantWarehouse[i])
		}
		if row["by_carrier"] != wantCarrier[i] {
			t.Errorf("row %d by_carrier = %v, want %d", i, row["by_carrier"], wantCarrier[i])
		}
	}
}

func TestExecuteLimitAppliesAfterSort(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	plan := Scan("orders", "id", "amount").
		Filter(IsNull{Column: "amount", Negate: true}).
		Sort(SortKey{Column: "amount", Desc: true}).
		WithLimit(2)
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Top two amounts overall, not the first two scanned.
	if rows[0]["amount"] != int64(300) || rows[1]["amount"] != int64(200) {
		t.Errorf("limited rows = %+v", rows)
	}
}

func TestExecutePruningSkipsSegments(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	plan := Scan("orders", "id", "day").
		Filter(Between{Column: "day", Lo: "2024-02-01", Hi: "2024-02-28"}).
		Sort(SortKey{Column: "id"})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var ids []int64
	for _, row := range rows {
		ids = append(ids, row["id"].(int64))
	}
	if !reflect.DeepEqual(ids, []int64{4, 5}) {
		t.Errorf("February ids = %v, want [4 5]", ids)
	}
}

func TestExecuteCancellation(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Execute(ctx, Scan("orders"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestExecutePlanErrors(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)
	ctx := context.Background()

	cases := []struct {
		name string
		plan *PlanNode
	}{
		{"NilPlan", nil},
		{"UnknownTable", Scan("ghost")},
		{"UnknownColumn", Scan("orders", "nope")},
		{"FilterOnUnscannedColumn", Scan("orders", "id").
			Filter(Compare{Column: "amount", Op: OpGt, Value: 1})},
		{"SortAboveLimit", Scan("orders").WithLimit(1).Sort(SortKey{Column: "id"})},
		{"TwoFilters", Scan("orders").
			Filter(Compare{Column: "id", Op: OpGt, Value: 1}).
			Filter(Compare{Column: "id", Op: OpLt, Value: 5})},
		{"GroupAndWindowTogether", Scan("orders", "region", "amount").
			GroupBy(&GroupBySpec{Keys: []string{"region"}, Aggregates: []AggregateSpec{{Kind: AggCountStar, Alias: "n"}}}).
			Window(WindowFunc{Kind: WinRowNumber, Alias: "r", OrderBy: []SortKey{{Column: "n"}}})},
		{"UnknownSortKey", Scan("orders", "id").Sort(SortKey{Column: "ghost"})},
		{"SortKeyNotInOutput", Scan("orders", "region", "amount").
			GroupBy(&GroupBySpec{Keys: []string{"region"}, Aggregates: []AggregateSpec{{Kind: AggCountStar, Alias: "n"}}}).
			Sort(SortKey{Column: "amount"})},
		{"SumOverString", Scan("orders", "region").
			GroupBy(&GroupBySpec{Keys: nil, Aggregates: []AggregateSpec{{Kind: AggSum, Column: "region", Alias: "s"}}})},
		{"SumOverDate", Scan("orders", "day").
			GroupBy(&GroupBySpec{Aggregates: []AggregateSpec{{Kind: AggSum, Column: "day", Alias: "s"}}})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Execute(ctx, tc.plan)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.name == "UnknownTable" {
				if !errors.Is(err, columnar.ErrTableNotFound) {
					t.Fatalf("got %v, want ErrTableNotFound", err)
				}
				return
			}
			var pe *PlanError
			if !errors.As(err, &pe) {
				t.Fatalf("got %v, want PlanError", err)
			}
		})
	}
}

func TestExecuteSortUncomparableValues(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	// A LAG default can inject a value of a different type than the source
	// column; sorting on that alias must fail the query, not order by a
	// rendered form.
	plan := Scan("orders", "id", "amount").
		Window(WindowFunc{
			Kind: WinLag, Column: "amount", Offset: 1, Default: "missing", Alias: "prev",
			OrderBy: []SortKey{{Column: "id"}},
		}).
		Sort(SortKey{Column: "prev"})
	_, err := engine.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected a comparison error")
	}
	if !strings.Contains(err.Error(), "cannot compare") {
		t.Errorf("got %v, want a type comparison failure", err)
	}
}

func TestExecuteSortAliasOutput(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	// Aggregate aliases are legal sort keys: they exist in the output shape.
	plan := Scan("orders", "region", "amount").
		GroupBy(&GroupBySpec{
			Keys:       []string{"region"},
			Aggregates: []AggregateSpec{{Kind: AggSum, Column: "amount", Alias: "total"}},
		}).
		Sort(SortKey{Column: "total", Desc: true})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 2 || rows[0]["region"] != "east" {
		t.Errorf("rows = %+v", rows)
	}
	if got := cursor.Columns(); !reflect.DeepEqual(got, []string{"region", "total"}) {
		t.Errorf("Columns() = %v", got)
	}
}

func TestExecuteUnorderedCursor(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 2})
	seedOrders(t, engine)

	cursor, err := engine.Execute(context.Background(), Scan("orders", "id"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cursor.Ordered() {
		t.Error("cursor without a sort stage must not report Ordered")
	}
	rows, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 7 {
		t.Errorf("got %d rows, want 7", len(rows))
	}
}

func TestExecuteLargeParallelScan(t *testing.T) {
	engine := newTestEngine(t, Options{Workers: 4, SegmentCapacity: 2048})
	schema := &columnar.Schema{
		Table: "big",
		Columns: []columnar.ColumnSchema{
			{Name: "n", Type: columnar.DataTypeInt64},
		},
	}
	if err := engine.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	const rows = 10000
	builder := columnar.NewBatchBuilder(schema)
	var wantSum int64
	for i := 0; i < rows; i++ {
		if err := builder.AppendRow(map[string]interface{}{"n": int64(i)}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
		wantSum += int64(i)
	}
	if err := engine.Append("big", builder.Batch()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	plan := Scan("big", "n").
		GroupBy(&GroupBySpec{Aggregates: []AggregateSpec{
			{Kind: AggSum, Column: "n", Alias: "sum"},
			{Kind: AggCountStar, Alias: "count"},
		}})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, err := cursor.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d rows, want 1", len(out))
	}
	if out[0]["sum"] != wantSum || out[0]["count"] != int64(rows) {
		t.Errorf("sum = %v count = %v, want %d and %d", out[0]["sum"], out[0]["count"], wantSum, rows)
	}
}

func TestEngineOptionsValidation(t *testing.T) {
	if _, err := NewEngine(Options{Compression: "brotli"}); err == nil {
		t.Error("unknown compression should fail validation")
	}
	if _, err := NewEngine(Options{Workers: -1}); err == nil {
		t.Error("negative worker count should fail validation")
	}
	if _, err := NewEngine(Options{SegmentCapacity: 10}); err == nil {
		t.Error("tiny segment capacity should fail validation")
	}
}

func TestEngineCreateTableRollback(t *testing.T) {
	engine := newTestEngine(t, Options{})
	schema := ordersSchema()
	if err := engine.CreateTable(schema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := engine.CreateTable(schema); !errors.Is(err, columnar.ErrTableExists) {
		t.Fatalf("duplicate create: got %v, want ErrTableExists", err)
	}
	if got := engine.Tables(); len(got) != 1 || got[0] != "orders" {
		t.Errorf("Tables() = %v", got)
	}
}

func TestExecuteEmptyTable(t *testing.T) {
	engine := newTestEngine(t, Options{})
	if err := engine.CreateTable(ordersSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	t.Run("Scan", func(t *testing.T) {
		cursor, err := engine.Execute(context.Background(), Scan("orders"))
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		rows, err := cursor.Collect()
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("got %d rows from an empty table", len(rows))
		}
	})
	t.Run("UngroupedAggregateOfNothing", func(t *testing.T) {
		plan := Scan("orders", "amount").
			GroupBy(&GroupBySpec{Aggregates: []AggregateSpec{
				{Kind: AggSum, Column: "amount", Alias: "total"},
			}})
		cursor, err := engine.Execute(context.Background(), plan)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		rows, err := cursor.Collect()
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		// No input rows means no groups at all.
		if len(rows) != 0 {
			t.Errorf("got %v, want no rows", rows)
		}
	})
}

func ExampleEngine_Execute() {
	engine, err := NewEngine(Options{})
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	schema := &columnar.Schema{
		Table: "visits",
		Columns: []columnar.ColumnSchema{
			{Name: "page", Type: columnar.DataTypeString},
			{Name: "hits", Type: columnar.DataTypeInt64},
		},
	}
	if err := engine.CreateTable(schema); err != nil {
		panic(err)
	}
	builder := columnar.NewBatchBuilder(schema)
	for _, row := range []map[string]interface{}{
		{"page": "/", "hits": int64(3)},
		{"page": "/docs", "hits": int64(5)},
		{"page": "/", "hits": int64(4)},
	} {
		if err := builder.AppendRow(row); err != nil {
			panic(err)
		}
	}
	if err := engine.Append("visits", builder.Batch()); err != nil {
		panic(err)
	}

	plan := Scan("visits", "page", "hits").
		GroupBy(&GroupBySpec{
			Keys:       []string{"page"},
			Aggregates: []AggregateSpec{{Kind: AggSum, Column: "hits", Alias: "total"}},
		}).
		Sort(SortKey{Column: "page"})
	cursor, err := engine.Execute(context.Background(), plan)
	if err != nil {
		panic(err)
	}
	for cursor.Next() {
		row := cursor.Row()
		fmt.Printf("%s %d\n", row["page"], row["total"])
	}
	// Output:
	// / 7
	// /docs 5
}

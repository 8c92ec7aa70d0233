package core

import (
	"fmt"

	"colstore/columnar"
)

// PlanNodeType tags the operator a PlanNode carries.
type PlanNodeType uint8

const (
	PlanScan PlanNodeType = iota
	PlanFilter
	PlanGroupBy
	PlanWindow
	PlanSort
	PlanLimit
)

func (t PlanNodeType) String() string {
	switch t {
	case PlanScan:
		return "scan"
	case PlanFilter:
		return "filter"
	case PlanGroupBy:
		return "group-by"
	case PlanWindow:
		return "window"
	case PlanSort:
		return "sort"
	default:
		return "limit"
	}
}

// PlanNode is one operator in a logical plan. Plans form a single pipeline:
// scan -> filter -> group-by or window -> sort -> limit, each stage
// optional except the scan.
type PlanNode struct {
	Type  PlanNodeType
	Child *PlanNode

	// PlanScan
	Table   string
	Columns []string

	// PlanFilter
	Predicate Expr

	// PlanGroupBy
	Group *GroupBySpec

	// PlanWindow
	Windows []WindowFunc

	// PlanSort
	SortKeys []SortKey

	// PlanLimit
	Limit int
}

// Scan starts a plan reading the named columns of a table. An empty column
// list reads every column.
func Scan(table string, columns ...string) *PlanNode {
	return &PlanNode{Type: PlanScan, Table: table, Columns: columns}
}

// Filter appends a predicate stage.
func (p *PlanNode) Filter(predicate Expr) *PlanNode {
	return &PlanNode{Type: PlanFilter, Predicate: predicate, Child: p}
}

// GroupBy appends a grouped-aggregation stage.
func (p *PlanNode) GroupBy(spec *GroupBySpec) *PlanNode {
	return &PlanNode{Type: PlanGroupBy, Group: spec, Child: p}
}

// Window appends a window-function stage.
func (p *PlanNode) Window(funcs ...WindowFunc) *PlanNode {
	return &PlanNode{Type: PlanWindow, Windows: funcs, Child: p}
}

// Sort appends an ordering stage.
func (p *PlanNode) Sort(keys ...SortKey) *PlanNode {
	return &PlanNode{Type: PlanSort, SortKeys: keys, Child: p}
}

// WithLimit caps the row count, applied strictly after any sort.
func (p *PlanNode) WithLimit(n int) *PlanNode {
	return &PlanNode{Type: PlanLimit, Limit: n, Child: p}
}

// queryPlan is the validated, normalized form of a plan pipeline.
type queryPlan struct {
	table     string
	columns   []string
	predicate Expr
	group     *GroupBySpec
	windows   []WindowFunc
	sortKeys  []SortKey
	limit     int // -1 when absent
}

// stageRank orders operators bottom (high) to top (low) for shape checking.
func stageRank(t PlanNodeType) int {
	switch t {
	case PlanLimit:
		return 0
	case PlanSort:
		return 1
	case PlanGroupBy, PlanWindow:
		return 2
	case PlanFilter:
		return 3
	default: // PlanScan
		return 4
	}
}

// normalizePlan walks the pipeline top-down, enforcing operator order and
// multiplicity, and validates every stage eagerly so no execution starts on
// a malformed plan.
func normalizePlan(root *PlanNode) (*queryPlan, error) {
	if root == nil {
		return nil, &PlanError{Stage: "plan", Reason: "empty plan"}
	}
	qp := &queryPlan{limit: -1}
	prevRank := -1
	for node := root; node != nil; node = node.Child {
		rank := stageRank(node.Type)
		if rank <= prevRank {
			return nil, &PlanError{
				Stage:  node.Type.String(),
				Reason: fmt.Sprintf("operator %s cannot appear below the preceding stage", node.Type),
			}
		}
		prevRank = rank

		switch node.Type {
		case PlanScan:
			if node.Child != nil {
				return nil, &PlanError{Stage: "scan", Reason: "scan must be the pipeline leaf"}
			}
			if node.Table == "" {
				return nil, &PlanError{Stage: "scan", Reason: "scan without a table"}
			}
			qp.table = node.Table
			qp.columns = node.Columns
		case PlanFilter:
			if node.Predicate == nil {
				return nil, &PlanError{Stage: "filter", Reason: "filter without a predicate"}
			}
			qp.predicate = node.Predicate
		case PlanGroupBy:
			if node.Group == nil || (len(node.Group.Keys) == 0 && len(node.Group.Aggregates) == 0) {
				return nil, &PlanError{Stage: "group-by", Reason: "group-by without keys or aggregates"}
			}
			if err := node.Group.validate(); err != nil {
				return nil, err
			}
			qp.group = node.Group
		case PlanWindow:
			if len(node.Windows) == 0 {
				return nil, &PlanError{Stage: "window", Reason: "window stage without functions"}
			}
			for i := range node.Windows {
				if err := node.Windows[i].validate(); err != nil {
					return nil, err
				}
			}
			qp.windows = node.Windows
		case PlanSort:
			if len(node.SortKeys) == 0 {
				return nil, &PlanError{Stage: "sort", Reason: "sort without keys"}
			}
			qp.sortKeys = node.SortKeys
		case PlanLimit:
			if node.Limit < 0 {
				return nil, &PlanError{Stage: "limit", Reason: "negative limit"}
			}
			qp.limit = node.Limit
		}
	}
	if qp.table == "" {
		return nil, &PlanError{Stage: "plan", Reason: "pipeline has no scan leaf"}
	}
	return qp, nil
}

// bindSchema resolves the scan column list against the table schema and
// checks that every referenced column is scanned.
func (qp *queryPlan) bindSchema(schema *columnar.Schema) error {
	if len(qp.columns) == 0 {
		qp.columns = make([]string, len(schema.Columns))
		for i, cs := range schema.Columns {
			qp.columns[i] = cs.Name
		}
	}
	scanned := make(map[string]bool, len(qp.columns))
	for _, name := range qp.columns {
		if _, ok := schema.Column(name); !ok {
			return &PlanError{Stage: "scan", Reason: fmt.Sprintf("unknown column %s.%s", schema.Table, name)}
		}
		scanned[name] = true
	}

	requireScanned := func(stage string, cols []string) error {
		for _, c := range cols {
			if !scanned[c] {
				return &PlanError{Stage: stage, Reason: fmt.Sprintf("column %s is not scanned", c)}
			}
		}
		return nil
	}

	if qp.predicate != nil {
		if err := requireScanned("filter", exprColumns(qp.predicate)); err != nil {
			return err
		}
	}
	if qp.group != nil {
		if err := requireScanned("group-by", qp.group.inputColumns()); err != nil {
			return err
		}
	}
	for i := range qp.windows {
		if err := requireScanned("window", qp.windows[i].inputColumns()); err != nil {
			return err
		}
	}
	// Sort keys may name stage outputs (aggregate aliases, window aliases),
	// so they are checked against the final row shape, not the scan.
	return nil
}

// outputColumns derives the fixed result schema of the plan.
func (qp *queryPlan) outputColumns() []string {
	if qp.group != nil {
		out := append([]string{}, qp.group.Keys...)
		for _, agg := range qp.group.Aggregates {
			out = append(out, agg.Alias)
		}
		return out
	}
	out := append([]string{}, qp.columns...)
	for i := range qp.windows {
		out = append(out, qp.windows[i].Alias)
	}
	return out
}

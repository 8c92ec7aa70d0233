package core

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"colstore/columnar"
)

// CmpOp is a comparison operator.
type CmpOp uint8

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CmpOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	default:
		return ">="
	}
}

// Expr is a boolean predicate expression tree. The concrete variants are
// Compare, Between, In, IsNull, And, Or and Not.
type Expr interface {
	exprNode()
}

// Compare tests a column against a literal.
type Compare struct {
	Column string
	Op     CmpOp
	Value  interface{}
}

// Between tests lo <= column <= hi.
type Between struct {
	Column string
	Lo, Hi interface{}
}

// In tests membership of a column in a literal set.
type In struct {
	Column string
	Values []interface{}
}

// IsNull tests nullness; Negate gives IS NOT NULL.
type IsNull struct {
	Column string
	Negate bool
}

// And is the conjunction of its operands.
type And struct{ Exprs []Expr }

// Or is the disjunction of its operands.
type Or struct{ Exprs []Expr }

// Not negates its operand.
type Not struct{ Expr Expr }

func (Compare) exprNode() {}
func (Between) exprNode() {}
func (In) exprNode()      {}
func (IsNull) exprNode()  {}
func (And) exprNode()     {}
func (Or) exprNode()      {}
func (Not) exprNode()     {}

// selection is a three-valued evaluation result over n rows: rows in truth
// matched, rows in unknown had a NULL outcome, the rest are false.
type selection struct {
	truth   *roaring.Bitmap
	unknown *roaring.Bitmap
	n       uint32
}

func (s selection) falseSet() *roaring.Bitmap {
	f := roaring.New()
	f.AddRange(0, uint64(s.n))
	f.AndNot(s.truth)
	f.AndNot(s.unknown)
	return f
}

// evalPredicate evaluates expr over a batch of column vectors, all of
// length n. Standard SQL three-valued logic: NULL operands make comparisons
// unknown, AND/OR propagate unknowns, and the caller treats unknown as not
// selected.
func evalPredicate(expr Expr, batch map[string]*columnar.ColumnVector, n int) (selection, error) {
	sel := selection{truth: roaring.New(), unknown: roaring.New(), n: uint32(n)}

	switch e := expr.(type) {
	case Compare:
		vec, err := batchColumn(batch, e.Column)
		if err != nil {
			return sel, err
		}
		return compareLeaf(vec, e.Op, e.Value, n)

	case Between:
		vec, err := batchColumn(batch, e.Column)
		if err != nil {
			return sel, err
		}
		lo, err := compareLeaf(vec, OpGe, e.Lo, n)
		if err != nil {
			return sel, err
		}
		hi, err := compareLeaf(vec, OpLe, e.Hi, n)
		if err != nil {
			return sel, err
		}
		return andSelections([]selection{lo, hi}, uint32(n)), nil

	case In:
		vec, err := batchColumn(batch, e.Column)
		if err != nil {
			return sel, err
		}
		parts := make([]selection, 0, len(e.Values))
		for _, v := range e.Values {
			p, err := compareLeaf(vec, OpEq, v, n)
			if err != nil {
				return sel, err
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			return sel, nil // empty IN list matches nothing
		}
		return orSelections(parts, uint32(n)), nil

	case IsNull:
		vec, err := batchColumn(batch, e.Column)
		if err != nil {
			return sel, err
		}
		nulls := roaring.New()
		if vec.Nulls != nil {
			nulls = vec.Nulls.Clone()
			nulls.RemoveRange(uint64(n), uint64(^uint32(0))+1)
		}
		if e.Negate {
			sel.truth.AddRange(0, uint64(n))
			sel.truth.AndNot(nulls)
		} else {
			sel.truth = nulls
		}
		return sel, nil

	case And:
		parts := make([]selection, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			p, err := evalPredicate(sub, batch, n)
			if err != nil {
				return sel, err
			}
			parts = append(parts, p)
		}
		return andSelections(parts, uint32(n)), nil

	case Or:
		parts := make([]selection, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			p, err := evalPredicate(sub, batch, n)
			if err != nil {
				return sel, err
			}
			parts = append(parts, p)
		}
		return orSelections(parts, uint32(n)), nil

	case Not:
		p, err := evalPredicate(e.Expr, batch, n)
		if err != nil {
			return sel, err
		}
		return selection{truth: p.falseSet(), unknown: p.unknown, n: p.n}, nil

	default:
		return sel, &PlanError{Stage: "filter", Reason: fmt.Sprintf("unsupported expression %T", expr)}
	}
}

func batchColumn(batch map[string]*columnar.ColumnVector, name string) (*columnar.ColumnVector, error) {
	vec, ok := batch[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", columnar.ErrColumnNotFound, name)
	}
	return vec, nil
}

// compareLeaf evaluates one comparison over the typed planes directly.
// NULL positions land in the unknown set.
func compareLeaf(vec *columnar.ColumnVector, op CmpOp, literal interface{}, n int) (selection, error) {
	sel := selection{truth: roaring.New(), unknown: roaring.New(), n: uint32(n)}
	cs := columnar.ColumnSchema{Type: vec.Type, Scale: vec.Scale}

	match := func(cmp int) bool {
		switch op {
		case OpEq:
			return cmp == 0
		case OpNe:
			return cmp != 0
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	}

	switch {
	case vec.Type.IntPhysical():
		lit, err := columnar.LiteralInt(cs, literal)
		if err != nil {
			return sel, err
		}
		for i := 0; i < n; i++ {
			if vec.IsNull(i) {
				sel.unknown.Add(uint32(i))
			} else if match(compareInt64(vec.Ints[i], lit)) {
				sel.truth.Add(uint32(i))
			}
		}
	case vec.Type == columnar.DataTypeFloat64:
		lit, err := columnar.LiteralFloat(literal)
		if err != nil {
			return sel, err
		}
		for i := 0; i < n; i++ {
			if vec.IsNull(i) {
				sel.unknown.Add(uint32(i))
			} else if match(compareFloat64(vec.Floats[i], lit)) {
				sel.truth.Add(uint32(i))
			}
		}
	default:
		lit, ok := literal.(string)
		if !ok {
			return sel, fmt.Errorf("cannot compare %T against string column", literal)
		}
		for i := 0; i < n; i++ {
			if vec.IsNull(i) {
				sel.unknown.Add(uint32(i))
			} else if match(compareStrings(vec.Strings[i], lit)) {
				sel.truth.Add(uint32(i))
			}
		}
	}
	return sel, nil
}

// andSelections: true where all true; false where any false; unknown
// otherwise.
func andSelections(parts []selection, n uint32) selection {
	truth := roaring.New()
	truth.AddRange(0, uint64(n))
	falsy := roaring.New()
	for _, p := range parts {
		truth.And(p.truth)
		falsy.Or(p.falseSet())
	}
	unknown := roaring.New()
	unknown.AddRange(0, uint64(n))
	unknown.AndNot(truth)
	unknown.AndNot(falsy)
	return selection{truth: truth, unknown: unknown, n: n}
}

// orSelections: true where any true; false where all false; unknown
// otherwise.
func orSelections(parts []selection, n uint32) selection {
	truth := roaring.New()
	falsy := roaring.New()
	falsy.AddRange(0, uint64(n))
	for _, p := range parts {
		truth.Or(p.truth)
		falsy.And(p.falseSet())
	}
	unknown := roaring.New()
	unknown.AddRange(0, uint64(n))
	unknown.AndNot(truth)
	unknown.AndNot(falsy)
	return selection{truth: truth, unknown: unknown, n: n}
}

// Three-valued truth for row-level evaluation (finalized HAVING rows).
type tri int8

const (
	triFalse   tri = -1
	triUnknown tri = 0
	triTrue    tri = 1
)

// evalRowPredicate evaluates expr against a single boxed row. Used for
// HAVING, where the inputs are finalized aggregate rows rather than column
// batches.
func evalRowPredicate(expr Expr, row Row) (tri, error) {
	switch e := expr.(type) {
	case Compare:
		v, ok := row[e.Column]
		if !ok || v == nil {
			return triUnknown, nil
		}
		cmp, err := compareBoxed(v, e.Value)
		if err != nil {
			return triFalse, err
		}
		return boolTri(matchOp(e.Op, cmp)), nil
	case Between:
		v, ok := row[e.Column]
		if !ok || v == nil {
			return triUnknown, nil
		}
		lo, err := compareBoxed(v, e.Lo)
		if err != nil {
			return triFalse, err
		}
		hi, err := compareBoxed(v, e.Hi)
		if err != nil {
			return triFalse, err
		}
		return boolTri(lo >= 0 && hi <= 0), nil
	case In:
		v, ok := row[e.Column]
		if !ok || v == nil {
			return triUnknown, nil
		}
		for _, lit := range e.Values {
			cmp, err := compareBoxed(v, lit)
			if err != nil {
				return triFalse, err
			}
			if cmp == 0 {
				return triTrue, nil
			}
		}
		return triFalse, nil
	case IsNull:
		v, ok := row[e.Column]
		isNull := !ok || v == nil
		return boolTri(isNull != e.Negate), nil
	case And:
		out := triTrue
		for _, sub := range e.Exprs {
			r, err := evalRowPredicate(sub, row)
			if err != nil {
				return triFalse, err
			}
			if r == triFalse {
				return triFalse, nil
			}
			if r == triUnknown {
				out = triUnknown
			}
		}
		return out, nil
	case Or:
		out := triFalse
		for _, sub := range e.Exprs {
			r, err := evalRowPredicate(sub, row)
			if err != nil {
				return triFalse, err
			}
			if r == triTrue {
				return triTrue, nil
			}
			if r == triUnknown {
				out = triUnknown
			}
		}
		return out, nil
	case Not:
		r, err := evalRowPredicate(e.Expr, row)
		if err != nil {
			return triFalse, err
		}
		return -r, nil
	default:
		return triFalse, &PlanError{Stage: "having", Reason: fmt.Sprintf("unsupported expression %T", expr)}
	}
}

func boolTri(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

func matchOp(op CmpOp, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	default:
		return cmp >= 0
	}
}

// exprColumns collects every column an expression references.
func exprColumns(expr Expr) []string {
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(ex Expr) {
		switch e := ex.(type) {
		case Compare:
			seen[e.Column] = true
		case Between:
			seen[e.Column] = true
		case In:
			seen[e.Column] = true
		case IsNull:
			seen[e.Column] = true
		case And:
			for _, s := range e.Exprs {
				walk(s)
			}
		case Or:
			for _, s := range e.Exprs {
				walk(s)
			}
		case Not:
			walk(e.Expr)
		}
	}
	walk(expr)
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// extractPruneFilters lifts single-column constraints that every matching
// row must satisfy: leaves of the predicate's top-level conjunction. OR, NOT
// and inequality subtrees contribute nothing, keeping pruning conservative.
func extractPruneFilters(expr Expr) []columnar.PruneFilter {
	var out []columnar.PruneFilter
	switch e := expr.(type) {
	case Compare:
		switch e.Op {
		case OpEq:
			out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneEQ, Value: e.Value})
		case OpLt:
			out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneLT, Value: e.Value})
		case OpLe:
			out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneLE, Value: e.Value})
		case OpGt:
			out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneGT, Value: e.Value})
		case OpGe:
			out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneGE, Value: e.Value})
		}
	case Between:
		out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneBetween, Value: e.Lo, Hi: e.Hi})
	case In:
		out = append(out, columnar.PruneFilter{Column: e.Column, Op: columnar.PruneIn, Set: e.Values})
	case And:
		for _, sub := range e.Exprs {
			out = append(out, extractPruneFilters(sub)...)
		}
	}
	return out
}

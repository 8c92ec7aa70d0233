package core

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// AggKind selects an aggregate function.
type AggKind uint8

const (
	AggCountStar AggKind = iota // COUNT(*): counts every row in the group
	AggCount                    // COUNT(col): counts non-null values
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (k AggKind) String() string {
	switch k {
	case AggCountStar:
		return "COUNT(*)"
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	default:
		return "MAX"
	}
}

// AggregateSpec is one requested aggregate over a metric column.
type AggregateSpec struct {
	Kind   AggKind
	Column string // ignored for AggCountStar
	Alias  string
}

// GroupBySpec describes a grouped aggregation: grouping keys, aggregates,
// and an optional HAVING predicate over the finalized group rows.
type GroupBySpec struct {
	Keys       []string
	Aggregates []AggregateSpec
	Having     Expr
}

func (g *GroupBySpec) validate() error {
	seen := make(map[string]bool)
	for _, key := range g.Keys {
		seen[key] = true
	}
	for _, agg := range g.Aggregates {
		if agg.Alias == "" {
			return &PlanError{Stage: "group-by", Reason: fmt.Sprintf("%s aggregate without an alias", agg.Kind)}
		}
		if seen[agg.Alias] {
			return &PlanError{Stage: "group-by", Reason: fmt.Sprintf("duplicate output column %s", agg.Alias)}
		}
		seen[agg.Alias] = true
		if agg.Kind != AggCountStar && agg.Column == "" {
			return &PlanError{Stage: "group-by", Reason: fmt.Sprintf("%s aggregate without a column", agg.Kind)}
		}
	}
	if g.Having != nil {
		for _, col := range exprColumns(g.Having) {
			if !seen[col] {
				return &PlanError{Stage: "having", Reason: fmt.Sprintf("column %s is not a group-by output", col)}
			}
		}
	}
	return nil
}

func (g *GroupBySpec) inputColumns() []string {
	out := append([]string{}, g.Keys...)
	for _, agg := range g.Aggregates {
		if agg.Kind != AggCountStar {
			out = append(out, agg.Column)
		}
	}
	return out
}

// accumulator folds one aggregate for one group. SUM and AVG run in int64
// while the metric stays integral; the first float promotes the whole
// accumulator. Integer overflow aborts rather than wraps.
type accumulator struct {
	spec     AggregateSpec
	count    int64
	sumInt   int64
	sumFloat float64
	useFloat bool
	min      interface{}
	max      interface{}
}

func (a *accumulator) add(v interface{}) error {
	if a.spec.Kind == AggCountStar {
		a.count++
		return nil
	}
	if v == nil {
		return nil // NULL metrics are excluded from COUNT(col)/SUM/AVG/MIN/MAX
	}
	switch a.spec.Kind {
	case AggCount:
		a.count++
	case AggSum, AggAvg:
		a.count++
		switch x := v.(type) {
		case int64:
			if a.useFloat {
				a.sumFloat += float64(x)
			} else {
				s, ok := addInt64(a.sumInt, x)
				if !ok {
					return &AggregateOverflowError{Function: a.spec.Kind.String(), Column: a.spec.Column}
				}
				a.sumInt = s
			}
		case float64:
			if !a.useFloat {
				a.useFloat = true
				a.sumFloat = float64(a.sumInt)
			}
			a.sumFloat += x
		default:
			return fmt.Errorf("%s(%s): non-numeric value %T", a.spec.Kind, a.spec.Column, v)
		}
		if a.useFloat && math.IsInf(a.sumFloat, 0) {
			return &AggregateOverflowError{Function: a.spec.Kind.String(), Column: a.spec.Column}
		}
	case AggMin, AggMax:
		a.count++
		if a.min == nil {
			a.min, a.max = v, v
			return nil
		}
		cmpMin, err := compareBoxed(v, a.min)
		if err != nil {
			return fmt.Errorf("%s(%s): %w", a.spec.Kind, a.spec.Column, err)
		}
		if cmpMin < 0 {
			a.min = v
		}
		cmpMax, err := compareBoxed(v, a.max)
		if err != nil {
			return fmt.Errorf("%s(%s): %w", a.spec.Kind, a.spec.Column, err)
		}
		if cmpMax > 0 {
			a.max = v
		}
	}
	return nil
}

// combine merges another accumulator of the same spec into a.
func (a *accumulator) combine(o *accumulator) error {
	switch a.spec.Kind {
	case AggCountStar, AggCount:
		a.count += o.count
	case AggSum, AggAvg:
		a.count += o.count
		if a.useFloat || o.useFloat {
			if !a.useFloat {
				a.useFloat = true
				a.sumFloat = float64(a.sumInt)
			}
			other := o.sumFloat
			if !o.useFloat {
				other = float64(o.sumInt)
			}
			a.sumFloat += other
			if math.IsInf(a.sumFloat, 0) {
				return &AggregateOverflowError{Function: a.spec.Kind.String(), Column: a.spec.Column}
			}
		} else {
			s, ok := addInt64(a.sumInt, o.sumInt)
			if !ok {
				return &AggregateOverflowError{Function: a.spec.Kind.String(), Column: a.spec.Column}
			}
			a.sumInt = s
		}
	case AggMin, AggMax:
		a.count += o.count
		for _, v := range []interface{}{o.min, o.max} {
			if v == nil {
				continue
			}
			if err := a.addExtreme(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *accumulator) addExtreme(v interface{}) error {
	if a.min == nil {
		a.min, a.max = v, v
		return nil
	}
	cmpMin, err := compareBoxed(v, a.min)
	if err != nil {
		return err
	}
	if cmpMin < 0 {
		a.min = v
	}
	cmpMax, err := compareBoxed(v, a.max)
	if err != nil {
		return err
	}
	if cmpMax > 0 {
		a.max = v
	}
	return nil
}

// finalize produces the aggregate's output value. Empty-input SUM/AVG/
// MIN/MAX are NULL per SQL; COUNT is 0.
func (a *accumulator) finalize() interface{} {
	switch a.spec.Kind {
	case AggCountStar, AggCount:
		return a.count
	case AggSum:
		if a.count == 0 {
			return nil
		}
		if a.useFloat {
			return a.sumFloat
		}
		return a.sumInt
	case AggAvg:
		if a.count == 0 {
			return nil
		}
		if a.useFloat {
			return a.sumFloat / float64(a.count)
		}
		return float64(a.sumInt) / float64(a.count)
	case AggMin:
		return a.min
	default:
		return a.max
	}
}

func addInt64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

// aggGroup is the running state for one group key tuple.
type aggGroup struct {
	key  []interface{}
	accs []accumulator
}

// aggTable is a hash-grouped accumulator table. Scan workers each build
// their own table; tables merge in a single-threaded reduce afterwards.
type aggTable struct {
	spec   *GroupBySpec
	groups map[uint64][]*aggGroup
	order  []*aggGroup
}

func newAggTable(spec *GroupBySpec) *aggTable {
	return &aggTable{spec: spec, groups: make(map[uint64][]*aggGroup)}
}

// add folds one input row into its group, creating it on first sight.
func (t *aggTable) add(row Row) error {
	key := make([]interface{}, len(t.spec.Keys))
	for i, col := range t.spec.Keys {
		key[i] = row[col]
	}
	g := t.locate(key)
	for i := range g.accs {
		var val interface{}
		if g.accs[i].spec.Kind != AggCountStar {
			val = row[g.accs[i].spec.Column]
		}
		if err := g.accs[i].add(val); err != nil {
			return err
		}
	}
	return nil
}

func (t *aggTable) locate(key []interface{}) *aggGroup {
	h := hashGroupKey(key)
	for _, g := range t.groups[h] {
		if groupKeysEqual(g.key, key) {
			return g
		}
	}
	g := &aggGroup{key: key, accs: make([]accumulator, len(t.spec.Aggregates))}
	for i, spec := range t.spec.Aggregates {
		g.accs[i] = accumulator{spec: spec}
	}
	t.groups[h] = append(t.groups[h], g)
	t.order = append(t.order, g)
	return g
}

// merge folds another worker's table into this one.
func (t *aggTable) merge(o *aggTable) error {
	for _, og := range o.order {
		g := t.locate(og.key)
		for i := range g.accs {
			if err := g.accs[i].combine(&og.accs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// finalize emits one row per group and applies HAVING with the same
// three-valued semantics as WHERE.
func (t *aggTable) finalize() ([]Row, error) {
	rows := make([]Row, 0, len(t.order))
	for _, g := range t.order {
		row := make(Row, len(t.spec.Keys)+len(g.accs))
		for i, col := range t.spec.Keys {
			row[col] = g.key[i]
		}
		for i := range g.accs {
			row[g.accs[i].spec.Alias] = g.accs[i].finalize()
		}
		if t.spec.Having != nil {
			keep, err := evalRowPredicate(t.spec.Having, row)
			if err != nil {
				return nil, stageError("having", err)
			}
			if keep != triTrue {
				continue
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// hashGroupKey hashes a key tuple with a type tag per element so values of
// different planes never collide structurally.
func hashGroupKey(vals []interface{}) uint64 {
	h := xxhash.New()
	var buf [9]byte
	for _, v := range vals {
		switch x := v.(type) {
		case nil:
			buf[0] = 0
			h.Write(buf[:1])
		case int64:
			buf[0] = 1
			byteOrderPut64(buf[1:9], uint64(x))
			h.Write(buf[:9])
		case float64:
			buf[0] = 2
			byteOrderPut64(buf[1:9], math.Float64bits(x))
			h.Write(buf[:9])
		case string:
			buf[0] = 3
			byteOrderPut64(buf[1:9], uint64(len(x)))
			h.Write(buf[:9])
			h.WriteString(x)
		default:
			buf[0] = 4
			h.Write(buf[:1])
			h.WriteString(fmt.Sprintf("%v", x))
		}
	}
	return h.Sum64()
}

func byteOrderPut64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func groupKeysEqual(a, b []interface{}) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

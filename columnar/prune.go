package columnar

import (
	"fmt"
	"math"
)

// PruneOp is the comparison class a PruneFilter applies.
type PruneOp uint8

const (
	PruneEQ PruneOp = iota
	PruneLT
	PruneLE
	PruneGT
	PruneGE
	PruneBetween
	PruneIn
)

// PruneFilter is a single-column constraint extracted from a query's
// predicate conjuncts. Only constraints that must hold for every matching
// row are safe to prune on.
type PruneFilter struct {
	Column string
	Op     PruneOp
	Value  interface{}   // EQ/LT/LE/GT/GE, and the lower bound of Between
	Hi     interface{}   // upper bound of Between
	Set    []interface{} // In
}

// Prune returns the segments that cannot be excluded by the filters.
// Exclusion is conservative: a segment is dropped only when its statistics
// prove no row can satisfy every filter. Open-tail segments carry no stats
// and are always kept.
func (t *Table) Prune(filters []PruneFilter) ([]*SegmentDescriptor, error) {
	descs := t.Segments()
	if len(filters) == 0 {
		return descs, nil
	}
	kept := descs[:0:0]
	for _, desc := range descs {
		keep := true
		if desc.Closed {
			for _, f := range filters {
				may, err := t.segmentMayMatch(desc, f)
				if err != nil {
					return nil, err
				}
				if !may {
					keep = false
					break
				}
			}
		}
		if keep {
			kept = append(kept, desc)
		} else if t.observer != nil {
			t.observer.SegmentPruned(t.schema.Table, desc.Index)
		}
	}
	return kept, nil
}

// VerifyPrune re-reads every closed segment the filters excluded and
// confirms none of its rows satisfies all of them. A PruneInconsistencyError
// means segment statistics and segment data disagree, which is always a bug.
func (t *Table) VerifyPrune(filters []PruneFilter, kept []*SegmentDescriptor) error {
	keptIdx := make(map[int]bool, len(kept))
	for _, desc := range kept {
		keptIdx[desc.Index] = true
	}
	for _, desc := range t.Segments() {
		if keptIdx[desc.Index] || !desc.Closed {
			continue
		}
		match, err := t.segmentHasMatch(desc, filters)
		if err != nil {
			return err
		}
		if match {
			return &PruneInconsistencyError{
				Table:   t.schema.Table,
				Column:  filters[0].Column,
				Segment: desc.Index,
			}
		}
	}
	return nil
}

// segmentHasMatch scans segment data row by row against the filters.
func (t *Table) segmentHasMatch(desc *SegmentDescriptor, filters []PruneFilter) (bool, error) {
	vecs := make(map[string]*ColumnVector, len(filters))
	for _, f := range filters {
		if _, ok := vecs[f.Column]; ok {
			continue
		}
		vec, err := t.ReadSegmentColumn(desc, f.Column)
		if err != nil {
			return false, err
		}
		vecs[f.Column] = vec
	}
	for i := 0; i < desc.RowCount; i++ {
		all := true
		for _, f := range filters {
			ok, err := t.filterMatchesRow(f, vecs[f.Column], i)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func (t *Table) filterMatchesRow(f PruneFilter, vec *ColumnVector, i int) (bool, error) {
	if vec.Nulls != nil && vec.Nulls.Contains(uint32(i)) {
		return false, nil
	}
	cs, ok := t.schema.Column(f.Column)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.schema.Table, f.Column)
	}
	cmp := func(v interface{}) (int, error) {
		switch {
		case cs.Type.IntPhysical():
			iv, err := LiteralInt(cs, v)
			if err != nil {
				return 0, err
			}
			return cmpInt(vec.Ints[i], iv), nil
		case cs.Type == DataTypeFloat64:
			fv, err := LiteralFloat(v)
			if err != nil {
				return 0, err
			}
			return cmpFloat(vec.Floats[i], fv), nil
		default:
			sv, okc := v.(string)
			if !okc {
				return 0, fmt.Errorf("prune: non-string literal %T for column %s", v, cs.Name)
			}
			return cmpString(vec.Strings[i], sv), nil
		}
	}
	switch f.Op {
	case PruneEQ:
		c, err := cmp(f.Value)
		return c == 0, err
	case PruneLT:
		c, err := cmp(f.Value)
		return c < 0, err
	case PruneLE:
		c, err := cmp(f.Value)
		return c <= 0, err
	case PruneGT:
		c, err := cmp(f.Value)
		return c > 0, err
	case PruneGE:
		c, err := cmp(f.Value)
		return c >= 0, err
	case PruneBetween:
		lo, err := cmp(f.Value)
		if err != nil {
			return false, err
		}
		hi, err := cmp(f.Hi)
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil
	case PruneIn:
		for _, v := range f.Set {
			c, err := cmp(v)
			if err != nil {
				return false, err
			}
			if c == 0 {
				return true, nil
			}
		}
		return false, nil
	default:
		return true, nil
	}
}

func (t *Table) segmentMayMatch(desc *SegmentDescriptor, f PruneFilter) (bool, error) {
	cs, ok := t.schema.Column(f.Column)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.schema.Table, f.Column)
	}
	stats, ok := desc.Stats[f.Column]
	if !ok {
		return true, nil
	}
	// Comparisons never match NULL, so an all-null segment matches nothing.
	if !stats.HasValues {
		return false, nil
	}

	switch f.Op {
	case PruneIn:
		for _, v := range f.Set {
			may, err := valueInRange(cs, stats, desc.Dicts[f.Column], v)
			if err != nil {
				return false, err
			}
			if may {
				return true, nil
			}
		}
		return false, nil
	case PruneEQ:
		return valueInRange(cs, stats, desc.Dicts[f.Column], f.Value)
	case PruneBetween:
		lo, err := planeCompareBound(cs, stats, f.Value)
		if err != nil {
			return false, err
		}
		hi, err := planeCompareBound(cs, stats, f.Hi)
		if err != nil {
			return false, err
		}
		// max >= lo and min <= hi
		return lo.cmpMax <= 0 && hi.cmpMin >= 0, nil
	case PruneLT:
		b, err := planeCompareBound(cs, stats, f.Value)
		if err != nil {
			return false, err
		}
		return b.cmpMin > 0, nil // min < value
	case PruneLE:
		b, err := planeCompareBound(cs, stats, f.Value)
		if err != nil {
			return false, err
		}
		return b.cmpMin >= 0, nil
	case PruneGT:
		b, err := planeCompareBound(cs, stats, f.Value)
		if err != nil {
			return false, err
		}
		return b.cmpMax < 0, nil // max > value
	case PruneGE:
		b, err := planeCompareBound(cs, stats, f.Value)
		if err != nil {
			return false, err
		}
		return b.cmpMax <= 0, nil
	default:
		return true, nil
	}
}

// valueInRange checks whether an equality target can exist in the segment:
// inside [min, max], and for dictionary-coded strings, present in the
// dictionary itself.
func valueInRange(cs ColumnSchema, stats *SegmentStats, dict []string, v interface{}) (bool, error) {
	b, err := planeCompareBound(cs, stats, v)
	if err != nil {
		return false, err
	}
	if b.cmpMin < 0 || b.cmpMax > 0 {
		return false, nil
	}
	if cs.Type == DataTypeString && dict != nil {
		s, ok := v.(string)
		if !ok {
			return false, fmt.Errorf("prune: non-string literal %T for column %s", v, cs.Name)
		}
		for _, d := range dict {
			if d == s {
				return true, nil
			}
		}
		return false, nil
	}
	return true, nil
}

// boundCmp relates a literal to a segment's min and max: cmpMin is the sign
// of (literal - min), cmpMax the sign of (literal - max).
type boundCmp struct {
	cmpMin int
	cmpMax int
}

func planeCompareBound(cs ColumnSchema, stats *SegmentStats, v interface{}) (boundCmp, error) {
	switch {
	case cs.Type.IntPhysical():
		iv, err := LiteralInt(cs, v)
		if err != nil {
			return boundCmp{}, err
		}
		return boundCmp{cmpInt(iv, stats.MinInt), cmpInt(iv, stats.MaxInt)}, nil
	case cs.Type == DataTypeFloat64:
		fv, err := LiteralFloat(v)
		if err != nil {
			return boundCmp{}, err
		}
		return boundCmp{cmpFloat(fv, stats.MinFloat), cmpFloat(fv, stats.MaxFloat)}, nil
	default:
		sv, ok := v.(string)
		if !ok {
			return boundCmp{}, fmt.Errorf("prune: non-string literal %T for column %s", v, cs.Name)
		}
		return boundCmp{cmpString(sv, stats.MinString), cmpString(sv, stats.MaxString)}, nil
	}
}

// LiteralInt coerces a predicate literal into the int64 plane of a column:
// dates parse from ISO strings, decimals scale from floats.
func LiteralInt(cs ColumnSchema, v interface{}) (int64, error) {
	switch cs.Type {
	case DataTypeDate:
		switch x := v.(type) {
		case string:
			return ParseDate(x)
		case int64:
			return x, nil
		}
	case DataTypeDecimal:
		switch x := v.(type) {
		case float64:
			return int64(math.Round(x * DecimalScale(cs.Scale))), nil
		case int:
			return int64(x) * int64(DecimalScale(cs.Scale)), nil
		case int64:
			return x * int64(DecimalScale(cs.Scale)), nil
		}
	default:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T against %s column %s", v, cs.Type, cs.Name)
}

// LiteralFloat coerces a predicate literal into the float64 plane.
func LiteralFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("cannot compare %T against float column", v)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

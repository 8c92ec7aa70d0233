package core

import (
	"fmt"
	"sort"
)

// SortKey orders rows by one column. NULLs sort lowest, so they come first
// ascending and last descending.
type SortKey struct {
	Column string
	Desc   bool
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareBoxed compares two boxed values with numeric promotion. Mixed
// int64/float64 comparisons promote to float64; anything else of unequal
// type is an error, since per-row coercion failures fail the query.
func compareBoxed(a, b interface{}) (int, error) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareInt64(av, bv), nil
		case int:
			return compareInt64(av, int64(bv)), nil
		case float64:
			return compareFloat64(float64(av), bv), nil
		}
	case int:
		return compareBoxed(int64(av), b)
	case float64:
		switch bv := b.(type) {
		case float64:
			return compareFloat64(av, bv), nil
		case int64:
			return compareFloat64(av, float64(bv)), nil
		case int:
			return compareFloat64(av, float64(bv)), nil
		}
	case string:
		if bv, ok := b.(string); ok {
			return compareStrings(av, bv), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

// compareRowsByKeys compares two rows under a sort key list. A nil value
// sorts below every non-nil value. Uncomparable values fail the query;
// they reach a sort only through caller-supplied values such as LAG/LEAD
// defaults, since stored columns are uniformly typed.
func compareRowsByKeys(a, b Row, keys []SortKey) (int, error) {
	for _, key := range keys {
		av, bv := a[key.Column], b[key.Column]
		var cmp int
		switch {
		case av == nil && bv == nil:
			cmp = 0
		case av == nil:
			cmp = -1
		case bv == nil:
			cmp = 1
		default:
			c, err := compareBoxed(av, bv)
			if err != nil {
				return 0, fmt.Errorf("sort key %s: %w", key.Column, err)
			}
			cmp = c
		}
		if cmp != 0 {
			if key.Desc {
				return -cmp, nil
			}
			return cmp, nil
		}
	}
	return 0, nil
}

// sortRows stable-sorts rows in place by the given keys. On a comparison
// failure the first error is returned and the row order is unspecified.
func sortRows(rows []Row, keys []SortKey) error {
	if len(keys) == 0 {
		return nil
	}
	var firstErr error
	sort.SliceStable(rows, func(i, j int) bool {
		c, err := compareRowsByKeys(rows[i], rows[j], keys)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return c < 0
	})
	return firstErr
}

package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// WindowKind selects a window function.
type WindowKind uint8

const (
	WinRowNumber WindowKind = iota
	WinRank
	WinDenseRank
	WinPercentRank
	WinNtile
	WinLag
	WinLead
	WinSum
	WinAvg
	WinMin
	WinMax
	WinCount
)

func (k WindowKind) String() string {
	switch k {
	case WinRowNumber:
		return "ROW_NUMBER"
	case WinRank:
		return "RANK"
	case WinDenseRank:
		return "DENSE_RANK"
	case WinPercentRank:
		return "PERCENT_RANK"
	case WinNtile:
		return "NTILE"
	case WinLag:
		return "LAG"
	case WinLead:
		return "LEAD"
	case WinSum:
		return "SUM"
	case WinAvg:
		return "AVG"
	case WinMin:
		return "MIN"
	case WinMax:
		return "MAX"
	default:
		return "COUNT"
	}
}

func (k WindowKind) isAggregate() bool {
	switch k {
	case WinSum, WinAvg, WinMin, WinMax, WinCount:
		return true
	}
	return false
}

// BoundType is one endpoint class of a ROWS frame.
type BoundType uint8

const (
	BoundUnboundedPreceding BoundType = iota
	BoundPreceding
	BoundCurrentRow
	BoundFollowing
	BoundUnboundedFollowing
)

// FrameBound is a frame endpoint; Offset applies to BoundPreceding and
// BoundFollowing only.
type FrameBound struct {
	Type   BoundType
	Offset int
}

// relative returns the bound's row offset from the current row, with the
// unbounded ends pushed to the int extremes.
func (b FrameBound) relative() int {
	switch b.Type {
	case BoundUnboundedPreceding:
		return math.MinInt
	case BoundPreceding:
		return -b.Offset
	case BoundCurrentRow:
		return 0
	case BoundFollowing:
		return b.Offset
	default:
		return math.MaxInt
	}
}

// Frame is a ROWS frame: a contiguous ordinal range around the current row.
type Frame struct {
	Lower FrameBound
	Upper FrameBound
}

func (f *Frame) validate() error {
	if f.Lower.Type == BoundUnboundedFollowing {
		return &InvalidFrameSpecError{Reason: "lower bound cannot be UNBOUNDED FOLLOWING"}
	}
	if f.Upper.Type == BoundUnboundedPreceding {
		return &InvalidFrameSpecError{Reason: "upper bound cannot be UNBOUNDED PRECEDING"}
	}
	for _, b := range []FrameBound{f.Lower, f.Upper} {
		if (b.Type == BoundPreceding || b.Type == BoundFollowing) && b.Offset < 0 {
			return &InvalidFrameSpecError{Reason: "negative frame offset"}
		}
	}
	if f.Lower.relative() > f.Upper.relative() {
		return &InvalidFrameSpecError{
			Reason: fmt.Sprintf("lower bound follows upper bound (%d after %d)",
				f.Lower.relative(), f.Upper.relative()),
		}
	}
	return nil
}

// WindowFunc is one window computation: the function, its argument, and
// the OVER clause (partitioning, ordering, frame).
type WindowFunc struct {
	Kind        WindowKind
	Column      string      // argument column; aggregates and LAG/LEAD
	Offset      int         // LAG/LEAD distance (0 is the current row), NTILE bucket count
	Default     interface{} // LAG/LEAD value outside the partition
	Alias       string
	PartitionBy []string
	OrderBy     []SortKey
	Frame       *Frame
}

// validate checks the function shape at plan time; frame errors surface
// here, never during row evaluation.
func (w *WindowFunc) validate() error {
	if w.Alias == "" {
		return &PlanError{Stage: "window", Reason: fmt.Sprintf("%s without an alias", w.Kind)}
	}
	switch w.Kind {
	case WinRank, WinDenseRank, WinPercentRank:
		if len(w.OrderBy) == 0 {
			return &PlanError{Stage: "window", Reason: fmt.Sprintf("%s requires ORDER BY", w.Kind)}
		}
	case WinNtile:
		if w.Offset < 1 {
			return &PlanError{Stage: "window", Reason: "NTILE requires a positive bucket count"}
		}
	case WinLag, WinLead:
		if w.Column == "" {
			return &PlanError{Stage: "window", Reason: fmt.Sprintf("%s without an argument column", w.Kind)}
		}
		// Offset is literal: 0 is valid and yields the current row's value.
		if w.Offset < 0 {
			return &PlanError{Stage: "window", Reason: fmt.Sprintf("%s offset must be non-negative", w.Kind)}
		}
	case WinSum, WinAvg, WinMin, WinMax:
		if w.Column == "" {
			return &PlanError{Stage: "window", Reason: fmt.Sprintf("%s without an argument column", w.Kind)}
		}
	}
	if w.Frame != nil {
		if !w.Kind.isAggregate() {
			return &InvalidFrameSpecError{Reason: fmt.Sprintf("%s does not accept a frame", w.Kind)}
		}
		if err := w.Frame.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (w *WindowFunc) inputColumns() []string {
	out := append([]string{}, w.PartitionBy...)
	for _, key := range w.OrderBy {
		out = append(out, key.Column)
	}
	if w.Column != "" {
		out = append(out, w.Column)
	}
	return out
}

// effectiveFrame resolves the default frame: with ORDER BY, rows from the
// partition start through the current row; without, the whole partition.
func (w *WindowFunc) effectiveFrame() Frame {
	if w.Frame != nil {
		return *w.Frame
	}
	if len(w.OrderBy) > 0 {
		return Frame{
			Lower: FrameBound{Type: BoundUnboundedPreceding},
			Upper: FrameBound{Type: BoundCurrentRow},
		}
	}
	return Frame{
		Lower: FrameBound{Type: BoundUnboundedPreceding},
		Upper: FrameBound{Type: BoundUnboundedFollowing},
	}
}

// windowSpecKey identifies a shared partition build: functions with equal
// PARTITION BY and ORDER BY clauses reuse one sorted partition set.
func (w *WindowFunc) specKey() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(w.PartitionBy, ","))
	sb.WriteString("|")
	for _, key := range w.OrderBy {
		sb.WriteString(key.Column)
		if key.Desc {
			sb.WriteString(" desc")
		}
		sb.WriteString(",")
	}
	return sb.String()
}

// buildPartitions groups row ordinals by partition key and stable-sorts
// each partition by the ORDER BY keys, ties keeping input order. The
// ordering determines every rank and frame computed from it. Partition
// keys are value tuples bucketed by hash with full equality checks, the
// same identity the group-by hash table uses, so no two distinct tuples
// can share a partition.
func buildPartitions(rows []Row, partitionBy []string, orderBy []SortKey) ([][]int, error) {
	var parts [][]int
	if len(partitionBy) == 0 {
		all := make([]int, len(rows))
		for i := range rows {
			all[i] = i
		}
		parts = [][]int{all}
	} else {
		index := make(map[uint64][]int) // hash -> part slots
		var keys [][]interface{}
		for i, row := range rows {
			key := make([]interface{}, len(partitionBy))
			for k, col := range partitionBy {
				key[k] = row[col]
			}
			h := hashGroupKey(key)
			slot := -1
			for _, s := range index[h] {
				if groupKeysEqual(keys[s], key) {
					slot = s
					break
				}
			}
			if slot < 0 {
				slot = len(parts)
				index[h] = append(index[h], slot)
				keys = append(keys, key)
				parts = append(parts, nil)
			}
			parts[slot] = append(parts[slot], i)
		}
	}
	if len(orderBy) > 0 {
		var firstErr error
		for _, part := range parts {
			sort.SliceStable(part, func(i, j int) bool {
				c, err := compareRowsByKeys(rows[part[i]], rows[part[j]], orderBy)
				if err != nil && firstErr == nil {
					firstErr = err
				}
				return c < 0
			})
		}
		if firstErr != nil {
			return nil, firstErr
		}
	}
	return parts, nil
}

// evalWindowPartition computes one window function over one sorted
// partition, writing the result into each row under the function's alias.
func evalWindowPartition(fn *WindowFunc, rows []Row, part []int) error {
	n := len(part)
	if n == 0 {
		return nil
	}
	switch fn.Kind {
	case WinRowNumber:
		for i, ord := range part {
			rows[ord][fn.Alias] = int64(i + 1)
		}
	case WinRank:
		rank := int64(1)
		for i, ord := range part {
			if i > 0 {
				c, err := compareRowsByKeys(rows[part[i-1]], rows[ord], fn.OrderBy)
				if err != nil {
					return err
				}
				if c != 0 {
					rank = int64(i + 1)
				}
			}
			rows[ord][fn.Alias] = rank
		}
	case WinDenseRank:
		rank := int64(1)
		for i, ord := range part {
			if i > 0 {
				c, err := compareRowsByKeys(rows[part[i-1]], rows[ord], fn.OrderBy)
				if err != nil {
					return err
				}
				if c != 0 {
					rank++
				}
			}
			rows[ord][fn.Alias] = rank
		}
	case WinPercentRank:
		rank := int64(1)
		for i, ord := range part {
			if i > 0 {
				c, err := compareRowsByKeys(rows[part[i-1]], rows[ord], fn.OrderBy)
				if err != nil {
					return err
				}
				if c != 0 {
					rank = int64(i + 1)
				}
			}
			if n == 1 {
				rows[ord][fn.Alias] = float64(0)
			} else {
				rows[ord][fn.Alias] = float64(rank-1) / float64(n-1)
			}
		}
	case WinNtile:
		// First n%k buckets take the extra row.
		k := fn.Offset
		base := n / k
		extra := n % k
		i := 0
		for bucket := 1; bucket <= k && i < n; bucket++ {
			size := base
			if bucket <= extra {
				size++
			}
			for j := 0; j < size && i < n; j++ {
				rows[part[i]][fn.Alias] = int64(bucket)
				i++
			}
		}
	case WinLag, WinLead:
		for i, ord := range part {
			src := i - fn.Offset
			if fn.Kind == WinLead {
				src = i + fn.Offset
			}
			if src >= 0 && src < n {
				rows[ord][fn.Alias] = rows[part[src]][fn.Column]
			} else {
				rows[ord][fn.Alias] = fn.Default
			}
		}
	default:
		return evalFrameAggregate(fn, rows, part)
	}
	return nil
}

// evalFrameAggregate computes SUM/AVG/MIN/MAX/COUNT over the moving frame.
// Both frame edges advance monotonically through the partition, so the
// accumulator is maintained incrementally: values are folded in as they
// enter the leading edge and retired as they leave the trailing edge.
// MIN/MAX use a monotonic deque, keeping removal O(1) amortized.
func evalFrameAggregate(fn *WindowFunc, rows []Row, part []int) error {
	n := len(part)
	frame := fn.effectiveFrame()
	loRel := frame.Lower.relative()
	hiRel := frame.Upper.relative()

	acc := &frameAccumulator{fn: fn}
	curLo, curHi := 0, -1 // inclusive window [curLo, curHi] currently folded

	value := func(j int) interface{} { return rows[part[j]][fn.Column] }

	for i := 0; i < n; i++ {
		lo := boundOrdinal(i, loRel, n)
		hi := boundOrdinal(i, hiRel, n)

		// A frame lying wholly outside the partition is empty, not clamped.
		if hi < 0 || lo > n-1 {
			rows[part[i]][fn.Alias] = acc.emptyResult()
			continue
		}
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}

		// Frames never move backwards as i advances.
		for curHi < hi {
			curHi++
			if err := acc.push(value(curHi), curHi); err != nil {
				return err
			}
		}
		for curLo < lo {
			if err := acc.drop(value(curLo), curLo); err != nil {
				return err
			}
			curLo++
		}
		rows[part[i]][fn.Alias] = acc.result()
	}
	return nil
}

// boundOrdinal resolves a relative bound at row i, leaving out-of-range
// positions unclamped so the caller can detect empty frames.
func boundOrdinal(i, rel, n int) int {
	if rel == math.MinInt {
		return 0
	}
	if rel == math.MaxInt {
		return n - 1
	}
	return i + rel
}

// frameAccumulator is a reversible aggregate over the active frame.
// SUM/COUNT/AVG support O(1) removal directly; MIN/MAX keep candidate
// ordinals in a monotonic deque and discard from the front as the trailing
// edge passes them.
type frameAccumulator struct {
	fn       *WindowFunc
	count    int64 // non-null values in frame
	frameLen int64 // all rows in frame
	sumInt   int64
	sumFloat float64
	useFloat bool
	deque    []dequeEntry
}

type dequeEntry struct {
	ord int
	val interface{}
}

func (a *frameAccumulator) push(v interface{}, ord int) error {
	a.frameLen++
	if v == nil {
		return nil
	}
	switch a.fn.Kind {
	case WinCount:
		a.count++
	case WinSum, WinAvg:
		a.count++
		switch x := v.(type) {
		case int64:
			if a.useFloat {
				a.sumFloat += float64(x)
			} else {
				s, ok := addInt64(a.sumInt, x)
				if !ok {
					return &AggregateOverflowError{Function: a.fn.Kind.String(), Column: a.fn.Column}
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
			return fmt.Errorf("%s(%s): non-numeric value %T", a.fn.Kind, a.fn.Column, v)
		}
	case WinMin, WinMax:
		a.count++
		for len(a.deque) > 0 {
			last := a.deque[len(a.deque)-1]
			cmp, err := compareBoxed(v, last.val)
			if err != nil {
				return fmt.Errorf("%s(%s): %w", a.fn.Kind, a.fn.Column, err)
			}
			keep := cmp > 0
			if a.fn.Kind == WinMax {
				keep = cmp < 0
			}
			if keep {
				break
			}
			a.deque = a.deque[:len(a.deque)-1]
		}
		a.deque = append(a.deque, dequeEntry{ord: ord, val: v})
	}
	return nil
}

func (a *frameAccumulator) drop(v interface{}, ord int) error {
	a.frameLen--
	if v == nil {
		return nil
	}
	switch a.fn.Kind {
	case WinCount:
		a.count--
	case WinSum, WinAvg:
		a.count--
		switch x := v.(type) {
		case int64:
			if a.useFloat {
				a.sumFloat -= float64(x)
			} else {
				a.sumInt -= x
			}
		case float64:
			a.sumFloat -= x
		}
	case WinMin, WinMax:
		a.count--
		if len(a.deque) > 0 && a.deque[0].ord == ord {
			a.deque = a.deque[1:]
		}
	}
	return nil
}

func (a *frameAccumulator) result() interface{} {
	switch a.fn.Kind {
	case WinCount:
		if a.fn.Column == "" {
			return a.frameLen
		}
		return a.count
	case WinSum:
		if a.count == 0 {
			return nil
		}
		if a.useFloat {
			return a.sumFloat
		}
		return a.sumInt
	case WinAvg:
		if a.count == 0 {
			return nil
		}
		if a.useFloat {
			return a.sumFloat / float64(a.count)
		}
		return float64(a.sumInt) / float64(a.count)
	default:
		if len(a.deque) == 0 {
			return nil
		}
		return a.deque[0].val
	}
}

func (a *frameAccumulator) emptyResult() interface{} {
	if a.fn.Kind == WinCount {
		return int64(0)
	}
	return nil
}

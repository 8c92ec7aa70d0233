package columnar

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// SegmentStats carries the per-column statistics cached when a segment is
// closed. Min/max live in the plane matching the column type and are only
// meaningful when HasValues is true.
type SegmentStats struct {
	MinInt    int64
	MaxInt    int64
	MinFloat  float64
	MaxFloat  float64
	MinString string
	MaxString string
	NullCount int
	// DistinctCount is exact up to DistinctTrackingLimit, -1 beyond it.
	DistinctCount int
	HasValues     bool
}

// SegmentDescriptor describes one segment of a table. Segmentation
// boundaries are shared by every column, so the descriptor holds stats and
// dictionaries for all of them. Read-only once the segment is closed.
type SegmentDescriptor struct {
	Index    int
	StartRow int64
	RowCount int
	Closed   bool
	Stats    map[string]*SegmentStats
	// Dicts holds the value dictionary of each dictionary-encoded string
	// column, used for equality pruning.
	Dicts map[string][]string
}

// EndRow returns the first row ordinal past the segment.
func (d *SegmentDescriptor) EndRow() int64 {
	return d.StartRow + int64(d.RowCount)
}

// encodedSegment is the closed, compressed form of one column's slice of a
// segment. The null bitmap is kept decoded; the value planes are not.
type encodedSegment struct {
	typ         DataType
	scale       int
	encoding    Encoding
	compression CompressionType
	payload     []byte
	nulls       *roaring.Bitmap
	rowCount    int
}

// encodeSegment turns an open vector into its closed form, choosing the
// value encoding from the data: delta for null-free nondecreasing int
// planes, dictionary for low-cardinality strings, raw otherwise.
func encodeSegment(vec *ColumnVector, cs ColumnSchema, comp Compressor) (*encodedSegment, *SegmentStats, []string, error) {
	stats := collectStats(vec)
	es := &encodedSegment{
		typ:      cs.Type,
		scale:    cs.Scale,
		nulls:    vec.Nulls.Clone(),
		rowCount: vec.Len(),
	}

	var raw []byte
	var dict []string
	switch {
	case cs.Type.IntPhysical():
		if stats.NullCount == 0 && intsNondecreasing(vec.Ints) {
			es.encoding = EncodingDeltaInt
			raw = deltaEncode(vec.Ints)
		} else {
			es.encoding = EncodingRawInt
			raw = rawIntEncode(vec.Ints)
		}
	case cs.Type == DataTypeFloat64:
		es.encoding = EncodingRawFloat
		raw = rawFloatEncode(vec.Floats)
	default:
		if stats.DistinctCount >= 0 && stats.DistinctCount <= DictionaryMaxCardinality {
			es.encoding = EncodingDictString
			raw, dict = dictEncode(vec.Strings)
		} else {
			es.encoding = EncodingRawString
			raw = rawStringEncode(vec.Strings)
		}
	}

	if comp != nil {
		compressed, err := comp.Compress(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("compress segment: %w", err)
		}
		es.compression = comp.Type()
		es.payload = compressed
	} else {
		es.compression = CompressionNone
		es.payload = raw
	}
	return es, stats, dict, nil
}

// decode reverses encodeSegment. The returned vector is freshly allocated
// and safe for the caller to retain.
func (es *encodedSegment) decode(comp Compressor) (*ColumnVector, error) {
	raw := es.payload
	if es.compression != CompressionNone {
		if comp == nil || comp.Type() != es.compression {
			var err error
			comp, err = CreateCompressor(es.compression)
			if err != nil {
				return nil, err
			}
		}
		var err error
		raw, err = comp.Decompress(raw)
		if err != nil {
			return nil, fmt.Errorf("decompress segment: %w", err)
		}
	}

	vec := &ColumnVector{Type: es.typ, Scale: es.scale, Nulls: es.nulls.Clone()}
	var err error
	switch es.encoding {
	case EncodingDeltaInt:
		vec.Ints, err = deltaDecode(raw)
	case EncodingRawInt:
		vec.Ints, err = rawIntDecode(raw)
	case EncodingRawFloat:
		vec.Floats, err = rawFloatDecode(raw)
	case EncodingDictString:
		vec.Strings, err = dictDecode(raw)
	case EncodingRawString:
		vec.Strings, err = rawStringDecode(raw)
	default:
		err = ErrUnknownEncoding
	}
	if err != nil {
		return nil, err
	}
	if vec.Len() != es.rowCount {
		return nil, fmt.Errorf("%w: decoded %d rows, expected %d", ErrSegmentCorrupt, vec.Len(), es.rowCount)
	}
	return vec, nil
}

func intsNondecreasing(values []int64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return false
		}
	}
	return true
}

// collectStats computes min/max/null/distinct over a vector in one pass.
func collectStats(vec *ColumnVector) *SegmentStats {
	stats := &SegmentStats{}
	distinct := make(map[interface{}]struct{})
	track := true
	note := func(v interface{}) {
		if !track {
			return
		}
		distinct[v] = struct{}{}
		if len(distinct) > DistinctTrackingLimit {
			track = false
		}
	}

	n := vec.Len()
	for i := 0; i < n; i++ {
		if vec.IsNull(i) {
			stats.NullCount++
			continue
		}
		switch {
		case vec.Type.IntPhysical():
			v := vec.Ints[i]
			if !stats.HasValues || v < stats.MinInt {
				stats.MinInt = v
			}
			if !stats.HasValues || v > stats.MaxInt {
				stats.MaxInt = v
			}
			note(v)
		case vec.Type == DataTypeFloat64:
			v := vec.Floats[i]
			if !stats.HasValues || v < stats.MinFloat {
				stats.MinFloat = v
			}
			if !stats.HasValues || v > stats.MaxFloat {
				stats.MaxFloat = v
			}
			note(v)
		default:
			v := vec.Strings[i]
			if !stats.HasValues || v < stats.MinString {
				stats.MinString = v
			}
			if !stats.HasValues || v > stats.MaxString {
				stats.MaxString = v
			}
			note(v)
		}
		stats.HasValues = true
	}
	if track {
		stats.DistinctCount = len(distinct)
	} else {
		stats.DistinctCount = -1
	}
	return stats
}

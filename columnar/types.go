package columnar

import (
	"errors"
	"fmt"
	"time"
)

// Constants
const (
	// DefaultSegmentCapacity is the number of rows per segment before the
	// open tail is encoded and closed.
	DefaultSegmentCapacity = 64 * 1024

	// DictionaryMaxCardinality caps the distinct-value count for which a
	// string segment is dictionary encoded.
	DictionaryMaxCardinality = 4096

	// DistinctTrackingLimit is the point past which a segment stops counting
	// exact distinct values and reports the estimate as unknown.
	DistinctTrackingLimit = 8192
)

// Errors
var (
	ErrTableNotFound   = errors.New("table not found")
	ErrTableExists     = errors.New("table already exists")
	ErrColumnNotFound  = errors.New("column not found")
	ErrRowRangeInvalid = errors.New("row range out of bounds")
	ErrSegmentCorrupt  = errors.New("segment payload corrupt")
	ErrEmptySchema     = errors.New("schema has no columns")
	ErrUnknownEncoding = errors.New("unknown segment encoding")
	ErrUnknownCodec    = errors.New("unsupported compression type")
)

// SchemaMismatchError reports an append whose batch disagrees with the
// table schema. The append has no effect when this is returned.
type SchemaMismatchError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema mismatch on %s.%s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("schema mismatch on %s: %s", e.Table, e.Reason)
}

// PruneInconsistencyError is an internal invariant violation: pruning
// excluded a segment that contained a matching row. Always a bug.
type PruneInconsistencyError struct {
	Table   string
	Column  string
	Segment int
}

func (e *PruneInconsistencyError) Error() string {
	return fmt.Sprintf("prune inconsistency: %s.%s segment %d was excluded but contains a matching row",
		e.Table, e.Column, e.Segment)
}

// DataType represents the logical type of a column.
type DataType uint8

const (
	DataTypeInt64 DataType = iota
	DataTypeFloat64
	DataTypeDecimal // fixed-point, stored as a scaled int64
	DataTypeDate    // days since the Unix epoch, stored as int64
	DataTypeString
)

func (dt DataType) String() string {
	switch dt {
	case DataTypeInt64:
		return "int64"
	case DataTypeFloat64:
		return "float64"
	case DataTypeDecimal:
		return "decimal"
	case DataTypeDate:
		return "date"
	case DataTypeString:
		return "string"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(dt))
	}
}

// IntPhysical reports whether the type is stored in the int64 plane.
func (dt DataType) IntPhysical() bool {
	return dt == DataTypeInt64 || dt == DataTypeDecimal || dt == DataTypeDate
}

const dateLayout = "2006-01-02"

// ParseDate converts an ISO date string to its day-ordinal representation.
func ParseDate(s string) (int64, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t.Unix() / 86400, nil
}

// FormatDate converts a day ordinal back to an ISO date string.
func FormatDate(days int64) string {
	return time.Unix(days*86400, 0).UTC().Format(dateLayout)
}

// DecimalScale returns the multiplier for a decimal column's scale.
func DecimalScale(scale int) float64 {
	f := 1.0
	for i := 0; i < scale; i++ {
		f *= 10
	}
	return f
}

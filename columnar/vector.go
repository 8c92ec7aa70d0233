package columnar

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// ColumnVector is a decoded batch of values for one column. Values live in
// one of three physical planes depending on the column type; Nulls marks
// positions that hold no value.
type ColumnVector struct {
	Type    DataType
	Scale   int // decimal columns only
	Ints    []int64
	Floats  []float64
	Strings []string
	Nulls   *roaring.Bitmap
}

// NewColumnVector allocates an empty vector for the given column schema.
func NewColumnVector(cs ColumnSchema, capacity int) *ColumnVector {
	v := &ColumnVector{Type: cs.Type, Scale: cs.Scale, Nulls: roaring.New()}
	if cs.Type.IntPhysical() {
		v.Ints = make([]int64, 0, capacity)
	} else if cs.Type == DataTypeFloat64 {
		v.Floats = make([]float64, 0, capacity)
	} else {
		v.Strings = make([]string, 0, capacity)
	}
	return v
}

// Len returns the number of positions in the vector.
func (v *ColumnVector) Len() int {
	switch {
	case v.Type.IntPhysical():
		return len(v.Ints)
	case v.Type == DataTypeFloat64:
		return len(v.Floats)
	default:
		return len(v.Strings)
	}
}

// IsNull reports whether position i holds no value.
func (v *ColumnVector) IsNull(i int) bool {
	return v.Nulls != nil && v.Nulls.Contains(uint32(i))
}

// AppendNull extends the vector by one null position.
func (v *ColumnVector) AppendNull() {
	v.Nulls.Add(uint32(v.Len()))
	switch {
	case v.Type.IntPhysical():
		v.Ints = append(v.Ints, 0)
	case v.Type == DataTypeFloat64:
		v.Floats = append(v.Floats, 0)
	default:
		v.Strings = append(v.Strings, "")
	}
}

// AppendInt extends the int64 plane by one value.
func (v *ColumnVector) AppendInt(x int64) { v.Ints = append(v.Ints, x) }

// AppendFloat extends the float64 plane by one value.
func (v *ColumnVector) AppendFloat(x float64) { v.Floats = append(v.Floats, x) }

// AppendString extends the string plane by one value.
func (v *ColumnVector) AppendString(x string) { v.Strings = append(v.Strings, x) }

// Value boxes the logical value at position i: int64, float64 or string,
// with dates rendered as ISO strings and decimals unscaled to float64.
// Returns nil for null positions.
func (v *ColumnVector) Value(i int) interface{} {
	if v.IsNull(i) {
		return nil
	}
	switch v.Type {
	case DataTypeInt64:
		return v.Ints[i]
	case DataTypeDecimal:
		return float64(v.Ints[i]) / DecimalScale(v.Scale)
	case DataTypeDate:
		return FormatDate(v.Ints[i])
	case DataTypeFloat64:
		return v.Floats[i]
	default:
		return v.Strings[i]
	}
}

// Slice returns the sub-vector covering [lo, hi). Null positions are
// re-based to the slice. The planes are shared, not copied.
func (v *ColumnVector) Slice(lo, hi int) *ColumnVector {
	out := &ColumnVector{Type: v.Type, Scale: v.Scale, Nulls: roaring.New()}
	switch {
	case v.Type.IntPhysical():
		out.Ints = v.Ints[lo:hi]
	case v.Type == DataTypeFloat64:
		out.Floats = v.Floats[lo:hi]
	default:
		out.Strings = v.Strings[lo:hi]
	}
	if v.Nulls != nil {
		it := v.Nulls.Iterator()
		for it.HasNext() {
			pos := it.Next()
			if int(pos) >= lo && int(pos) < hi {
				out.Nulls.Add(pos - uint32(lo))
			}
		}
	}
	return out
}

// appendVector appends all positions of src onto v. Both must share a type.
func (v *ColumnVector) appendVector(src *ColumnVector) {
	base := uint32(v.Len())
	switch {
	case v.Type.IntPhysical():
		v.Ints = append(v.Ints, src.Ints...)
	case v.Type == DataTypeFloat64:
		v.Floats = append(v.Floats, src.Floats...)
	default:
		v.Strings = append(v.Strings, src.Strings...)
	}
	if src.Nulls != nil {
		it := src.Nulls.Iterator()
		for it.HasNext() {
			v.Nulls.Add(base + it.Next())
		}
	}
}

// RowBatch is the append input: one vector per column of the destination
// table, all of equal length.
type RowBatch struct {
	Columns map[string]*ColumnVector
}

// Len returns the row count of the batch, or 0 for an empty batch.
func (b *RowBatch) Len() int {
	for _, v := range b.Columns {
		return v.Len()
	}
	return 0
}

// BatchBuilder assembles a RowBatch row by row against a schema, coercing
// boxed values into the column planes.
type BatchBuilder struct {
	schema *Schema
	cols   map[string]*ColumnVector
	rows   int
}

// NewBatchBuilder creates a builder for the given schema.
func NewBatchBuilder(schema *Schema) *BatchBuilder {
	cols := make(map[string]*ColumnVector, len(schema.Columns))
	for _, cs := range schema.Columns {
		cols[cs.Name] = NewColumnVector(cs, 0)
	}
	return &BatchBuilder{schema: schema, cols: cols}
}

// AppendRow adds one row. Missing columns become nulls; unknown columns or
// uncoercible values fail with a SchemaMismatchError.
func (bb *BatchBuilder) AppendRow(row map[string]interface{}) error {
	for name := range row {
		if _, ok := bb.cols[name]; !ok {
			return &SchemaMismatchError{Table: bb.schema.Table, Column: name, Reason: "column not in schema"}
		}
	}
	for _, cs := range bb.schema.Columns {
		vec := bb.cols[cs.Name]
		val, ok := row[cs.Name]
		if !ok || val == nil {
			if !cs.Nullable {
				return &SchemaMismatchError{Table: bb.schema.Table, Column: cs.Name, Reason: "null value for non-nullable column"}
			}
			vec.AppendNull()
			continue
		}
		if err := appendCoerced(vec, cs, val); err != nil {
			return err
		}
	}
	bb.rows++
	return nil
}

// Batch returns the assembled RowBatch.
func (bb *BatchBuilder) Batch() *RowBatch {
	return &RowBatch{Columns: bb.cols}
}

func appendCoerced(vec *ColumnVector, cs ColumnSchema, val interface{}) error {
	mismatch := func(reason string) error {
		return &SchemaMismatchError{Column: cs.Name, Reason: reason}
	}
	switch cs.Type {
	case DataTypeInt64:
		switch x := val.(type) {
		case int:
			vec.AppendInt(int64(x))
		case int32:
			vec.AppendInt(int64(x))
		case int64:
			vec.AppendInt(x)
		default:
			return mismatch(fmt.Sprintf("cannot store %T in int64 column", val))
		}
	case DataTypeFloat64:
		switch x := val.(type) {
		case float64:
			vec.AppendFloat(x)
		case float32:
			vec.AppendFloat(float64(x))
		case int:
			vec.AppendFloat(float64(x))
		case int64:
			vec.AppendFloat(float64(x))
		default:
			return mismatch(fmt.Sprintf("cannot store %T in float64 column", val))
		}
	case DataTypeDecimal:
		scale := DecimalScale(cs.Scale)
		switch x := val.(type) {
		case float64:
			vec.AppendInt(int64(math.Round(x * scale)))
		case int:
			vec.AppendInt(int64(float64(x) * scale))
		case int64:
			vec.AppendInt(int64(float64(x) * scale))
		default:
			return mismatch(fmt.Sprintf("cannot store %T in decimal column", val))
		}
	case DataTypeDate:
		switch x := val.(type) {
		case string:
			days, err := ParseDate(x)
			if err != nil {
				return mismatch(err.Error())
			}
			vec.AppendInt(days)
		case int64:
			vec.AppendInt(x)
		default:
			return mismatch(fmt.Sprintf("cannot store %T in date column", val))
		}
	default: // string
		x, ok := val.(string)
		if !ok {
			return mismatch(fmt.Sprintf("cannot store %T in string column", val))
		}
		vec.AppendString(x)
	}
	return nil
}

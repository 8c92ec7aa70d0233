package core

// Row is one output row: column name to boxed value. Values are int64,
// float64 or string; dates are ISO strings, decimals unscaled floats, and
// NULL is a nil entry.
type Row map[string]interface{}

// Cursor delivers query results with an explicit end of stream: Next
// returning false terminates the stream, and Err distinguishes a clean end
// from a failure that replaced the remainder.
type Cursor struct {
	columns []string
	rows    []Row
	pos     int
	ordered bool
	err     error
}

func newCursor(columns []string, rows []Row, ordered bool) *Cursor {
	return &Cursor{columns: columns, rows: rows, pos: -1, ordered: ordered}
}

// Columns returns the fixed output schema, in order.
func (c *Cursor) Columns() []string { return c.columns }

// Ordered reports whether a Sort governs the row order. Without one the
// stream order is an implementation detail, not a contract.
func (c *Cursor) Ordered() bool { return c.ordered }

// Next advances to the next row. It returns false at end of stream or on
// failure; check Err to tell them apart.
func (c *Cursor) Next() bool {
	if c.err != nil || c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

// Row returns the current row. Only valid after a true Next.
func (c *Cursor) Row() Row { return c.rows[c.pos] }

// Err returns the failure that terminated the stream, if any.
func (c *Cursor) Err() error { return c.err }

// Collect drains the cursor into a slice. Handy in tests and the CLI.
func (c *Cursor) Collect() ([]Row, error) {
	var out []Row
	for c.Next() {
		out = append(out, c.Row())
	}
	return out, c.Err()
}

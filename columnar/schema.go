package columnar

import "fmt"

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name     string
	Type     DataType
	Nullable bool
	Scale    int // decimal columns only
}

// Schema describes a table: its columns, and optionally a partition key
// (segments split on value change) and a sort key (rows arrive ordered by
// it, which enables delta encoding and tighter range pruning).
type Schema struct {
	Table        string
	Columns      []ColumnSchema
	PartitionKey string
	SortKey      string
}

// Column returns the schema for a named column.
func (s *Schema) Column(name string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// Validate checks structural sanity of the schema.
func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s: column with empty name", s.Table)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", s.Table, c.Name)
		}
		seen[c.Name] = true
		if c.Type == DataTypeDecimal && (c.Scale < 0 || c.Scale > 18) {
			return fmt.Errorf("table %s: column %s has invalid decimal scale %d", s.Table, c.Name, c.Scale)
		}
	}
	if s.PartitionKey != "" && !seen[s.PartitionKey] {
		return fmt.Errorf("table %s: partition key %s is not a column", s.Table, s.PartitionKey)
	}
	if s.SortKey != "" && !seen[s.SortKey] {
		return fmt.Errorf("table %s: sort key %s is not a column", s.Table, s.SortKey)
	}
	return nil
}

// Package catalog tracks table schemas for the engine. It is a purely
// in-memory registry: the column store owns the data, the catalog owns the
// shapes.
package catalog

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"colstore/columnar"
)

// TableEntry pairs a schema with its registration metadata.
type TableEntry struct {
	Schema    *columnar.Schema
	CreatedAt time.Time
}

// Catalog is a thread-safe table schema registry.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*TableEntry
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]*TableEntry)}
}

// Register adds a table schema. The schema is validated first.
func (c *Catalog) Register(schema *columnar.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[schema.Table]; exists {
		return fmt.Errorf("%w: %s", columnar.ErrTableExists, schema.Table)
	}
	c.tables[schema.Table] = &TableEntry{Schema: schema, CreatedAt: time.Now()}
	return nil
}

// Lookup returns the schema of a registered table.
func (c *Catalog) Lookup(table string) (*columnar.Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", columnar.ErrTableNotFound, table)
	}
	return entry.Schema, nil
}

// Drop removes a table from the catalog.
func (c *Catalog) Drop(table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[table]; !ok {
		return fmt.Errorf("%w: %s", columnar.ErrTableNotFound, table)
	}
	delete(c.tables, table)
	return nil
}

// List returns registered table names in sorted order.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveColumns expands a column list against a table schema, returning
// all columns for an empty request and failing on unknown names.
func (c *Catalog) ResolveColumns(table string, requested []string) ([]string, error) {
	schema, err := c.Lookup(table)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		names := make([]string, len(schema.Columns))
		for i, cs := range schema.Columns {
			names[i] = cs.Name
		}
		return names, nil
	}
	for _, name := range requested {
		if _, ok := schema.Column(name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", columnar.ErrColumnNotFound, table, name)
		}
	}
	return requested, nil
}

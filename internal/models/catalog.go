package models

import (
	"fmt"
	"strings"
)

// Column describes one column of a warehouse table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableInfo describes one table of the catalog.
type TableInfo struct {
	Database string   `json:"database,omitempty"`
	Schema   string   `json:"schema,omitempty"`
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
}

// QualifiedName returns schema.name when a schema is known.
func (t TableInfo) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Catalog is the introspected structure of the connected warehouse.
type Catalog struct {
	Database string      `json:"database,omitempty"`
	Tables   []TableInfo `json:"tables"`
}

// Filter returns a catalog narrowed by filter: "" keeps everything, "search:kw" keeps
// tables whose name contains kw, anything else matches a table name exactly.
func (c *Catalog) Filter(filter string) *Catalog {
	if c == nil {
		return &Catalog{}
	}
	filter = strings.TrimSpace(filter)
	if filter == "" || strings.EqualFold(filter, "tables") {
		return c
	}
	out := &Catalog{Database: c.Database}
	if kw, ok := strings.CutPrefix(strings.ToLower(filter), "search:"); ok {
		kw = strings.TrimSpace(kw)
		for _, t := range c.Tables {
			if strings.Contains(strings.ToLower(t.Name), kw) {
				out.Tables = append(out.Tables, t)
			}
		}
		return out
	}
	for _, t := range c.Tables {
		if strings.EqualFold(t.Name, filter) || strings.EqualFold(t.QualifiedName(), filter) {
			out.Tables = append(out.Tables, t)
		}
	}
	return out
}

// Describe renders the catalog for prompts.
func (c *Catalog) Describe() string {
	if c == nil || len(c.Tables) == 0 {
		return "(no tables found)"
	}
	var b strings.Builder
	if c.Database != "" {
		fmt.Fprintf(&b, "Database: %s\n", c.Database)
	}
	b.WriteString("Available Tables and Columns:\n")
	for _, t := range c.Tables {
		fmt.Fprintf(&b, "\n%s:\n", t.QualifiedName())
		for _, col := range t.Columns {
			fmt.Fprintf(&b, "  - %s (%s)\n", col.Name, col.Type)
		}
	}
	return b.String()
}

// Table is a tabular query result.
type Table struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

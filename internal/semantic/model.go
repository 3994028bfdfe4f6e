// Package semantic loads the optional semantic model that describes the
// warehouse in business terms. A session without one falls back to the raw
// catalog discovered from the warehouse.
package semantic

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xaenox/analyst-bot/internal/models"
)

// Source tells where a model came from.
type Source string

const (
	SourceUploaded   Source = "custom"
	SourceDiscovered Source = "auto"
)

var ErrInvalidModel = errors.New("semantic: invalid model")

type Column struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description,omitempty"`
	Synonyms    []string `yaml:"synonyms,omitempty"`
}

type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Columns     []Column `yaml:"columns"`
}

type Metric struct {
	Name        string `yaml:"name"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description,omitempty"`
}

// Model is a business-level description of the warehouse.
type Model struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tables      []Table  `yaml:"tables"`
	Metrics     []Metric `yaml:"metrics,omitempty"`

	Source Source `yaml:"-"`
}

type document struct {
	SemanticModel *Model `yaml:"semantic_model"`
}

// Load parses an uploaded YAML model. Both a top-level `semantic_model:` key and
// a bare model document are accepted.
func Load(data []byte) (*Model, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	model := doc.SemanticModel
	if model == nil {
		model = &Model{}
		if err := yaml.Unmarshal(data, model); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	model.Source = SourceUploaded
	return model, nil
}

// Validate requires at least one named table with named columns.
func (m *Model) Validate() error {
	if len(m.Tables) == 0 {
		return fmt.Errorf("%w: no tables defined", ErrInvalidModel)
	}
	for i, t := range m.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: table %d has no name", ErrInvalidModel, i)
		}
		for j, c := range t.Columns {
			if strings.TrimSpace(c.Name) == "" {
				return fmt.Errorf("%w: column %d of table %s has no name", ErrInvalidModel, j, t.Name)
			}
		}
	}
	return nil
}

// FromCatalog builds a discovered model from the raw warehouse catalog.
func FromCatalog(catalog *models.Catalog) *Model {
	m := &Model{Name: "auto-discovered", Source: SourceDiscovered}
	if catalog == nil {
		return m
	}
	for _, t := range catalog.Tables {
		table := Table{Name: t.QualifiedName()}
		for _, c := range t.Columns {
			table.Columns = append(table.Columns, Column{Name: c.Name, Type: c.Type})
		}
		m.Tables = append(m.Tables, table)
	}
	return m
}

// Describe renders the model for the SQL generation prompt.
func (m *Model) Describe() string {
	if m == nil || len(m.Tables) == 0 {
		return "(no tables available)"
	}
	var b strings.Builder
	if m.Name != "" {
		fmt.Fprintf(&b, "Semantic model: %s\n", m.Name)
	}
	if m.Description != "" {
		fmt.Fprintf(&b, "%s\n", m.Description)
	}
	b.WriteString("Tables:\n")
	for _, t := range m.Tables {
		fmt.Fprintf(&b, "\n%s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, " -- %s", t.Description)
		}
		b.WriteString("\n")
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  - %s (%s)", c.Name, c.Type)
			if c.Description != "" {
				fmt.Fprintf(&b, ": %s", c.Description)
			}
			if len(c.Synonyms) > 0 {
				fmt.Fprintf(&b, " [also: %s]", strings.Join(c.Synonyms, ", "))
			}
			b.WriteString("\n")
		}
	}
	if len(m.Metrics) > 0 {
		b.WriteString("\nMetrics:\n")
		for _, metric := range m.Metrics {
			fmt.Fprintf(&b, "  - %s = %s\n", metric.Name, metric.Expression)
		}
	}
	return b.String()
}

package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/analyst-bot/internal/models"
)

const salesModel = `
semantic_model:
  name: "Sales Analytics"
  description: "Sales data semantic model"
  tables:
    - name: "SALES"
      description: "Sales transactions table"
      columns:
        - name: "SALE_AMOUNT"
          type: "NUMBER"
          description: "Sale amount in USD"
          synonyms: ["revenue"]
        - name: "REGION"
          type: "VARCHAR"
  metrics:
    - name: total_revenue
      expression: SUM(SALE_AMOUNT)
`

func TestLoad(t *testing.T) {
	m, err := Load([]byte(salesModel))
	require.NoError(t, err)

	assert.Equal(t, "Sales Analytics", m.Name)
	assert.Equal(t, SourceUploaded, m.Source)
	require.Len(t, m.Tables, 1)
	assert.Len(t, m.Tables[0].Columns, 2)

	desc := m.Describe()
	assert.Contains(t, desc, "SALES -- Sales transactions table")
	assert.Contains(t, desc, "SALE_AMOUNT (NUMBER): Sale amount in USD [also: revenue]")
	assert.Contains(t, desc, "total_revenue = SUM(SALE_AMOUNT)")
}

func TestLoad_BareDocument(t *testing.T) {
	m, err := Load([]byte("name: bare\ntables:\n  - name: orders\n    columns:\n      - name: id\n        type: int\n"))
	require.NoError(t, err)
	assert.Equal(t, "bare", m.Name)
}

func TestLoad_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"not yaml":       "::: [",
		"no tables":      "semantic_model:\n  name: empty\n",
		"unnamed column": "tables:\n  - name: t\n    columns:\n      - type: int\n",
		"scalar":         "just a string",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestFromCatalog(t *testing.T) {
	m := FromCatalog(&models.Catalog{Tables: []models.TableInfo{
		{Schema: "public", Name: "sales", Columns: []models.Column{{Name: "region", Type: "text"}}},
	}})
	assert.Equal(t, SourceDiscovered, m.Source)
	assert.Contains(t, m.Describe(), "public.sales")
	assert.Contains(t, m.Describe(), "region (text)")

	assert.Equal(t, "(no tables available)", FromCatalog(nil).Describe())
}

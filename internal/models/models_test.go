package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory_IsValid(t *testing.T) {
	for _, c := range AllCategories() {
		assert.True(t, c.IsValid(), c.String())
	}
	assert.False(t, Category("unclear").IsValid())
	assert.False(t, Category("").IsValid())
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		label string
		want  Category
		ok    bool
	}{
		{"DATA_QUERY", CategoryDataQuery, true},
		{"greeting", CategoryGreeting, true},
		{"Help Request", CategoryHelpRequest, true},
		{"general_question", CategoryGeneralQuestion, true},
		{"UNCLEAR", CategoryGeneralQuestion, true},
		{"nonsense", CategoryGeneralQuestion, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseCategory(tt.label)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier("med")
	assert.True(t, ok)
	assert.Equal(t, TierMedium, tier)

	tier, ok = ParseTier("HIGH")
	assert.True(t, ok)
	assert.Equal(t, TierHigh, tier)

	_, ok = ParseTier("turbo")
	assert.False(t, ok)
}

func TestCatalog_Filter(t *testing.T) {
	catalog := &Catalog{Tables: []TableInfo{
		{Schema: "public", Name: "sales"},
		{Schema: "public", Name: "sales_targets"},
		{Schema: "public", Name: "customers"},
	}}

	assert.Len(t, catalog.Filter("").Tables, 3)
	assert.Len(t, catalog.Filter("search:SALES").Tables, 2)
	assert.Len(t, catalog.Filter("public.customers").Tables, 1)
	assert.Empty(t, catalog.Filter("orders").Tables)
}

func TestNewPerformanceSample(t *testing.T) {
	invocations := []Invocation{
		{Seq: 1, Capability: CapabilitySchemaLookup, Success: true, Latency: 5 * time.Millisecond},
		{Seq: 2, Capability: CapabilityStructuredQuery, Success: true, Latency: 20 * time.Millisecond},
		{
			Seq:        3,
			Capability: CapabilityRawQuery,
			Success:    false,
			Latency:    7 * time.Millisecond,
			Result:     RawQueryResult{Query: "SELECT 1"},
		},
	}

	sample := NewPerformanceSample(4, 50*time.Millisecond, false, invocations)
	assert.Equal(t, 4, sample.Turn)
	assert.False(t, sample.Success)
	assert.Len(t, sample.Breakdown, 3)
	assert.Equal(t, []CapabilityID{CapabilitySchemaLookup, CapabilityStructuredQuery, CapabilityRawQuery}, sample.Mix)
	assert.Equal(t, 0, sample.RowsReturned)
}

func TestInvocation_Record(t *testing.T) {
	inv := Invocation{
		Seq:        1,
		Capability: CapabilityRawQuery,
		Request:    RawQueryRequest{Query: "SELECT region FROM sales"},
		Result:     RawQueryResult{Query: "SELECT region FROM sales", Table: &Table{Columns: []string{"region"}}},
		Success:    true,
	}
	rec := inv.Record(3)
	assert.Equal(t, 3, rec.Turn)

	var req RawQueryRequest
	require.NoError(t, json.Unmarshal([]byte(rec.Input), &req))
	assert.Equal(t, "SELECT region FROM sales", req.Query)
	assert.Contains(t, rec.Output, `"region"`)
}

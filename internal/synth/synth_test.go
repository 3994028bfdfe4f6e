package synth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/llm"
	"github.com/xaenox/analyst-bot/internal/models"
)

const salesQuery = "SELECT region, SUM(amount) AS total FROM sales GROUP BY region"

func dataInput(invs ...models.Invocation) Input {
	return Input{
		Utterance:      "show total sales by region",
		Classification: models.Classification{Category: models.CategoryDataQuery, Confidence: 0.9},
		Invocations:    invs,
	}
}

func generated(query, warning string) models.Invocation {
	return models.Invocation{
		Seq:        1,
		Capability: models.CapabilityStructuredQuery,
		Result:     models.StructuredQueryResult{Query: query, Warning: warning},
		Success:    query != "",
	}
}

func executed(query string, table *models.Table, kind models.ErrorKind, errText string) models.Invocation {
	return models.Invocation{
		Seq:        2,
		Capability: models.CapabilityRawQuery,
		Result:     models.RawQueryResult{Query: query, Table: table},
		Success:    errText == "",
		Error:      errText,
		ErrKind:    kind,
	}
}

func TestSynthesize_DataSuccess(t *testing.T) {
	s := New(nil, zap.NewNop())
	table := &models.Table{Columns: []string{"region", "total"}, Rows: [][]any{{"north", 15.0}, {"south", int64(20)}}}

	reply := s.Synthesize(context.Background(), dataInput(
		generated(salesQuery, "no semantic model configured; generated against raw schema"),
		executed(salesQuery, table, models.ErrKindNone, ""),
	))

	assert.Contains(t, reply, "```sql\n"+salesQuery+"\n```")
	assert.Contains(t, reply, "no semantic model configured")
	assert.Contains(t, reply, "Query returned 2 rows.")
	assert.Contains(t, reply, "| region | total |")
	assert.Contains(t, reply, "| north | 15 |")
	assert.Contains(t, reply, "| south | 20 |")
}

func TestSynthesize_DataPreviewLimit(t *testing.T) {
	s := New(nil, zap.NewNop())
	table := &models.Table{Columns: []string{"n"}}
	for i := 0; i < 12; i++ {
		table.Rows = append(table.Rows, []any{int64(i)})
	}

	reply := s.Synthesize(context.Background(), dataInput(executed("SELECT n FROM t", table, models.ErrKindNone, "")))
	assert.Contains(t, reply, "| 9 |")
	assert.NotContains(t, reply, "| 10 |")
	assert.Contains(t, reply, "Showing first 10 of 12 rows.")
}

func TestSynthesize_DataFailureTips(t *testing.T) {
	s := New(nil, zap.NewNop())

	permission := s.Synthesize(context.Background(), dataInput(
		generated(salesQuery, ""),
		executed(salesQuery, nil, models.ErrKindPermission, "permission denied for table sales"),
	))
	missing := s.Synthesize(context.Background(), dataInput(
		generated(salesQuery, ""),
		executed(salesQuery, nil, models.ErrKindMissingObject, `relation "sales" does not exist`),
	))

	for _, reply := range []string{permission, missing} {
		assert.Contains(t, reply, salesQuery)
		assert.Contains(t, reply, "Troubleshooting tips:")
	}
	assert.Contains(t, permission, "grant SELECT")
	assert.NotContains(t, permission, "names exist")
	assert.Contains(t, missing, "names exist")
	assert.NotContains(t, missing, "grant SELECT")
	assert.NotEqual(t, permission, missing)
}

func TestSynthesize_NoSQLGenerated(t *testing.T) {
	s := New(nil, zap.NewNop())
	gen := generated("", "")
	gen.Error = "capability: no SQL generated"
	gen.ErrKind = models.ErrKindEmpty

	reply := s.Synthesize(context.Background(), dataInput(gen, executed("", nil, models.ErrKindEmpty, "capability: empty query")))
	assert.Contains(t, reply, "No SQL query was generated")
	assert.Contains(t, reply, "too ambiguous")
	assert.NotContains(t, reply, "```sql")
}

func TestSynthesize_SchemaLookup(t *testing.T) {
	s := New(nil, zap.NewNop())
	reply := s.Synthesize(context.Background(), dataInput(models.Invocation{
		Seq:        1,
		Capability: models.CapabilitySchemaLookup,
		Success:    true,
		Result: models.SchemaLookupResult{Catalog: &models.Catalog{Tables: []models.TableInfo{
			{Schema: "public", Name: "sales", Columns: []models.Column{{Name: "region"}, {Name: "amount"}}},
		}}},
	}))
	assert.Equal(t, "Available tables:\n- public.sales: region, amount", reply)
}

func TestSynthesize_DataIsDeterministic(t *testing.T) {
	s := New(nil, zap.NewNop())
	in := dataInput(generated(salesQuery, ""), executed(salesQuery, nil, models.ErrKindSyntax, "syntax error"))
	assert.Equal(t, s.Synthesize(context.Background(), in), s.Synthesize(context.Background(), in))
}

func TestSynthesize_GreetingUsesBackend(t *testing.T) {
	var prompt string
	backend := llm.BackendFunc(func(ctx context.Context, p string, tier models.Tier) (string, error) {
		prompt = p
		return "  Hi there! Ready when you are.  ", nil
	})
	s := New(backend, zap.NewNop())

	reply := s.Synthesize(context.Background(), Input{
		Utterance:      "hi",
		Classification: models.Classification{Category: models.CategoryGreeting},
		Window: []models.Message{
			{Turn: 1, Role: models.RoleUser, Text: "show revenue by month"},
			{Turn: 1, Role: models.RoleAssistant, Text: "..."},
		},
	})
	assert.Equal(t, "Hi there! Ready when you are.", reply)
	assert.Contains(t, prompt, `"show revenue by month"`)
	assert.Contains(t, prompt, "no semantic model is loaded")
}

func TestSynthesize_Fallbacks(t *testing.T) {
	failing := llm.BackendFunc(func(ctx context.Context, p string, tier models.Tier) (string, error) {
		return "", errors.New("backend down")
	})
	s := New(failing, zap.NewNop())

	greeting := s.Synthesize(context.Background(), Input{Utterance: "hi", Classification: models.Classification{Category: models.CategoryGreeting}})
	assert.Contains(t, greeting, "Hello! I'm your data analyst assistant.")

	help := s.Synthesize(context.Background(), Input{Utterance: "help", SemanticModel: true, Classification: models.Classification{Category: models.CategoryHelpRequest}})
	assert.Contains(t, help, "Semantic model loaded")

	general := s.Synthesize(context.Background(), Input{Utterance: "what is a join", Classification: models.Classification{Category: models.CategoryGeneralQuestion}})
	assert.Contains(t, general, `"what is a join"`)
	assert.Contains(t, general, DatedCaveat)
}

func TestSynthesize_GeneralWithWebSearch(t *testing.T) {
	var prompt string
	backend := llm.BackendFunc(func(ctx context.Context, p string, tier models.Tier) (string, error) {
		prompt = p
		return "PostgreSQL 17 is the latest release.", nil
	})
	s := New(backend, zap.NewNop())

	var snippets []models.Snippet
	for i := 1; i <= 4; i++ {
		snippets = append(snippets, models.Snippet{Title: fmt.Sprintf("source %d", i), URL: fmt.Sprintf("https://example.com/%d", i), Content: "text"})
	}
	reply := s.Synthesize(context.Background(), Input{
		Utterance:      "what is the latest postgres version",
		Classification: models.Classification{Category: models.CategoryGeneralQuestion},
		WebSearch:      true,
		Invocations: []models.Invocation{{
			Seq:        1,
			Capability: models.CapabilityWebSearch,
			Success:    true,
			Result:     models.WebSearchResult{Query: "latest postgres", Answer: "17", Snippets: snippets},
		}},
	})

	assert.Contains(t, prompt, "CURRENT WEB INFORMATION")
	assert.Contains(t, prompt, "Summary: 17")
	assert.Contains(t, reply, "PostgreSQL 17 is the latest release.")
	assert.Contains(t, reply, "3. source 3 (https://example.com/3)")
	assert.NotContains(t, reply, "source 4")
	assert.NotContains(t, reply, DatedCaveat)
}

func TestSynthesize_GeneralWithoutSearchHasCaveat(t *testing.T) {
	backend := llm.BackendFunc(func(ctx context.Context, p string, tier models.Tier) (string, error) {
		require.NotContains(t, p, "CURRENT WEB INFORMATION")
		return "A join combines rows from two tables.", nil
	})
	s := New(backend, zap.NewNop())

	reply := s.Synthesize(context.Background(), Input{
		Utterance:      "what is a join",
		Classification: models.Classification{Category: models.CategoryGeneralQuestion},
	})
	assert.Equal(t, "A join combines rows from two tables.\n\n"+DatedCaveat, reply)
}

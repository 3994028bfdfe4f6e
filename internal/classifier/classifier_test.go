package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/llm"
	"github.com/xaenox/analyst-bot/internal/models"
)

func failingBackend() llm.Backend {
	return llm.BackendFunc(func(context.Context, string, models.Tier) (string, error) {
		return "", errors.New("backend unreachable")
	})
}

func staticBackend(reply string) llm.Backend {
	return llm.BackendFunc(func(context.Context, string, models.Tier) (string, error) {
		return reply, nil
	})
}

func TestHeuristicClassifier_Rules(t *testing.T) {
	tests := []struct {
		utterance string
		want      models.Category
	}{
		{"hi", models.CategoryGreeting},
		{"Good morning!", models.CategoryGreeting},
		{"thank you", models.CategoryGreeting},
		{"What can you do?", models.CategoryHelpRequest},
		{"help", models.CategoryHelpRequest},
		{"show total sales by region", models.CategoryDataQuery},
		{"How many customers signed up last month?", models.CategoryDataQuery},
		{"SELECT region, SUM(amount) FROM sales GROUP BY region", models.CategoryDataQuery},
		{"with t as (select 1) select * from t", models.CategoryDataQuery},
		{"What is a primary key?", models.CategoryGeneralQuestion},
		{"explain how a LEFT JOIN works", models.CategoryGeneralQuestion},
		{"who painted the mona lisa", models.CategoryGeneralQuestion},
		{"", models.CategoryGeneralQuestion},
	}

	c := NewHeuristicClassifier(0.3)
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.utterance, nil, false)
			assert.Equal(t, tt.want, got.Category)
			assert.Equal(t, models.SourceHeuristic, got.Source)
			assert.Equal(t, 0.3, got.Confidence)
			assert.NotEmpty(t, got.Rationale)
		})
	}
}

func TestHeuristicClassifier_LongGreetingIsNotGreeting(t *testing.T) {
	c := NewHeuristicClassifier(0.3)
	got := c.Classify(context.Background(), "hello can you show me the top ten products by revenue", nil, false)
	assert.Equal(t, models.CategoryDataQuery, got.Category)
	assert.NotEmpty(t, got.Keywords)
}

func TestHeuristicClassifier_InvalidConfidenceUsesDefault(t *testing.T) {
	c := NewHeuristicClassifier(0)
	got := c.Classify(context.Background(), "hi", nil, false)
	assert.Equal(t, DefaultFallbackConfidence, got.Confidence)
}

func TestGPTClassifier_ModelPath(t *testing.T) {
	backend := staticBackend(`Here you go: {"type": "DATA_QUERY", "confidence": 0.91, "reasoning": "asks for sales totals", "data_keywords": ["sales"]}`)
	c := NewGPTClassifier(backend, models.TierLow, NewHeuristicClassifier(0.3), zap.NewNop())

	got := c.Classify(context.Background(), "show total sales by region", nil, false)
	assert.Equal(t, models.CategoryDataQuery, got.Category)
	assert.Equal(t, models.SourceModel, got.Source)
	assert.Equal(t, 0.91, got.Confidence)
	assert.Equal(t, "asks for sales totals", got.Rationale)
	assert.Equal(t, []string{"sales"}, got.Keywords)
}

func TestGPTClassifier_ClampsConfidenceAndMapsUnclear(t *testing.T) {
	c := NewGPTClassifier(staticBackend(`{"type": "UNCLEAR", "confidence": 7}`), models.TierLow, nil, zap.NewNop())

	got := c.Classify(context.Background(), "hmm", nil, false)
	assert.Equal(t, models.CategoryGeneralQuestion, got.Category)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, models.SourceModel, got.Source)
}

func TestGPTClassifier_MissingConfidenceDefaults(t *testing.T) {
	c := NewGPTClassifier(staticBackend(`{"type": "GREETING"}`), models.TierLow, nil, zap.NewNop())
	got := c.Classify(context.Background(), "yo", nil, false)
	assert.Equal(t, defaultModelConfidence, got.Confidence)
}

func TestGPTClassifier_FallsBackOnFailure(t *testing.T) {
	cases := map[string]llm.Backend{
		"backend error":  failingBackend(),
		"unparsable":     staticBackend("I think this is probably a greeting"),
		"unknown label":  staticBackend(`{"type": "SMALL_TALK", "confidence": 0.9}`),
		"nil backend":    nil,
		"malformed json": staticBackend(`{"type": "GREETING",}`),
	}

	for name, backend := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewGPTClassifier(backend, models.TierLow, NewHeuristicClassifier(0.3), zap.NewNop())
			got := c.Classify(context.Background(), "hi", nil, false)
			assert.Equal(t, models.SourceHeuristic, got.Source)
			assert.Equal(t, models.CategoryGreeting, got.Category)
			assert.GreaterOrEqual(t, got.Confidence, 0.3)
		})
	}
}

func TestGPTClassifier_AlwaysReturnsValidCategory(t *testing.T) {
	c := NewGPTClassifier(failingBackend(), models.TierLow, NewHeuristicClassifier(0.3), zap.NewNop())
	utterances := []string{"", " ", "???", "DROP TABLE users", strings.Repeat("data ", 500), "你好", "select"}
	for _, u := range utterances {
		got := c.Classify(context.Background(), u, nil, true)
		assert.True(t, got.Category.IsValid(), "utterance %q", u)
		assert.GreaterOrEqual(t, got.Confidence, 0.0)
		assert.LessOrEqual(t, got.Confidence, 1.0)
	}
}

func TestBuildPrompt_EmbedsContext(t *testing.T) {
	window := []models.Message{
		{Turn: 1, Role: models.RoleUser, Text: "show total sales by region"},
		{Turn: 1, Role: models.RoleAssistant, Text: "Query returned 4 rows"},
	}
	prompt := buildPrompt("and by month?", window, true)

	require.Contains(t, prompt, "Semantic model available: true")
	assert.Contains(t, prompt, "user: show total sales by region")
	assert.Contains(t, prompt, `"and by month?"`)
}

func TestIsSQLStatement(t *testing.T) {
	for utterance, want := range map[string]bool{
		"SELECT * FROM sales":                  true,
		"select count(*) from orders;":         true,
		"WITH x AS (SELECT 1) SELECT * FROM x": true,
		"show tables":                          true,
		"describe sales":                       true,
		"EXPLAIN SELECT 1":                     true,
		"show total sales by region":           false,
		"explain how a LEFT JOIN works":        false,
		"describe the sales trend last month":  false,
		"which region sold the most":           false,
	} {
		assert.Equal(t, want, IsSQLStatement(utterance), utterance)
	}
}

package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/storage"
)

const uploadedModel = `
semantic_model:
  name: Sales
  tables:
    - name: sales
      columns:
        - name: region
          type: text
        - name: amount
          type: real
`

func newCommander(t *testing.T, searchAvailable bool) (*Commander, *session.Session, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	sessions := session.NewManager(store, models.Toggles{}, zap.NewNop())
	sess, err := sessions.Open(context.Background(), "tester", nil)
	require.NoError(t, err)
	return NewCommander(sessions, store, searchAvailable, zap.NewNop()), sess, store
}

func TestCommander_StartHelpUnknown(t *testing.T) {
	c, sess, _ := newCommander(t, false)
	ctx := context.Background()

	assert.Contains(t, c.Execute(ctx, sess, "start", ""), "Welcome")
	assert.Contains(t, c.Execute(ctx, sess, "help", ""), "/websearch on|off")
	assert.Contains(t, c.Execute(ctx, sess, "nope", ""), "Unknown command")
}

func TestCommander_WebSearch(t *testing.T) {
	ctx := context.Background()

	c, sess, _ := newCommander(t, false)
	assert.Equal(t, "Web search is disabled.", c.Execute(ctx, sess, "websearch", ""))
	assert.Contains(t, c.Execute(ctx, sess, "websearch", "on"), "not configured")
	assert.False(t, sess.Toggles().WebSearch)

	c, sess, _ = newCommander(t, true)
	assert.Equal(t, "Web search enabled.", c.Execute(ctx, sess, "websearch", "on"))
	assert.True(t, sess.Toggles().WebSearch)
	assert.Equal(t, "Web search disabled.", c.Execute(ctx, sess, "WebSearch", " off "))
	assert.False(t, sess.Toggles().WebSearch)
	assert.Equal(t, "Usage: /websearch on|off", c.Execute(ctx, sess, "websearch", "maybe"))
}

func TestCommander_Tier(t *testing.T) {
	c, sess, _ := newCommander(t, false)
	ctx := context.Background()

	assert.Equal(t, "Current tier: medium.", c.Execute(ctx, sess, "tier", ""))
	assert.Equal(t, "Tier set to high.", c.Execute(ctx, sess, "tier", "high"))
	assert.Equal(t, models.TierHigh, sess.Toggles().Tier)
	assert.Equal(t, "Usage: /tier low|medium|high", c.Execute(ctx, sess, "tier", "turbo"))
}

func TestCommander_Model(t *testing.T) {
	c, sess, _ := newCommander(t, false)
	ctx := context.Background()

	assert.Contains(t, c.Execute(ctx, sess, "model", ""), "No semantic model loaded")

	assert.Contains(t, c.LoadModel(ctx, sess, []byte("::: [")), "not a valid semantic model")
	assert.False(t, sess.HasSemanticModel())

	assert.Equal(t, `Semantic model "Sales" loaded with 1 tables.`, c.LoadModel(ctx, sess, []byte(uploadedModel)))
	assert.True(t, sess.HasSemanticModel())
	assert.Contains(t, c.Execute(ctx, sess, "model", ""), `"Sales" is loaded`)

	assert.Contains(t, c.Execute(ctx, sess, "model", "clear"), "removed")
	assert.False(t, sess.HasSemanticModel())
}

func TestCommander_StatsAndClear(t *testing.T) {
	c, sess, store := newCommander(t, false)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.CommitTurn(ctx, &models.TurnRecord{
		SessionID:      sess.ID,
		Turn:           1,
		UserMessage:    models.Message{Turn: 1, Role: models.RoleUser, Text: "hi", Timestamp: now},
		Reply:          models.Message{Turn: 1, Role: models.RoleAssistant, Text: "hello", Timestamp: now},
		Classification: models.Classification{Turn: 1, Category: models.CategoryGreeting, Confidence: 0.9},
		Performance:    models.PerformanceSample{Turn: 1, Total: 2 * time.Second, Success: true},
	}))
	sess.AdvanceTurn(1)

	stats := c.Execute(ctx, sess, "stats", "")
	assert.Contains(t, stats, "Messages: 2 (1 from you)")
	assert.Contains(t, stats, "- greeting: 1")
	assert.Contains(t, stats, "Average response time: 2.00s")

	assert.Equal(t, "Conversation history cleared.", c.Execute(ctx, sess, "clear", ""))
	assert.Equal(t, 0, sess.LastTurn())
	assert.Contains(t, c.Execute(ctx, sess, "stats", ""), "Messages: 0 (0 from you)")
}

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "enable", "1"} {
		v, err := ParseSwitch(s)
		require.NoError(t, err)
		assert.True(t, v, s)
	}
	for _, s := range []string{"off", "false", "Disable", "0"} {
		v, err := ParseSwitch(s)
		require.NoError(t, err)
		assert.False(t, v, s)
	}
	_, err := ParseSwitch("sometimes")
	assert.Error(t, err)
}

func TestFormatStats(t *testing.T) {
	out := FormatStats(&models.SessionStats{
		TotalMessages:     4,
		UserMessages:      2,
		SuccessfulQueries: 1,
		FailedQueries:     1,
		AverageLatency:    1500 * time.Millisecond,
		CategoryCounts: map[models.Category]int{
			models.CategoryGreeting:  1,
			models.CategoryDataQuery: 1,
		},
	}, models.Toggles{WebSearch: true, Tier: models.TierLow}, true)

	assert.Contains(t, out, "Queries: 1 succeeded, 1 failed")
	assert.Contains(t, out, "Average response time: 1.50s")
	assert.Contains(t, out, "By category:\n- data_query: 1\n- greeting: 1\n")
	assert.Contains(t, out, "Web search: enabled")
	assert.Contains(t, out, "Tier: low")
	assert.Contains(t, out, "Semantic model: loaded")
}

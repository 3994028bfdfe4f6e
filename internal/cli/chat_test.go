package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/analyst-bot/internal/bot"
	"github.com/xaenox/analyst-bot/internal/capability"
	"github.com/xaenox/analyst-bot/internal/classifier"
	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/orchestrator"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/storage"
	"github.com/xaenox/analyst-bot/internal/synth"
	"github.com/xaenox/analyst-bot/internal/warehouse"
	"github.com/xaenox/analyst-bot/pkg/config"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	dispatcher := capability.NewDispatcher(nil, nil, capability.Options{ReadOnly: true}, logger)
	orch := orchestrator.New(classifier.NewHeuristicClassifier(0.3), dispatcher, synth.New(nil, logger), store,
		orchestrator.Config{WindowSize: 10, MinConfidence: 0.5}, logger)
	sessions := session.NewManager(store, models.Toggles{}, logger)
	return &app{
		cfg:           &config.Config{},
		logger:        logger,
		store:         store,
		sessions:      sessions,
		orchestrator:  orch,
		commands:      bot.NewCommander(sessions, store, false, logger),
		openWarehouse: warehouse.NewOpener(warehouse.Config{Driver: "sqlite"}, logger),
	}
}

func TestRunChat(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "sales.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte("name: Sales\ntables:\n  - name: sales\n    columns:\n      - name: region\n"), 0o644))

	in := strings.NewReader(strings.Join([]string{
		"hello",
		"",
		"/tier high",
		"/model " + modelPath,
		"/stats",
		"/quit",
		"never reached",
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, runChat(ctx, a, chatOptions{sessionID: "cli-1", userID: "tester", verbose: true}, in, &out))

	text := out.String()
	assert.Contains(t, text, "Session cli-1 (turn 0)")
	assert.Contains(t, text, "[turn 1] greeting")
	assert.Contains(t, text, "Tier set to high.")
	assert.Contains(t, text, `Semantic model "Sales" loaded with 1 tables.`)
	assert.Contains(t, text, "Messages: 2 (1 from you)")

	msgs, err := a.store.GetMessages(ctx, "cli-1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	// a second run resumes the stored session
	a.sessions.CloseAll()
	out.Reset()
	require.NoError(t, runChat(ctx, a, chatOptions{sessionID: "cli-1", userID: "tester"}, strings.NewReader("hi again\n"), &out))
	assert.Contains(t, out.String(), "Session cli-1 (turn 1)")

	msgs, err = a.store.GetMessages(ctx, "cli-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, 2, msgs[3].Turn)
}

func TestRunChat_MissingModelFile(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), a, chatOptions{userID: "tester"}, strings.NewReader("/model /does/not/exist.yaml\n"), &out))
	assert.Contains(t, out.String(), "Could not read /does/not/exist.yaml")
}

func TestFormatDiagnostics(t *testing.T) {
	out := formatDiagnostics(orchestrator.Diagnostics{
		Turn:           3,
		Classification: models.Classification{Category: models.CategoryDataQuery, Confidence: 0.42, Source: models.SourceHeuristic},
		Uncertain:      true,
		Invocations: []models.Invocation{
			{Seq: 1, Capability: models.CapabilitySchemaLookup, Success: true, Latency: 1500 * time.Microsecond},
			{Seq: 2, Capability: models.CapabilityRawQuery, ErrKind: models.ErrKindPermission},
		},
	})
	assert.Contains(t, out, "[turn 3] data_query (0.42, heuristic_fallback) uncertain")
	assert.Contains(t, out, "1. schema_lookup ok 2ms")
	assert.Contains(t, out, "2. raw_query permission")
}

func TestDefaultToggles(t *testing.T) {
	cfg := &config.Config{}
	cfg.Conversation.DefaultTier = "high"
	cfg.Search.Enabled = true

	assert.Equal(t, models.Toggles{WebSearch: true, Tier: models.TierHigh}, defaultToggles(cfg, true))
	// no search backend configured
	assert.Equal(t, models.Toggles{Tier: models.TierHigh}, defaultToggles(cfg, false))

	cfg.Search.Enabled = false
	assert.False(t, defaultToggles(cfg, true).WebSearch)
}

func TestNewApp_SearchEnabledSeedsSessions(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  enabled: true\n  api_key: test-key\n"), 0o644))

	a, err := newApp(context.Background(), Options{ConfigPath: path, InMemory: true, LogLevel: "error"})
	require.NoError(t, err)
	defer a.close()

	assert.True(t, a.searchAvailable)
	sess, err := a.sessions.Open(context.Background(), "tester", nil)
	require.NoError(t, err)
	assert.True(t, sess.Toggles().WebSearch)
	assert.Equal(t, models.TierMedium, sess.Toggles().Tier)
}

func TestLoadConfig(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := loadConfig(Options{InMemory: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, cfg.Database.UseInMemory)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)

	_, err = loadConfig(Options{ConfigPath: "missing.yaml"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

// Package cli holds the analyst command line: the HTTP server, the Telegram
// bot, a terminal chat and stats inspection.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/bot"
	"github.com/xaenox/analyst-bot/internal/capability"
	"github.com/xaenox/analyst-bot/internal/classifier"
	"github.com/xaenox/analyst-bot/internal/llm"
	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/orchestrator"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/storage"
	"github.com/xaenox/analyst-bot/internal/synth"
	"github.com/xaenox/analyst-bot/internal/warehouse"
	"github.com/xaenox/analyst-bot/internal/websearch"
	"github.com/xaenox/analyst-bot/pkg/config"
)

const defaultConfigPath = "config.yaml"

// Options are the flags shared by every command.
type Options struct {
	ConfigPath string
	InMemory   bool
	LogLevel   string
}

// app is the fully wired analyst.
type app struct {
	cfg             *config.Config
	logger          *zap.Logger
	store           storage.Storage
	sessions        *session.Manager
	orchestrator    *orchestrator.Orchestrator
	commands        *bot.Commander
	openWarehouse   warehouse.Opener
	searchAvailable bool
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// loadConfig reads .env and the YAML config. The default config file is
// optional; an explicitly named one must exist.
func loadConfig(opts Options, logger *zap.Logger) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", path, err)
	}
	if opts.InMemory {
		cfg.Database.UseInMemory = true
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
	} else {
		logger.Info("Using SQL storage", zap.String("driver", cfg.Database.Driver))
	}
	return storage.New(ctx, storage.DatabaseConfig{
		Driver:      cfg.Database.Driver,
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		DBName:      cfg.Database.DBName,
		SSLMode:     cfg.Database.SSLMode,
		Path:        cfg.Database.Path,
		UseInMemory: cfg.Database.UseInMemory,
	})
}

func newApp(ctx context.Context, opts Options) (*app, error) {
	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var backend llm.Backend
	if cfg.OpenAI.APIKey != "" {
		backend = llm.NewOpenAIBackend(llm.Options{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			DefaultModel: cfg.OpenAI.Model,
			Tiers:        cfg.OpenAI.Tiers,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Temperature:  cfg.OpenAI.Temperature,
			Timeout:      cfg.OpenAI.Timeout,
		}, logger)
	} else {
		logger.Warn("OpenAI API key not configured, running with heuristics only")
	}

	heuristic := classifier.NewHeuristicClassifier(cfg.Classifier.FallbackConfidence)
	var clf classifier.Classifier = heuristic
	if backend != nil {
		tier, _ := models.ParseTier(cfg.Classifier.Tier)
		clf = classifier.NewGPTClassifier(backend, tier, heuristic, logger)
	}

	var searcher websearch.Searcher
	if cfg.Search.APIKey != "" {
		searcher = websearch.NewTavilyClient(websearch.Config{
			APIKey:     cfg.Search.APIKey,
			BaseURL:    cfg.Search.BaseURL,
			MaxResults: cfg.Search.MaxResults,
			Timeout:    cfg.Search.Timeout,
		}, logger)
	} else if cfg.Search.Enabled {
		logger.Warn("Web search enabled without an API key, sessions start with it off")
	}

	dispatcher := capability.NewDispatcher(backend, searcher, capability.Options{
		Timeout:  cfg.Capability.Timeout,
		ReadOnly: cfg.Capability.ReadOnly,
	}, logger)

	searchAvailable := dispatcher.SearchAvailable()
	sessions := session.NewManager(store, defaultToggles(cfg, searchAvailable), logger)

	orch := orchestrator.New(clf, dispatcher, synth.New(backend, logger), store, orchestrator.Config{
		WindowSize:       cfg.Conversation.WindowSize,
		MinConfidence:    cfg.Classifier.MinConfidence,
		MaxSearchResults: cfg.Search.MaxResults,
	}, logger)

	opener := warehouse.NewOpener(warehouse.Config{
		Driver:   cfg.Warehouse.Driver,
		DSN:      cfg.Warehouse.DSN,
		Database: cfg.Warehouse.Database,
		Schema:   cfg.Warehouse.Schema,
		MaxRows:  cfg.Warehouse.MaxRows,
	}, logger)

	return &app{
		cfg:             cfg,
		logger:          logger,
		store:           store,
		sessions:        sessions,
		orchestrator:    orch,
		commands:        bot.NewCommander(sessions, store, searchAvailable, logger),
		openWarehouse:   opener,
		searchAvailable: searchAvailable,
	}, nil
}

// defaultToggles are the toggles of a new session. Web search starts on only
// when it is enabled and a search backend is configured.
func defaultToggles(cfg *config.Config, searchAvailable bool) models.Toggles {
	tier, _ := models.ParseTier(cfg.Conversation.DefaultTier)
	return models.Toggles{
		WebSearch: cfg.Search.Enabled && searchAvailable,
		Tier:      tier,
	}
}

func (a *app) close() {
	a.sessions.CloseAll()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close storage", zap.Error(err))
	}
	a.logger.Sync()
}

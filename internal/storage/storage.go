package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/analyst-bot/internal/models"
)

var (
	ErrSessionNotFound = errors.New("storage: session not found")
	// ErrTurnOutOfOrder is returned when a commit does not carry the next turn index.
	ErrTurnOutOfOrder = errors.New("storage: turn out of order")
)

type Storage interface {
	CreateSession(ctx context.Context, info models.SessionInfo) error
	GetSession(ctx context.Context, sessionID string) (*models.SessionInfo, error)
	UpdateSession(ctx context.Context, info models.SessionInfo) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error

	TurnStorage
}

// TurnStorage holds the per-turn history of a session.
type TurnStorage interface {
	// CommitTurn writes the whole record or nothing.
	CommitTurn(ctx context.Context, rec *models.TurnRecord) error
	LastTurn(ctx context.Context, sessionID string) (int, error)
	// GetMessages returns the last limit messages in chronological order; limit <= 0 returns all.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	GetClassifications(ctx context.Context, sessionID string) ([]models.Classification, error)
	GetInvocations(ctx context.Context, sessionID string) ([]models.InvocationRecord, error)
	GetPerformance(ctx context.Context, sessionID string) ([]models.PerformanceSample, error)
	SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error)
	// ClearSession drops the history but keeps the session; the next turn is 1 again.
	ClearSession(ctx context.Context, sessionID string) error
}

type DatabaseConfig struct {
	Driver      string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	Path        string
	UseInMemory bool
}

// New opens the store selected by the config.
func New(ctx context.Context, config DatabaseConfig) (Storage, error) {
	if config.UseInMemory {
		return NewMemoryStorage(), nil
	}
	switch config.Driver {
	case "postgres":
		return NewPostgresStorage(ctx, config)
	case "sqlite", "":
		return NewSQLiteStorage(ctx, config.Path)
	}
	return nil, fmt.Errorf("unsupported storage driver %q", config.Driver)
}

func validateRecord(rec *models.TurnRecord) error {
	if rec == nil {
		return errors.New("storage: nil turn record")
	}
	if rec.SessionID == "" {
		return ErrSessionNotFound
	}
	if rec.Turn < 1 {
		return fmt.Errorf("%w: turn %d", ErrTurnOutOfOrder, rec.Turn)
	}
	return nil
}

func buildStats(sessionID string, msgs []models.Message, classes []models.Classification,
	invs []models.InvocationRecord, perf []models.PerformanceSample) *models.SessionStats {
	stats := &models.SessionStats{
		SessionID:      sessionID,
		TotalMessages:  len(msgs),
		CategoryCounts: make(map[models.Category]int),
	}
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			stats.UserMessages++
		}
		if m.Turn > stats.Turns {
			stats.Turns = m.Turn
		}
	}
	for _, c := range classes {
		stats.CategoryCounts[c.Category]++
	}
	for _, inv := range invs {
		if inv.Capability != models.CapabilityRawQuery {
			continue
		}
		if inv.Success {
			stats.SuccessfulQueries++
		} else {
			stats.FailedQueries++
		}
	}
	if len(perf) > 0 {
		var total int64
		for _, p := range perf {
			total += int64(p.Total)
		}
		stats.AverageLatency = time.Duration(total / int64(len(perf)))
	}
	return stats
}

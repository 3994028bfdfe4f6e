package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/semantic"
	"github.com/xaenox/analyst-bot/internal/storage"
	"github.com/xaenox/analyst-bot/internal/warehouse"
)

var ErrNotFound = errors.New("session: not found")

// Manager owns every open session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    storage.Storage
	defaults models.Toggles
	logger   *zap.Logger
}

func NewManager(store storage.Storage, defaults models.Toggles, logger *zap.Logger) *Manager {
	if defaults.Tier == "" {
		defaults.Tier = models.TierMedium
	}
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		defaults: defaults,
		logger:   logger,
	}
}

// Open starts a session for userID on an authenticated warehouse connection.
// The session takes ownership of wh and closes it on Close.
func (m *Manager) Open(ctx context.Context, userID string, wh warehouse.Client) (*Session, error) {
	return m.OpenWithID(ctx, uuid.New().String(), userID, wh)
}

// OpenWithID is Open with a caller-chosen id, for frontends that derive a
// stable id per chat.
func (m *Manager) OpenWithID(ctx context.Context, id, userID string, wh warehouse.Client) (*Session, error) {
	sess := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		toggles:   m.defaults,
		warehouse: wh,
	}

	if err := m.store.CreateSession(ctx, sess.Info()); err != nil {
		return nil, fmt.Errorf("error opening session: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("Session opened",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.Bool("warehouse", wh != nil))
	return sess, nil
}

// Resume reopens a stored session, continuing its turn numbering. Uploaded
// semantic models are not persisted and must be uploaded again. A session
// that is still open is returned as is and wh is closed.
func (m *Manager) Resume(ctx context.Context, id string, wh warehouse.Client) (*Session, error) {
	info, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error resuming session: %w", err)
	}
	last, err := m.store.LastTurn(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error resuming session: %w", err)
	}

	sess := &Session{
		ID:        info.ID,
		UserID:    info.UserID,
		CreatedAt: info.CreatedAt,
		toggles:   info.Toggles,
		warehouse: wh,
		lastTurn:  last,
	}
	if sess.toggles.Tier == "" {
		sess.toggles.Tier = m.defaults.Tier
	}

	m.mu.Lock()
	if live, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		if wh != nil && wh != live.Warehouse() {
			wh.Close()
		}
		return live, nil
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Info("Session resumed",
		zap.String("session_id", id),
		zap.Int("last_turn", last))
	return sess, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Close ends the session and drops its warehouse connection. The history
// stays in the store.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess.LockTurn()
	defer sess.UnlockTurn()

	sess.mu.Lock()
	wh := sess.warehouse
	sess.warehouse = nil
	sess.closed = true
	sess.mu.Unlock()

	m.logger.Info("Session closed", zap.String("session_id", id))
	if wh != nil {
		return wh.Close()
	}
	return nil
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Close(id); err != nil {
			m.logger.Warn("Error closing session", zap.String("session_id", id), zap.Error(err))
		}
	}
}

func (m *Manager) SetWebSearch(ctx context.Context, id string, enabled bool) error {
	return m.update(ctx, id, func(s *Session) { s.toggles.WebSearch = enabled })
}

func (m *Manager) SetTier(ctx context.Context, id string, tier models.Tier) error {
	return m.update(ctx, id, func(s *Session) { s.toggles.Tier = tier })
}

// SetSemanticModel installs an uploaded model; nil removes it.
func (m *Manager) SetSemanticModel(ctx context.Context, id string, model *semantic.Model) error {
	return m.update(ctx, id, func(s *Session) { s.model = model })
}

func (m *Manager) update(ctx context.Context, id string, apply func(*Session)) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	prevToggles, prevModel := sess.toggles, sess.model
	apply(sess)
	sess.mu.Unlock()

	if err := m.store.UpdateSession(ctx, sess.Info()); err != nil {
		sess.mu.Lock()
		sess.toggles, sess.model = prevToggles, prevModel
		sess.mu.Unlock()
		return fmt.Errorf("error updating session: %w", err)
	}
	return nil
}

// Clear drops the conversation history; the next turn is numbered 1 again.
func (m *Manager) Clear(ctx context.Context, id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}

	sess.LockTurn()
	defer sess.UnlockTurn()

	if err := m.store.ClearSession(ctx, id); err != nil {
		return fmt.Errorf("error clearing session: %w", err)
	}

	sess.mu.Lock()
	sess.lastTurn = 0
	sess.mu.Unlock()

	m.logger.Info("Session history cleared", zap.String("session_id", id))
	return nil
}

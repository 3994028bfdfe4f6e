// Package session tracks the live analyst sessions: their toggles, semantic
// model, warehouse connection and turn counter.
package session

import (
	"sync"
	"time"

	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/semantic"
	"github.com/xaenox/analyst-bot/internal/warehouse"
)

// Session is one authenticated conversation. Turns on the same session run
// one at a time; different sessions are independent.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	turnMu sync.Mutex

	mu        sync.RWMutex
	toggles   models.Toggles
	model     *semantic.Model
	warehouse warehouse.Client
	lastTurn  int
	closed    bool
}

// LockTurn serialises turns on the session.
func (s *Session) LockTurn()   { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }

func (s *Session) Toggles() models.Toggles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toggles
}

func (s *Session) SemanticModel() *semantic.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Session) HasSemanticModel() bool {
	return s.SemanticModel() != nil
}

func (s *Session) Warehouse() warehouse.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warehouse
}

// Closed reports whether the session has been closed by its manager. A
// closed session accepts no further turns.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// LastTurn is the index of the last committed turn, 0 before the first.
func (s *Session) LastTurn() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTurn
}

// AdvanceTurn records a successful commit of turn.
func (s *Session) AdvanceTurn(turn int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn > s.lastTurn {
		s.lastTurn = turn
	}
}

func (s *Session) Info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := models.SessionInfo{
		ID:        s.ID,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		Toggles:   s.toggles,
	}
	if s.model != nil {
		info.SemanticModel = s.model.Name
	}
	return info
}

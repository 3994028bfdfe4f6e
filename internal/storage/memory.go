package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaenox/analyst-bot/internal/models"
)

type sessionHistory struct {
	info            models.SessionInfo
	messages        []models.Message
	classifications []models.Classification
	invocations     []models.InvocationRecord
	performance     []models.PerformanceSample
}

func (h *sessionHistory) lastTurn() int {
	if len(h.messages) == 0 {
		return 0
	}
	return h.messages[len(h.messages)-1].Turn
}

// MemoryStorage keeps everything in process. Used for tests and the chat REPL.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]*sessionHistory
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*sessionHistory),
	}
}

func (s *MemoryStorage) CreateSession(ctx context.Context, info models.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[info.ID]; exists {
		return fmt.Errorf("error creating session: %s already exists", info.ID)
	}
	s.sessions[info.ID] = &sessionHistory{info: info}
	return nil
}

func (s *MemoryStorage) GetSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	info := h.info
	return &info, nil
}

func (s *MemoryStorage) UpdateSession(ctx context.Context, info models.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.sessions[info.ID]
	if !exists {
		return ErrSessionNotFound
	}
	h.info.Toggles = info.Toggles
	h.info.SemanticModel = info.SemanticModel
	return nil
}

func (s *MemoryStorage) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStorage) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	s.sessions[sessionID] = &sessionHistory{info: h.info}
	return nil
}

func (s *MemoryStorage) CommitTurn(ctx context.Context, rec *models.TurnRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.sessions[rec.SessionID]
	if !exists {
		return ErrSessionNotFound
	}
	if want := h.lastTurn() + 1; rec.Turn != want {
		return fmt.Errorf("%w: got %d, want %d", ErrTurnOutOfOrder, rec.Turn, want)
	}

	user, reply := rec.UserMessage, rec.Reply
	user.Turn, reply.Turn = rec.Turn, rec.Turn
	class := rec.Classification
	class.Turn = rec.Turn
	class.Keywords = append([]string(nil), class.Keywords...)
	perf := rec.Performance
	perf.Turn = rec.Turn
	perf.Breakdown = append([]models.CapabilityLatency(nil), perf.Breakdown...)
	perf.Mix = append([]models.CapabilityID(nil), perf.Mix...)

	h.messages = append(h.messages, user, reply)
	h.classifications = append(h.classifications, class)
	for _, inv := range rec.Invocations {
		h.invocations = append(h.invocations, inv.Record(rec.Turn))
	}
	h.performance = append(h.performance, perf)
	return nil
}

func (s *MemoryStorage) LastTurn(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.sessions[sessionID]
	if !exists {
		return 0, ErrSessionNotFound
	}
	return h.lastTurn(), nil
}

func (s *MemoryStorage) GetMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.sessions[sessionID]
	if !exists {
		return nil, nil
	}
	msgs := h.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message(nil), msgs...), nil
}

func (s *MemoryStorage) GetClassifications(ctx context.Context, sessionID string) ([]models.Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, exists := s.sessions[sessionID]; exists {
		return append([]models.Classification(nil), h.classifications...), nil
	}
	return nil, nil
}

func (s *MemoryStorage) GetInvocations(ctx context.Context, sessionID string) ([]models.InvocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, exists := s.sessions[sessionID]; exists {
		return append([]models.InvocationRecord(nil), h.invocations...), nil
	}
	return nil, nil
}

func (s *MemoryStorage) GetPerformance(ctx context.Context, sessionID string) ([]models.PerformanceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, exists := s.sessions[sessionID]; exists {
		return append([]models.PerformanceSample(nil), h.performance...), nil
	}
	return nil, nil
}

func (s *MemoryStorage) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return buildStats(sessionID, h.messages, h.classifications, h.invocations, h.performance), nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

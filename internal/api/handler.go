package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/orchestrator"
	"github.com/xaenox/analyst-bot/internal/semantic"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/storage"
	"github.com/xaenox/analyst-bot/internal/warehouse"
)

const maxModelSize = 1 << 20

type Handler struct {
	orchestrator    *orchestrator.Orchestrator
	sessions        *session.Manager
	store           storage.Storage
	openWarehouse   warehouse.Opener
	searchAvailable bool
	logger          *zap.Logger

	resumeMu sync.Mutex
}

func NewHandler(orch *orchestrator.Orchestrator, sessions *session.Manager, store storage.Storage, open warehouse.Opener, searchAvailable bool, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator:    orch,
		sessions:        sessions,
		store:           store,
		openWarehouse:   open,
		searchAvailable: searchAvailable,
		logger:          logger,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleCloseSession)
		r.Post("/turns", h.handleTurn)
		r.Get("/history", h.handleHistory)
		r.Delete("/history", h.handleClearHistory)
		r.Get("/stats", h.handleStats)
		r.Patch("/toggles", h.handleToggles)
		r.Put("/semantic-model", h.handlePutModel)
		r.Delete("/semantic-model", h.handleDeleteModel)
	})
}

type sessionResponse struct {
	models.SessionInfo
	Warehouse bool `json:"warehouse"`
}

func newSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{SessionInfo: sess.Info(), Warehouse: sess.Warehouse() != nil}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	wh := h.connect(r.Context())
	sess, err := h.sessions.Open(r.Context(), payload.UserID, wh)
	if err != nil {
		if wh != nil {
			wh.Close()
		}
		h.logger.Error("Failed to open session", zap.Error(err), zap.String("user_id", payload.UserID))
		respondError(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	respondJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.Close(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("Failed to close session", zap.Error(err), zap.String("session_id", id))
	}
	w.WriteHeader(http.StatusNoContent)
}

type turnResponse struct {
	Text        string                   `json:"text"`
	Diagnostics orchestrator.Diagnostics `json:"diagnostics"`
	Error       string                   `json:"error,omitempty"`
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := h.orchestrator.Handle(r.Context(), sess, payload.Text)
	resp := turnResponse{Text: reply.Text, Diagnostics: reply.Diagnostics}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, statusForTurnError(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func statusForTurnError(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNoConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.store.GetMessages(r.Context(), sess.ID, limit)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.Error(err), zap.String("session_id", sess.ID))
		respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Clear(r.Context(), sess.ID); err != nil {
		h.logger.Error("Failed to clear session", zap.Error(err), zap.String("session_id", sess.ID))
		respondError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	stats, err := h.store.SessionStats(r.Context(), sess.ID)
	if err != nil {
		h.logger.Error("Failed to get session stats", zap.Error(err), zap.String("session_id", sess.ID))
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleToggles(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		WebSearch *bool   `json:"web_search"`
		Tier      *string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var tier models.Tier
	if payload.Tier != nil {
		t, ok := models.ParseTier(*payload.Tier)
		if !ok {
			respondError(w, http.StatusBadRequest, "tier must be low, medium or high")
			return
		}
		tier = t
	}
	if payload.WebSearch != nil && *payload.WebSearch && !h.searchAvailable {
		respondError(w, http.StatusConflict, "web search is not configured")
		return
	}

	if payload.WebSearch != nil {
		if err := h.sessions.SetWebSearch(r.Context(), sess.ID, *payload.WebSearch); err != nil {
			h.updateFailed(w, sess.ID, err)
			return
		}
	}
	if payload.Tier != nil {
		if err := h.sessions.SetTier(r.Context(), sess.ID, tier); err != nil {
			h.updateFailed(w, sess.ID, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, sess.Toggles())
}

func (h *Handler) handlePutModel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxModelSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(data) > maxModelSize {
		respondError(w, http.StatusRequestEntityTooLarge, "semantic model too large")
		return
	}

	model, err := semantic.Load(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sessions.SetSemanticModel(r.Context(), sess.ID, model); err != nil {
		h.updateFailed(w, sess.ID, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"name":   model.Name,
		"tables": len(model.Tables),
	})
}

func (h *Handler) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.SetSemanticModel(r.Context(), sess.ID, nil); err != nil {
		h.updateFailed(w, sess.ID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateFailed(w http.ResponseWriter, id string, err error) {
	h.logger.Error("Failed to update session", zap.Error(err), zap.String("session_id", id))
	respondError(w, http.StatusInternalServerError, "failed to update session")
}

// session finds the live session of the request, resuming it from the store
// after a restart. It writes the error response itself.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	if sess, err := h.sessions.Get(id); err == nil {
		return sess, true
	}

	h.resumeMu.Lock()
	defer h.resumeMu.Unlock()
	if sess, err := h.sessions.Get(id); err == nil {
		return sess, true
	}

	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		h.logger.Error("Failed to load session", zap.Error(err), zap.String("session_id", id))
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}

	wh := h.connect(r.Context())
	sess, err := h.sessions.Resume(r.Context(), id, wh)
	if err != nil {
		if wh != nil {
			wh.Close()
		}
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		h.logger.Error("Failed to resume session", zap.Error(err), zap.String("session_id", id))
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return sess, true
}

// connect opens a warehouse connection; sessions without one still serve
// conversational turns.
func (h *Handler) connect(ctx context.Context) warehouse.Client {
	if h.openWarehouse == nil {
		return nil
	}
	wh, err := h.openWarehouse(ctx)
	if err != nil {
		h.logger.Warn("Warehouse unavailable", zap.Error(err))
		return nil
	}
	return wh
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

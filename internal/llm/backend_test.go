package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
)

func newTestServer(t *testing.T, content string, gotModel *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if gotModel != nil {
			*gotModel = req.Model
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
			},
		})
	}))
}

func TestOpenAIBackend_TierSelectsModel(t *testing.T) {
	var gotModel string
	srv := newTestServer(t, "  hello  ", &gotModel)
	defer srv.Close()

	backend := NewOpenAIBackend(Options{
		APIKey:       "test",
		BaseURL:      srv.URL + "/v1",
		DefaultModel: "default-model",
		Tiers:        map[string]string{"low": "small", "high": "large"},
		Timeout:      5 * time.Second,
	}, zap.NewNop())

	out, err := backend.Complete(context.Background(), "hi", models.TierHigh)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "large", gotModel)

	assert.Equal(t, "small", backend.ModelFor(models.TierLow))
	assert.Equal(t, "default-model", backend.ModelFor(models.TierMedium))
}

func TestOpenAIBackend_EmptyCompletion(t *testing.T) {
	srv := newTestServer(t, "   ", nil)
	defer srv.Close()

	backend := NewOpenAIBackend(Options{APIKey: "test", BaseURL: srv.URL + "/v1", DefaultModel: "m"}, zap.NewNop())
	_, err := backend.Complete(context.Background(), "hi", models.TierLow)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(Options{APIKey: "test", BaseURL: srv.URL + "/v1", DefaultModel: "m"}, zap.NewNop())
	_, err := backend.Complete(context.Background(), "hi", models.TierLow)
	assert.Error(t, err)
}

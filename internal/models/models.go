package models

import (
	"strings"
	"time"
)

// Category is the classifier's decision about what kind of request an utterance is.
type Category string

const (
	CategoryDataQuery       Category = "data_query"
	CategoryGreeting        Category = "greeting"
	CategoryHelpRequest     Category = "help_request"
	CategoryGeneralQuestion Category = "general_question"
)

// AllCategories returns every valid category.
func AllCategories() []Category {
	return []Category{
		CategoryDataQuery,
		CategoryGreeting,
		CategoryHelpRequest,
		CategoryGeneralQuestion,
	}
}

func (c Category) String() string {
	return string(c)
}

// IsValid reports whether c is one of the fixed categories.
func (c Category) IsValid() bool {
	for _, valid := range AllCategories() {
		if c == valid {
			return true
		}
	}
	return false
}

// ParseCategory normalizes a model-produced label ("DATA_QUERY", "help request", ...).
// "unclear" is folded into general_question.
func ParseCategory(label string) (Category, bool) {
	norm := strings.ToLower(strings.TrimSpace(label))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "data_query", "data":
		return CategoryDataQuery, true
	case "greeting":
		return CategoryGreeting, true
	case "help_request", "help":
		return CategoryHelpRequest, true
	case "general_question", "general", "unclear":
		return CategoryGeneralQuestion, true
	}
	return CategoryGeneralQuestion, false
}

// ClassificationSource tells which path produced a classification.
type ClassificationSource string

const (
	SourceModel     ClassificationSource = "model"
	SourceHeuristic ClassificationSource = "heuristic_fallback"
)

// Classification is the result of analysing one user utterance.
type Classification struct {
	Turn       int                  `json:"turn"`
	Category   Category             `json:"category"`
	Confidence float64              `json:"confidence"`
	Rationale  string               `json:"rationale"`
	Source     ClassificationSource `json:"source"`
	Keywords   []string             `json:"keywords,omitempty"`
}

// Uncertain reports whether the confidence falls below threshold.
func (c Classification) Uncertain(threshold float64) bool {
	return c.Confidence < threshold
}

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry of a session's conversation.
type Message struct {
	Turn      int       `json:"turn"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Tier selects the speed/quality trade-off of the reasoning backend.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// ParseTier accepts the tier names plus the short forms used in chat commands.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "fast":
		return TierLow, true
	case "medium", "med", "balanced":
		return TierMedium, true
	case "high", "quality":
		return TierHigh, true
	}
	return TierMedium, false
}

// Toggles are the per-session capability switches.
type Toggles struct {
	WebSearch bool `json:"web_search"`
	Tier      Tier `json:"tier"`
}

// SessionInfo is the persisted header of a session.
type SessionInfo struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	Toggles       Toggles   `json:"toggles"`
	SemanticModel string    `json:"semantic_model,omitempty"`
}

// SessionStats summarises a session's history.
type SessionStats struct {
	SessionID         string           `json:"session_id"`
	TotalMessages     int              `json:"total_messages"`
	UserMessages      int              `json:"user_messages"`
	Turns             int              `json:"turns"`
	SuccessfulQueries int              `json:"successful_queries"`
	FailedQueries     int              `json:"failed_queries"`
	AverageLatency    time.Duration    `json:"average_latency"`
	CategoryCounts    map[Category]int `json:"category_counts"`
}

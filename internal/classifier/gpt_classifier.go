package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/llm"
	"github.com/xaenox/analyst-bot/internal/memory"
	"github.com/xaenox/analyst-bot/internal/models"
)

// defaultModelConfidence is assumed when the model omits a confidence.
const defaultModelConfidence = 0.7

// windowSummaryChars bounds each message in the prompt's conversation summary.
const windowSummaryChars = 200

var errUnknownCategory = errors.New("classifier: unknown category label")

type GPTResponse struct {
	Type         string   `json:"type"`
	Confidence   *float64 `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	DataKeywords []string `json:"data_keywords"`
}

// GPTClassifier asks the reasoning backend first and falls back to the
// heuristic classifier on any backend or parse failure.
type GPTClassifier struct {
	backend  llm.Backend
	tier     models.Tier
	fallback *HeuristicClassifier
	logger   *zap.Logger
}

func NewGPTClassifier(backend llm.Backend, tier models.Tier, fallback *HeuristicClassifier, logger *zap.Logger) *GPTClassifier {
	if fallback == nil {
		fallback = NewHeuristicClassifier(DefaultFallbackConfidence)
	}
	return &GPTClassifier{
		backend:  backend,
		tier:     tier,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *GPTClassifier) Classify(ctx context.Context, utterance string, window []models.Message, semanticModel bool) models.Classification {
	result, err := c.classifyWithModel(ctx, utterance, window, semanticModel)
	if err == nil {
		return result
	}

	c.logger.Warn("Model classification failed, using heuristics",
		zap.Error(err),
		zap.String("utterance", utterance))
	return c.fallback.Classify(ctx, utterance, window, semanticModel)
}

func (c *GPTClassifier) classifyWithModel(ctx context.Context, utterance string, window []models.Message, semanticModel bool) (models.Classification, error) {
	if c.backend == nil {
		return models.Classification{}, errors.New("classifier: no reasoning backend configured")
	}

	prompt := buildPrompt(utterance, window, semanticModel)
	response, err := c.backend.Complete(ctx, prompt, c.tier)
	if err != nil {
		return models.Classification{}, fmt.Errorf("reasoning backend: %w", err)
	}

	var gptResponse GPTResponse
	if err := llm.DecodeJSONObject(response, &gptResponse); err != nil {
		c.logger.Debug("Unparsable classification response", zap.String("response", response))
		return models.Classification{}, fmt.Errorf("parse classification: %w", err)
	}

	category, ok := models.ParseCategory(gptResponse.Type)
	if !ok {
		return models.Classification{}, fmt.Errorf("%w: %q", errUnknownCategory, gptResponse.Type)
	}

	confidence := defaultModelConfidence
	if gptResponse.Confidence != nil {
		confidence = clamp(*gptResponse.Confidence)
	}

	rationale := strings.TrimSpace(gptResponse.Reasoning)
	if rationale == "" {
		rationale = "Classified by reasoning backend"
	}

	return models.Classification{
		Category:   category,
		Confidence: confidence,
		Rationale:  rationale,
		Source:     models.SourceModel,
		Keywords:   gptResponse.DataKeywords,
	}, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func buildPrompt(utterance string, window []models.Message, semanticModel bool) string {
	summary := memory.FromMessages(len(window)+1, window).Summary(windowSummaryChars)

	return fmt.Sprintf(`You classify user messages for a data analytics assistant connected to a SQL data warehouse.
Analyse the user's actual intent, not just keywords. When a message could be answered from the
warehouse data, prefer DATA_QUERY.

Semantic model available: %t

Categories:
1. DATA_QUERY - needs SQL generation or execution: business metrics, aggregations, rankings,
   time ranges, comparisons, schema questions ("what tables are there"), or a literal SQL statement.
2. GENERAL_QUESTION - conceptual questions about SQL, databases or anything else that does not
   need the user's data.
3. GREETING - purely social messages ("hello", "good morning", "thanks").
4. HELP_REQUEST - questions about what this assistant can do or how to use it.

Recent conversation:
%s

User message: %q

Respond with ONLY a JSON object:
{
    "type": "DATA_QUERY | GENERAL_QUESTION | GREETING | HELP_REQUEST",
    "confidence": 0.0-1.0,
    "reasoning": "one sentence explaining the choice",
    "data_keywords": ["business or data keywords found"]
}`, semanticModel, summary, utterance)
}

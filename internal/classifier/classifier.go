package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xaenox/analyst-bot/internal/models"
)

// Classifier decides what kind of request an utterance is. Implementations never fail.
type Classifier interface {
	Classify(ctx context.Context, utterance string, window []models.Message, semanticModel bool) models.Classification
}

// DefaultFallbackConfidence is the fixed confidence of heuristic results.
const DefaultFallbackConfidence = 0.3

// maxGreetingWords bounds what still counts as a pure greeting.
const maxGreetingWords = 5

var (
	sqlStatementPattern = regexp.MustCompile(`(?is)^\s*(` +
		`select\s+.+\bfrom\b|select\s+[\d'(*-]|` +
		`with\s+\w+\s+as\s*\(|` +
		`show\s+(tables|columns|databases|schemas|views)\b|` +
		`(describe|desc)\s+(table\s+)?[\w."]+\s*;?\s*$|` +
		`explain\s+(analyze\s+)?(select|with)\b)`)

	helpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bwhat\s+can\s+you\s+do\b`),
		regexp.MustCompile(`\bhow\s+does\s+this\s+(work|bot|tool)\b`),
		regexp.MustCompile(`\b(your\s+)?(capabilities|features)\b`),
		regexp.MustCompile(`\bhelp(\s+me\s+get\s+started)?\b`),
		regexp.MustCompile(`\bwhat\s+data\s+can\s+you\b`),
		regexp.MustCompile(`\bhow\s+do\s+i\s+use\s+(you|this)\b`),
	}

	greetingPattern = regexp.MustCompile(`\b(hi|hello|hey|howdy|greetings|good\s+(morning|afternoon|evening)|how\s+are\s+you|thanks|thank\s+you)\b`)

	conceptPattern  = regexp.MustCompile(`\b(how\s+to|how\s+do\s+i\s+write|what\s+is\s+an?|what\s+are|what\s+does|explain|teach\s+me|how\s+does)\b`)
	sqlTermsPattern = regexp.MustCompile(`\b(sql|join|joins|primary\s+key|foreign\s+key|index|indexes|normalization|group\s+by\s+clause|where\s+clause|window\s+function|cte|subquery|syntax|schema\s+design|view|views)\b`)

	dataIndicators = map[string]*regexp.Regexp{
		"quantitative": regexp.MustCompile(`\b(how\s+many|how\s+much|count|total|sum|average|avg|maximum|minimum|max|min|percentage|rate)\b`),
		"ranking":      regexp.MustCompile(`\b(top|bottom|highest|lowest|best|worst|most|least)\b`),
		"business":     regexp.MustCompile(`\b(sales|revenue|customers?|orders?|products?|users?|performance|profit|cost|price|growth|trends?|metrics?|kpis?|regions?|inventory)\b`),
		"action":       regexp.MustCompile(`\b(show|display|list|breakdown|compare|analy[sz]e|report|give\s+me)\b`),
		"time":         regexp.MustCompile(`\b(last\s+(month|year|week|quarter)|this\s+(month|year|week|quarter)|quarterly|monthly|daily|weekly|yesterday|today|ytd)\b`),
		"data":         regexp.MustCompile(`\b(data|tables?|records|rows|results|columns?)\b`),
		"comparison":   regexp.MustCompile(`\b(vs|versus|compared\s+to|difference|increase|decrease|by\s+\w+)\b`),
	}
	dataIndicatorOrder = []string{"quantitative", "ranking", "business", "action", "time", "data", "comparison"}
)

// HeuristicClassifier applies ordered keyword rules. It is the fallback path
// and always returns a category.
type HeuristicClassifier struct {
	confidence float64
}

func NewHeuristicClassifier(confidence float64) *HeuristicClassifier {
	if confidence <= 0 || confidence > 1 {
		confidence = DefaultFallbackConfidence
	}
	return &HeuristicClassifier{confidence: confidence}
}

// Classify ignores the window; the rules look at the utterance only.
func (c *HeuristicClassifier) Classify(_ context.Context, utterance string, _ []models.Message, _ bool) models.Classification {
	result := models.Classification{
		Confidence: c.confidence,
		Source:     models.SourceHeuristic,
	}

	if sqlStatementPattern.MatchString(utterance) {
		result.Category = models.CategoryDataQuery
		result.Rationale = "Utterance is a SQL statement"
		return result
	}

	content := strings.ToLower(strings.TrimSpace(utterance))

	for _, p := range helpPatterns {
		if p.MatchString(content) {
			result.Category = models.CategoryHelpRequest
			result.Rationale = "Contains help request indicators"
			return result
		}
	}

	if greetingPattern.MatchString(content) && len(strings.Fields(content)) <= maxGreetingWords {
		result.Category = models.CategoryGreeting
		result.Rationale = "Short message with greeting words"
		return result
	}

	if conceptPattern.MatchString(content) && sqlTermsPattern.MatchString(content) {
		result.Category = models.CategoryGeneralQuestion
		result.Rationale = "Question about SQL or database concepts"
		return result
	}

	var keywords []string
	for _, group := range dataIndicatorOrder {
		if m := dataIndicators[group].FindString(content); m != "" {
			keywords = append(keywords, m)
		}
	}
	if len(keywords) > 0 {
		result.Category = models.CategoryDataQuery
		result.Keywords = keywords
		result.Rationale = fmt.Sprintf("Contains data query indicators: %s", strings.Join(keywords, ", "))
		return result
	}

	result.Category = models.CategoryGeneralQuestion
	result.Rationale = "No specific indicators found"
	return result
}

// IsSQLStatement reports whether the utterance is itself a SQL query.
func IsSQLStatement(utterance string) bool {
	return sqlStatementPattern.MatchString(utterance)
}

package orchestrator

import (
	"regexp"
	"strings"

	"github.com/xaenox/analyst-bot/internal/capability"
	"github.com/xaenox/analyst-bot/internal/classifier"
	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/semantic"
)

var (
	schemaQuestionPattern = regexp.MustCompile(`(?i)^\s*(what|which|list|show|describe)\b.*\b(tables|columns|schema)\b`)
	schemaTargetPattern   = regexp.MustCompile(`(?i)\b(?:columns|schema|structure)\s+(?:of|in|for)\s+(?:the\s+)?([A-Za-z_][\w.]*)`)
	searchFilterPattern   = regexp.MustCompile(`(?i)\btables?\s+(?:about|containing|with|like|named)\s+([A-Za-z_]\w*)`)
)

// stage builds the requests of one step from the invocations of the steps
// before it. Requests within a stage run concurrently.
type stage func(prev []models.Invocation) []models.CapabilityRequest

type routeContext struct {
	utterance       string
	toggles         models.Toggles
	model           *semantic.Model
	searchAvailable bool
	maxResults      int
}

// plan maps a category and the session toggles to the capability stages of
// a turn.
func plan(category models.Category, rc routeContext) []stage {
	switch category {
	case models.CategoryDataQuery:
		return planDataQuery(rc)
	case models.CategoryGeneralQuestion:
		if rc.toggles.WebSearch && rc.searchAvailable {
			return []stage{fixed(models.WebSearchRequest{Query: rc.utterance, MaxResults: rc.maxResults})}
		}
	}
	return nil
}

func planDataQuery(rc routeContext) []stage {
	if classifier.IsSQLStatement(rc.utterance) {
		return []stage{fixed(models.RawQueryRequest{Query: capability.ExtractSQL(rc.utterance)})}
	}
	if filter, ok := schemaFilter(rc.utterance); ok {
		return []stage{fixed(models.SchemaLookupRequest{Filter: filter})}
	}

	var stages []stage
	if rc.model == nil {
		stages = append(stages, fixed(models.SchemaLookupRequest{}))
	}
	stages = append(stages,
		func(prev []models.Invocation) []models.CapabilityRequest {
			return []models.CapabilityRequest{models.StructuredQueryRequest{
				Question:      rc.utterance,
				Schema:        schemaFor(rc.model, prev),
				SemanticModel: rc.model != nil,
			}}
		},
		// runs even when generation failed so the attempt is recorded
		func(prev []models.Invocation) []models.CapabilityRequest {
			return []models.CapabilityRequest{models.RawQueryRequest{Query: generatedQuery(prev)}}
		},
	)
	return stages
}

func fixed(req models.CapabilityRequest) stage {
	return func([]models.Invocation) []models.CapabilityRequest {
		return []models.CapabilityRequest{req}
	}
}

// schemaFilter detects questions about the warehouse structure itself.
func schemaFilter(utterance string) (string, bool) {
	if !schemaQuestionPattern.MatchString(utterance) {
		return "", false
	}
	if m := schemaTargetPattern.FindStringSubmatch(utterance); m != nil {
		return m[1], true
	}
	if m := searchFilterPattern.FindStringSubmatch(utterance); m != nil {
		return "search:" + strings.ToLower(m[1]), true
	}
	return "", true
}

func schemaFor(model *semantic.Model, prev []models.Invocation) string {
	if model != nil {
		return model.Describe()
	}
	for _, inv := range prev {
		if res, ok := inv.Result.(models.SchemaLookupResult); ok && inv.Success {
			return semantic.FromCatalog(res.Catalog).Describe()
		}
	}
	return "(schema unavailable)"
}

func generatedQuery(prev []models.Invocation) string {
	for i := len(prev) - 1; i >= 0; i-- {
		if res, ok := prev[i].Result.(models.StructuredQueryResult); ok {
			return res.Query
		}
	}
	return ""
}

func needsWarehouse(req models.CapabilityRequest) bool {
	switch req.(type) {
	case models.RawQueryRequest, models.SchemaLookupRequest:
		return true
	}
	return false
}

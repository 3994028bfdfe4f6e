// Package synth turns a classified turn and its capability results into the
// reply text.
package synth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/llm"
	"github.com/xaenox/analyst-bot/internal/memory"
	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/websearch"
)

const DatedCaveat = "Note: this answer comes from the model's built-in knowledge and may be dated."

// Input is everything a reply may depend on. Identical inputs give identical
// replies as long as the backend is deterministic.
type Input struct {
	Utterance      string
	Classification models.Classification
	Invocations    []models.Invocation
	Window         []models.Message
	SemanticModel  bool
	WebSearch      bool
	Tier           models.Tier
}

type Synthesizer struct {
	backend llm.Backend
	logger  *zap.Logger
}

func New(backend llm.Backend, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{backend: backend, logger: logger}
}

func (s *Synthesizer) Synthesize(ctx context.Context, in Input) string {
	switch in.Classification.Category {
	case models.CategoryDataQuery:
		return renderData(in)
	case models.CategoryGreeting:
		return s.greeting(ctx, in)
	case models.CategoryHelpRequest:
		return s.help(ctx, in)
	default:
		return s.general(ctx, in)
	}
}

func (s *Synthesizer) complete(ctx context.Context, prompt string, in Input) (string, bool) {
	if s.backend == nil {
		return "", false
	}
	text, err := s.backend.Complete(ctx, prompt, in.Tier)
	if err != nil {
		s.logger.Warn("Reply generation failed, using fallback",
			zap.String("category", string(in.Classification.Category)),
			zap.Error(err))
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

func (s *Synthesizer) greeting(ctx context.Context, in Input) string {
	window := memory.FromMessages(len(in.Window), in.Window)
	sessionContext := "This is the start of the conversation."
	if last, ok := window.LastUserMessage(); ok {
		sessionContext = fmt.Sprintf("The user's previous question was: %q", last.Text)
	}

	prompt := fmt.Sprintf(`You are a friendly data analyst assistant. Generate a warm, personalized greeting response.

CONTEXT:
- User greeting: %q
- Semantic model status: %s
- Session context: %s

GUIDELINES:
- Be warm and welcoming
- Briefly mention that you answer data questions by writing and running SQL
- Reference the semantic model status naturally
- Keep it to 2-3 sentences`, in.Utterance, semanticStatus(in.SemanticModel), sessionContext)

	if text, ok := s.complete(ctx, prompt, in); ok {
		return text
	}

	status := "I'm ready to help, though uploading a semantic model would improve data query accuracy."
	if in.SemanticModel {
		status = "I have your semantic model loaded and ready for accurate data queries!"
	}
	return fmt.Sprintf("Hello! I'm your data analyst assistant. %s I can help you analyze data with natural language queries or answer questions about SQL and databases. What would you like to explore?", status)
}

func (s *Synthesizer) help(ctx context.Context, in Input) string {
	prompt := fmt.Sprintf(`You are a data analyst assistant. Generate a helpful response about your capabilities.

USER REQUEST: %q
CURRENT STATUS: %s
WEB SEARCH: %s

CAPABILITIES TO MENTION:
1. Data Analysis: convert natural language to SQL queries and execute them
2. Schema exploration: list tables and columns
3. SQL Assistance: help with SQL concepts, syntax and best practices
4. Semantic Models: better accuracy when a semantic model is uploaded

Keep it practical and actionable.`, in.Utterance, semanticStatus(in.SemanticModel), onOff(in.WebSearch))

	if text, ok := s.complete(ctx, prompt, in); ok {
		return text
	}

	status := "No semantic model uploaded; data queries may be less accurate."
	if in.SemanticModel {
		status = "Semantic model loaded; ready for accurate data queries."
	}
	return fmt.Sprintf(`Here's what I can help you with:

- Data analysis: ask questions about your data in natural language and I'll turn them into SQL and show you the results.
- Schema exploration: ask "what tables are available?" to see what you can query.
- SQL help: syntax, query optimization and database concepts.

Current status: %s

Try something like "show me sales by region" or "how do I write a JOIN query".`, status)
}

func (s *Synthesizer) general(ctx context.Context, in Input) string {
	web := successfulSearch(in.Invocations)
	searchContext := websearch.FormatContext(web)

	var prompt strings.Builder
	fmt.Fprintf(&prompt, `You are a knowledgeable data analyst assistant. Answer the user's question about SQL, databases, or data analysis concepts.

USER QUESTION: %q
`, in.Utterance)
	if searchContext != "" {
		fmt.Fprintf(&prompt, "\nCURRENT WEB INFORMATION:\n%s\n", searchContext)
	}
	window := memory.FromMessages(len(in.Window), in.Window)
	fmt.Fprintf(&prompt, "\nRecent conversation:\n%s\n", window.Summary(200))
	prompt.WriteString(`
GUIDELINES:
- Provide accurate, helpful information with practical examples
- Be concise but thorough
- If web information is provided, incorporate the relevant current details`)

	text, ok := s.complete(ctx, prompt.String(), in)
	if !ok {
		text = fmt.Sprintf(`I understand you're asking about %q. I can help with:

- SQL query writing and optimization
- Database concepts and terminology
- Data analysis methodologies

If you have questions about your data, I can generate and run SQL queries to find answers.`, in.Utterance)
	}

	if searchContext == "" {
		return text + "\n\n" + DatedCaveat
	}
	return text + "\n\n" + renderSources(web)
}

func successfulSearch(invocations []models.Invocation) *models.WebSearchResult {
	for _, inv := range invocations {
		if !inv.Success {
			continue
		}
		if res, ok := inv.Result.(models.WebSearchResult); ok && len(res.Snippets) > 0 {
			return &res
		}
	}
	return nil
}

func renderSources(res *models.WebSearchResult) string {
	var b strings.Builder
	b.WriteString("Sources:")
	for i, s := range res.Snippets {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, s.Title, s.URL)
	}
	return b.String()
}

func semanticStatus(loaded bool) string {
	if loaded {
		return "a custom semantic model is loaded and ready for data queries"
	}
	return "no semantic model is loaded; queries are generated against the raw schema"
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

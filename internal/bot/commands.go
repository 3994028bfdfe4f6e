package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/semantic"
	"github.com/xaenox/analyst-bot/internal/session"
	"github.com/xaenox/analyst-bot/internal/storage"
)

const welcomeText = `Welcome to the data analyst bot!
Ask questions about your data in plain language and I'll turn them into SQL, run them and show you the results.

Upload a semantic model (a YAML file) for more accurate queries.
Use /help to see all available commands.`

const helpText = `Available commands:
/start - Start the bot
/help - Show this help message
/stats - Show statistics for this session
/websearch on|off - Toggle web search for general questions
/tier low|medium|high - Choose the model speed/quality tier
/model - Show the semantic model; send a .yaml file to upload one, /model clear to remove it
/clear - Clear the conversation history

You can ask:
- Data questions: "show total sales by region"
- Schema questions: "what tables are available?"
- SQL directly: SELECT ... FROM ...
- General questions about SQL and databases`

// Commander executes slash commands against a session. It has no transport
// dependency so every frontend shares it.
type Commander struct {
	sessions        *session.Manager
	store           storage.Storage
	searchAvailable bool
	logger          *zap.Logger
}

func NewCommander(sessions *session.Manager, store storage.Storage, searchAvailable bool, logger *zap.Logger) *Commander {
	return &Commander{
		sessions:        sessions,
		store:           store,
		searchAvailable: searchAvailable,
		logger:          logger,
	}
}

// Execute runs command (without the leading slash) and returns the reply.
func (c *Commander) Execute(ctx context.Context, sess *session.Session, command, args string) string {
	args = strings.TrimSpace(args)
	switch strings.ToLower(command) {
	case "start":
		return welcomeText
	case "help":
		return helpText
	case "stats":
		return c.stats(ctx, sess)
	case "websearch":
		return c.webSearch(ctx, sess, args)
	case "tier":
		return c.tier(ctx, sess, args)
	case "model":
		if strings.EqualFold(args, "clear") {
			return c.clearModel(ctx, sess)
		}
		return modelStatus(sess)
	case "clear":
		if err := c.sessions.Clear(ctx, sess.ID); err != nil {
			c.logger.Error("Failed to clear session", zap.Error(err), zap.String("session_id", sess.ID))
			return "Sorry, I couldn't clear the conversation. Please try again later."
		}
		return "Conversation history cleared."
	}
	return "Unknown command. Use /help to see available commands."
}

// LoadModel installs an uploaded YAML semantic model.
func (c *Commander) LoadModel(ctx context.Context, sess *session.Session, data []byte) string {
	model, err := semantic.Load(data)
	if err != nil {
		return fmt.Sprintf("That file is not a valid semantic model: %v", err)
	}
	if err := c.sessions.SetSemanticModel(ctx, sess.ID, model); err != nil {
		c.logger.Error("Failed to set semantic model", zap.Error(err), zap.String("session_id", sess.ID))
		return "Sorry, I couldn't save the semantic model. Please try again later."
	}
	return fmt.Sprintf("Semantic model %q loaded with %d tables.", model.Name, len(model.Tables))
}

func (c *Commander) stats(ctx context.Context, sess *session.Session) string {
	stats, err := c.store.SessionStats(ctx, sess.ID)
	if err != nil {
		c.logger.Error("Failed to get session stats", zap.Error(err), zap.String("session_id", sess.ID))
		return "Sorry, failed to retrieve your statistics. Please try again later."
	}
	return FormatStats(stats, sess.Toggles(), sess.HasSemanticModel())
}

func (c *Commander) webSearch(ctx context.Context, sess *session.Session, args string) string {
	if args == "" {
		return fmt.Sprintf("Web search is %s.", onOff(sess.Toggles().WebSearch))
	}
	enabled, err := ParseSwitch(args)
	if err != nil {
		return "Usage: /websearch on|off"
	}
	if enabled && !c.searchAvailable {
		return "Web search is not configured on this server."
	}
	if err := c.sessions.SetWebSearch(ctx, sess.ID, enabled); err != nil {
		c.logger.Error("Failed to toggle web search", zap.Error(err), zap.String("session_id", sess.ID))
		return "Sorry, I couldn't change that setting. Please try again later."
	}
	return fmt.Sprintf("Web search %s.", onOff(enabled))
}

func (c *Commander) tier(ctx context.Context, sess *session.Session, args string) string {
	if args == "" {
		return fmt.Sprintf("Current tier: %s.", sess.Toggles().Tier)
	}
	tier, ok := models.ParseTier(args)
	if !ok {
		return "Usage: /tier low|medium|high"
	}
	if err := c.sessions.SetTier(ctx, sess.ID, tier); err != nil {
		c.logger.Error("Failed to set tier", zap.Error(err), zap.String("session_id", sess.ID))
		return "Sorry, I couldn't change that setting. Please try again later."
	}
	return fmt.Sprintf("Tier set to %s.", tier)
}

func (c *Commander) clearModel(ctx context.Context, sess *session.Session) string {
	if err := c.sessions.SetSemanticModel(ctx, sess.ID, nil); err != nil {
		c.logger.Error("Failed to clear semantic model", zap.Error(err), zap.String("session_id", sess.ID))
		return "Sorry, I couldn't remove the semantic model. Please try again later."
	}
	return "Semantic model removed. Queries will use the raw schema."
}

func modelStatus(sess *session.Session) string {
	model := sess.SemanticModel()
	if model == nil {
		return "No semantic model loaded. Send a .yaml file to upload one."
	}
	return fmt.Sprintf("Semantic model %q is loaded (%d tables).", model.Name, len(model.Tables))
}

var errBadSwitch = errors.New("expected on or off")

// ParseSwitch reads on/off style arguments.
func ParseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "enable", "enabled", "1":
		return true, nil
	case "off", "false", "no", "disable", "disabled", "0":
		return false, nil
	}
	return false, errBadSwitch
}

// FormatStats renders session statistics for chat.
func FormatStats(stats *models.SessionStats, toggles models.Toggles, semanticModel bool) string {
	var b strings.Builder
	b.WriteString("Session statistics:\n")
	fmt.Fprintf(&b, "Messages: %d (%d from you)\n", stats.TotalMessages, stats.UserMessages)
	fmt.Fprintf(&b, "Queries: %d succeeded, %d failed\n", stats.SuccessfulQueries, stats.FailedQueries)
	fmt.Fprintf(&b, "Average response time: %.2fs\n", stats.AverageLatency.Seconds())

	if len(stats.CategoryCounts) > 0 {
		cats := make([]string, 0, len(stats.CategoryCounts))
		for c := range stats.CategoryCounts {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		b.WriteString("By category:\n")
		for _, c := range cats {
			fmt.Fprintf(&b, "- %s: %d\n", c, stats.CategoryCounts[models.Category(c)])
		}
	}

	fmt.Fprintf(&b, "Web search: %s\n", onOff(toggles.WebSearch))
	fmt.Fprintf(&b, "Tier: %s\n", toggles.Tier)
	if semanticModel {
		b.WriteString("Semantic model: loaded")
	} else {
		b.WriteString("Semantic model: none")
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

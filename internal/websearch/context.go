package websearch

import (
	"fmt"
	"strings"

	"github.com/xaenox/analyst-bot/internal/models"
)

const (
	contextSources    = 3
	contextContentMax = 300
)

// FormatContext renders a search result as prompt context: the summary answer
// plus the top sources with their content cut short. Empty results render as "".
func FormatContext(res *models.WebSearchResult) string {
	if res == nil || len(res.Snippets) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Web Search Results for: %s\n\n", res.Query)
	if res.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n\n", res.Answer)
	}

	b.WriteString("Detailed Sources:\n")
	for i, s := range res.Snippets {
		if i == contextSources {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
		fmt.Fprintf(&b, "   URL: %s\n", s.URL)
		fmt.Fprintf(&b, "   Content: %s\n\n", truncate(s.Content, contextContentMax))
	}
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

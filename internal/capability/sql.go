package capability

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencePattern       = regexp.MustCompile("(?is)```(?:[A-Za-z0-9_+-]*[ \\t]*\\n)?(.*?)```")
	statementStart     = regexp.MustCompile(`(?i)^(select|with|insert|update|delete|create|show|describe|explain)\b`)
	writeKeywordsRegex = regexp.MustCompile(`(?i)\b(drop|delete|truncate|alter|create|insert|update|merge|grant|revoke)\b`)
	quotedPattern      = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
)

// ExtractSQL pulls the statement out of free-form model output. A fenced code
// block wins whatever its language tag; otherwise capture starts at the first
// line that opens a statement and stops at a line ending in ";". The trailing
// ";" is dropped.
func ExtractSQL(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return trimStatement(m[1])
	}

	var lines []string
	capturing := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !capturing && statementStart.MatchString(line) {
			capturing = true
		}
		if !capturing {
			continue
		}
		if strings.HasPrefix(line, "--") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "/*") {
			continue
		}
		lines = append(lines, line)
		if strings.HasSuffix(line, ";") {
			break
		}
	}
	return trimStatement(strings.Join(lines, "\n"))
}

func trimStatement(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// CheckReadOnly rejects statements that write or change the schema. String
// literals and quoted identifiers are not searched.
func CheckReadOnly(query string) error {
	if m := writeKeywordsRegex.FindString(quotedPattern.ReplaceAllString(query, "''")); m != "" {
		return fmt.Errorf("query contains forbidden keyword: %s", strings.ToUpper(m))
	}
	return nil
}

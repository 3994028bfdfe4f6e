package warehouse

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/xaenox/analyst-bot/internal/models"
)

var (
	missingObjectPattern = regexp.MustCompile(`(?i)(does not exist|no such (table|column)|not found|invalid identifier|unknown (table|column)|undefined (table|column))`)
	permissionPattern    = regexp.MustCompile(`(?i)(permission denied|insufficient privileges?|not authorized|access denied|unauthorized)`)
	syntaxPattern        = regexp.MustCompile(`(?i)(syntax error|parse error|unexpected token|incomplete input)`)
)

// Classify maps a query error to an ErrorKind. Postgres SQLSTATE codes win
// over message matching.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrKindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTimeout
	}
	if errors.Is(err, ErrNotConnected) {
		return models.ErrKindUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01", "42703", "3F000", "42883":
			return models.ErrKindMissingObject
		case "42501":
			return models.ErrKindPermission
		case "42601":
			return models.ErrKindSyntax
		case "57014":
			return models.ErrKindTimeout
		}
		switch pqErr.Code.Class() {
		case "08":
			return models.ErrKindUnavailable
		case "28":
			return models.ErrKindPermission
		}
	}

	msg := err.Error()
	switch {
	case permissionPattern.MatchString(msg):
		return models.ErrKindPermission
	case missingObjectPattern.MatchString(msg):
		return models.ErrKindMissingObject
	case syntaxPattern.MatchString(msg):
		return models.ErrKindSyntax
	case strings.Contains(strings.ToLower(msg), "timeout"):
		return models.ErrKindTimeout
	}
	return models.ErrKindOther
}

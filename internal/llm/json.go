package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a completion holds no JSON object.
var ErrNoJSON = errors.New("llm: no JSON object in completion")

// DecodeJSONObject decodes the first '{' .. last '}' span of text into v.
// Models often wrap JSON in prose or code fences.
func DecodeJSONObject(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}

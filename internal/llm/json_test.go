package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONObject(t *testing.T) {
	var out struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}

	text := "Sure! Here is the result:\n```json\n{\"type\": \"DATA_QUERY\", \"confidence\": 0.92}\n```"
	require.NoError(t, DecodeJSONObject(text, &out))
	assert.Equal(t, "DATA_QUERY", out.Type)
	assert.Equal(t, 0.92, out.Confidence)

	assert.ErrorIs(t, DecodeJSONObject("no json here", &out), ErrNoJSON)
	assert.Error(t, DecodeJSONObject("{not json}", &out))
}

package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsed struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

func TestExtractJSONPlainObject(t *testing.T) {
	var out parsed
	err := ExtractJSON(`{"score": 0.8, "summary": "strong fit"}`, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.8, out.Score)
	assert.Equal(t, "strong fit", out.Summary)
}

func TestExtractJSONCodeFence(t *testing.T) {
	content := "```json\n{\"score\": 0.5, \"summary\": \"maybe\"}\n```"

	var out parsed
	err := ExtractJSON(content, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Score)
}

func TestExtractJSONFenceWithoutLanguageTag(t *testing.T) {
	content := "```\n{\"score\": 0.4}\n```"

	var out parsed
	err := ExtractJSON(content, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.4, out.Score)
}

func TestExtractJSONWrappedInProse(t *testing.T) {
	content := `Here is my assessment:

{"score": 0.9, "summary": "excellent"}

Let me know if you need anything else.`

	var out parsed
	err := ExtractJSON(content, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.9, out.Score)
	assert.Equal(t, "excellent", out.Summary)
}

func TestExtractJSONNestedObjectsAndStrings(t *testing.T) {
	// Braces inside strings must not confuse the matcher
	content := `{"summary": "uses {braces} and \"quotes\"", "score": 0.7}`

	var out parsed
	err := ExtractJSON(content, &out)
	require.NoError(t, err)
	assert.Equal(t, `uses {braces} and "quotes"`, out.Summary)
}

func TestExtractJSONNoObject(t *testing.T) {
	var out parsed
	err := ExtractJSON("I could not produce a result.", &out)
	assert.ErrorContains(t, err, "no JSON object")
}

func TestExtractJSONUnterminated(t *testing.T) {
	var out parsed
	err := ExtractJSON(`{"score": 0.8, "summary": "cut off`, &out)
	assert.ErrorContains(t, err, "unterminated")
}

func TestExtractJSONInvalidJSON(t *testing.T) {
	var out parsed
	err := ExtractJSON(`{"score": not-a-number}`, &out)
	assert.ErrorContains(t, err, "unmarshal")
}

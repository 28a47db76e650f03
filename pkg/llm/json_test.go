package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "bare object",
			input:    `{"intent": "read_detail"}`,
			expected: `{"intent": "read_detail"}`,
		},
		{
			name:     "markdown fenced",
			input:    "```json\n{\"intent\": \"read_detail\"}\n```",
			expected: `{"intent": "read_detail"}`,
		},
		{
			name:     "conversational framing",
			input:    `Here is the classification: {"intent": "read_detail"} Hope that helps!`,
			expected: `{"intent": "read_detail"}`,
		},
		{
			name:     "think tags stripped",
			input:    "<think>the user wants a patient record</think>\n{\"intent\": \"read_detail\"}",
			expected: `{"intent": "read_detail"}`,
		},
		{
			name:     "braces inside string literals",
			input:    `{"reasoning": "the term {juan} is a name", "intent": "read_detail"}`,
			expected: `{"reasoning": "the term {juan} is a name", "intent": "read_detail"}`,
		},
		{
			name:     "nested objects",
			input:    `{"entities": {"patient_name": {"values": ["juan"]}}}`,
			expected: `{"entities": {"patient_name": {"values": ["juan"]}}}`,
		},
		{
			name:     "escaped quotes in strings",
			input:    `{"reasoning": "user said \"cancelar\""}`,
			expected: `{"reasoning": "user said \"cancelar\""}`,
		},
		{
			name:     "array response",
			input:    `The options are [1, 2, 3] as requested.`,
			expected: `[1, 2, 3]`,
		},
		{
			name:    "no json at all",
			input:   "no puedo ayudar con eso",
			wantErr: true,
		},
		{
			name:    "unbalanced braces",
			input:   `{"intent": "read_detail"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	type verdict struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}

	got, err := ParseJSONResponse[verdict](`Sure: {"intent": "read_aggregate", "confidence": 0.92}`)
	require.NoError(t, err)
	assert.Equal(t, "read_aggregate", got.Intent)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)

	_, err = ParseJSONResponse[verdict](`{"intent": ["not", "a", "string"]}`)
	assert.Error(t, err)
}

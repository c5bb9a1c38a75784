package inference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		outcome    ParseOutcome
		action     string
		confidence float64
		desc       string
	}{
		{
			name:       "plain json",
			raw:        `{"action": "eating", "confidence": 0.82, "description": "Head down in the hay."}`,
			outcome:    Parsed,
			action:     "eating",
			confidence: 0.82,
			desc:       "Head down in the hay.",
		},
		{
			name:       "fenced json",
			raw:        "```json\n{\"action\": \"Trotting\", \"confidence\": 0.7, \"description\": \"moving\"}\n```",
			outcome:    Parsed,
			action:     "trotting",
			confidence: 0.7,
			desc:       "moving",
		},
		{
			name:       "percentage confidence",
			raw:        `{"action": "standing", "confidence": 85, "description": "x"}`,
			outcome:    Parsed,
			action:     "standing",
			confidence: 0.85,
			desc:       "x",
		},
		{
			name:       "confidence clamped",
			raw:        `{"action": "standing", "confidence": -3, "description": "x"}`,
			outcome:    Parsed,
			action:     "standing",
			confidence: 0,
			desc:       "x",
		},
		{
			name:       "unparsable confidence",
			raw:        `{"action": "standing", "confidence": "high", "description": "x"}`,
			outcome:    Parsed,
			action:     "standing",
			confidence: 0.5,
			desc:       "x",
		},
		{
			name:       "unknown action mapped by substring",
			raw:        `{"action": "slowly trotting around", "confidence": 0.6, "description": "x"}`,
			outcome:    Parsed,
			action:     "trotting",
			confidence: 0.6,
			desc:       "x",
		},
		{
			name:       "unknown action defaults to first",
			raw:        `{"action": "galloping", "confidence": 0.6, "description": "x"}`,
			outcome:    Parsed,
			action:     "standing",
			confidence: 0.6,
			desc:       "x",
		},
		{
			name:       "free text",
			raw:        "The horse is lying down in the straw.",
			outcome:    Fallback,
			action:     "lying down",
			confidence: 0.5,
			desc:       "The horse is lying down in the straw.",
		},
		{
			name:       "json array is not an object",
			raw:        `["eating"]`,
			outcome:    Fallback,
			action:     "eating",
			confidence: 0.5,
			desc:       `["eating"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAction(tt.raw, nil)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.action, got.Action)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.desc, got.Description)
		})
	}
}

func TestParseActionTruncatesFallbackDescription(t *testing.T) {
	raw := strings.Repeat("a", 500)
	got := ParseAction(raw, []string{"grazing", "resting"})
	assert.Equal(t, Fallback, got.Outcome)
	assert.Equal(t, "grazing", got.Action)
	assert.Len(t, got.Description, 200)
}

func TestParseOutcomeString(t *testing.T) {
	assert.Equal(t, "parsed", Parsed.String())
	assert.Equal(t, "fallback", Fallback.String())
}

package inference

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseOutcome tags whether model text decoded as JSON or was guessed at.
type ParseOutcome int

const (
	Parsed ParseOutcome = iota
	Fallback
)

func (o ParseOutcome) String() string {
	if o == Parsed {
		return "parsed"
	}
	return "fallback"
}

// ParsedAction is the result of ParseAction. ModelID is left for the caller.
type ParsedAction struct {
	Outcome     ParseOutcome
	Action      string
	Confidence  float64
	Description string
}

const descriptionLimit = 200

// ParseAction turns raw generative-model text into an action label drawn
// from known. Markdown fences are stripped before decoding. Text that is not
// a JSON object falls back to the first known label it mentions.
func ParseAction(raw string, known []string) ParsedAction {
	if len(known) == 0 {
		known = DefaultKnownActions
	}
	text := stripFences(strings.TrimSpace(raw))

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil || data == nil {
		return ParsedAction{
			Outcome:     Fallback,
			Action:      ClosestAction(raw, known),
			Confidence:  0.5,
			Description: truncate(raw, descriptionLimit),
		}
	}

	action := known[0]
	if v, ok := data["action"]; ok {
		action = strings.ToLower(strings.TrimSpace(toString(v)))
	}
	if !contains(known, action) {
		action = ClosestAction(action, known)
	}
	confidence := 0.5
	if v, ok := data["confidence"]; ok {
		confidence = clampConfidence(v)
	}
	description := truncate(raw, descriptionLimit)
	if v, ok := data["description"]; ok {
		description = toString(v)
	}
	return ParsedAction{Outcome: Parsed, Action: action, Confidence: confidence, Description: description}
}

// ClosestAction returns the first known label contained in text, else the
// first label.
func ClosestAction(text string, known []string) string {
	lower := strings.ToLower(text)
	for _, k := range known {
		if strings.Contains(lower, k) {
			return k
		}
	}
	return known[0]
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	if end < 1 {
		return ""
	}
	return strings.Join(lines[1:end], "\n")
}

// clampConfidence treats values above 1 as percentages.
func clampConfidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0.5
		}
		f = parsed
	case bool:
		if x {
			f = 1
		}
	default:
		return 0.5
	}
	if f > 1 {
		f /= 100
	}
	return min(max(f, 0), 1)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Package usage defines the canonical token-usage record shared by the
// proxy, cascade and billing layers. Provider payloads disagree on key
// names (OpenAI reports prompt/completion tokens, Anthropic reports
// input/output tokens); everything downstream works with this one shape.
package usage

// Usage holds normalized token counts for a single upstream call.
// Immutable once built.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
}

// TotalTokens is always input + output.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// FromPayload builds a Usage from a loose provider usage object. OpenAI
// style keys (prompt_tokens, completion_tokens) and Anthropic style keys
// (input_tokens, output_tokens) are both accepted; missing or non-numeric
// values coerce to zero.
func FromPayload(payload map[string]interface{}) Usage {
	return Usage{
		InputTokens:       intField(payload, "input_tokens", "prompt_tokens"),
		OutputTokens:      intField(payload, "output_tokens", "completion_tokens"),
		CachedInputTokens: intField(payload, "cached_input_tokens", "cache_read_input_tokens"),
	}
}

// ToMap round-trips the record to the four-field wire form.
func (u Usage) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"input_tokens":        u.InputTokens,
		"output_tokens":       u.OutputTokens,
		"cached_input_tokens": u.CachedInputTokens,
		"total_tokens":        u.TotalTokens(),
	}
}

// intField returns the first of the named keys that holds a numeric value.
func intField(payload map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		val, ok := payload[key]
		if !ok {
			continue
		}
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case float32:
			return int(v)
		}
	}
	return 0
}

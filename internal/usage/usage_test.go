package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPayload_OpenAIKeys(t *testing.T) {
	u := FromPayload(map[string]interface{}{
		"prompt_tokens":     float64(120),
		"completion_tokens": float64(48),
	})

	assert.Equal(t, 120, u.InputTokens)
	assert.Equal(t, 48, u.OutputTokens)
	assert.Equal(t, 0, u.CachedInputTokens)
	assert.Equal(t, 168, u.TotalTokens())
}

func TestFromPayload_AnthropicKeys(t *testing.T) {
	u := FromPayload(map[string]interface{}{
		"input_tokens":            float64(200),
		"output_tokens":           float64(75),
		"cache_read_input_tokens": float64(64),
	})

	assert.Equal(t, 200, u.InputTokens)
	assert.Equal(t, 75, u.OutputTokens)
	assert.Equal(t, 64, u.CachedInputTokens)
}

func TestFromPayload_CanonicalKeysWin(t *testing.T) {
	// Canonical keys take priority over synonyms when both appear.
	u := FromPayload(map[string]interface{}{
		"input_tokens":  float64(10),
		"prompt_tokens": float64(99),
	})

	assert.Equal(t, 10, u.InputTokens)
}

func TestFromPayload_MissingAndGarbage(t *testing.T) {
	u := FromPayload(map[string]interface{}{
		"prompt_tokens": "not a number",
	})

	assert.Equal(t, Usage{}, u)
	assert.Equal(t, 0, u.TotalTokens())
}

func TestToMap_IncludesDerivedTotal(t *testing.T) {
	u := Usage{InputTokens: 5, OutputTokens: 7, CachedInputTokens: 2}
	m := u.ToMap()

	assert.Equal(t, 5, m["input_tokens"])
	assert.Equal(t, 7, m["output_tokens"])
	assert.Equal(t, 2, m["cached_input_tokens"])
	assert.Equal(t, 12, m["total_tokens"])
}

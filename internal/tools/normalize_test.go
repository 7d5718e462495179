package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalize_Universal(t *testing.T) {
	raw := []map[string]interface{}{
		{
			"name":        "get_weather",
			"description": "Look up the weather",
			"parameters":  map[string]interface{}{"type": "object"},
		},
	}

	got := Normalize(raw, zap.NewNop())

	require.Len(t, got, 1)
	assert.Equal(t, "get_weather", got[0].Name)
	assert.Equal(t, "object", got[0].Parameters["type"])
}

func TestNormalize_OpenAI(t *testing.T) {
	raw := []map[string]interface{}{
		{
			"type": "function",
			"function": map[string]interface{}{
				"name":        "search",
				"description": "Search the web",
				"parameters":  map[string]interface{}{"type": "object"},
			},
		},
	}

	got := Normalize(raw, zap.NewNop())

	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Name)
	assert.Equal(t, "Search the web", got[0].Description)
	assert.NotNil(t, got[0].Parameters)
}

func TestNormalize_OpenAIWithInputSchema(t *testing.T) {
	raw := []map[string]interface{}{
		{
			"type": "function",
			"function": map[string]interface{}{
				"name":         "lookup",
				"input_schema": map[string]interface{}{"type": "object"},
			},
		},
	}

	got := Normalize(raw, zap.NewNop())

	require.Len(t, got, 1)
	assert.Equal(t, "object", got[0].Parameters["type"])
}

func TestNormalize_Anthropic(t *testing.T) {
	raw := []map[string]interface{}{
		{
			"name":         "calculator",
			"description":  "Do arithmetic",
			"input_schema": map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		},
	}

	got := Normalize(raw, zap.NewNop())

	require.Len(t, got, 1)
	assert.Equal(t, "calculator", got[0].Name)
	assert.Equal(t, "object", got[0].Parameters["type"])
}

func TestNormalize_DropsNameless(t *testing.T) {
	raw := []map[string]interface{}{
		{"description": "mystery tool"},
		{"name": "kept"},
	}

	got := Normalize(raw, zap.NewNop())

	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Name)
}

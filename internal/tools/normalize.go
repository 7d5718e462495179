// Package tools normalizes the three tool-schema dialects clients send
// (universal, OpenAI, Anthropic) into one universal form.
package tools

import (
	"go.uber.org/zap"
)

// Tool is the universal form: name plus a JSON-schema parameters object.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Normalize reduces a heterogeneous tool list to the universal form.
// Entries with no recoverable name are dropped with a warning.
func Normalize(raw []map[string]interface{}, logger *zap.Logger) []Tool {
	out := make([]Tool, 0, len(raw))
	for _, item := range raw {
		tool, ok := normalizeOne(item)
		if !ok {
			logger.Warn("dropping tool with no name", zap.Any("tool", item))
			continue
		}
		out = append(out, tool)
	}
	return out
}

func normalizeOne(item map[string]interface{}) (Tool, bool) {
	// OpenAI: {type:"function", function:{...}}
	if typ, _ := item["type"].(string); typ == "function" {
		if fn, ok := item["function"].(map[string]interface{}); ok {
			return fromFields(fn)
		}
	}
	// Universal or Anthropic: flat {name, description, parameters|input_schema}
	return fromFields(item)
}

func fromFields(fields map[string]interface{}) (Tool, bool) {
	name, _ := fields["name"].(string)
	if name == "" {
		return Tool{}, false
	}
	desc, _ := fields["description"].(string)
	params, _ := fields["parameters"].(map[string]interface{})
	if params == nil {
		// Anthropic names its schema input_schema.
		params, _ = fields["input_schema"].(map[string]interface{})
	}
	return Tool{Name: name, Description: desc, Parameters: params}, true
}

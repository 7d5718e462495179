package gateway

import (
	"context"
	"encoding/json"

	"github.com/cascadeflow/gateway/internal/cascade"
	"github.com/cascadeflow/gateway/internal/proxy"
	"github.com/cascadeflow/gateway/internal/tools"
	"github.com/cascadeflow/gateway/internal/usage"
)

// upstreamCompleter backs a cascade tier with a real provider call
// through the proxy layer. The upstream call is non-streaming; the
// cascade buffers draft output anyway, so nothing is lost.
type upstreamCompleter struct {
	model   string
	router  *proxy.Router
	handler *proxy.Handler
}

func newUpstreamCompleter(model string, router *proxy.Router, handler *proxy.Handler) *upstreamCompleter {
	return &upstreamCompleter{model: model, router: router, handler: handler}
}

func (u *upstreamCompleter) Name() string { return u.model }

func (u *upstreamCompleter) Stream(ctx context.Context, req *cascade.CompletionRequest) (<-chan cascade.Chunk, error) {
	body := map[string]interface{}{
		"model":    u.model,
		"messages": wireMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		body["tools"] = openAITools(req.Tools)
	}

	plan, err := u.router.PlanRequest(&proxy.Request{
		Method: "POST",
		Path:   "/v1/chat/completions",
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	result, err := u.handler.Execute(ctx, plan)
	if err != nil {
		return nil, err
	}

	ch := make(chan cascade.Chunk, 8)
	go func() {
		defer close(ch)
		content, toolCalls := extractChoice(result)
		if content != "" {
			ch <- cascade.Chunk{Content: content}
		}
		for i := range toolCalls {
			ch <- cascade.Chunk{ToolCall: &toolCalls[i]}
		}
		if result.Usage != nil {
			ch <- cascade.Chunk{Usage: result.Usage}
		} else {
			ch <- cascade.Chunk{Usage: &usage.Usage{}}
		}
	}()
	return ch, nil
}

func wireMessages(msgs []cascade.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]interface{}{"role": m.Role, "content": m.Content}
	}
	return out
}

// openAITools renders normalized tools in the OpenAI function shape.
func openAITools(ts []tools.Tool) []map[string]interface{} {
	out := make([]map[string]interface{}, len(ts))
	for i, t := range ts {
		out[i] = map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		}
	}
	return out
}

// extractChoice pulls message content and tool calls out of an OpenAI
// chat-completion response body.
func extractChoice(result *proxy.Result) (string, []cascade.ToolCall) {
	data, ok := result.Data.(map[string]interface{})
	if !ok {
		return "", nil
	}
	choices, ok := data["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", nil
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return "", nil
	}
	message, ok := choice["message"].(map[string]interface{})
	if !ok {
		return "", nil
	}
	content, _ := message["content"].(string)

	var calls []cascade.ToolCall
	if rawCalls, ok := message["tool_calls"].([]interface{}); ok {
		for _, rc := range rawCalls {
			call, ok := rc.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := call["id"].(string)
			fn, _ := call["function"].(map[string]interface{})
			name, _ := fn["name"].(string)
			args, _ := fn["arguments"].(string)
			if args == "" {
				if raw, err := json.Marshal(fn["arguments"]); err == nil && string(raw) != "null" {
					args = string(raw)
				}
			}
			calls = append(calls, cascade.ToolCall{ID: id, Name: name, Arguments: args})
		}
	}
	return content, calls
}

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeflow/gateway/internal/cascade"
)

// sseWriter serializes SSE frames and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) data(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.flush()
}

func (s *sseWriter) event(name string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b)
	s.flush()
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// streamOpenAI translates cascade events into OpenAI SSE chunks. Draft
// chunks stay buffered until the decision resolves, so a rejected draft
// never reaches the wire. Returns nil after an in-stream error.
func (s *Server) streamOpenAI(w http.ResponseWriter, req *chatRequest, events <-chan cascade.StreamEvent, demo demoInfo, start time.Time, legacy bool) *cascade.Result {
	sse := newSSEWriter(w)
	id := "chatcmpl-" + uuid.NewString()
	object := "chat.completion.chunk"
	if legacy {
		id = "cmpl-" + uuid.NewString()
		object = "text_completion.chunk"
	}
	created := time.Now().Unix()

	chunk := func(delta map[string]interface{}, finish interface{}, extra map[string]interface{}) map[string]interface{} {
		choice := map[string]interface{}{
			"index":         0,
			"finish_reason": finish,
		}
		if legacy {
			text, _ := delta["content"].(string)
			choice["text"] = text
		} else {
			choice["delta"] = delta
		}
		body := map[string]interface{}{
			"id":      id,
			"object":  object,
			"created": created,
			"model":   req.Model,
			"choices": []interface{}{choice},
		}
		for k, v := range extra {
			body[k] = v
		}
		return body
	}

	// Initial role chunk.
	sse.data(chunk(map[string]interface{}{"role": "assistant", "content": ""}, nil, nil))

	var (
		buffered  []string
		content   string
		toolCalls []cascade.ToolCall
		result    *cascade.Result
	)
	emitText := func(text string) {
		content += text
		sse.data(chunk(map[string]interface{}{"content": text}, nil, nil))
	}

	for ev := range events {
		switch ev.Type {
		case cascade.EventTextChunk:
			if ev.Phase == cascade.PhaseDraft {
				buffered = append(buffered, ev.Content)
			} else {
				emitText(ev.Content)
			}
		case cascade.EventDraftDecision:
			accepted, _ := ev.Data["accepted"].(bool)
			if accepted {
				for _, text := range buffered {
					emitText(text)
				}
			}
			buffered = nil
		case cascade.EventToolCallComplete:
			if ev.ToolCall == nil {
				continue
			}
			toolCalls = append(toolCalls, *ev.ToolCall)
			sse.data(chunk(map[string]interface{}{
				"tool_calls": []interface{}{map[string]interface{}{
					"index": len(toolCalls) - 1,
					"id":    ev.ToolCall.ID,
					"type":  "function",
					"function": map[string]interface{}{
						"name":      ev.ToolCall.Name,
						"arguments": ev.ToolCall.Arguments,
					},
				}},
			}, nil, nil))
		case cascade.EventComplete:
			if r, ok := ev.Data["result"].(*cascade.Result); ok {
				result = r
			}
		case cascade.EventError:
			we := translateError(ev.Cause())
			sse.data(chunk(map[string]interface{}{}, "error", map[string]interface{}{
				"error": map[string]interface{}{
					"message": we.Message,
					"type":    we.OpenAIType,
				},
			}))
			sse.done()
			return nil
		}
	}
	if result == nil {
		sse.done()
		return nil
	}

	// Stop chunk with a mirror of the accumulated message.
	finish := "stop"
	message := map[string]interface{}{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		finish = "tool_calls"
		message["tool_calls"] = wireToolCalls(toolCalls)
	}
	stop := chunk(map[string]interface{}{}, finish, map[string]interface{}{"message": message})
	if req.includeUsage() {
		stop["usage"] = result.Usage.ToMap()
	}
	if s.cfg.Gateway.IncludeGatewayMetadata {
		stop["cascadeflow"] = s.envelope(result, time.Since(start), demo)
	}
	sse.data(stop)

	if req.includeUsage() {
		sse.data(map[string]interface{}{
			"id":      id,
			"object":  object,
			"created": created,
			"model":   req.Model,
			"choices": []interface{}{},
			"usage":   result.Usage.ToMap(),
		})
	}
	sse.done()
	return result
}

// streamAnthropic translates cascade events into the Anthropic SSE
// event sequence with the same draft-buffering rule.
func (s *Server) streamAnthropic(w http.ResponseWriter, req *chatRequest, events <-chan cascade.StreamEvent, demo demoInfo, start time.Time) *cascade.Result {
	sse := newSSEWriter(w)
	id := "msg_" + uuid.NewString()

	sse.event("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":      id,
			"type":    "message",
			"role":    "assistant",
			"model":   req.Model,
			"content": []interface{}{},
			"usage":   map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
		},
	})

	var (
		buffered []string
		result   *cascade.Result
	)
	emitText := func(text string) {
		sse.event("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]interface{}{"type": "text_delta", "text": text},
		})
	}

	for ev := range events {
		switch ev.Type {
		case cascade.EventTextChunk:
			if ev.Phase == cascade.PhaseDraft {
				buffered = append(buffered, ev.Content)
			} else {
				emitText(ev.Content)
			}
		case cascade.EventDraftDecision:
			accepted, _ := ev.Data["accepted"].(bool)
			if accepted {
				for _, text := range buffered {
					emitText(text)
				}
			}
			buffered = nil
		case cascade.EventComplete:
			if r, ok := ev.Data["result"].(*cascade.Result); ok {
				result = r
			}
		case cascade.EventError:
			we := translateError(ev.Cause())
			sse.event("error", map[string]interface{}{
				"type": "error",
				"error": map[string]interface{}{
					"type":    we.AnthropicType,
					"message": we.Message,
				},
			})
			sse.done()
			return nil
		}
	}
	if result == nil {
		sse.done()
		return nil
	}

	stop := map[string]interface{}{
		"type": "message_stop",
		"usage": map[string]interface{}{
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
		},
	}
	if s.cfg.Gateway.IncludeGatewayMetadata {
		stop["cascadeflow"] = s.envelope(result, time.Since(start), demo)
	}
	sse.event("message_stop", stop)
	sse.done()
	return result
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/cascade"
	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/pricing"
	"github.com/cascadeflow/gateway/internal/proxy"
	"github.com/cascadeflow/gateway/internal/usage"
)

// scriptedCompleter replays a fixed chunk sequence.
type scriptedCompleter struct {
	name   string
	chunks []cascade.Chunk
	err    error
}

func (c *scriptedCompleter) Name() string { return c.name }

func (c *scriptedCompleter) Stream(ctx context.Context, req *cascade.CompletionRequest) (<-chan cascade.Chunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan cascade.Chunk, len(c.chunks))
	for _, chunk := range c.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func cascadeEngine(drafter, verifier *scriptedCompleter) *cascade.Engine {
	calc := cascade.NewCalculator(pricing.NewResolver())
	drafterCfg := &models.ModelConfig{Name: drafter.name, Cost: 0.0001}
	opts := []cascade.EngineOption{}
	if verifier != nil {
		opts = append(opts, cascade.WithVerifier(verifier, &models.ModelConfig{Name: verifier.name, Cost: 0.005}))
	}
	return cascade.NewEngine(drafter, drafterCfg, calc, zap.NewNop(), opts...)
}

func textChunks(words ...string) []cascade.Chunk {
	chunks := make([]cascade.Chunk, 0, len(words)+1)
	for _, w := range words {
		chunks = append(chunks, cascade.Chunk{Content: w})
	}
	chunks = append(chunks, cascade.Chunk{Usage: &usage.Usage{InputTokens: 10, OutputTokens: len(words)}})
	return chunks
}

func parseSSE(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(payload), &m))
		out = append(out, m)
	}
	return out
}

func deltaContent(chunk map[string]interface{}) (string, bool) {
	choices, ok := chunk["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice := choices[0].(map[string]interface{})
	delta, ok := choice["delta"].(map[string]interface{})
	if !ok {
		return "", false
	}
	content, ok := delta["content"].(string)
	return content, ok
}

func streamBody(content string) map[string]interface{} {
	body := chatBody(content)
	body["stream"] = true
	return body
}

func TestStreaming_RejectedDraftNeverReachesWire(t *testing.T) {
	drafter := &scriptedCompleter{name: "cheap-model", chunks: textChunks("wrong ", "draft")}
	verifier := &scriptedCompleter{name: "strong-model", chunks: textChunks("right ", "answer")}
	s := newTestServer(t, mockConfig(), WithEngine(cascadeEngine(drafter, verifier)))

	rec := postJSON(s.Routes(), "/v1/chat/completions",
		streamBody("Summarize the economic causes of the French Revolution"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: [DONE]")

	chunks := parseSSE(t, rec.Body.String())
	var content string
	for _, chunk := range chunks {
		if text, ok := deltaContent(chunk); ok {
			content += text
		}
	}
	assert.Equal(t, "right answer", content)
	assert.NotContains(t, rec.Body.String(), "wrong")

	last := chunks[len(chunks)-1]
	choice := last["choices"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "stop", choice["finish_reason"])
	message := last["message"].(map[string]interface{})
	assert.Equal(t, "right answer", message["content"])

	env := last["cascadeflow"].(map[string]interface{})
	assert.Equal(t, "strong-model", env["model_used"])
	meta := env["metadata"].(map[string]interface{})
	assert.Equal(t, false, meta["draft_accepted"])
}

func TestStreaming_AcceptedDraftFlushedAfterDecision(t *testing.T) {
	drafter := &scriptedCompleter{name: "cheap-model", chunks: textChunks("B")}
	verifier := &scriptedCompleter{name: "strong-model", chunks: textChunks("should ", "not ", "run")}
	s := newTestServer(t, mockConfig(), WithEngine(cascadeEngine(drafter, verifier)))

	rec := postJSON(s.Routes(), "/v1/chat/completions",
		streamBody("Answer the following multiple-choice question: What is 2+2? A) 3 B) 4 C) 5 D) 6"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	chunks := parseSSE(t, rec.Body.String())
	var content string
	for _, chunk := range chunks {
		if text, ok := deltaContent(chunk); ok {
			content += text
		}
	}
	assert.Equal(t, "B", content)
	assert.NotContains(t, rec.Body.String(), "should")

	last := chunks[len(chunks)-1]
	meta := last["cascadeflow"].(map[string]interface{})["metadata"].(map[string]interface{})
	assert.Equal(t, true, meta["draft_accepted"])
}

func TestStreaming_VerifierFailureEmitsErrorChunk(t *testing.T) {
	drafter := &scriptedCompleter{name: "cheap-model", chunks: textChunks("wrong ", "draft")}
	verifier := &scriptedCompleter{name: "strong-model", err: &proxy.UpstreamError{StatusCode: 529}}
	s := newTestServer(t, mockConfig(), WithEngine(cascadeEngine(drafter, verifier)))

	rec := postJSON(s.Routes(), "/v1/chat/completions",
		streamBody("Summarize the economic causes of the French Revolution"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: [DONE]")

	chunks := parseSSE(t, rec.Body.String())
	last := chunks[len(chunks)-1]
	choice := last["choices"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "error", choice["finish_reason"])
	errObj := last["error"].(map[string]interface{})
	assert.Equal(t, "upstream_error", errObj["type"])
}

func TestStreaming_IncludeUsage(t *testing.T) {
	drafter := &scriptedCompleter{name: "cheap-model", chunks: textChunks("B")}
	s := newTestServer(t, mockConfig(), WithEngine(cascadeEngine(drafter, nil)))

	body := streamBody("Answer the following multiple-choice question: What is 2+2? A) 3 B) 4 C) 5 D) 6")
	body["stream_options"] = map[string]interface{}{"include_usage": true}
	rec := postJSON(s.Routes(), "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	chunks := parseSSE(t, rec.Body.String())
	last := chunks[len(chunks)-1]
	assert.Empty(t, last["choices"])
	u := last["usage"].(map[string]interface{})
	assert.Equal(t, float64(10), u["input_tokens"])
	assert.Equal(t, float64(1), u["output_tokens"])
	assert.Equal(t, float64(11), u["total_tokens"])
}

func TestStreaming_AnthropicEvents(t *testing.T) {
	drafter := &scriptedCompleter{name: "cheap-model", chunks: textChunks("wrong ", "draft")}
	verifier := &scriptedCompleter{name: "strong-model", chunks: textChunks("right ", "answer")}
	s := newTestServer(t, mockConfig(), WithEngine(cascadeEngine(drafter, verifier)))

	rec := postJSON(s.Routes(), "/v1/messages",
		streamBody("Summarize the economic causes of the French Revolution"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, "event: message_stop")
	assert.Contains(t, body, "data: [DONE]")
	assert.NotContains(t, body, "wrong")

	var text string
	for _, chunk := range parseSSE(t, body) {
		if chunk["type"] == "content_block_delta" {
			delta := chunk["delta"].(map[string]interface{})
			part, _ := delta["text"].(string)
			text += part
		}
	}
	assert.Equal(t, "right answer", text)
}

func TestStreaming_NoStreamOverride(t *testing.T) {
	cfg := mockConfig()
	cfg.Gateway.NoStream = true
	drafter := &scriptedCompleter{name: "cheap-model", chunks: textChunks("B")}
	s := newTestServer(t, cfg, WithEngine(cascadeEngine(drafter, nil)))

	rec := postJSON(s.Routes(), "/v1/chat/completions",
		streamBody("Answer the following multiple-choice question: What is 2+2? A) 3 B) 4 C) 5 D) 6"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "chat.completion", body["object"])
}

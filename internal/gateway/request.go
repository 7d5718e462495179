package gateway

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cascadeflow/gateway/internal/cascade"
	"github.com/cascadeflow/gateway/internal/tools"
)

// chatRequest is the decoded OpenAI chat-completions body. The same
// struct covers the Anthropic /v1/messages shape; System is only set
// there.
type chatRequest struct {
	Model         string                   `json:"model"`
	Messages      []chatMessage            `json:"messages"`
	Stream        bool                     `json:"stream"`
	StreamOptions *streamOptions           `json:"stream_options"`
	Tools         []map[string]interface{} `json:"tools"`
	MaxTokens     int                      `json:"max_tokens"`
	System        string                   `json:"system"`
	Prompt        json.RawMessage          `json:"prompt"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// text flattens string or multi-part content to plain text. Non-text
// parts (images) are dropped.
func (m chatMessage) text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []map[string]interface{}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var out string
	for _, part := range parts {
		if t, _ := part["type"].(string); t == "text" {
			if txt, ok := part["text"].(string); ok {
				out += txt
			}
		}
	}
	return out
}

func decodeChatRequest(r io.Reader) (*chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	return &req, nil
}

func (req *chatRequest) includeUsage() bool {
	return req.StreamOptions != nil && req.StreamOptions.IncludeUsage
}

// promptText extracts the legacy completions prompt (string or array
// of strings, joined).
func (req *chatRequest) promptText() string {
	if len(req.Prompt) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(req.Prompt, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(req.Prompt, &list); err == nil {
		var out string
		for _, p := range list {
			out += p
		}
		return out
	}
	return ""
}

// toCompletion converts the wire request into the engine's input,
// normalizing tools across dialects.
func (s *Server) toCompletion(req *chatRequest) *cascade.CompletionRequest {
	out := &cascade.CompletionRequest{MaxTokens: req.MaxTokens}
	if req.System != "" {
		out.Messages = append(out.Messages, cascade.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, cascade.Message{Role: m.Role, Content: m.text()})
	}
	if prompt := req.promptText(); prompt != "" && len(out.Messages) == 0 {
		out.Messages = append(out.Messages, cascade.Message{Role: "user", Content: prompt})
	}
	if len(req.Tools) > 0 {
		out.Tools = tools.Normalize(req.Tools, s.logger)
	}
	return out
}

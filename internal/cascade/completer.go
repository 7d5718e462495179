package cascade

import (
	"context"

	"github.com/cascadeflow/gateway/internal/tools"
	"github.com/cascadeflow/gateway/internal/usage"
)

// Message is one turn of the conversation being completed.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the model-agnostic input to a Completer.
type CompletionRequest struct {
	Messages  []Message
	Tools     []tools.Tool
	MaxTokens int
}

// Query returns the last user message, the prompt the scorer aligns
// responses against.
func (r *CompletionRequest) Query() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	if len(r.Messages) > 0 {
		return r.Messages[len(r.Messages)-1].Content
	}
	return ""
}

// Chunk is one streamed fragment from a model. Confidence, when the
// provider reports token logprobs, is the chunk-level confidence in
// [0,1]. Usage arrives on the final chunk. A non-nil Err terminates
// the stream.
type Chunk struct {
	Content    string
	ToolCall   *ToolCall
	Confidence *float64
	Usage      *usage.Usage
	Err        error
}

// Completer streams a completion for a request. The returned channel is
// closed when the stream ends; an immediate error means the call could
// not start.
type Completer interface {
	Name() string
	Stream(ctx context.Context, req *CompletionRequest) (<-chan Chunk, error)
}

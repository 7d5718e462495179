// Package cascade runs the speculative drafter/verifier pipeline and
// emits a typed event stream the SSE translators consume.
package cascade

// EventType discriminates StreamEvent variants.
type EventType string

const (
	EventRouting          EventType = "routing"
	EventTextChunk        EventType = "text_chunk"
	EventDraftDecision    EventType = "draft_decision"
	EventSwitch           EventType = "switch"
	EventToolCallComplete EventType = "tool_call_complete"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Phase tags a text_chunk with the pipeline stage that produced it.
type Phase string

const (
	PhaseDirect   Phase = "direct"
	PhaseDraft    Phase = "draft"
	PhaseVerifier Phase = "verifier"
)

// ToolCall is one completed tool invocation from a model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StreamEvent is one element of the cascade's forward-only event stream.
// Content and Phase are set for text_chunk; Data carries the variant
// payload for routing, draft_decision, complete and error events.
type StreamEvent struct {
	Type     EventType              `json:"type"`
	Content  string                 `json:"content,omitempty"`
	Phase    Phase                  `json:"phase,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	ToolCall *ToolCall              `json:"tool_call,omitempty"`
}

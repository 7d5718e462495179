package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()

	c.Record(RequestRecord{
		Endpoint: "/v1/chat/completions", Model: "gpt-4o-mini", Provider: "openai",
		Cascaded: true, DraftAccepted: true,
		InputTokens: 100, OutputTokens: 50, Cost: 0.01, CostSaved: 0.04,
		Latency: 200 * time.Millisecond,
	})
	c.Record(RequestRecord{
		Endpoint: "/v1/chat/completions", Model: "gpt-4o", Provider: "openai",
		Cascaded: true, DraftAccepted: false,
		InputTokens: 100, OutputTokens: 80, Cost: 0.05, CostSaved: -0.01,
		Latency: 400 * time.Millisecond,
	})
	c.Record(RequestRecord{
		Endpoint: "/v1/embeddings", Model: "text-embedding-3-small", Provider: "openai",
		InputTokens: 20, Cost: 0.001,
		Latency: 30 * time.Millisecond,
	})

	s := c.Snapshot()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(1), s.DraftsAccepted)
	assert.Equal(t, int64(1), s.DraftsRejected)
	assert.Equal(t, int64(1), s.DirectRequests)
	assert.InDelta(t, 0.5, s.AcceptanceRate, 1e-9)
	assert.Equal(t, int64(220), s.InputTokens)
	assert.Equal(t, int64(130), s.OutputTokens)
	assert.InDelta(t, 0.061, s.TotalCost, 1e-9)
	// Negative savings (wasted draft) do not reduce the savings total.
	assert.InDelta(t, 0.04, s.TotalSaved, 1e-9)
	assert.InDelta(t, 210.0, s.AvgLatencyMS, 1e-9)
	assert.Equal(t, int64(1), s.RequestsByModel["gpt-4o"])
}

func TestCollector_Errors(t *testing.T) {
	c := NewCollector()

	c.RecordError("upstream_error", "/v1/chat/completions")
	c.Record(RequestRecord{Endpoint: "/v1/chat/completions", Model: "gpt-4o", Err: true})

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.Errors)
	assert.Equal(t, int64(1), s.TotalRequests)
	assert.Zero(t, s.AcceptanceRate)
}

func TestCollector_SnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.Record(RequestRecord{Endpoint: "/v1/messages", Model: "claude-3-5-haiku", Cost: 0.002})

	s := c.Snapshot()
	s.RequestsByModel["claude-3-5-haiku"] = 99

	assert.Equal(t, int64(1), c.Snapshot().RequestsByModel["claude-3-5-haiku"])
}

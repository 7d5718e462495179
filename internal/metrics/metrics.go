// Package metrics aggregates request statistics for the /stats endpoint
// and exports Prometheus series for scraping.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascadeflow_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascadeflow_request_duration_seconds",
			Help:    "Gateway request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"endpoint"},
	)

	draftDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascadeflow_draft_decisions_total",
			Help: "Cascade draft decisions by outcome",
		},
		[]string{"outcome"}, // accepted, rejected, direct
	)

	tokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascadeflow_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"model", "type"}, // type: input, output
	)

	costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascadeflow_cost_usd_total",
			Help: "Accumulated request cost in USD",
		},
		[]string{"model", "provider"},
	)

	savingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cascadeflow_savings_usd_total",
			Help: "Accumulated USD saved by accepted drafts",
		},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascadeflow_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "endpoint"},
	)
)

// RequestRecord is one finished request as seen by the collector.
type RequestRecord struct {
	Endpoint      string
	Model         string
	Provider      string
	DraftAccepted bool
	Cascaded      bool // false for direct/proxy-only requests
	InputTokens   int
	OutputTokens  int
	Cost          float64
	CostSaved     float64
	Latency       time.Duration
	Err           bool
}

// Stats is the snapshot served by /stats.
type Stats struct {
	TotalRequests   int64            `json:"total_requests"`
	DraftsAccepted  int64            `json:"drafts_accepted"`
	DraftsRejected  int64            `json:"drafts_rejected"`
	DirectRequests  int64            `json:"direct_requests"`
	Errors          int64            `json:"errors"`
	AcceptanceRate  float64          `json:"acceptance_rate"`
	InputTokens     int64            `json:"input_tokens"`
	OutputTokens    int64            `json:"output_tokens"`
	TotalCost       float64          `json:"total_cost"`
	TotalSaved      float64          `json:"total_saved"`
	AvgLatencyMS    float64          `json:"avg_latency_ms"`
	RequestsByModel map[string]int64 `json:"requests_by_model"`
	StartedAt       time.Time        `json:"started_at"`
}

// Collector keeps process-wide counters behind a single mutex. Instances
// are independent so tests can run in parallel; the Prometheus series are
// shared per process.
type Collector struct {
	mu             sync.Mutex
	totalRequests  int64
	draftsAccepted int64
	draftsRejected int64
	directRequests int64
	errors         int64
	inputTokens    int64
	outputTokens   int64
	totalCost      float64
	totalSaved     float64
	latencySum     time.Duration
	byModel        map[string]int64
	startedAt      time.Time
}

func NewCollector() *Collector {
	return &Collector{
		byModel:   make(map[string]int64),
		startedAt: time.Now(),
	}
}

// Record folds one finished request into the aggregates.
func (c *Collector) Record(rec RequestRecord) {
	c.mu.Lock()
	c.totalRequests++
	c.inputTokens += int64(rec.InputTokens)
	c.outputTokens += int64(rec.OutputTokens)
	c.totalCost += rec.Cost
	c.latencySum += rec.Latency
	if rec.CostSaved > 0 {
		c.totalSaved += rec.CostSaved
	}
	if rec.Model != "" {
		c.byModel[rec.Model]++
	}
	outcome := "direct"
	switch {
	case rec.Err:
		c.errors++
	case rec.Cascaded && rec.DraftAccepted:
		c.draftsAccepted++
		outcome = "accepted"
	case rec.Cascaded:
		c.draftsRejected++
		outcome = "rejected"
	default:
		c.directRequests++
	}
	c.mu.Unlock()

	status := "success"
	if rec.Err {
		status = "error"
	}
	requestsTotal.WithLabelValues(rec.Endpoint, status).Inc()
	requestDuration.WithLabelValues(rec.Endpoint).Observe(rec.Latency.Seconds())
	if !rec.Err {
		draftDecisions.WithLabelValues(outcome).Inc()
	}
	if rec.Model != "" {
		tokensUsed.WithLabelValues(rec.Model, "input").Add(float64(rec.InputTokens))
		tokensUsed.WithLabelValues(rec.Model, "output").Add(float64(rec.OutputTokens))
		costTotal.WithLabelValues(rec.Model, rec.Provider).Add(rec.Cost)
	}
	if rec.CostSaved > 0 {
		savingsTotal.Add(rec.CostSaved)
	}
}

// RecordError counts a request that failed before a full record existed.
func (c *Collector) RecordError(errorType, endpoint string) {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
	errorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// Snapshot returns a copy of the aggregates.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalRequests:   c.totalRequests,
		DraftsAccepted:  c.draftsAccepted,
		DraftsRejected:  c.draftsRejected,
		DirectRequests:  c.directRequests,
		Errors:          c.errors,
		InputTokens:     c.inputTokens,
		OutputTokens:    c.outputTokens,
		TotalCost:       c.totalCost,
		TotalSaved:      c.totalSaved,
		RequestsByModel: make(map[string]int64, len(c.byModel)),
		StartedAt:       c.startedAt,
	}
	for model, n := range c.byModel {
		s.RequestsByModel[model] = n
	}
	if decided := c.draftsAccepted + c.draftsRejected; decided > 0 {
		s.AcceptanceRate = float64(c.draftsAccepted) / float64(decided)
	}
	if c.totalRequests > 0 {
		s.AvgLatencyMS = float64(c.latencySum.Milliseconds()) / float64(c.totalRequests)
	}
	return s
}

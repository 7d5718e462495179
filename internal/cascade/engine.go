package cascade

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/alignment"
	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/usage"
)

// ThresholdFunc decides the acceptance bar for a tier and domain.
type ThresholdFunc func(tier, domain string) float64

// DefaultThreshold is a flat bar with a stricter setting for code and
// math, where a wrong draft is costlier than a retried one.
func DefaultThreshold(tier, domain string) float64 {
	switch domain {
	case "code", "math":
		return 0.75
	}
	return 0.70
}

// Result is the terminal product of one cascade run, carried on the
// complete event.
type Result struct {
	Content       string                 `json:"content"`
	ModelUsed     string                 `json:"model_used"`
	DraftAccepted bool                   `json:"draft_accepted"`
	QualityScore  float64                `json:"quality_score"`
	Complexity    float64                `json:"complexity"`
	Metadata      map[string]interface{} `json:"metadata"`
	CostSaved     float64                `json:"cost_saved"`
	ToolCalls     []ToolCall             `json:"tool_calls,omitempty"`
	Usage         usage.Usage            `json:"-"`
}

// Engine drives the drafter/verifier pipeline for one request at a time;
// instances are safe for concurrent Run calls.
type Engine struct {
	drafter     Completer
	verifier    Completer
	drafterCfg  *models.ModelConfig
	verifierCfg *models.ModelConfig
	scorer      *alignment.Scorer
	calc        *Calculator
	threshold   ThresholdFunc
	logger      *zap.Logger
}

type EngineOption func(*Engine)

func WithThreshold(fn ThresholdFunc) EngineOption {
	return func(e *Engine) { e.threshold = fn }
}

// WithVerifier attaches the verifier tier. Without one the engine runs
// the drafter directly and never rejects.
func WithVerifier(c Completer, cfg *models.ModelConfig) EngineOption {
	return func(e *Engine) {
		e.verifier = c
		e.verifierCfg = cfg
	}
}

func NewEngine(drafter Completer, drafterCfg *models.ModelConfig, calc *Calculator, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		drafter:    drafter,
		drafterCfg: drafterCfg,
		scorer:     alignment.NewScorer(),
		calc:       calc,
		threshold:  DefaultThreshold,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the cascade and returns its event stream. Events are
// emitted as soon as they are ready; the channel closes after complete
// or error.
func (e *Engine) Run(ctx context.Context, req *CompletionRequest, tier string) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		e.run(ctx, req, tier, out)
	}()
	return out
}

func (e *Engine) run(ctx context.Context, req *CompletionRequest, tier string, out chan<- StreamEvent) {
	query := req.Query()
	domain, difficulty := classify(query)

	out <- StreamEvent{Type: EventRouting, Data: map[string]interface{}{
		"drafter":    e.drafter.Name(),
		"domain":     domain,
		"complexity": difficulty,
	}}

	if e.verifier == nil {
		e.runDirect(ctx, req, domain, difficulty, out)
		return
	}

	draft, err := e.consume(ctx, e.drafter, req, PhaseDraft, out, true, false)
	if err != nil {
		// Drafter failure degrades to verifier-only.
		e.logger.Warn("drafter failed, escalating", zap.Error(err))
		out <- StreamEvent{Type: EventDraftDecision, Data: map[string]interface{}{
			"accepted": false,
			"reason":   "drafter_failed",
		}}
		e.escalate(ctx, req, nil, domain, difficulty, out)
		return
	}

	analysis := e.scorer.Score(query, draft.content, difficulty)
	confidence := effectiveConfidence(analysis, draft.confidence)
	accepted := confidence >= e.threshold(tier, domain)
	if !accepted && analysis.IsTrivial && analysis.KeywordCoverage() >= 0.20 {
		accepted = true
	}

	decision := map[string]interface{}{
		"accepted":   accepted,
		"confidence": confidence,
		"alignment":  analysis.AlignmentScore,
	}
	if fp, ok := analysis.FastPath(); ok {
		decision["fast_path"] = fp
	}
	out <- StreamEvent{Type: EventDraftDecision, Data: decision}

	if !accepted {
		e.escalate(ctx, req, draft, domain, difficulty, out)
		return
	}

	for i := range draft.toolCalls {
		out <- StreamEvent{Type: EventToolCallComplete, ToolCall: &draft.toolCalls[i]}
	}

	metadata := map[string]interface{}{
		"domain":                  domain,
		"draft_prompt_tokens":     draft.usage.InputTokens,
		"draft_completion_tokens": draft.usage.OutputTokens,
	}
	breakdown := e.calc.Breakdown(true, metadata, e.drafterCfg, e.verifierCfg)
	metadata["draft_cost"] = breakdown.DraftCost
	metadata["total_cost"] = breakdown.TotalCost

	e.complete(out, &Result{
		Content:       draft.content,
		ModelUsed:     e.drafter.Name(),
		DraftAccepted: true,
		QualityScore:  confidence,
		Complexity:    difficulty,
		Metadata:      metadata,
		CostSaved:     breakdown.CostSaved,
		ToolCalls:     draft.toolCalls,
		Usage:         draft.usage,
	})
}

// runDirect streams the drafter with no quality gate.
func (e *Engine) runDirect(ctx context.Context, req *CompletionRequest, domain string, difficulty float64, out chan<- StreamEvent) {
	direct, err := e.consume(ctx, e.drafter, req, PhaseDirect, out, true, true)
	if err != nil {
		out <- errorEvent(err)
		return
	}
	e.complete(out, &Result{
		Content:       direct.content,
		ModelUsed:     e.drafter.Name(),
		DraftAccepted: true,
		QualityScore:  1,
		Complexity:    difficulty,
		Metadata:      map[string]interface{}{"domain": domain},
		ToolCalls:     direct.toolCalls,
		Usage:         direct.usage,
	})
}

// escalate runs the verifier after a rejected (or failed) draft.
func (e *Engine) escalate(ctx context.Context, req *CompletionRequest, draft *phaseOutcome, domain string, difficulty float64, out chan<- StreamEvent) {
	out <- StreamEvent{Type: EventSwitch, Data: map[string]interface{}{
		"to": e.verifier.Name(),
	}}

	verified, err := e.consume(ctx, e.verifier, req, PhaseVerifier, out, true, true)
	if err != nil {
		// No silent fallback once the draft is gone.
		out <- errorEvent(err)
		return
	}

	metadata := map[string]interface{}{
		"domain":                     domain,
		"verifier_prompt_tokens":     verified.usage.InputTokens,
		"verifier_completion_tokens": verified.usage.OutputTokens,
	}
	total := verified.usage
	if draft != nil {
		metadata["draft_prompt_tokens"] = draft.usage.InputTokens
		metadata["draft_completion_tokens"] = draft.usage.OutputTokens
		total.InputTokens += draft.usage.InputTokens
		total.OutputTokens += draft.usage.OutputTokens
	}
	breakdown := e.calc.Breakdown(false, metadata, e.drafterCfg, e.verifierCfg)
	metadata["draft_cost"] = breakdown.DraftCost
	metadata["verifier_cost"] = breakdown.VerifierCost
	metadata["total_cost"] = breakdown.TotalCost

	e.complete(out, &Result{
		Content:       verified.content,
		ModelUsed:     e.verifier.Name(),
		DraftAccepted: false,
		QualityScore:  1,
		Complexity:    difficulty,
		Metadata:      metadata,
		CostSaved:     breakdown.CostSaved,
		ToolCalls:     verified.toolCalls,
		Usage:         total,
	})
}

func (e *Engine) complete(out chan<- StreamEvent, result *Result) {
	out <- StreamEvent{Type: EventComplete, Data: map[string]interface{}{"result": result}}
}

type phaseOutcome struct {
	content    string
	toolCalls  []ToolCall
	confidence *float64
	usage      usage.Usage
}

// consume drains one completer stream, forwarding text chunks (and,
// when emitTools is set, tool calls) as events.
func (e *Engine) consume(ctx context.Context, c Completer, req *CompletionRequest, phase Phase, out chan<- StreamEvent, emitText, emitTools bool) (*phaseOutcome, error) {
	stream, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		b       strings.Builder
		outcome phaseOutcome
		confSum float64
		confN   int
	)
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Content != "" {
			b.WriteString(chunk.Content)
			if emitText {
				out <- StreamEvent{Type: EventTextChunk, Content: chunk.Content, Phase: phase}
			}
		}
		if chunk.ToolCall != nil {
			outcome.toolCalls = append(outcome.toolCalls, *chunk.ToolCall)
			if emitTools {
				out <- StreamEvent{Type: EventToolCallComplete, ToolCall: chunk.ToolCall}
			}
		}
		if chunk.Confidence != nil {
			confSum += *chunk.Confidence
			confN++
		}
		if chunk.Usage != nil {
			outcome.usage = *chunk.Usage
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome.content = b.String()
	if confN > 0 {
		mean := confSum / float64(confN)
		outcome.confidence = &mean
	}
	return &outcome, nil
}

// effectiveConfidence folds the scorer output with the model's own
// token confidence. A fast-path score stands alone.
func effectiveConfidence(a alignment.Analysis, tokenConfidence *float64) float64 {
	if _, ok := a.FastPath(); ok {
		return a.AlignmentScore
	}
	if tokenConfidence != nil {
		return (a.AlignmentScore + *tokenConfidence) / 2
	}
	return a.AlignmentScore
}

func errorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Data: map[string]interface{}{
		"message": err.Error(),
		"cause":   err,
	}}
}

// Cause extracts the underlying error from an error event.
func (ev StreamEvent) Cause() error {
	if err, ok := ev.Data["cause"].(error); ok {
		return err
	}
	if msg, ok := ev.Data["message"].(string); ok {
		return errors.New(msg)
	}
	return errors.New("cascade error")
}

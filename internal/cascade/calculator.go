package cascade

import (
	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/pricing"
	"github.com/cascadeflow/gateway/internal/usage"
)

// CostBreakdown is the per-request cost split between cascade tiers.
// CostSaved is negative on the rejected path: the draft was wasted work.
type CostBreakdown struct {
	DraftCost    float64 `json:"draft_cost"`
	VerifierCost float64 `json:"verifier_cost"`
	TotalCost    float64 `json:"total_cost"`
	CostSaved    float64 `json:"cost_saved"`
}

// Calculator prices cascade results through the shared resolver, using
// the catalog per-1K rate when the price book lacks a model.
type Calculator struct {
	pricer *pricing.Resolver
}

func NewCalculator(pricer *pricing.Resolver) *Calculator {
	return &Calculator{pricer: pricer}
}

// Breakdown computes the cost split for one cascade result. Token counts
// come from the result metadata; absent keys count as zero.
func (c *Calculator) Breakdown(accepted bool, metadata map[string]interface{}, drafter, verifier *models.ModelConfig) CostBreakdown {
	draftIn := metaInt(metadata, "draft_prompt_tokens")
	draftOut := metaInt(metadata, "draft_completion_tokens")
	verifierIn := metaInt(metadata, "verifier_prompt_tokens")
	verifierOut := metaInt(metadata, "verifier_completion_tokens")

	var b CostBreakdown
	b.DraftCost = c.modelCost(drafter, draftIn, draftOut)
	if accepted {
		// The verifier never ran; savings are what it would have charged
		// for the same tokens.
		b.CostSaved = c.modelCost(verifier, draftIn, draftOut) - b.DraftCost
	} else {
		b.VerifierCost = c.modelCost(verifier, verifierIn, verifierOut)
		b.CostSaved = -b.DraftCost
	}
	b.TotalCost = b.DraftCost + b.VerifierCost
	return b
}

func (c *Calculator) modelCost(cfg *models.ModelConfig, inputTokens, outputTokens int) float64 {
	if cfg == nil {
		return 0
	}
	u := usage.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	fallback := cfg.Cost
	return c.pricer.ResolveCost(cfg.Name, u, nil, &fallback)
}

func metaInt(metadata map[string]interface{}, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

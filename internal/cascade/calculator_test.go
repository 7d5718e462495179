package cascade

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/pricing"
	"github.com/cascadeflow/gateway/internal/usage"
)

var (
	drafterCfg  = &models.ModelConfig{Name: "gpt-4o-mini", Provider: "openai", Cost: 0.0004}
	verifierCfg = &models.ModelConfig{Name: "gpt-4o", Provider: "openai", Cost: 0.008}
)

func TestBreakdown_Accepted(t *testing.T) {
	pricer := pricing.NewResolver()
	calc := NewCalculator(pricer)

	metadata := map[string]interface{}{
		"draft_prompt_tokens":     1000,
		"draft_completion_tokens": 1000,
	}
	b := calc.Breakdown(true, metadata, drafterCfg, verifierCfg)

	u := usage.Usage{InputTokens: 1000, OutputTokens: 1000}
	wantDraft := pricer.ResolveCost("gpt-4o-mini", u, nil, nil)
	wantVerifier := pricer.ResolveCost("gpt-4o", u, nil, nil)

	assert.InDelta(t, wantDraft, b.DraftCost, 1e-9)
	assert.Zero(t, b.VerifierCost)
	assert.InDelta(t, wantDraft, b.TotalCost, 1e-9)
	assert.InDelta(t, wantVerifier-wantDraft, b.CostSaved, 1e-9)
	assert.Greater(t, b.CostSaved, 0.0)
}

func TestBreakdown_Rejected(t *testing.T) {
	calc := NewCalculator(pricing.NewResolver())

	metadata := map[string]interface{}{
		"draft_prompt_tokens":        1000,
		"draft_completion_tokens":    200,
		"verifier_prompt_tokens":     1000,
		"verifier_completion_tokens": 300,
	}
	b := calc.Breakdown(false, metadata, drafterCfg, verifierCfg)

	assert.Greater(t, b.DraftCost, 0.0)
	assert.Greater(t, b.VerifierCost, 0.0)
	assert.InDelta(t, b.DraftCost+b.VerifierCost, b.TotalCost, 1e-9)
	assert.InDelta(t, -b.DraftCost, b.CostSaved, 1e-9)
}

func TestBreakdown_CatalogFallback(t *testing.T) {
	calc := NewCalculator(pricing.NewResolver())

	custom := &models.ModelConfig{Name: "custom-tuned-7b", Cost: 0.002}
	metadata := map[string]interface{}{
		"draft_prompt_tokens":     500,
		"draft_completion_tokens": 500,
	}
	b := calc.Breakdown(true, metadata, custom, verifierCfg)

	// 1000 tokens at the catalog per-1K rate.
	assert.InDelta(t, 0.002, b.DraftCost, 1e-9)
}

func TestBreakdown_MissingTokensAreZero(t *testing.T) {
	calc := NewCalculator(pricing.NewResolver())

	b := calc.Breakdown(false, map[string]interface{}{}, drafterCfg, verifierCfg)
	assert.Zero(t, b.DraftCost)
	assert.Zero(t, b.VerifierCost)
	assert.Zero(t, b.TotalCost)
	assert.Zero(t, b.CostSaved)
}

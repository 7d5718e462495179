package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func limit(v float64) *float64 { return &v }

func newTestTracker(opts ...Option) *Tracker {
	return NewTracker(zap.NewNop(), opts...)
}

func TestCharge_AggregatesStayConsistent(t *testing.T) {
	tr := newTestTracker()

	charges := []CostEntry{
		{Model: "gpt-4o-mini", Provider: "openai", Tokens: 100, Cost: 0.01},
		{Model: "gpt-4o", Provider: "openai", Tokens: 200, Cost: 0.05},
		{Model: "claude-3-5-haiku", Provider: "anthropic", Tokens: 150, Cost: 0.02},
	}
	for _, c := range charges {
		_, err := tr.Charge(c)
		require.NoError(t, err)
	}

	entries, byModel, byProvider, total := tr.Snapshot()
	require.Len(t, entries, 3)

	var entrySum, modelSum, providerSum float64
	for _, e := range entries {
		entrySum += e.Cost
	}
	for _, v := range byModel {
		modelSum += v
	}
	for _, v := range byProvider {
		providerSum += v
	}
	assert.InDelta(t, total, entrySum, 1e-9)
	assert.InDelta(t, total, modelSum, 1e-9)
	assert.InDelta(t, total, providerSum, 1e-9)
	assert.InDelta(t, 0.06, byProvider["openai"], 1e-9)
}

func TestCharge_StrictBlocksAtLimit(t *testing.T) {
	tr := newTestTracker(WithBudgets(map[string]BudgetConfig{
		"free": {Daily: limit(0.10)},
	}))
	tr.SetEnforcement(ModeStrict, nil)

	entry := CostEntry{Model: "gpt-4o-mini", Provider: "openai", Cost: 0.05, UserID: "u", UserTier: "free"}

	action, err := tr.Charge(entry)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, action)

	action, err = tr.Charge(entry)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, action)

	action, err = tr.Charge(entry)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, ActionBlock, action)

	// The refused charge left no ledger entry.
	entries, _, _, total := tr.Snapshot()
	assert.Len(t, entries, 2)
	assert.InDelta(t, 0.10, total, 1e-9)
}

func TestCharge_DailyWindowResets(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tr := newTestTracker(
		WithClock(func() time.Time { return clock() }),
		WithBudgets(map[string]BudgetConfig{"free": {Daily: limit(0.10)}}),
	)
	tr.SetEnforcement(ModeStrict, nil)

	entry := CostEntry{Model: "m", Provider: "p", Cost: 0.08, UserID: "u", UserTier: "free"}
	_, err := tr.Charge(entry)
	require.NoError(t, err)
	assert.InDelta(t, 0.08, tr.WindowSpend("u", WindowDaily), 1e-9)

	// Crossing midnight resets the daily window but not the total.
	now = now.Add(2 * time.Hour)
	_, err = tr.Charge(entry)
	require.NoError(t, err)
	assert.InDelta(t, 0.08, tr.WindowSpend("u", WindowDaily), 1e-9)
	assert.InDelta(t, 0.16, tr.WindowSpend("u", WindowTotal), 1e-9)
}

func TestCharge_WeeklyWindowUsesISOWeek(t *testing.T) {
	// 2026-03-08 is a Sunday; the ISO week boundary is Monday 03-09.
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tr := newTestTracker(
		WithClock(func() time.Time { return clock() }),
		WithBudgets(map[string]BudgetConfig{"free": {Weekly: limit(1.00)}}),
	)
	tr.SetEnforcement(ModeStrict, nil)

	entry := CostEntry{Model: "m", Provider: "p", Cost: 0.30, UserID: "u", UserTier: "free"}
	_, err := tr.Charge(entry)
	require.NoError(t, err)

	now = time.Date(2026, 3, 9, 0, 30, 0, 0, time.UTC)
	_, err = tr.Charge(entry)
	require.NoError(t, err)
	assert.InDelta(t, 0.30, tr.WindowSpend("u", WindowWeekly), 1e-9)
}

func TestCanAfford(t *testing.T) {
	tr := newTestTracker(WithBudgets(map[string]BudgetConfig{
		"free": {Daily: limit(0.10), Total: limit(0.15)},
	}))
	tr.SetEnforcement(ModeStrict, nil)

	assert.True(t, tr.CanAfford("u", 0.09, "free"))
	assert.False(t, tr.CanAfford("u", 0.10, "free")) // projected == limit

	_, err := tr.Charge(CostEntry{Model: "m", Provider: "p", Cost: 0.08, UserID: "u", UserTier: "free"})
	require.NoError(t, err)

	assert.True(t, tr.CanAfford("u", 0.01, "free"))
	assert.False(t, tr.CanAfford("u", 0.02, "free"))
	assert.True(t, tr.CanAfford("u", 0.01, "unknown-tier"))
}

func TestGracefulCallback(t *testing.T) {
	assert.Equal(t, ActionAllow, GracefulCallback(EnforcementContext{BudgetUsedPct: 50}))
	assert.Equal(t, ActionWarn, GracefulCallback(EnforcementContext{BudgetUsedPct: 85}))
	assert.Equal(t, ActionDegrade, GracefulCallback(EnforcementContext{BudgetUsedPct: 105, BudgetExceeded: true}))
}

func TestTierBasedCallback(t *testing.T) {
	exceeded := EnforcementContext{BudgetUsedPct: 120, BudgetExceeded: true}

	exceeded.UserTier = "free"
	assert.Equal(t, ActionBlock, TierBasedCallback(exceeded))
	exceeded.UserTier = "pro"
	assert.Equal(t, ActionDegrade, TierBasedCallback(exceeded))
	exceeded.UserTier = "enterprise"
	assert.Equal(t, ActionWarn, TierBasedCallback(exceeded))
}

func TestCharge_CustomCallback(t *testing.T) {
	tr := newTestTracker(WithBudgets(map[string]BudgetConfig{
		"pro": {Daily: limit(1.00)},
	}))
	var seen []EnforcementContext
	tr.SetEnforcement(ModeDegrade, func(ctx EnforcementContext) Action {
		seen = append(seen, ctx)
		return ActionWarn
	})

	action, err := tr.Charge(CostEntry{Model: "m", Provider: "p", Cost: 0.50, UserID: "u", UserTier: "pro"})
	require.NoError(t, err)
	assert.Equal(t, ActionWarn, action)
	require.NotEmpty(t, seen)
	assert.Equal(t, "u", seen[len(seen)-1].UserID)
	assert.InDelta(t, 50.0, seen[len(seen)-1].BudgetUsedPct, 1e-9)
}

func TestCharge_MaxEntriesCapsLedger(t *testing.T) {
	tr := newTestTracker(WithMaxEntries(2))

	for i := 0; i < 5; i++ {
		_, err := tr.Charge(CostEntry{Model: "m", Provider: "p", Cost: 0.01})
		require.NoError(t, err)
	}

	entries, _, _, total := tr.Snapshot()
	assert.Len(t, entries, 2)
	assert.InDelta(t, 0.05, total, 1e-9) // aggregates keep full history
}

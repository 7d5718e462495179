// Package tracking maintains the in-memory cost ledger: an append-only
// list of charges with per-model and per-provider aggregates, per-tenant
// budget windows, and pluggable enforcement.
package tracking

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CostEntry is one row of the ledger. Never mutated after Charge.
type CostEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Model     string                 `json:"model"`
	Provider  string                 `json:"provider"`
	Tokens    int                    `json:"tokens"`
	Cost      float64                `json:"cost"`
	QueryID   string                 `json:"query_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	UserTier  string                 `json:"user_tier,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// BudgetConfig holds per-tier limits. Nil means no limit for that window.
type BudgetConfig struct {
	Daily   *float64 `json:"daily,omitempty" mapstructure:"daily"`
	Weekly  *float64 `json:"weekly,omitempty" mapstructure:"weekly"`
	Monthly *float64 `json:"monthly,omitempty" mapstructure:"monthly"`
	Total   *float64 `json:"total,omitempty" mapstructure:"total"`
}

type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
	WindowTotal   Window = "total"
)

var allWindows = []Window{WindowDaily, WindowWeekly, WindowMonthly, WindowTotal}

func (b BudgetConfig) limit(w Window) *float64 {
	switch w {
	case WindowDaily:
		return b.Daily
	case WindowWeekly:
		return b.Weekly
	case WindowMonthly:
		return b.Monthly
	default:
		return b.Total
	}
}

// budgetState tracks cumulative spend for one (user, window) pair.
type budgetState struct {
	currentCost float64
	windowStart time.Time
}

// ErrBudgetExceeded is returned by Charge when enforcement refuses the
// charge. No ledger entry is written in that case.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxEntries caps ledger retention; oldest entries are dropped once
// the cap is exceeded. Aggregates keep the full totals.
func WithMaxEntries(n int) Option {
	return func(t *Tracker) { t.maxEntries = n }
}

// WithClock overrides wall-clock reads, for window-reset tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithBudgets installs per-tier budget limits.
func WithBudgets(budgets map[string]BudgetConfig) Option {
	return func(t *Tracker) { t.budgets = budgets }
}

// Tracker is safe for concurrent use; all mutation happens under one
// mutex. It is the single shared mutable resource of the request path.
type Tracker struct {
	mu sync.Mutex

	logger *zap.Logger

	entries    []CostEntry
	totalCost  float64
	byModel    map[string]float64
	byProvider map[string]float64

	budgets map[string]BudgetConfig
	states  map[string]map[Window]*budgetState

	mode     EnforcementMode
	callback Callback

	maxEntries int
	now        func() time.Time
}

func NewTracker(logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		logger:     logger,
		byModel:    make(map[string]float64),
		byProvider: make(map[string]float64),
		budgets:    make(map[string]BudgetConfig),
		states:     make(map[string]map[Window]*budgetState),
		mode:       ModeOff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetEnforcement selects the enforcement mode and optionally a custom
// callback. A nil callback gets the built-in for the mode.
func (t *Tracker) SetEnforcement(mode EnforcementMode, cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	if cb != nil {
		t.callback = cb
		return
	}
	t.callback = builtinCallback(mode)
}

// Charge appends a ledger entry, updates aggregates and the user's
// budget windows, and runs enforcement. When enforcement blocks, the
// entry is NOT recorded and ErrBudgetExceeded is returned.
func (t *Tracker) Charge(entry CostEntry) (Action, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}

	budget, hasBudget := t.budgets[entry.UserTier]
	if entry.UserID != "" && hasBudget && t.mode != ModeOff {
		t.resetWindowsLocked(entry.UserID)
		// Refuse before recording when the window is already exhausted.
		// The charge that reaches 100% is still accepted; everything
		// after it is blocked, so a window can overrun by at most one
		// request.
		if action := t.evaluateLocked(entry.UserID, entry.UserTier, budget, 0); action == ActionBlock {
			t.logger.Warn("charge refused by budget enforcement",
				zap.String("user_id", entry.UserID),
				zap.String("user_tier", entry.UserTier),
				zap.Float64("cost", entry.Cost))
			return ActionBlock, ErrBudgetExceeded
		}
	}

	t.entries = append(t.entries, entry)
	if t.maxEntries > 0 && len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
	t.totalCost += entry.Cost
	t.byModel[entry.Model] += entry.Cost
	t.byProvider[entry.Provider] += entry.Cost

	if entry.UserID != "" {
		t.addSpendLocked(entry.UserID, entry.Cost)
	}

	if entry.UserID == "" || !hasBudget || t.mode == ModeOff {
		return ActionAllow, nil
	}
	action := t.evaluateLocked(entry.UserID, entry.UserTier, budget, 0)
	if action != ActionAllow {
		t.logger.Info("budget enforcement triggered",
			zap.String("user_id", entry.UserID),
			zap.String("action", action.String()))
	}
	return action, nil
}

// CanAfford reports whether a projected charge stays strictly below
// every configured limit for the tier.
func (t *Tracker) CanAfford(userID string, amount float64, tier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	budget, ok := t.budgets[tier]
	if !ok {
		return true
	}
	t.resetWindowsLocked(userID)
	for _, w := range allWindows {
		limit := budget.limit(w)
		if limit == nil {
			continue
		}
		current := t.windowSpendLocked(userID, w)
		if current+amount >= *limit {
			return false
		}
	}
	return true
}

// WindowSpend returns the current spend for a (user, window) pair after
// applying any due reset.
func (t *Tracker) WindowSpend(userID string, w Window) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWindowsLocked(userID)
	return t.windowSpendLocked(userID, w)
}

// TotalCost returns the all-time ledger total.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// Snapshot returns copies of entries and aggregates, consistent at call
// time.
func (t *Tracker) Snapshot() (entries []CostEntry, byModel, byProvider map[string]float64, total float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries = make([]CostEntry, len(t.entries))
	copy(entries, t.entries)
	byModel = make(map[string]float64, len(t.byModel))
	for k, v := range t.byModel {
		byModel[k] = v
	}
	byProvider = make(map[string]float64, len(t.byProvider))
	for k, v := range t.byProvider {
		byProvider[k] = v
	}
	return entries, byModel, byProvider, t.totalCost
}

// windowStartFor computes the wall-clock boundary of a window.
func windowStartFor(w Window, now time.Time) time.Time {
	switch w {
	case WindowDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case WindowWeekly:
		// ISO weeks start on Monday.
		offset := (int(now.Weekday()) + 6) % 7
		start := now.AddDate(0, 0, -offset)
		return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	case WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Time{}
	}
}

func (t *Tracker) resetWindowsLocked(userID string) {
	now := t.now()
	userStates, ok := t.states[userID]
	if !ok {
		return
	}
	for _, w := range allWindows {
		if w == WindowTotal {
			continue
		}
		state, ok := userStates[w]
		if !ok {
			continue
		}
		boundary := windowStartFor(w, now)
		if !state.windowStart.Equal(boundary) {
			state.currentCost = 0
			state.windowStart = boundary
		}
	}
}

func (t *Tracker) addSpendLocked(userID string, cost float64) {
	now := t.now()
	userStates, ok := t.states[userID]
	if !ok {
		userStates = make(map[Window]*budgetState)
		t.states[userID] = userStates
	}
	for _, w := range allWindows {
		state, ok := userStates[w]
		if !ok {
			state = &budgetState{windowStart: windowStartFor(w, now)}
			userStates[w] = state
		}
		state.currentCost += cost
	}
}

func (t *Tracker) windowSpendLocked(userID string, w Window) float64 {
	if userStates, ok := t.states[userID]; ok {
		if state, ok := userStates[w]; ok {
			return state.currentCost
		}
	}
	return 0
}

// evaluateLocked runs the enforcement callback against the most
// constrained window. projected is added to current spend so callers can
// test a charge before recording it.
func (t *Tracker) evaluateLocked(userID, tier string, budget BudgetConfig, projected float64) Action {
	if t.callback == nil {
		return ActionAllow
	}
	worst := ActionAllow
	for _, w := range allWindows {
		limit := budget.limit(w)
		if limit == nil || *limit <= 0 {
			continue
		}
		current := t.windowSpendLocked(userID, w) + projected
		ctx := EnforcementContext{
			UserID:         userID,
			UserTier:       tier,
			CurrentCost:    current,
			BudgetLimit:    *limit,
			BudgetUsedPct:  current / *limit * 100,
			BudgetExceeded: current >= *limit,
		}
		if action := t.callback(ctx); action > worst {
			worst = action
		}
	}
	return worst
}

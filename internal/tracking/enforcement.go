package tracking

// EnforcementContext is the snapshot handed to enforcement callbacks.
type EnforcementContext struct {
	UserID         string  `json:"user_id"`
	UserTier       string  `json:"user_tier"`
	CurrentCost    float64 `json:"current_cost"`
	BudgetLimit    float64 `json:"budget_limit"`
	BudgetUsedPct  float64 `json:"budget_used_pct"`
	BudgetExceeded bool    `json:"budget_exceeded"`
}

// Action is the enforcement verdict. Ordered by severity so callbacks
// over multiple windows can keep the worst one.
type Action int

const (
	ActionAllow Action = iota
	ActionWarn
	ActionDegrade
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "WARN"
	case ActionDegrade:
		return "DEGRADE"
	case ActionBlock:
		return "BLOCK"
	default:
		return "ALLOW"
	}
}

// EnforcementMode selects how budget overruns are handled.
type EnforcementMode string

const (
	ModeOff     EnforcementMode = "off"
	ModeWarn    EnforcementMode = "warn"
	ModeStrict  EnforcementMode = "strict"
	ModeDegrade EnforcementMode = "degrade"
)

// Callback maps a budget snapshot to an action.
type Callback func(EnforcementContext) Action

// StrictCallback blocks the moment a budget is fully consumed.
func StrictCallback(ctx EnforcementContext) Action {
	if ctx.BudgetExceeded {
		return ActionBlock
	}
	return ActionAllow
}

// GracefulCallback warns between 80% and 100% and degrades to a cheaper
// model once the budget is exhausted, never blocking outright.
func GracefulCallback(ctx EnforcementContext) Action {
	switch {
	case ctx.BudgetExceeded:
		return ActionDegrade
	case ctx.BudgetUsedPct >= 80:
		return ActionWarn
	default:
		return ActionAllow
	}
}

// TierBasedCallback scales severity with the tenant's tier: free users
// are blocked, pro users degraded, enterprise users only warned.
func TierBasedCallback(ctx EnforcementContext) Action {
	if !ctx.BudgetExceeded {
		if ctx.BudgetUsedPct >= 80 {
			return ActionWarn
		}
		return ActionAllow
	}
	switch ctx.UserTier {
	case "free":
		return ActionBlock
	case "pro":
		return ActionDegrade
	case "enterprise":
		return ActionWarn
	default:
		return ActionBlock
	}
}

// WarnOnlyCallback never interferes, it just surfaces pressure.
func WarnOnlyCallback(ctx EnforcementContext) Action {
	if ctx.BudgetExceeded || ctx.BudgetUsedPct >= 80 {
		return ActionWarn
	}
	return ActionAllow
}

func builtinCallback(mode EnforcementMode) Callback {
	switch mode {
	case ModeStrict:
		return StrictCallback
	case ModeDegrade:
		return GracefulCallback
	case ModeWarn:
		return WarnOnlyCallback
	default:
		return nil
	}
}

package llm

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/haoran/skuflow/internal/apperr"
	"github.com/haoran/skuflow/internal/logger"
)

// BudgetPhase is the three-phase daily budget state.
type BudgetPhase string

const (
	BudgetNormal    BudgetPhase = "NORMAL"
	BudgetWarning   BudgetPhase = "WARNING"
	BudgetExhausted BudgetPhase = "EXHAUSTED"
)

// UsageStore is the durable, cross-worker usage counter.
type UsageStore interface {
	// UsedTodayUSD returns the accumulated spend for today (UTC).
	UsedTodayUSD(ctx context.Context) (float64, error)
	// RecordUsage adds one call's cost and token count.
	RecordUsage(ctx context.Context, costUSD float64, tokens int64) error
}

// BudgetGuard enforces the daily LLM spend budget in three phases:
// NORMAL above 20% remaining, WARNING at 5-20% (evaluation operations
// only), EXHAUSTED at or below 5% (everything rejected). The durable
// counter lives in the database so every worker sees the same spend; a
// short-lived local cache keeps the hot path off the database.
type BudgetGuard struct {
	store       UsageStore
	dailyBudget float64
	cache       *gocache.Cache
}

const usedCacheKey = "llm:used_today"

// NewBudgetGuard creates a budget guard.
// Parameters:
//   - store: durable usage counter shared across workers.
//   - dailyBudgetUSD: daily spend ceiling; <=0 disables the guard.
// Returns:
//   - *BudgetGuard: initialized guard.
func NewBudgetGuard(store UsageStore, dailyBudgetUSD float64) *BudgetGuard {
	return &BudgetGuard{
		store:       store,
		dailyBudget: dailyBudgetUSD,
		cache:       gocache.New(5*time.Second, time.Minute),
	}
}

// evalOperations may still run during the WARNING phase.
var evalOperations = map[string]bool{
	"evaluate_document": true,
	"evaluate_page":     true,
}

// Check verifies the budget allows the given operation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - operation: operation tag from the CompletionRequest.
// Returns:
//   - BudgetPhase: current phase when the call is allowed.
//   - error: budget-exhausted error when the call must not proceed.
func (g *BudgetGuard) Check(ctx context.Context, operation string) (BudgetPhase, error) {
	if g.dailyBudget <= 0 {
		return BudgetNormal, nil
	}

	used, err := g.usedToday(ctx)
	if err != nil {
		// A broken counter must not take the pipeline down with it.
		logger.CtxWarn(ctx, "budget check failed, allowing call: %v", err)
		return BudgetNormal, nil
	}

	remainingPct := (g.dailyBudget - used) / g.dailyBudget
	if remainingPct < 0 {
		remainingPct = 0
	}

	if remainingPct <= 0.05 {
		return BudgetExhausted, apperr.New(apperr.CodeLLMBudgetExhausted, apperr.SeverityCritical,
			"daily LLM budget exhausted (%.1f%% remaining)", remainingPct*100)
	}
	if remainingPct <= 0.20 {
		if !evalOperations[operation] {
			return BudgetWarning, apperr.New(apperr.CodeLLMBudgetExhausted, apperr.SeverityWarning,
				"budget warning (%.1f%% remaining): only evaluation operations allowed", remainingPct*100)
		}
		return BudgetWarning, nil
	}
	return BudgetNormal, nil
}

// Record adds one call's spend to the shared counter.
func (g *BudgetGuard) Record(ctx context.Context, costUSD float64, tokens int64) error {
	g.cache.Delete(usedCacheKey)
	return g.store.RecordUsage(ctx, costUSD, tokens)
}

func (g *BudgetGuard) usedToday(ctx context.Context) (float64, error) {
	if v, ok := g.cache.Get(usedCacheKey); ok {
		return v.(float64), nil
	}
	used, err := g.store.UsedTodayUSD(ctx)
	if err != nil {
		return 0, err
	}
	g.cache.Set(usedCacheKey, used, gocache.DefaultExpiration)
	return used, nil
}

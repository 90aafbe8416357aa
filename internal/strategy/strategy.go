// Package strategy implements the decision policies that gate agent
// executions: recurring_payment, auto_rebalance, and price_alert.
//
// A strategy is a pure-ish decide function: given the stored agent and an
// injected "now", it returns a Decision describing whether to act, the
// action's parameters, and when to check again. Strategies never submit
// transactions and never write to the store; persistence of StatePatch and
// NextExecutionAt is the caller's job, so they are safe to call repeatedly.
package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumengrid/lumengrid/internal/pricefeed"
	"github.com/lumengrid/lumengrid/internal/stellar"
	"github.com/lumengrid/lumengrid/pkg/models"
)

// Context is the input to a decide function.
type Context struct {
	Agent models.Agent
	Now   time.Time
}

// Decision is the outcome of one strategy evaluation.
//
// Exactly one of the two variants holds: when ShouldExecute is true,
// Recipient and AmountXLM carry the action parameters; when false they are
// zero. NextExecutionAt is a scheduling hint (nil = unknown / not scheduled).
// StatePatch, when non-nil, is shallow-merged into the agent's StrategyState
// by the caller: keys present overwrite, keys absent are left untouched.
type Decision struct {
	ShouldExecute   bool
	Recipient       string
	AmountXLM       float64
	Reason          string
	NextExecutionAt *time.Time
	StatePatch      map[string]any
}

// DecideFunc evaluates one strategy. The error return is reserved for
// environment faults the strategy cannot classify (price feed down);
// configuration and business outcomes are always expressed as a no-execute
// Decision, never an error.
type DecideFunc func(ctx context.Context, sc Context) (Decision, error)

// Registry routes an agent's declared strategy id to its decide function.
// The lookup table is built once at startup; adding a strategy means
// registering one more entry here.
type Registry struct {
	strategies map[models.StrategyID]DecideFunc
}

// NewRegistry builds the registry with the three built-in strategies wired to
// their collaborators.
func NewRegistry(balances stellar.BalanceFetcher, prices pricefeed.Feed) *Registry {
	rebalance := &autoRebalance{balances: balances}
	alert := &priceAlert{prices: prices}
	return &Registry{
		strategies: map[models.StrategyID]DecideFunc{
			models.StrategyRecurringPayment: decideRecurringPayment,
			models.StrategyAutoRebalance:    rebalance.decide,
			models.StrategyPriceAlert:       alert.decide,
		},
	}
}

// Decide dispatches to the agent's strategy. An unrecognized strategy id is a
// terminal no-execute decision, not an error: such agents are legal at rest
// and simply never run.
func (r *Registry) Decide(ctx context.Context, sc Context) (Decision, error) {
	fn, ok := r.strategies[sc.Agent.Strategy]
	if !ok {
		return Decision{
			Reason: fmt.Sprintf("Unknown strategy: %s", sc.Agent.Strategy),
		}, nil
	}
	return fn(ctx, sc)
}

// ── Config coercion ─────────────────────────────────────────

// confField is a strategy config value after coercion. Dashboard
// clients send config values as strings or numbers interchangeably, so
// presence and numeric validity are tracked separately.
type confField struct {
	val     float64
	present bool
	valid   bool // numeric and finite
}

func numField(cfg map[string]any, key string) confField {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return confField{}
	}
	f := confField{present: true}
	switch v := raw.(type) {
	case float64:
		f.val, f.valid = v, isFinite(v)
	case float32:
		f.val, f.valid = float64(v), isFinite(float64(v))
	case int:
		f.val, f.valid = float64(v), true
	case int64:
		f.val, f.valid = float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			f.val, f.valid = parsed, isFinite(parsed)
		}
	}
	return f
}

func strField(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func isFinite(v float64) bool {
	return v == v && v < 1e308 && v > -1e308
}

// ── Shared decision helpers ─────────────────────────────────

func noExecute(reason string) Decision {
	return Decision{Reason: reason}
}

func noExecuteUntil(reason string, next time.Time) Decision {
	return Decision{Reason: reason, NextExecutionAt: &next}
}

// gateUntil returns the earliest instant the gate opens, given the previous
// instant and an interval in (possibly fractional) seconds.
func gateUntil(last time.Time, intervalSeconds float64) time.Time {
	return last.Add(time.Duration(intervalSeconds * float64(time.Second)))
}

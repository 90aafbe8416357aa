package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/lumengrid/lumengrid/internal/pricefeed"
	"github.com/lumengrid/lumengrid/internal/stellar"
)

// priceAlert sends a fixed amount when the USD price of the native asset
// crosses a configured bound. Unlike the other strategies it gates off its
// own strategyState.lastCheckedAt rather than lastExecutionAt, because it can
// check the price many times without ever executing.
type priceAlert struct {
	prices pricefeed.Feed
}

func (s *priceAlert) decide(ctx context.Context, sc Context) (Decision, error) {
	cfg := sc.Agent.StrategyConfig

	amount := numField(cfg, "alertAmount")
	if !amount.present || !amount.valid || amount.val <= 0 {
		return noExecute("Invalid alertAmount in strategy config"), nil
	}

	interval := numField(cfg, "checkIntervalSeconds")
	if !interval.present || !interval.valid || interval.val <= 0 {
		return noExecute("Invalid checkIntervalSeconds in strategy config"), nil
	}

	upper := numField(cfg, "upperBound")
	lower := numField(cfg, "lowerBound")
	if !upper.valid && !lower.valid {
		return noExecute("Missing upperBound or lowerBound in strategy config"), nil
	}
	if upper.valid && lower.valid && lower.val > upper.val {
		return noExecute("lowerBound exceeds upperBound in strategy config"), nil
	}

	if last, ok := stateTime(sc.Agent.StrategyState, "lastCheckedAt"); ok {
		next := gateUntil(last, interval.val)
		if sc.Now.Before(next) {
			return noExecuteUntil("Not due for a price check yet", next), nil
		}
	}

	// A feed failure is an infrastructure fault, not a decision outcome, and
	// must surface to the caller rather than masquerade as "not due".
	price, err := s.prices.Price(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch price: %w", err)
	}

	patch := map[string]any{
		"lastCheckedAt": sc.Now.UTC().Format(time.RFC3339),
		"lastPriceUsd":  price,
	}
	next := gateUntil(sc.Now, interval.val)

	var reason string
	switch {
	case upper.valid && price >= upper.val:
		reason = fmt.Sprintf("Price %g >= upper bound %g", price, upper.val)
	case lower.valid && price <= lower.val:
		reason = fmt.Sprintf("Price %g <= lower bound %g", price, lower.val)
	default:
		return Decision{
			Reason:          fmt.Sprintf("Price %g within bounds", price),
			NextExecutionAt: &next,
			StatePatch:      patch,
		}, nil
	}

	// The recipient is only needed once a bound actually fires, so it is
	// validated here instead of up front. A defect found at trigger time
	// still carries the state patch and reschedule so it keeps surfacing
	// every interval instead of silently stalling.
	recipient := strField(cfg, "recipient")
	if recipient == "" || !stellar.IsValidAddress(recipient) {
		return Decision{
			Reason:          "Missing or invalid recipient in strategy config",
			NextExecutionAt: &next,
			StatePatch:      patch,
		}, nil
	}

	return Decision{
		ShouldExecute:   true,
		Recipient:       recipient,
		AmountXLM:       amount.val,
		Reason:          reason,
		NextExecutionAt: &next,
		StatePatch:      patch,
	}, nil
}

// stateTime reads an RFC 3339 timestamp out of strategy state. Malformed or
// missing values disable the gate rather than erroring, since state is
// strategy-owned scratch space that may have been written by older versions.
func stateTime(state map[string]any, key string) (time.Time, bool) {
	raw, ok := state[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

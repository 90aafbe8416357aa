package strategy

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/lumengrid/lumengrid/internal/stellar"
)

// autoRebalance skims surplus native balance above a target level off to a
// configured recipient. The target is either an absolute targetBalanceXlm or
// derived from the live balance via targetRatio (a percentage).
type autoRebalance struct {
	balances stellar.BalanceFetcher
}

func (s *autoRebalance) decide(ctx context.Context, sc Context) (Decision, error) {
	cfg := sc.Agent.StrategyConfig

	recipient := strField(cfg, "recipient")
	if recipient == "" {
		return noExecute("Missing recipient in strategy config"), nil
	}
	if !stellar.IsValidAddress(recipient) {
		return noExecute("Invalid recipient address in strategy config"), nil
	}

	interval := numField(cfg, "checkInterval")
	if !interval.present || !interval.valid || interval.val <= 0 {
		return noExecute("Invalid checkInterval in strategy config"), nil
	}

	threshold := numField(cfg, "thresholdXlm")
	if !threshold.present || !threshold.valid || threshold.val <= 0 {
		return noExecute("Invalid thresholdXlm in strategy config"), nil
	}

	absolute := numField(cfg, "targetBalanceXlm")
	ratio := numField(cfg, "targetRatio")
	if !absolute.valid && !ratio.valid {
		return noExecute("Missing targetBalanceXlm or targetRatio in strategy config"), nil
	}

	if sc.Agent.LastExecutionAt != nil {
		next := gateUntil(*sc.Agent.LastExecutionAt, interval.val)
		if sc.Now.Before(next) {
			return noExecuteUntil("Not due yet", next), nil
		}
	}

	// Read failures and unparsable balances get no reschedule hint: guessing
	// a next-check time off a failed read would mask the outage.
	raw, err := s.balances.FetchBalance(ctx, sc.Agent.Owner)
	if err != nil {
		return noExecute(fmt.Sprintf("Failed to fetch balance: %v", err)), nil
	}
	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil || !isFinite(balance) {
		return noExecute(fmt.Sprintf("Failed to parse balance %q", raw)), nil
	}

	target := absolute.val
	if !absolute.valid {
		pct := math.Max(0, math.Min(100, ratio.val))
		target = balance * pct / 100
	}

	next := gateUntil(sc.Now, interval.val)
	excess := balance - target
	if excess <= threshold.val {
		return noExecuteUntil(fmt.Sprintf("No rebalance needed (excess %.7f XLM)", excess), next), nil
	}

	// Round to the native asset's 7 decimal places so the later stroop
	// conversion is exact.
	amount := math.Round(excess*1e7) / 1e7
	return Decision{
		ShouldExecute:   true,
		Recipient:       recipient,
		AmountXLM:       amount,
		Reason:          fmt.Sprintf("Rebalance due (excess %.7f XLM)", amount),
		NextExecutionAt: &next,
	}, nil
}

package strategy

import (
	"context"
	"fmt"

	"github.com/lumengrid/lumengrid/internal/stellar"
)

// decideRecurringPayment sends a fixed amount to a fixed recipient on a fixed
// cadence. The gate is measured from the agent's last execution: a fresh agent
// (LastExecutionAt nil) is due immediately, and an optional maxExecutions cap
// retires the agent permanently once ExecutionCount reaches it.
func decideRecurringPayment(_ context.Context, sc Context) (Decision, error) {
	cfg := sc.Agent.StrategyConfig

	recipient := strField(cfg, "recipient")
	if recipient == "" {
		return noExecute("Missing recipient in strategy config"), nil
	}
	if !stellar.IsValidAddress(recipient) {
		return noExecute("Invalid recipient address in strategy config"), nil
	}

	amount := numField(cfg, "amount")
	if !amount.present || !amount.valid || amount.val <= 0 {
		return noExecute("Invalid amount in strategy config"), nil
	}

	interval := numField(cfg, "intervalSeconds")
	if !interval.present || !interval.valid || interval.val <= 0 {
		return noExecute("Invalid intervalSeconds in strategy config"), nil
	}

	// The cap only applies when maxExecutions is present and numeric.
	if max := numField(cfg, "maxExecutions"); max.valid && float64(sc.Agent.ExecutionCount) >= max.val {
		return noExecute(fmt.Sprintf("Max executions reached (%d)", sc.Agent.ExecutionCount)), nil
	}

	if sc.Agent.LastExecutionAt != nil {
		next := gateUntil(*sc.Agent.LastExecutionAt, interval.val)
		if sc.Now.Before(next) {
			return noExecuteUntil("Not due yet", next), nil
		}
	}

	next := gateUntil(sc.Now, interval.val)
	return Decision{
		ShouldExecute:   true,
		Recipient:       recipient,
		AmountXLM:       amount.val,
		Reason:          "Recurring payment due",
		NextExecutionAt: &next,
	}, nil
}

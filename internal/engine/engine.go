// Package engine drives agent evaluation and execution. The Engine wraps the
// strategy registry twice: EvaluateDue is the read-only path safe to call from
// dashboard polling and the cron tick, ExecuteOnce actually builds and submits
// the on-chain action. Both persist the strategy's state patch and schedule
// hint; only ExecuteOnce ever touches execution bookkeeping.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumengrid/lumengrid/internal/stellar"
	"github.com/lumengrid/lumengrid/internal/store"
	"github.com/lumengrid/lumengrid/internal/strategy"
	"github.com/lumengrid/lumengrid/pkg/models"
)

// conflictRetries bounds re-reads when a versioned write loses a race.
const conflictRetries = 3

// Engine evaluates and executes agents against the injected collaborators.
type Engine struct {
	store     store.Store
	registry  *strategy.Registry
	builder   stellar.TxBuilder
	submitter stellar.TxSubmitter

	// locks serializes orchestrated executions per agent id so a manual
	// "execute now" racing a cron tick cannot both pass the due gate.
	locks sync.Map
}

// New wires an Engine. All collaborators are required.
func New(st store.Store, reg *strategy.Registry, builder stellar.TxBuilder, submitter stellar.TxSubmitter) *Engine {
	return &Engine{store: st, registry: reg, builder: builder, submitter: submitter}
}

// DueResult reports one read-only evaluation.
type DueResult struct {
	AgentID         string     `json:"agent_id"`
	ContractID      string     `json:"contract_id,omitempty"`
	Due             bool       `json:"due"`
	Reason          string     `json:"reason,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ExecutionResult reports one orchestrated execution attempt.
//
// Executed is true only when a submission came back SUCCESS or PENDING.
// XDR carries the unsigned envelope in build-only mode. Error and TxHash can
// coexist: an on-chain FAILED keeps its hash so the caller can inspect it.
type ExecutionResult struct {
	AgentID    string `json:"agent_id"`
	ContractID string `json:"contract_id,omitempty"`
	Executed   bool   `json:"executed"`
	Reason     string `json:"reason,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	XDR        string `json:"xdr,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EvaluateDue computes whether the agent is due without performing any
// on-chain action. The strategy's state patch and schedule hint are persisted
// so repeated polling keeps the stored record honest. A disabled agent short-
// circuits before the strategy runs and its schedule stays frozen.
//
// The only error returned is an infrastructure fault (store unreachable, or
// the price feed down for a price_alert agent); business outcomes are always
// expressed in the result.
func (e *Engine) EvaluateDue(ctx context.Context, agentID string, now time.Time) (*DueResult, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if store.IsNotFound(err) {
			return &DueResult{AgentID: agentID, Reason: "agent not found"}, nil
		}
		return nil, err
	}

	if !agent.AutoExecuteEnabled {
		return &DueResult{
			AgentID:    agent.ID,
			ContractID: agent.ContractID,
			Reason:     "auto-execute disabled",
		}, nil
	}

	decision, err := e.registry.Decide(ctx, strategy.Context{Agent: *agent, Now: now})
	if err != nil {
		return nil, fmt.Errorf("evaluate agent %s: %w", agent.ID, err)
	}

	if _, err := e.persistDecision(ctx, agent, decision); err != nil {
		return nil, err
	}

	return &DueResult{
		AgentID:         agent.ID,
		ContractID:      agent.ContractID,
		Due:             decision.ShouldExecute,
		Reason:          decision.Reason,
		NextExecutionAt: decision.NextExecutionAt,
	}, nil
}

// EvaluateAllForOwner fans EvaluateDue out over the owner's agents. Per-agent
// faults are folded into that agent's result so one broken feed cannot hide
// the rest of the fleet.
func (e *Engine) EvaluateAllForOwner(ctx context.Context, owner string, now time.Time) ([]DueResult, error) {
	agents, err := e.store.ListAgentsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	results := make([]DueResult, 0, len(agents))
	for _, a := range agents {
		r, err := e.EvaluateDue(ctx, a.ID, now)
		if err != nil {
			results = append(results, DueResult{AgentID: a.ID, ContractID: a.ContractID, Error: err.Error()})
			continue
		}
		results = append(results, *r)
	}
	return results, nil
}

// ExecuteOnce runs one full evaluate-build-submit cycle for the agent.
// AutoExecuteEnabled is deliberately ignored: this entry point also serves the
// manual "execute now" button, which must work on paused agents.
//
// When submit is false the envelope is built but not sent, Executed stays
// false, and the XDR is returned for an external signing step.
func (e *Engine) ExecuteOnce(ctx context.Context, agentID, sourceAddress string, submit bool, now time.Time) (*ExecutionResult, error) {
	mu := e.agentLock(agentID)
	mu.Lock()
	defer mu.Unlock()

	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if store.IsNotFound(err) {
			return &ExecutionResult{AgentID: agentID, Error: "agent not found"}, nil
		}
		return nil, err
	}
	if agent.ContractID == "" {
		return &ExecutionResult{AgentID: agent.ID, Error: "agent has no contract"}, nil
	}

	decision, err := e.registry.Decide(ctx, strategy.Context{Agent: *agent, Now: now})
	if err != nil {
		return nil, fmt.Errorf("execute agent %s: %w", agent.ID, err)
	}

	// Persist what the strategy learned before the due check: a price
	// observation must survive even if the execution below fails or skips.
	agent, err = e.persistDecision(ctx, agent, decision)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{AgentID: agent.ID, ContractID: agent.ContractID, Reason: decision.Reason}
	if !decision.ShouldExecute {
		return result, nil
	}

	stroops, ok := toStroops(decision.AmountXLM)
	if !ok {
		result.Error = "invalid amount"
		return result, nil
	}

	xdr, err := e.builder.BuildExecute(ctx, agent.ContractID, decision.Recipient, stroops, sourceAddress)
	if err != nil {
		result.Error = fmt.Sprintf("build transaction: %v", err)
		return result, nil
	}

	if !submit {
		result.XDR = xdr
		return result, nil
	}

	sub, err := e.submitter.Submit(ctx, xdr)
	if err != nil {
		// Nothing was confirmed to reach the network, so bookkeeping stays
		// untouched and a later cycle can safely retry.
		log.Warn().Str("agent_id", agent.ID).Err(err).Msg("submission failed")
		result.Error = err.Error()
		return result, nil
	}

	// The attempt reached consensus either way; count it and advance the
	// schedule before looking at the on-chain outcome.
	if err := e.recordAttempt(ctx, agent, decision, now); err != nil {
		return nil, err
	}

	result.TxHash = sub.Hash
	switch sub.Status {
	case models.TxStatusSuccess, models.TxStatusPending:
		result.Executed = true
		log.Info().
			Str("agent_id", agent.ID).
			Str("tx_hash", sub.Hash).
			Str("status", string(sub.Status)).
			Float64("amount_xlm", decision.AmountXLM).
			Msg("agent executed")
	default:
		result.Error = "execution failed on-chain"
		log.Warn().
			Str("agent_id", agent.ID).
			Str("tx_hash", sub.Hash).
			Msg("execution failed on-chain")
	}
	return result, nil
}

// ExecuteAllForOwner runs ExecuteOnce over every runnable agent of the owner:
// auto-execute on, contract deployed, strategy set.
func (e *Engine) ExecuteAllForOwner(ctx context.Context, owner, sourceAddress string, now time.Time) ([]ExecutionResult, error) {
	agents, err := e.store.ListAgentsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	results := make([]ExecutionResult, 0, len(agents))
	for _, a := range agents {
		if !a.AutoExecuteEnabled || a.ContractID == "" || a.Strategy == "" {
			continue
		}
		r, err := e.ExecuteOnce(ctx, a.ID, sourceAddress, true, now)
		if err != nil {
			results = append(results, ExecutionResult{AgentID: a.ID, ContractID: a.ContractID, Error: err.Error()})
			continue
		}
		results = append(results, *r)
	}
	return results, nil
}

// persistDecision writes the decision's state patch and schedule hint,
// retrying on version conflicts with a fresh read. Returns the updated record.
func (e *Engine) persistDecision(ctx context.Context, agent *models.Agent, d strategy.Decision) (*models.Agent, error) {
	patch := store.AgentPatch{StrategyState: d.StatePatch}
	if d.NextExecutionAt != nil {
		patch.NextExecutionAt = store.SetTime(*d.NextExecutionAt)
	} else {
		patch.NextExecutionAt = store.ClearTime()
	}
	return e.updateWithRetry(ctx, agent.ID, agent.Version, patch)
}

// recordAttempt advances execution bookkeeping after a confirmed submission.
func (e *Engine) recordAttempt(ctx context.Context, agent *models.Agent, d strategy.Decision, now time.Time) error {
	patch := store.AgentPatch{
		LastExecutionAt:     store.SetTime(now),
		IncrementExecutions: true,
	}
	if d.NextExecutionAt != nil {
		patch.NextExecutionAt = store.SetTime(*d.NextExecutionAt)
	}
	_, err := e.updateWithRetry(ctx, agent.ID, agent.Version, patch)
	return err
}

func (e *Engine) updateWithRetry(ctx context.Context, id string, version int64, patch store.AgentPatch) (*models.Agent, error) {
	for attempt := 0; ; attempt++ {
		updated, err := e.store.UpdateAgent(ctx, id, version, patch)
		if err == nil {
			return updated, nil
		}
		if !store.IsConflict(err) || attempt >= conflictRetries {
			return nil, err
		}
		fresh, gerr := e.store.GetAgent(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		version = fresh.Version
	}
}

func (e *Engine) agentLock(id string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// toStroops converts a display amount to the chain's smallest integer unit.
// Anything that does not land on a positive finite integer is a config defect.
func toStroops(amountXLM float64) (int64, bool) {
	raw := math.Round(amountXLM * models.StroopsPerXLM)
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 || raw > math.MaxInt64 {
		return 0, false
	}
	return int64(raw), true
}

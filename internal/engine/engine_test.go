package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumengrid/lumengrid/internal/pricefeed"
	"github.com/lumengrid/lumengrid/internal/store"
	"github.com/lumengrid/lumengrid/internal/strategy"
	"github.com/lumengrid/lumengrid/pkg/models"
)

const (
	testRecipient = "GBVFTZL5HIPT4PFQVTZVIWR77V7LWYCXU4CLYWWHHOEXB64XPG5LDMTU"
	testSource    = "GAOWNERAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA23"
)

type fakeBalances struct{ balance string }

func (f *fakeBalances) FetchBalance(context.Context, string) (string, error) {
	return f.balance, nil
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) Price(context.Context) (float64, error) { return f.price, f.err }

type fakeBuilder struct {
	xdr string
	err error

	gotContract string
	gotStroops  int64
}

func (f *fakeBuilder) BuildExecute(_ context.Context, contractID, _ string, amountStroops int64, _ string) (string, error) {
	f.gotContract = contractID
	f.gotStroops = amountStroops
	return f.xdr, f.err
}

func (f *fakeBuilder) BuildToggleActive(context.Context, string, string) (string, error) {
	return f.xdr, f.err
}

func (f *fakeBuilder) BuildInitialize(context.Context, string, string, string, string, string) (string, error) {
	return f.xdr, f.err
}

func (f *fakeBuilder) BuildPayment(context.Context, string, string, string) (string, error) {
	return f.xdr, f.err
}

type fakeSubmitter struct {
	result *models.SubmitResult
	err    error
	calls  int
}

func (f *fakeSubmitter) Submit(context.Context, string) (*models.SubmitResult, error) {
	f.calls++
	return f.result, f.err
}

type harness struct {
	store     store.Store
	engine    *Engine
	builder   *fakeBuilder
	submitter *fakeSubmitter
}

func newHarness(t *testing.T, prices pricefeed.Feed) *harness {
	t.Helper()
	st := store.NewMemoryStore(t.TempDir())
	t.Cleanup(func() { st.Close() })

	reg := strategy.NewRegistry(&fakeBalances{balance: "1000"}, prices)
	builder := &fakeBuilder{xdr: "AAAA-unsigned-envelope"}
	submitter := &fakeSubmitter{result: &models.SubmitResult{Hash: "deadbeef", Ledger: 12345, Status: models.TxStatusSuccess}}
	return &harness{
		store:     st,
		engine:    New(st, reg, builder, submitter),
		builder:   builder,
		submitter: submitter,
	}
}

func (h *harness) seedRecurring(t *testing.T, enabled bool) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		ID:         "agent-1",
		ContractID: "CCONTRACT",
		Owner:      "GOWNER",
		Name:       "rent",
		Strategy:   models.StrategyRecurringPayment,
		StrategyConfig: map[string]any{
			"recipient":       testRecipient,
			"amount":          float64(10),
			"intervalSeconds": float64(86400),
		},
		StrategyState:      map[string]any{},
		AutoExecuteEnabled: enabled,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	if err := h.store.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agent
}

func (h *harness) reload(t *testing.T, id string) *models.Agent {
	t.Helper()
	a, err := h.store.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("reload agent: %v", err)
	}
	return a
}

func TestEvaluateDueFreshRecurring(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, true)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r, err := h.engine.EvaluateDue(context.Background(), "agent-1", now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !r.Due {
		t.Fatalf("due = false, reason %q", r.Reason)
	}

	stored := h.reload(t, "agent-1")
	want := now.Add(86400 * time.Second)
	if stored.NextExecutionAt == nil || !stored.NextExecutionAt.Equal(want) {
		t.Fatalf("stored next = %v, want %v", stored.NextExecutionAt, want)
	}
	if stored.ExecutionCount != 0 || stored.LastExecutionAt != nil {
		t.Fatal("evaluate-only call touched execution bookkeeping")
	}
}

func TestEvaluateDueDisabledAgentScheduleFrozen(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	agent := h.seedRecurring(t, false)

	prior := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := h.store.UpdateAgent(context.Background(), agent.ID, agent.Version, store.AgentPatch{
		NextExecutionAt: store.SetTime(prior),
	}); err != nil {
		t.Fatalf("set prior schedule: %v", err)
	}

	r, err := h.engine.EvaluateDue(context.Background(), "agent-1", time.Now())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if r.Due {
		t.Fatal("disabled agent reported due")
	}

	stored := h.reload(t, "agent-1")
	if stored.NextExecutionAt == nil || !stored.NextExecutionAt.Equal(prior) {
		t.Fatalf("disabled agent schedule moved: %v", stored.NextExecutionAt)
	}
}

func TestEvaluateDueUnknownAgent(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	r, err := h.engine.EvaluateDue(context.Background(), "nope", time.Now())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if r.Due || r.Reason != "agent not found" {
		t.Fatalf("result = %+v", r)
	}
}

func TestExecuteOnceSuccess(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, true)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r, err := h.engine.ExecuteOnce(context.Background(), "agent-1", testSource, true, now)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !r.Executed || r.TxHash != "deadbeef" || r.Error != "" {
		t.Fatalf("result = %+v", r)
	}
	if h.builder.gotStroops != 100000000 {
		t.Fatalf("stroops = %d, want 100000000", h.builder.gotStroops)
	}

	stored := h.reload(t, "agent-1")
	if stored.ExecutionCount != 1 {
		t.Fatalf("execution count = %d", stored.ExecutionCount)
	}
	if stored.LastExecutionAt == nil || !stored.LastExecutionAt.Equal(now) {
		t.Fatalf("last execution = %v", stored.LastExecutionAt)
	}
}

func TestExecuteOnceIgnoresAutoExecuteFlag(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, false)

	r, err := h.engine.ExecuteOnce(context.Background(), "agent-1", testSource, true, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !r.Executed {
		t.Fatalf("manual execute blocked on paused agent: %+v", r)
	}
}

func TestExecuteOnceOnChainFailureCountsAttempt(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, true)
	h.submitter.result = &models.SubmitResult{Hash: "badc0de", Status: models.TxStatusFailed}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r, err := h.engine.ExecuteOnce(context.Background(), "agent-1", testSource, true, now)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Executed {
		t.Fatal("executed = true for FAILED status")
	}
	if r.Error != "execution failed on-chain" || r.TxHash != "badc0de" {
		t.Fatalf("result = %+v", r)
	}

	stored := h.reload(t, "agent-1")
	if stored.ExecutionCount != 1 {
		t.Fatalf("FAILED must count the attempt, count = %d", stored.ExecutionCount)
	}
	if stored.LastExecutionAt == nil || !stored.LastExecutionAt.Equal(now) {
		t.Fatalf("FAILED must set last execution, got %v", stored.LastExecutionAt)
	}
}

func TestExecuteOnceSubmitErrorLeavesBookkeepingUntouched(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, true)
	h.submitter.result = nil
	h.submitter.err = errors.New("connection reset")

	r, err := h.engine.ExecuteOnce(context.Background(), "agent-1", testSource, true, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Executed || r.Error != "connection reset" {
		t.Fatalf("result = %+v", r)
	}

	stored := h.reload(t, "agent-1")
	if stored.ExecutionCount != 0 || stored.LastExecutionAt != nil {
		t.Fatalf("bookkeeping mutated after submit error: count=%d last=%v",
			stored.ExecutionCount, stored.LastExecutionAt)
	}
}

func TestExecuteOnceBuildOnly(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, true)

	r, err := h.engine.ExecuteOnce(context.Background(), "agent-1", testSource, false, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Executed {
		t.Fatal("build-only marked executed")
	}
	if r.XDR != "AAAA-unsigned-envelope" {
		t.Fatalf("xdr = %q", r.XDR)
	}
	if h.submitter.calls != 0 {
		t.Fatal("build-only mode submitted")
	}
	stored := h.reload(t, "agent-1")
	if stored.ExecutionCount != 0 {
		t.Fatal("build-only mode counted an execution")
	}
}

func TestExecuteOncePersistsStateBeforeDueCheck(t *testing.T) {
	h := newHarness(t, &fakePrices{price: 0.3})
	agent := &models.Agent{
		ID:         "alert-1",
		ContractID: "CCONTRACT",
		Owner:      "GOWNER",
		Strategy:   models.StrategyPriceAlert,
		StrategyConfig: map[string]any{
			"recipient":            testRecipient,
			"alertAmount":          float64(100),
			"upperBound":           float64(0.5),
			"lowerBound":           float64(0.1),
			"checkIntervalSeconds": float64(300),
		},
		StrategyState: map[string]any{},
	}
	if err := h.store.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Price within bounds: no execution, but the observation must land.
	r, err := h.engine.ExecuteOnce(context.Background(), "alert-1", testSource, true, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Executed {
		t.Fatal("executed with price inside bounds")
	}
	stored := h.reload(t, "alert-1")
	if got := stored.StrategyState["lastPriceUsd"]; got != 0.3 {
		t.Fatalf("lastPriceUsd = %v, want 0.3", got)
	}
	if stored.ExecutionCount != 0 {
		t.Fatal("no-execute cycle counted an execution")
	}
}

func TestExecuteOnceMissingContract(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	agent := h.seedRecurring(t, true)
	agent.ID = "agent-2"
	agent.ContractID = ""
	agent.Version = 0
	if err := h.store.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r, err := h.engine.ExecuteOnce(context.Background(), "agent-2", testSource, true, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Executed || r.Error != "agent has no contract" {
		t.Fatalf("result = %+v", r)
	}
}

func TestExecuteAllForOwnerFiltersRunnable(t *testing.T) {
	h := newHarness(t, &fakePrices{})
	h.seedRecurring(t, true)

	paused := h.seedAgentVariant(t, "agent-paused", func(a *models.Agent) { a.AutoExecuteEnabled = false })
	_ = paused
	h.seedAgentVariant(t, "agent-nocontract", func(a *models.Agent) { a.ContractID = "" })

	results, err := h.engine.ExecuteAllForOwner(context.Background(), "GOWNER", testSource, time.Now())
	if err != nil {
		t.Fatalf("execute all: %v", err)
	}
	if len(results) != 1 || results[0].AgentID != "agent-1" {
		t.Fatalf("results = %+v", results)
	}
}

func (h *harness) seedAgentVariant(t *testing.T, id string, mutate func(*models.Agent)) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		ID:         id,
		ContractID: "CCONTRACT",
		Owner:      "GOWNER",
		Strategy:   models.StrategyRecurringPayment,
		StrategyConfig: map[string]any{
			"recipient":       testRecipient,
			"amount":          float64(1),
			"intervalSeconds": float64(60),
		},
		StrategyState:      map[string]any{},
		AutoExecuteEnabled: true,
	}
	mutate(agent)
	if err := h.store.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return agent
}

func TestEvaluateAllForOwnerFoldsFaults(t *testing.T) {
	h := newHarness(t, &fakePrices{err: errors.New("feed down")})
	h.seedRecurring(t, true)

	alert := h.seedAgentVariant(t, "alert-1", func(a *models.Agent) {
		a.Strategy = models.StrategyPriceAlert
		a.StrategyConfig = map[string]any{
			"alertAmount":          float64(1),
			"upperBound":           float64(0.5),
			"checkIntervalSeconds": float64(300),
		}
	})
	_ = alert

	results, err := h.engine.EvaluateAllForOwner(context.Background(), "GOWNER", time.Now())
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	var faulted bool
	for _, r := range results {
		if r.AgentID == "alert-1" && r.Error != "" {
			faulted = true
		}
	}
	if !faulted {
		t.Fatal("feed fault not folded into the agent's result")
	}
}

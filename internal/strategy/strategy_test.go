package strategy

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lumengrid/lumengrid/pkg/models"
)

const testRecipient = "GBVFTZL5HIPT4PFQVTZVIWR77V7LWYCXU4CLYWWHHOEXB64XPG5LDMTU"

type fakeBalances struct {
	balance string
	err     error
}

func (f *fakeBalances) FetchBalance(context.Context, string) (string, error) {
	return f.balance, f.err
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) Price(context.Context) (float64, error) {
	return f.price, f.err
}

func testRegistry(balance string, price float64) *Registry {
	return NewRegistry(&fakeBalances{balance: balance}, &fakePrices{price: price})
}

func agentWith(strategy models.StrategyID, cfg map[string]any) models.Agent {
	return models.Agent{
		ID:             "agent-1",
		ContractID:     "CCONTRACT",
		Owner:          "GOWNER",
		Strategy:       strategy,
		StrategyConfig: cfg,
		StrategyState:  map[string]any{},
	}
}

func TestRecurringFreshAgentIsDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agent := agentWith(models.StrategyRecurringPayment, map[string]any{
		"recipient":       testRecipient,
		"amount":          float64(10),
		"intervalSeconds": float64(86400),
	})

	d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: now})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.ShouldExecute {
		t.Fatalf("expected execute, got %q", d.Reason)
	}
	if d.AmountXLM != 10 || d.Recipient != testRecipient {
		t.Fatalf("unexpected action: %+v", d)
	}
	want := now.Add(86400 * time.Second)
	if d.NextExecutionAt == nil || !d.NextExecutionAt.Equal(want) {
		t.Fatalf("next = %v, want %v", d.NextExecutionAt, want)
	}
}

func TestRecurringGateMonotonicity(t *testing.T) {
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	agent := agentWith(models.StrategyRecurringPayment, map[string]any{
		"recipient":       testRecipient,
		"amount":          float64(5),
		"intervalSeconds": float64(3600),
	})
	agent.LastExecutionAt = &last
	gate := last.Add(3600 * time.Second)

	for _, offset := range []time.Duration{0, time.Second, 30 * time.Minute, 59*time.Minute + 59*time.Second} {
		d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: last.Add(offset)})
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if d.ShouldExecute {
			t.Fatalf("executed %v before gate", offset)
		}
		if d.NextExecutionAt == nil || !d.NextExecutionAt.Equal(gate) {
			t.Fatalf("offset %v: next = %v, want exact gate %v", offset, d.NextExecutionAt, gate)
		}
	}

	d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: gate})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.ShouldExecute {
		t.Fatalf("not due at the gate instant: %q", d.Reason)
	}
}

func TestRecurringMaxExecutionsIsTerminal(t *testing.T) {
	agent := agentWith(models.StrategyRecurringPayment, map[string]any{
		"recipient":       testRecipient,
		"amount":          float64(5),
		"intervalSeconds": float64(60),
		"maxExecutions":   float64(3),
	})
	agent.ExecutionCount = 3

	for _, now := range []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: now})
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if d.ShouldExecute {
			t.Fatal("executed past the cap")
		}
		if d.NextExecutionAt != nil {
			t.Fatalf("capped agent rescheduled to %v", d.NextExecutionAt)
		}
		if !strings.Contains(d.Reason, "Max executions") {
			t.Fatalf("reason %q does not name the cap", d.Reason)
		}
	}
}

func TestRecurringConfigCoercion(t *testing.T) {
	// Dashboard clients send numbers as strings; both spellings must work.
	agent := agentWith(models.StrategyRecurringPayment, map[string]any{
		"recipient":       testRecipient,
		"amount":          "2.5",
		"intervalSeconds": "600",
	})
	d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.ShouldExecute || d.AmountXLM != 2.5 {
		t.Fatalf("string config not coerced: %+v", d)
	}
}

func TestRecurringInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  map[string]any
	}{
		{"missing recipient", map[string]any{"amount": 5.0, "intervalSeconds": 60.0}},
		{"bad address", map[string]any{"recipient": "not-an-address", "amount": 5.0, "intervalSeconds": 60.0}},
		{"zero amount", map[string]any{"recipient": testRecipient, "amount": 0.0, "intervalSeconds": 60.0}},
		{"non-numeric amount", map[string]any{"recipient": testRecipient, "amount": "lots", "intervalSeconds": 60.0}},
		{"missing interval", map[string]any{"recipient": testRecipient, "amount": 5.0}},
		{"negative interval", map[string]any{"recipient": testRecipient, "amount": 5.0, "intervalSeconds": -1.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agent := agentWith(models.StrategyRecurringPayment, tc.cfg)
			d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if d.ShouldExecute {
				t.Fatal("executed with defective config")
			}
			if d.NextExecutionAt != nil {
				t.Fatalf("validation failure rescheduled to %v", d.NextExecutionAt)
			}
		})
	}
}

func TestRebalanceAmountPrecision(t *testing.T) {
	now := time.Now()
	agent := agentWith(models.StrategyAutoRebalance, map[string]any{
		"recipient":     testRecipient,
		"checkInterval": float64(3600),
		"thresholdXlm":  float64(1),
		"targetRatio":   float64(50),
	})

	d, err := testRegistry("1000", 0).Decide(context.Background(), Context{Agent: agent, Now: now})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.ShouldExecute {
		t.Fatalf("expected execute, got %q", d.Reason)
	}
	if math.Abs(d.AmountXLM-500) > 1e-7 {
		t.Fatalf("amount = %v, want 500", d.AmountXLM)
	}
	if stroops := int64(math.Round(d.AmountXLM * models.StroopsPerXLM)); stroops != 5000000000 {
		t.Fatalf("stroops = %d, want 5000000000", stroops)
	}
}

func TestRebalanceAbsoluteTargetWins(t *testing.T) {
	agent := agentWith(models.StrategyAutoRebalance, map[string]any{
		"recipient":        testRecipient,
		"checkInterval":    float64(3600),
		"thresholdXlm":     float64(1),
		"targetBalanceXlm": float64(100),
		"targetRatio":      float64(99),
	})
	d, err := testRegistry("250.5", 0).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.ShouldExecute || math.Abs(d.AmountXLM-150.5) > 1e-7 {
		t.Fatalf("decision = %+v, want 150.5 over the absolute target", d)
	}
}

func TestRebalanceBelowThresholdReschedules(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agent := agentWith(models.StrategyAutoRebalance, map[string]any{
		"recipient":        testRecipient,
		"checkInterval":    float64(3600),
		"thresholdXlm":     float64(10),
		"targetBalanceXlm": float64(95),
	})
	d, err := testRegistry("100", 0).Decide(context.Background(), Context{Agent: agent, Now: now})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.ShouldExecute {
		t.Fatal("executed with excess below threshold")
	}
	want := now.Add(time.Hour)
	if d.NextExecutionAt == nil || !d.NextExecutionAt.Equal(want) {
		t.Fatalf("next = %v, want %v (insufficient excess still reschedules)", d.NextExecutionAt, want)
	}
}

func TestRebalanceBalanceFailureDoesNotReschedule(t *testing.T) {
	agent := agentWith(models.StrategyAutoRebalance, map[string]any{
		"recipient":        testRecipient,
		"checkInterval":    float64(3600),
		"thresholdXlm":     float64(1),
		"targetBalanceXlm": float64(50),
	})
	reg := NewRegistry(&fakeBalances{err: errors.New("horizon down")}, &fakePrices{})

	d, err := reg.Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("balance failure must not propagate: %v", err)
	}
	if d.ShouldExecute || d.NextExecutionAt != nil {
		t.Fatalf("decision = %+v, want bare no-execute", d)
	}

	reg = NewRegistry(&fakeBalances{balance: "not-a-number"}, &fakePrices{})
	d, err = reg.Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("unparsable balance must not propagate: %v", err)
	}
	if d.ShouldExecute || d.NextExecutionAt != nil {
		t.Fatalf("decision = %+v, want bare no-execute", d)
	}
}

func priceAlertConfig() map[string]any {
	return map[string]any{
		"recipient":            testRecipient,
		"alertAmount":          float64(100),
		"upperBound":           float64(0.5),
		"lowerBound":           float64(0.1),
		"checkIntervalSeconds": float64(300),
	}
}

func TestPriceAlertBoundsFireIndependently(t *testing.T) {
	cases := []struct {
		price   float64
		execute bool
		reason  string
	}{
		{0.05, true, "lower"},
		{0.6, true, "upper"},
		{0.3, false, "within"},
	}
	for _, tc := range cases {
		agent := agentWith(models.StrategyPriceAlert, priceAlertConfig())
		d, err := testRegistry("0", tc.price).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
		if err != nil {
			t.Fatalf("price %v: %v", tc.price, err)
		}
		if d.ShouldExecute != tc.execute {
			t.Fatalf("price %v: execute = %v, reason %q", tc.price, d.ShouldExecute, d.Reason)
		}
		if !strings.Contains(d.Reason, tc.reason) {
			t.Fatalf("price %v: reason %q does not name %q", tc.price, d.Reason, tc.reason)
		}
		if tc.execute && d.AmountXLM != 100 {
			t.Fatalf("price %v: amount = %v", tc.price, d.AmountXLM)
		}
	}
}

func TestPriceAlertAlwaysWritesState(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, price := range []float64{0.05, 0.3, 0.6} {
		agent := agentWith(models.StrategyPriceAlert, priceAlertConfig())
		d, err := testRegistry("0", price).Decide(context.Background(), Context{Agent: agent, Now: now})
		if err != nil {
			t.Fatalf("price %v: %v", price, err)
		}
		if d.StatePatch == nil {
			t.Fatalf("price %v: no state patch", price)
		}
		if got := d.StatePatch["lastPriceUsd"]; got != price {
			t.Fatalf("lastPriceUsd = %v, want %v", got, price)
		}
		if got := d.StatePatch["lastCheckedAt"]; got != now.Format(time.RFC3339) {
			t.Fatalf("lastCheckedAt = %v", got)
		}
	}
}

func TestPriceAlertGatesOffLastCheckedAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agent := agentWith(models.StrategyPriceAlert, priceAlertConfig())
	agent.StrategyState = map[string]any{
		"lastCheckedAt": now.Add(-100 * time.Second).Format(time.RFC3339),
	}

	d, err := testRegistry("0", 0.6).Decide(context.Background(), Context{Agent: agent, Now: now})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.ShouldExecute {
		t.Fatal("checked price inside the check interval")
	}
	if d.StatePatch != nil {
		t.Fatal("gated evaluation must not touch state")
	}
	want := now.Add(200 * time.Second)
	if d.NextExecutionAt == nil || !d.NextExecutionAt.Equal(want) {
		t.Fatalf("next = %v, want %v", d.NextExecutionAt, want)
	}
}

func TestPriceAlertRecipientValidatedLazily(t *testing.T) {
	cfg := priceAlertConfig()
	delete(cfg, "recipient")
	agent := agentWith(models.StrategyPriceAlert, cfg)

	// Within bounds: the missing recipient is never looked at.
	d, err := testRegistry("0", 0.3).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.ShouldExecute || strings.Contains(d.Reason, "recipient") {
		t.Fatalf("recipient validated eagerly: %+v", d)
	}

	// Triggered: now the defect surfaces, with state and schedule intact.
	d, err = testRegistry("0", 0.6).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.ShouldExecute {
		t.Fatal("executed without a recipient")
	}
	if !strings.Contains(d.Reason, "recipient") {
		t.Fatalf("reason %q does not name the recipient defect", d.Reason)
	}
	if d.StatePatch == nil || d.NextExecutionAt == nil {
		t.Fatalf("trigger-time defect dropped state or schedule: %+v", d)
	}
}

func TestPriceAlertInvertedBoundsRejected(t *testing.T) {
	cfg := priceAlertConfig()
	cfg["upperBound"] = float64(0.1)
	cfg["lowerBound"] = float64(0.5)
	agent := agentWith(models.StrategyPriceAlert, cfg)

	d, err := testRegistry("0", 0.3).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.ShouldExecute || d.StatePatch != nil {
		t.Fatalf("inverted bounds accepted: %+v", d)
	}
	if !strings.Contains(d.Reason, "lowerBound exceeds upperBound") {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestPriceAlertFeedFailurePropagates(t *testing.T) {
	feedErr := errors.New("coingecko 503")
	reg := NewRegistry(&fakeBalances{}, &fakePrices{err: feedErr})
	agent := agentWith(models.StrategyPriceAlert, priceAlertConfig())

	_, err := reg.Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if !errors.Is(err, feedErr) {
		t.Fatalf("err = %v, want wrapped feed error", err)
	}
}

func TestUnknownStrategyNeverExecutes(t *testing.T) {
	agent := agentWith(models.StrategyID("dollar_cost_average"), map[string]any{})
	d, err := testRegistry("0", 0).Decide(context.Background(), Context{Agent: agent, Now: time.Now()})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.ShouldExecute || d.NextExecutionAt != nil {
		t.Fatalf("decision = %+v", d)
	}
	if !strings.Contains(d.Reason, "dollar_cost_average") {
		t.Fatalf("reason %q does not name the strategy", d.Reason)
	}
}

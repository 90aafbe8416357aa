package models

import "time"

// ── Strategy identifiers ─────────────────────────────────────

// StrategyID names a decision policy an agent runs under.
type StrategyID string

const (
	StrategyRecurringPayment StrategyID = "recurring_payment"
	StrategyAutoRebalance    StrategyID = "auto_rebalance"
	StrategyPriceAlert       StrategyID = "price_alert"
)

// ── Agent ────────────────────────────────────────────────────

// Agent is the persisted record for a deployed payment agent.
//
// StrategyConfig and StrategyState are stored as open JSON maps: config values
// may arrive from the dashboard as strings or numbers and are coerced at the
// strategy boundary. State keys are owned exclusively by the strategy that
// writes them.
type Agent struct {
	ID         string     `json:"id" db:"id"`
	ContractID string     `json:"contract_id" db:"contract_id"`
	Owner      string     `json:"owner" db:"owner"`
	Name       string     `json:"name" db:"name"`
	Strategy   StrategyID `json:"strategy" db:"strategy"`
	TemplateID string     `json:"template_id,omitempty" db:"template_id"`
	TxHash     string     `json:"tx_hash,omitempty" db:"tx_hash"`

	StrategyConfig map[string]any `json:"strategy_config,omitempty" db:"strategy_config"`
	StrategyState  map[string]any `json:"strategy_state,omitempty" db:"strategy_state"`

	AutoExecuteEnabled bool           `json:"auto_execute_enabled" db:"auto_execute_enabled"`
	Reminders          *ReminderPrefs `json:"reminders,omitempty" db:"reminders"`

	// NextExecutionAt is a scheduling hint only. Every evaluation re-derives
	// the real gating decision from LastExecutionAt / StrategyState.
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty" db:"last_execution_at"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty" db:"next_execution_at"`

	// ExecutionCount counts orchestrated execution attempts, including
	// on-chain failures. Evaluate-only calls never touch it.
	ExecutionCount int `json:"execution_count" db:"execution_count"`

	// Version is bumped on every store write and checked on update
	// (optimistic concurrency).
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.StrategyConfig = cloneMap(a.StrategyConfig)
	cp.StrategyState = cloneMap(a.StrategyState)
	if a.Reminders != nil {
		r := *a.Reminders
		cp.Reminders = &r
	}
	if a.LastExecutionAt != nil {
		t := *a.LastExecutionAt
		cp.LastExecutionAt = &t
	}
	if a.NextExecutionAt != nil {
		t := *a.NextExecutionAt
		cp.NextExecutionAt = &t
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// ── Reminders ────────────────────────────────────────────────

// ReminderChannels toggles where due notifications are delivered.
type ReminderChannels struct {
	InApp    bool `json:"in_app,omitempty"`
	Email    bool `json:"email,omitempty"`
	Telegram bool `json:"telegram,omitempty"`
	Discord  bool `json:"discord,omitempty"`
}

// ReminderPrefs holds an agent owner's notification preferences.
type ReminderPrefs struct {
	Channels          ReminderChannels `json:"channels"`
	EmailAddress      string           `json:"email_address,omitempty"`
	TelegramChatID    string           `json:"telegram_chat_id,omitempty"`
	DiscordWebhookURL string           `json:"discord_webhook_url,omitempty"`
	DigestMode        string           `json:"digest_mode,omitempty"` // "instant" or "daily"
}

// ── Submission ───────────────────────────────────────────────

// TxStatus is the terminal status reported by the submission collaborator.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "SUCCESS"
	TxStatusFailed  TxStatus = "FAILED"
	TxStatusPending TxStatus = "PENDING"
)

// SubmitResult is returned by the transaction submission collaborator.
type SubmitResult struct {
	Hash   string   `json:"hash"`
	Ledger int64    `json:"ledger"`
	Status TxStatus `json:"status"`
}

// StroopsPerXLM is the number of smallest integer units per display unit.
const StroopsPerXLM = 10_000_000

// Package store provides the agent store interface and its backends.
// The memory backend (JSON snapshot) is the zero-config default; Redis and
// PostgreSQL backends are selected once at startup and injected into the
// engine, never looked up from ambient state.
package store

import (
	"context"
	"time"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// Store is the persistence interface the scheduler and API depend on.
//
// UpdateAgent performs a per-record shallow-merge update guarded by an
// optimistic-concurrency check: the caller passes the Version it read, and
// the write is rejected with *ErrVersionConflict if the record has moved
// since. Nested StrategyConfig/StrategyState patches are merged key-by-key
// (overwrite-by-key, never a full replacement).
type Store interface {
	ListAgents(ctx context.Context) ([]models.Agent, error)
	ListAgentsByOwner(ctx context.Context, owner string) ([]models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, id string, version int64, patch AgentPatch) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Kind identifies a backend for health reporting.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
)

// NullableTime distinguishes "leave unchanged" (Set=false) from an explicit
// assignment, where a nil Value clears the field.
type NullableTime struct {
	Set   bool
	Value *time.Time
}

// SetTime builds an assignment to a concrete instant.
func SetTime(t time.Time) NullableTime {
	return NullableTime{Set: true, Value: &t}
}

// ClearTime builds an assignment to null.
func ClearTime() NullableTime {
	return NullableTime{Set: true, Value: nil}
}

// AgentPatch is a partial update. Nil / zero fields are left untouched.
type AgentPatch struct {
	Name   *string
	TxHash *string

	// StrategyConfig/StrategyState are shallow-merged into the stored maps.
	StrategyConfig map[string]any
	StrategyState  map[string]any

	AutoExecuteEnabled *bool
	Reminders          *models.ReminderPrefs

	LastExecutionAt NullableTime
	NextExecutionAt NullableTime

	// IncrementExecutions bumps ExecutionCount by one. Only the execution
	// orchestrator's post-submission bookkeeping sets this.
	IncrementExecutions bool
}

// applyPatch merges p into a in place and bumps the version. All backends
// funnel writes through this so merge semantics cannot drift between them.
func applyPatch(a *models.Agent, p AgentPatch, now time.Time) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.TxHash != nil {
		a.TxHash = *p.TxHash
	}
	if p.StrategyConfig != nil {
		a.StrategyConfig = mergeMaps(a.StrategyConfig, p.StrategyConfig)
	}
	if p.StrategyState != nil {
		a.StrategyState = mergeMaps(a.StrategyState, p.StrategyState)
	}
	if p.AutoExecuteEnabled != nil {
		a.AutoExecuteEnabled = *p.AutoExecuteEnabled
	}
	if p.Reminders != nil {
		r := *p.Reminders
		a.Reminders = &r
	}
	if p.LastExecutionAt.Set {
		a.LastExecutionAt = copyTime(p.LastExecutionAt.Value)
	}
	if p.NextExecutionAt.Set {
		a.NextExecutionAt = copyTime(p.NextExecutionAt.Value)
	}
	if p.IncrementExecutions {
		a.ExecutionCount++
	}
	a.Version++
	a.UpdatedAt = now
}

// mergeMaps overwrites dst keys present in patch; keys absent from patch are
// left untouched. Applying the same patch twice is idempotent.
func mergeMaps(dst, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

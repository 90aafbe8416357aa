// Package store: PostgreSQL-backed Store implementation.
// Strategy config/state live in JSONB columns; the version column backs the
// optimistic-concurrency check (UPDATE ... WHERE version = $n).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and creates the agents table if missing.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS lg_agents (
			id                   TEXT PRIMARY KEY,
			contract_id          TEXT NOT NULL DEFAULT '',
			owner                TEXT NOT NULL,
			name                 TEXT NOT NULL DEFAULT '',
			strategy             TEXT NOT NULL DEFAULT '',
			template_id          TEXT NOT NULL DEFAULT '',
			tx_hash              TEXT NOT NULL DEFAULT '',
			strategy_config      JSONB NOT NULL DEFAULT '{}',
			strategy_state       JSONB NOT NULL DEFAULT '{}',
			auto_execute_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			reminders            JSONB,
			last_execution_at    TIMESTAMPTZ,
			next_execution_at    TIMESTAMPTZ,
			execution_count      INTEGER NOT NULL DEFAULT 0,
			version              BIGINT NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_lg_agents_owner ON lg_agents (owner);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

const agentColumns = `id, contract_id, owner, name, strategy, template_id, tx_hash,
	strategy_config, strategy_state, auto_execute_enabled, reminders,
	last_execution_at, next_execution_at, execution_count, version, created_at, updated_at`

func (s *PostgresStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM lg_agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

func (s *PostgresStore) ListAgentsByOwner(ctx context.Context, owner string) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM lg_agents WHERE owner = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list agents by owner: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM lg_agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	cfg, state, rem, err := encodeJSONFields(agent)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO lg_agents (`+agentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		agent.ID, agent.ContractID, agent.Owner, agent.Name, string(agent.Strategy),
		agent.TemplateID, agent.TxHash, cfg, state, agent.AutoExecuteEnabled, rem,
		agent.LastExecutionAt, agent.NextExecutionAt, agent.ExecutionCount,
		agent.Version, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create agent %s: %w", agent.ID, err)
	}
	return nil
}

// UpdateAgent reads the row, applies the patch in Go (so merge semantics stay
// identical across backends), then writes it back guarded by the version
// predicate. Zero rows updated means the version moved under us.
func (s *PostgresStore) UpdateAgent(ctx context.Context, id string, version int64, patch AgentPatch) (*models.Agent, error) {
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Version != version {
		return nil, &ErrVersionConflict{ID: id, Expected: version, Actual: a.Version}
	}

	applyPatch(a, patch, time.Now().UTC())
	cfg, state, rem, err := encodeJSONFields(a)
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE lg_agents SET
			name = $1, tx_hash = $2, strategy_config = $3, strategy_state = $4,
			auto_execute_enabled = $5, reminders = $6, last_execution_at = $7,
			next_execution_at = $8, execution_count = $9, version = $10, updated_at = $11
		WHERE id = $12 AND version = $13`,
		a.Name, a.TxHash, cfg, state, a.AutoExecuteEnabled, rem,
		a.LastExecutionAt, a.NextExecutionAt, a.ExecutionCount, a.Version,
		a.UpdatedAt, id, version)
	if err != nil {
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &ErrVersionConflict{ID: id, Expected: version, Actual: -1}
	}
	return a, nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lg_agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{ID: id}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Row mapping ──────────────────────────────────────────────

func scanAgents(rows pgx.Rows) ([]models.Agent, error) {
	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var (
		a        models.Agent
		strategy string
		cfg      []byte
		state    []byte
		rem      []byte
	)
	err := row.Scan(&a.ID, &a.ContractID, &a.Owner, &a.Name, &strategy,
		&a.TemplateID, &a.TxHash, &cfg, &state, &a.AutoExecuteEnabled, &rem,
		&a.LastExecutionAt, &a.NextExecutionAt, &a.ExecutionCount, &a.Version,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Strategy = models.StrategyID(strategy)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &a.StrategyConfig); err != nil {
			return nil, fmt.Errorf("decode strategy_config: %w", err)
		}
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &a.StrategyState); err != nil {
			return nil, fmt.Errorf("decode strategy_state: %w", err)
		}
	}
	if len(rem) > 0 {
		if err := json.Unmarshal(rem, &a.Reminders); err != nil {
			return nil, fmt.Errorf("decode reminders: %w", err)
		}
	}
	return &a, nil
}

func encodeJSONFields(a *models.Agent) (cfg, state, rem []byte, err error) {
	if cfg, err = json.Marshal(orEmpty(a.StrategyConfig)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode strategy_config: %w", err)
	}
	if state, err = json.Marshal(orEmpty(a.StrategyState)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode strategy_state: %w", err)
	}
	if a.Reminders != nil {
		if rem, err = json.Marshal(a.Reminders); err != nil {
			return nil, nil, nil, fmt.Errorf("encode reminders: %w", err)
		}
	}
	return cfg, state, rem, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Package store: Redis-backed Store implementation.
// Each agent lives under its own key so writers never serialize the whole
// collection; updates run inside a WATCH transaction so the version check
// and the write are atomic.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis using a redis:// URL. The prefix namespaces
// all keys (default "agents").
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if prefix == "" {
		prefix = "agents"
	}
	return &RedisStore{client: redis.NewClient(opt), prefix: prefix}, nil
}

func (s *RedisStore) agentKey(id string) string { return s.prefix + ":agent:" + id }
func (s *RedisStore) idsKey() string            { return s.prefix + ":ids" }

func (s *RedisStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	return s.readAgents(ctx, ids, "")
}

func (s *RedisStore) ListAgentsByOwner(ctx context.Context, owner string) ([]models.Agent, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	return s.readAgents(ctx, ids, owner)
}

// readAgents fetches agents by id, optionally filtering by owner. Stale ids
// whose record has vanished are skipped, not treated as errors.
func (s *RedisStore) readAgents(ctx context.Context, ids []string, owner string) ([]models.Agent, error) {
	out := make([]models.Agent, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.agentKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read agent %s: %w", id, err)
		}
		var a models.Agent
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode agent %s: %w", id, err)
		}
		if owner != "" && a.Owner != owner {
			continue
		}
		out = append(out, a)
	}
	sortByCreated(out)
	return out, nil
}

func (s *RedisStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	raw, err := s.client.Get(ctx, s.agentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, &ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("read agent %s: %w", id, err)
	}
	var a models.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return &a, nil
}

func (s *RedisStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.agentKey(agent.ID), raw, 0)
	pipe.SAdd(ctx, s.idsKey(), agent.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create agent %s: %w", agent.ID, err)
	}
	return nil
}

func (s *RedisStore) UpdateAgent(ctx context.Context, id string, version int64, patch AgentPatch) (*models.Agent, error) {
	key := s.agentKey(id)
	var updated *models.Agent

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return &ErrNotFound{ID: id}
		}
		if err != nil {
			return err
		}
		var a models.Agent
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("decode agent %s: %w", id, err)
		}
		if a.Version != version {
			return &ErrVersionConflict{ID: id, Expected: version, Actual: a.Version}
		}

		applyPatch(&a, patch, time.Now().UTC())
		out, err := json.Marshal(&a)
		if err != nil {
			return fmt.Errorf("encode agent %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &a
		return nil
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		// A concurrent write under WATCH aborts the transaction; surface it
		// as the same conflict error the version check produces.
		if errors.Is(err, redis.TxFailedErr) {
			return nil, &ErrVersionConflict{ID: id, Expected: version, Actual: -1}
		}
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) DeleteAgent(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.agentKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if err := s.client.SRem(ctx, s.idsKey(), id).Err(); err != nil {
		return fmt.Errorf("unindex agent %s: %w", id, err)
	}
	if n == 0 {
		return &ErrNotFound{ID: id}
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Package store: in-memory Store implementation.
// The default backend for local development. Supports file-based JSON
// snapshot persistence so agents survive restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Agents []models.Agent `json:"agents"`
}

// MemoryStore implements Store with an in-memory map keyed by agent ID.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// agents are persisted to agents.json in that directory and loaded back on
// startup.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		agents: make(map[string]*models.Agent),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "agents.json")
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

func (m *MemoryStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) ListAgentsByOwner(ctx context.Context, owner string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Agent
	for _, a := range m.agents {
		if a.Owner == owner {
			out = append(out, *a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return a.Clone(), nil
}

func (m *MemoryStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	m.mu.Lock()
	m.agents[agent.ID] = agent.Clone()
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAgent(ctx context.Context, id string, version int64, patch AgentPatch) (*models.Agent, error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{ID: id}
	}
	if a.Version != version {
		actual := a.Version
		m.mu.Unlock()
		return nil, &ErrVersionConflict{ID: id, Expected: version, Actual: actual}
	}
	applyPatch(a, patch, time.Now().UTC())
	updated := a.Clone()
	m.mu.Unlock()

	m.requestSave()
	return updated, nil
}

func (m *MemoryStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.agents[id]
	delete(m.agents, id)
	m.mu.Unlock()

	if !ok {
		return &ErrNotFound{ID: id}
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close flushes a final snapshot and stops the save goroutine.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Snapshot persistence ────────────────────────────────────

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	snap := snapshot{Agents: make([]models.Agent, 0, len(m.agents))}
	for _, a := range m.agents {
		snap.Agents = append(snap.Agents, *a.Clone())
	}
	m.mu.RUnlock()
	sortByCreated(snap.Agents)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Snapshot marshal failed")
		return
	}

	// Write to a temp file then rename so a crash mid-write cannot truncate
	// the snapshot.
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Snapshot write failed")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Snapshot rename failed")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Snapshot read failed")
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Snapshot parse failed, starting empty")
		return
	}

	m.mu.Lock()
	for i := range snap.Agents {
		a := snap.Agents[i]
		m.agents[a.ID] = &a
	}
	m.mu.Unlock()

	log.Info().Int("agents", len(snap.Agents)).Msg("Snapshot loaded")
}

func sortByCreated(agents []models.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
}

// Package checkpoint implements the Checkpoint Manager (C12): periodic
// crash-recovery snapshots of one session's live state, stored through an
// opaque Store collaborator and evicted down to the K most recent.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSaveInterval = 5 // M — save every M iterations
	defaultMaxRetained  = 3 // K — evict beyond the K most recent
)

// Checkpoint is a point-in-time snapshot of one session's engine state.
// MessagesJSON and PlanJSON are opaque serialized blobs — the checkpoint
// package does not depend on the context/planning packages' concrete
// types, keeping it a leaf dependency restorable by the Engine alone.
type Checkpoint struct {
	ID           string
	SessionID    string
	CreatedAt    time.Time
	Iteration    int
	State        string // AgentState at time of capture, serialized as text
	MessagesJSON string
	PlanJSON     string
	TokensUsed   int
}

// NewCheckpointID generates an opaque id: "ckpt_" + 8 random hex chars.
func NewCheckpointID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("ckpt_%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "ckpt_" + hex.EncodeToString(buf)
}

// Store is the narrow persistence collaborator a Manager is backed by.
// ListBySession must return checkpoints ordered newest-first.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	ListBySession(ctx context.Context, sessionID string) ([]*Checkpoint, error)
	Delete(ctx context.Context, id string) error
}

// Manager implements should_save / save_checkpoint / get_latest_checkpoint.
type Manager struct {
	store        Store
	saveInterval int
	maxRetained  int
	log          *zap.Logger
}

// NewManager constructs a Manager with the spec defaults (M=5, K=3) unless
// overridden via saveInterval/maxRetained > 0.
func NewManager(store Store, saveInterval, maxRetained int, log *zap.Logger) *Manager {
	if saveInterval <= 0 {
		saveInterval = defaultSaveInterval
	}
	if maxRetained <= 0 {
		maxRetained = defaultMaxRetained
	}
	return &Manager{store: store, saveInterval: saveInterval, maxRetained: maxRetained, log: log}
}

// ShouldSave reports whether iteration falls on a save boundary (every M
// iterations, M configured at construction).
func (m *Manager) ShouldSave(iteration int) bool {
	return iteration > 0 && iteration%m.saveInterval == 0
}

// Save persists cp (assigning an id and timestamp if not already set) and
// evicts the oldest checkpoints for cp.SessionID beyond the configured
// retention count. A save failure is logged and returned; it never
// corrupts already-persisted checkpoints.
func (m *Manager) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ID == "" {
		cp.ID = NewCheckpointID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	if err := m.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint: save failed: %w", err)
	}
	m.log.Info("checkpoint saved", zap.String("id", cp.ID), zap.String("session", cp.SessionID), zap.Int("iteration", cp.Iteration))

	m.evict(ctx, cp.SessionID)
	return nil
}

func (m *Manager) evict(ctx context.Context, sessionID string) {
	all, err := m.store.ListBySession(ctx, sessionID)
	if err != nil {
		m.log.Warn("checkpoint: failed to list for eviction", zap.Error(err))
		return
	}
	if len(all) <= m.maxRetained {
		return
	}
	for _, stale := range all[m.maxRetained:] {
		if err := m.store.Delete(ctx, stale.ID); err != nil {
			m.log.Warn("checkpoint: failed to evict stale checkpoint", zap.String("id", stale.ID), zap.Error(err))
		}
	}
}

// Latest returns the most recent checkpoint for sessionID, or nil if none
// exists.
func (m *Manager) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	all, err := m.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list failed: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/renlav/payledger/internal/platform/reconcile"
	"github.com/renlav/payledger/pkg/logger"
)

const snapshotKey = "payledger:reconcile:snapshot"

// SnapshotStore persists the reconciliation snapshot so restarts do not
// force a full pass when the ledger has not moved.
type SnapshotStore struct {
	client *redis.Client
	logger *logger.Logger
}

var _ reconcile.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a snapshot store
func NewSnapshotStore(client *redis.Client, log *logger.Logger) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		logger: log.WithField("component", "snapshot_store"),
	}
}

// Get returns the last stored snapshot, or nil if none exists
func (s *SnapshotStore) Get(ctx context.Context) (*reconcile.Snapshot, error) {
	val, err := s.client.Get(ctx, snapshotKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconcile snapshot: %w", err)
	}

	var snapshot reconcile.Snapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		// A corrupt snapshot just forces a full pass
		s.logger.Warn("discarding unreadable reconcile snapshot", "error", err)
		return nil, nil
	}
	return &snapshot, nil
}

// Set stores the snapshot
func (s *SnapshotStore) Set(ctx context.Context, snapshot reconcile.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set reconcile snapshot: %w", err)
	}
	return nil
}

// Clear removes the snapshot, forcing the next pass to run in full
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, snapshotKey).Err()
}

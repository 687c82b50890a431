package reconcile

import (
	"context"
	"time"
)

// Snapshot captures the ledger activity totals of the last successful pass.
// An unchanged triple means the ledger cannot have diverged from the local
// records, so the pass is skipped.
type Snapshot struct {
	BlockCount    uint64    `json:"block_count"`
	SpentCount    int       `json:"spent_count"`
	ReceivedCount int       `json:"received_count"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Equal compares only the activity totals, not the completion time
func (s Snapshot) Equal(other Snapshot) bool {
	return s.BlockCount == other.BlockCount &&
		s.SpentCount == other.SpentCount &&
		s.ReceivedCount == other.ReceivedCount
}

// SnapshotStore persists the reconciliation snapshot between runs. A stored
// snapshot also marks that this device has reconciled successfully at least
// once.
type SnapshotStore interface {
	// Get returns the last snapshot, or nil if the device never completed
	// a pass
	Get(ctx context.Context) (*Snapshot, error)
	Set(ctx context.Context, snapshot Snapshot) error
	Clear(ctx context.Context) error
}

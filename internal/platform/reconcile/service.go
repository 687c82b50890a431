package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/renlav/payledger/internal/platform/events"
	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/config"
	"github.com/renlav/payledger/pkg/logger"
)

// Service owns the reconciliation loop. Passes run one at a time on the
// service's own goroutine; requests that arrive mid-pass coalesce into a
// single follow-up pass.
type Service struct {
	store         payment.RecordStore
	client        ledger.Client
	snapshots     SnapshotStore
	bus           *events.Bus
	policy        *config.Policy
	primaryDevice bool
	log           *logger.Logger

	mu          sync.Mutex
	lastSuccess time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(
	store payment.RecordStore,
	client ledger.Client,
	snapshots SnapshotStore,
	bus *events.Bus,
	policy *config.Policy,
	primaryDevice bool,
	log *logger.Logger,
) *Service {
	return &Service{
		store:         store,
		client:        client,
		snapshots:     snapshots,
		bus:           bus,
		policy:        policy,
		primaryDevice: primaryDevice,
		log:           log.WithField("service", "reconcile"),
		stopCh:        make(chan struct{}),
	}
}

// Run drives periodic and requested passes until Stop is called. Requested
// passes (via the event bus) ignore the minimum interval; periodic checks
// honor it.
func (s *Service) Run(ctx context.Context) {
	requests := s.bus.Subscribe(events.ReconcileNow)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.policy.ReconcileCheckInterval.Std())
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-requests:
				if err := s.RunPass(ctx); err != nil {
					s.log.WithError(err).Error("requested reconcile pass failed")
				}
			case <-ticker.C:
				if !s.due() {
					continue
				}
				if err := s.RunPass(ctx); err != nil {
					s.log.WithError(err).Error("periodic reconcile pass failed")
				}
			}
		}
	}()
}

// Stop waits for the loop, including any in-flight pass, to finish
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// due reports whether enough time has passed since the last successful pass
// for a periodic run.
func (s *Service) due() bool {
	s.mu.Lock()
	last := s.lastSuccess
	s.mu.Unlock()
	if last.IsZero() {
		if snapshot, err := s.snapshots.Get(context.Background()); err == nil && snapshot != nil {
			last = snapshot.CompletedAt
		}
	}
	return time.Since(last) >= s.policy.ReconcileMinInterval.Std()
}

// RunPass executes one reconciliation pass synchronously: fetch ledger
// activity, skip if it matches the last snapshot, otherwise diff and repair
// inside a store transaction. The body runs read-only first; if it needs to
// write, it reruns once in a write transaction.
func (s *Service) RunPass(ctx context.Context) error {
	activity, err := s.client.GetAccountActivity(ctx)
	if err != nil {
		return fmt.Errorf("fetch account activity: %w", err)
	}

	items := make([]ledger.ActivityItem, 0, len(activity.Items))
	spentCount := 0
	for _, item := range activity.Items {
		if item.Amount.IsZero() {
			continue
		}
		items = append(items, item)
		if item.SpentBlock != nil {
			spentCount++
		}
	}
	current := Snapshot{
		BlockCount:    activity.BlockCount,
		SpentCount:    spentCount,
		ReceivedCount: len(items),
	}

	previous, err := s.snapshots.Get(ctx)
	if err != nil {
		s.log.WithError(err).Warn("reading reconcile snapshot failed")
	}
	if previous != nil && previous.Equal(current) {
		s.log.WithField("block_count", current.BlockCount).Debug("ledger activity unchanged, skipping pass")
		return nil
	}

	if err := s.runBody(ctx, items, previous != nil); err != nil {
		return err
	}

	current.CompletedAt = time.Now()
	if err := s.snapshots.Set(ctx, current); err != nil {
		s.log.WithError(err).Warn("persisting reconcile snapshot failed")
	}
	s.mu.Lock()
	s.lastSuccess = current.CompletedAt
	s.mu.Unlock()
	s.log.WithField("block_count", current.BlockCount).Info("reconcile pass complete")
	return nil
}

func (s *Service) runBody(ctx context.Context, items []ledger.ActivityItem, reconciledBefore bool) error {
	p := &pass{
		store:      s.store,
		log:        s.log,
		now:        time.Now(),
		markUnread: reconciledBefore || s.primaryDevice,
	}

	p.canWrite = false
	err := s.inTx(ctx, true, func(txCtx context.Context) error {
		return p.run(txCtx, items)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, errUnsavedChanges) {
		return err
	}

	p.canWrite = true
	return s.inTx(ctx, false, func(txCtx context.Context) error {
		return p.run(txCtx, items)
	})
}

func (s *Service) inTx(ctx context.Context, readOnly bool, fn func(context.Context) error) error {
	txCtx, err := s.store.BeginTx(ctx, readOnly)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txCtx); err != nil {
		if rbErr := s.store.RollbackTx(txCtx); rbErr != nil {
			s.log.WithError(rbErr).Error("rollback failed")
		}
		return err
	}
	if readOnly {
		// Nothing to persist from a read-only transaction
		return s.store.RollbackTx(txCtx)
	}
	return s.store.CommitTx(txCtx)
}

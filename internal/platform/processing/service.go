// Package processing drives payment records through the
// submit -> verify -> notify -> complete lifecycle, one transition per
// step, with category-based retry backoff.
package processing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/events"
	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/config"
	"github.com/renlav/payledger/pkg/logger"
)

const queueBuffer = 256

// Service is the payment processing state machine
type Service struct {
	store     payment.RecordStore
	payments  *payment.Service
	client    ledger.Client
	messaging payment.Messaging
	balance   payment.BalanceCache
	bus       *events.Bus
	policy    *config.Policy
	log       *logger.Logger

	// highQueue serializes unverified outgoing payments (the user's own
	// money in flight); defaultQueue serializes everything else. The two
	// run concurrently with each other.
	highQueue    *serialQueue
	defaultQueue *serialQueue
	scheduler    *retryScheduler

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}

	enabled atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewService creates the processing service
func NewService(
	store payment.RecordStore,
	payments *payment.Service,
	client ledger.Client,
	messaging payment.Messaging,
	balance payment.BalanceCache,
	bus *events.Bus,
	policy *config.Policy,
	log *logger.Logger,
) *Service {
	s := &Service{
		store:        store,
		payments:     payments,
		client:       client,
		messaging:    messaging,
		balance:      balance,
		bus:          bus,
		policy:       policy,
		log:          log.WithField("service", "processing"),
		highQueue:    newSerialQueue(queueBuffer),
		defaultQueue: newSerialQueue(queueBuffer),
		scheduler:    newRetryScheduler(),
		inFlight:     make(map[uuid.UUID]struct{}),
		stopCh:       make(chan struct{}),
	}
	s.enabled.Store(true)
	return s
}

// SetEnabled switches payment processing on or off
func (s *Service) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) == enabled {
		return
	}
	s.log.Info("payments enabled changed", "enabled", enabled)
	if !enabled {
		for _, id := range s.scheduler.cancelAll() {
			s.release(id)
		}
	}
}

// Enabled reports whether processing is switched on
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

// Run starts the queues and the periodic scan, blocking until ctx is done
// or Stop is called.
func (s *Service) Run(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.highQueue.run() }()
	go func() { defer s.wg.Done(); s.defaultQueue.run() }()

	// Connectivity or foreground events pre-empt pending retry timers and
	// force an immediate rescan
	wake := s.bus.Subscribe(events.ConnectivityRestored, events.AppBecameActive)

	s.log.Info("starting payment processing", "scan_interval", s.policy.ScanInterval.Std())

	ticker := time.NewTicker(s.policy.ScanInterval.Std())
	defer ticker.Stop()

	s.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.stopCh:
			s.shutdown()
			return
		case <-wake:
			s.log.Debug("wake event, forcing immediate retries")
			s.scheduler.fireAll()
			s.Scan(ctx)
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Stop terminates Run
func (s *Service) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)
}

func (s *Service) shutdown() {
	for _, id := range s.scheduler.cancelAll() {
		s.release(id)
	}
	s.highQueue.shutdown()
	s.defaultQueue.shutdown()
	s.wg.Wait()
	s.log.Info("payment processing stopped")
}

// Scan enumerates all non-terminal records, oldest first, and launches at
// most one processing attempt per record id.
func (s *Service) Scan(ctx context.Context) {
	if !s.enabled.Load() {
		return
	}

	records, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to list active payments")
		return
	}
	if len(records) == 0 {
		return
	}

	launched := 0
	for _, record := range records {
		if s.launch(ctx, record.ID, s.queueFor(record.State)) {
			launched++
		}
	}
	if launched > 0 {
		s.log.Debug("scan launched processing attempts",
			"active", len(records), "launched", launched)
	}
}

// queueFor routes unverified outgoing payments to the high-priority queue
func (s *Service) queueFor(state payment.PaymentState) *serialQueue {
	switch state {
	case payment.StateOutgoingUnsubmitted, payment.StateOutgoingUnverified:
		return s.highQueue
	}
	return s.defaultQueue
}

// launch acquires the in-flight slot for id and enqueues its first step
func (s *Service) launch(ctx context.Context, id uuid.UUID, queue *serialQueue) bool {
	if !s.acquire(id) {
		return false
	}
	if !queue.enqueue(func() { s.runStep(ctx, id, queue, 0) }) {
		s.release(id)
		return false
	}
	return true
}

// runStep executes one step for the record and schedules what follows:
// the next step, a deferred retry of this step, or nothing.
func (s *Service) runStep(ctx context.Context, id uuid.UUID, queue *serialQueue, retryCount int) {
	if ctx.Err() != nil || !s.enabled.Load() {
		s.release(id)
		return
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		// Deleted by reconciliation or supersession between steps
		s.log.WithError(err).Debug("payment vanished during processing", "payment_id", id)
		s.release(id)
		return
	}
	if record.State.IsTerminal() {
		s.release(id)
		return
	}

	res := s.step(ctx, record)
	switch res.outcome {
	case outcomeContinue:
		// A successful transition resets the backoff
		if !queue.enqueue(func() { s.runStep(ctx, id, queue, 0) }) {
			s.release(id)
		}

	case outcomeRetry:
		delay := retryDelay(s.policy, res.category, record.State.IsVerified(), retryCount)
		s.log.Debug("retry scheduled",
			"payment_id", id,
			"category", res.category.String(),
			"delay", delay,
			"retry", retryCount+1)
		s.scheduler.schedule(id, delay, func() {
			if !queue.enqueue(func() { s.runStep(ctx, id, queue, retryCount+1) }) {
				s.release(id)
			}
		})

	case outcomeEnd:
		s.release(id)
	}
}

// acquire reserves the single in-flight processing slot for a record
func (s *Service) acquire(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

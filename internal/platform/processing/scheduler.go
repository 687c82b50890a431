package processing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// retryScheduler arms one deferred retry per record. A connectivity or
// foreground event fires every pending retry immediately, pre-empting the
// timers.
type retryScheduler struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingRetry
}

type pendingRetry struct {
	timer *time.Timer
	fire  func()
}

func newRetryScheduler() *retryScheduler {
	return &retryScheduler{pending: make(map[uuid.UUID]*pendingRetry)}
}

// schedule arms a retry for id after delay. A retry already pending for the
// same id is replaced.
func (r *retryScheduler) schedule(id uuid.UUID, delay time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.pending[id]; ok {
		prev.timer.Stop()
	}

	p := &pendingRetry{fire: fire}
	p.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		// The entry may have been replaced or fired early
		if r.pending[id] != p {
			r.mu.Unlock()
			return
		}
		delete(r.pending, id)
		r.mu.Unlock()
		fire()
	})
	r.pending[id] = p
}

// fireAll pre-empts every pending timer and runs the retries now
func (r *retryScheduler) fireAll() {
	r.mu.Lock()
	fired := make([]*pendingRetry, 0, len(r.pending))
	for id, p := range r.pending {
		// A timer that cannot be stopped has its callback already in
		// flight; the entry must stay in pending so the callback still
		// finds itself current and runs the retry.
		if !p.timer.Stop() {
			continue
		}
		fired = append(fired, p)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, p := range fired {
		p.fire()
	}
}

// cancelAll drops every pending retry without firing and returns the
// record ids whose retries were cancelled
func (r *retryScheduler) cancelAll() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.pending))
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
		ids = append(ids, id)
	}
	return ids
}

// Package events is a small in-process trigger bus. Publishers never block:
// a trigger already pending for a subscriber is coalesced.
package events

import "sync"

// Kind identifies an inbound trigger
type Kind string

const (
	// AppBecameActive fires when the owning application returns to the
	// foreground
	AppBecameActive Kind = "app_became_active"
	// ConnectivityRestored fires when network reachability returns
	ConnectivityRestored Kind = "connectivity_restored"
	// PaymentsEnabledChanged fires when payments are switched on or off
	PaymentsEnabledChanged Kind = "payments_enabled_changed"
	// ReconcileNow requests an immediate reconciliation pass
	ReconcileNow Kind = "reconcile_now"
)

// Bus fans triggers out to subscribers
type Bus struct {
	mu   sync.Mutex
	subs map[Kind][]chan struct{}
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]chan struct{})}
}

// Subscribe returns a channel that receives a signal for every published
// kind in kinds. The channel has capacity one; concurrent publishes coalesce.
func (b *Bus) Subscribe(kinds ...Kind) <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], ch)
	}
	return ch
}

// Publish signals every subscriber of kind without blocking
func (b *Bus) Publish(kind Kind) {
	b.mu.Lock()
	subs := b.subs[kind]
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// a trigger is already pending for this subscriber
		}
	}
}

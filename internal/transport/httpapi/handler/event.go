package handler

import (
	"encoding/json"
	"net/http"

	"github.com/renlav/payledger/internal/platform/events"
)

// PaymentsToggler defines the processing control needed by EventHandler
type PaymentsToggler interface {
	SetEnabled(enabled bool)
	Enabled() bool
}

// EventHandler accepts lifecycle signals from the owning application:
// foreground transitions, connectivity changes and the payments toggle.
type EventHandler struct {
	bus        *events.Bus
	processing PaymentsToggler
}

// NewEventHandler creates a new event handler
func NewEventHandler(bus *events.Bus, processing PaymentsToggler) *EventHandler {
	return &EventHandler{bus: bus, processing: processing}
}

// EventRequest represents a lifecycle event
type EventRequest struct {
	Kind string `json:"kind"` // app_became_active, connectivity_restored
}

// PaymentsEnabledRequest represents the payments on/off toggle
type PaymentsEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// PostEvent handles POST /events
func (h *EventHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch events.Kind(req.Kind) {
	case events.AppBecameActive:
		h.bus.Publish(events.AppBecameActive)
	case events.ConnectivityRestored:
		h.bus.Publish(events.ConnectivityRestored)
	default:
		respondWithError(w, http.StatusBadRequest, "unknown event kind")
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// SetPaymentsEnabled handles PUT /settings/payments-enabled
func (h *EventHandler) SetPaymentsEnabled(w http.ResponseWriter, r *http.Request) {
	var req PaymentsEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.processing.SetEnabled(req.Enabled)
	h.bus.Publish(events.PaymentsEnabledChanged)

	respondWithJSON(w, http.StatusOK, PaymentsEnabledRequest{Enabled: h.processing.Enabled()})
}

// GetPaymentsEnabled handles GET /settings/payments-enabled
func (h *EventHandler) GetPaymentsEnabled(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, PaymentsEnabledRequest{Enabled: h.processing.Enabled()})
}

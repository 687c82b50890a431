package handler

import (
	"net/http"

	"github.com/renlav/payledger/internal/platform/events"
)

// ReconcileHandler handles on-demand reconciliation requests
type ReconcileHandler struct {
	bus *events.Bus
}

// NewReconcileHandler creates a new reconcile handler
func NewReconcileHandler(bus *events.Bus) *ReconcileHandler {
	return &ReconcileHandler{bus: bus}
}

// TriggerReconcile handles POST /reconcile
// Arms an immediate reconciliation pass. The pass itself runs on the
// reconciliation service's own loop; the request returns as soon as the
// trigger is queued.
func (h *ReconcileHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	h.bus.Publish(events.ReconcileNow)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

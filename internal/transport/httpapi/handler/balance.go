package handler

import (
	"context"
	"net/http"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

// BalanceFetcher defines the ledger operation needed by BalanceHandler
type BalanceFetcher interface {
	GetLocalBalance(ctx context.Context) (money.Amount, error)
}

// BalanceHandler handles spendable balance requests
type BalanceHandler struct {
	ledger BalanceFetcher
	cache  payment.BalanceCache
	log    *logger.Logger
}

// NewBalanceHandler creates a new balance handler
func NewBalanceHandler(ledger BalanceFetcher, cache payment.BalanceCache, log *logger.Logger) *BalanceHandler {
	return &BalanceHandler{
		ledger: ledger,
		cache:  cache,
		log:    log.WithField("handler", "balance"),
	}
}

// BalanceResponse represents the spendable balance in picoMOB
type BalanceResponse struct {
	Balance string `json:"balance"`
	Cached  bool   `json:"cached"`
}

// GetBalance handles GET /balance
// Serves the cached balance when present; falls through to the ledger and
// refreshes the cache otherwise.
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if cached, ok, err := h.cache.Get(r.Context()); err == nil && ok {
		respondWithJSON(w, http.StatusOK, BalanceResponse{Balance: cached, Cached: true})
		return
	} else if err != nil {
		h.log.Warn("balance cache read failed", "error", err)
	}

	balance, err := h.ledger.GetLocalBalance(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	if err := h.cache.Set(r.Context(), balance.String()); err != nil {
		h.log.Warn("balance cache write failed", "error", err)
	}

	respondWithJSON(w, http.StatusOK, BalanceResponse{Balance: balance.String(), Cached: false})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/money"
)

// PaymentServiceInterface defines the interface for payment record operations needed by PaymentHandler
type PaymentServiceInterface interface {
	CreateOutgoing(ctx context.Context, params payment.CreateOutgoingParams) (*payment.PaymentRecord, error)
	CreateIncoming(ctx context.Context, params payment.CreateIncomingParams) (*payment.PaymentRecord, error)
	ImportArchived(ctx context.Context, archived *payment.ArchivedPayment) error
	Get(ctx context.Context, id uuid.UUID) (*payment.PaymentRecord, error)
	List(ctx context.Context, filters payment.RecordFilters) ([]*payment.PaymentRecord, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// PaymentHandler handles payment record HTTP requests
type PaymentHandler struct {
	payments PaymentServiceInterface
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreatePaymentRequest represents an outgoing payment submission. The
// transaction has already been built and signed; bytes are base64.
type CreatePaymentRequest struct {
	Type             string   `json:"type"` // outgoing, outgoing_transfer, outgoing_defragmentation
	Amount           string   `json:"amount"`
	Fee              *string  `json:"fee,omitempty"`
	Transaction      []byte   `json:"transaction"`
	Receipt          []byte   `json:"receipt,omitempty"`
	SpentKeyImages   []string `json:"spent_key_images"`
	OutputPublicKeys []string `json:"output_public_keys"`
	CounterpartyID   *string  `json:"counterparty_id,omitempty"`
	Memo             *string  `json:"memo,omitempty"`
}

// CreateNotificationRequest represents an incoming payment notification
type CreateNotificationRequest struct {
	Receipt        []byte  `json:"receipt"`
	Amount         string  `json:"amount"`
	CounterpartyID *string `json:"counterparty_id,omitempty"`
	Memo           *string `json:"memo,omitempty"`
}

// ImportArchivedRequest represents an archived payment stub restored from a
// device backup
type ImportArchivedRequest struct {
	ID                    string   `json:"id"`
	Incoming              bool     `json:"incoming"`
	Transaction           []byte   `json:"transaction,omitempty"`
	Receipt               []byte   `json:"receipt,omitempty"`
	SpentKeyImages        []string `json:"spent_key_images,omitempty"`
	OutputPublicKeys      []string `json:"output_public_keys,omitempty"`
	IncomingTxoPublicKeys []string `json:"incoming_txo_public_keys,omitempty"`
	Failed                bool     `json:"failed"`
}

// PaymentResponse represents a payment record. Raw transaction and receipt
// bytes never leave the service; clients that need them hold their own copy.
type PaymentResponse struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	State             string  `json:"state"`
	Amount            string  `json:"amount"`
	CreatedAt         string  `json:"created_at"`
	CounterpartyID    *string `json:"counterparty_id,omitempty"`
	Memo              *string `json:"memo,omitempty"`
	BlockIndex        *uint64 `json:"block_index,omitempty"`
	BlockTimestamp    *string `json:"block_timestamp,omitempty"`
	Fee               *string `json:"fee,omitempty"`
	IsUnread          bool    `json:"is_unread"`
	Failure           string  `json:"failure,omitempty"`
	OutboundMessageID *string `json:"outbound_message_id,omitempty"`
}

// PaymentListResponse represents a filtered list of payment records
type PaymentListResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Total    int               `json:"total"`
}

func toPaymentResponse(record *payment.PaymentRecord) PaymentResponse {
	resp := PaymentResponse{
		ID:             record.ID.String(),
		Type:           string(record.Type),
		State:          string(record.State),
		Amount:         record.Amount.String(),
		CreatedAt:      record.CreatedAt.Format(time.RFC3339),
		CounterpartyID: record.CounterpartyID,
		Memo:           record.Memo,
		BlockIndex:     record.Ledger.BlockIndex,
		IsUnread:       record.IsUnread,
		Failure:        string(record.Failure),
	}
	if record.Ledger.BlockTimestamp != nil {
		ts := record.Ledger.BlockTimestamp.Format(time.RFC3339)
		resp.BlockTimestamp = &ts
	}
	if record.Ledger.Fee != nil {
		fee := record.Ledger.Fee.String()
		resp.Fee = &fee
	}
	if record.OutboundMessageID != nil {
		id := record.OutboundMessageID.String()
		resp.OutboundMessageID = &id
	}
	return resp
}

// CreatePayment handles POST /payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		req.Type = string(payment.TypeOutgoing)
	}
	if len(req.Transaction) == 0 {
		respondWithError(w, http.StatusBadRequest, "transaction is required")
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	var fee *money.Amount
	if req.Fee != nil {
		parsed, err := money.ParseAmount(*req.Fee)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid fee")
			return
		}
		fee = &parsed
	}

	record, err := h.payments.CreateOutgoing(r.Context(), payment.CreateOutgoingParams{
		Type:             payment.PaymentType(req.Type),
		Amount:           amount,
		Fee:              fee,
		TransactionBytes: req.Transaction,
		ReceiptBytes:     req.Receipt,
		SpentKeyImages:   req.SpentKeyImages,
		OutputPublicKeys: req.OutputPublicKeys,
		CounterpartyID:   req.CounterpartyID,
		Memo:             req.Memo,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidPaymentType) {
			respondWithError(w, http.StatusBadRequest, "invalid payment type")
			return
		}
		if errors.Is(err, payment.ErrDuplicateRecord) {
			respondWithError(w, http.StatusConflict, "payment already exists")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to create payment")
		return
	}

	respondWithJSON(w, http.StatusCreated, toPaymentResponse(record))
}

// CreateNotification handles POST /notifications
// Records an incoming payment announced by a counterparty message.
func (h *PaymentHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Receipt) == 0 {
		respondWithError(w, http.StatusBadRequest, "receipt is required")
		return
	}

	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	record, err := h.payments.CreateIncoming(r.Context(), payment.CreateIncomingParams{
		ReceiptBytes:   req.Receipt,
		Amount:         amount,
		CounterpartyID: req.CounterpartyID,
		Memo:           req.Memo,
	})
	if err != nil {
		if errors.Is(err, payment.ErrDuplicateRecord) {
			respondWithError(w, http.StatusConflict, "payment already exists")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to record notification")
		return
	}

	respondWithJSON(w, http.StatusCreated, toPaymentResponse(record))
}

// ImportArchived handles POST /archived
// Accepts a backed-up payment stub; reconciliation rehydrates it once the
// ledger shows matching activity.
func (h *PaymentHandler) ImportArchived(w http.ResponseWriter, r *http.Request) {
	var req ImportArchivedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid archived payment id")
		return
	}

	archived := &payment.ArchivedPayment{
		ID:                    id,
		Incoming:              req.Incoming,
		TransactionBytes:      req.Transaction,
		ReceiptBytes:          req.Receipt,
		SpentKeyImages:        req.SpentKeyImages,
		OutputPublicKeys:      req.OutputPublicKeys,
		IncomingTxoPublicKeys: req.IncomingTxoPublicKeys,
		Failed:                req.Failed,
	}

	if err := h.payments.ImportArchived(r.Context(), archived); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to import archived payment")
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

// GetPayments handles GET /payments
func (h *PaymentHandler) GetPayments(w http.ResponseWriter, r *http.Request) {
	filters := payment.RecordFilters{Limit: 50}

	if v := r.URL.Query().Get("state"); v != "" {
		state := payment.PaymentState(v)
		filters.State = &state
	}
	if v := r.URL.Query().Get("type"); v != "" {
		typ := payment.PaymentType(v)
		filters.Type = &typ
	}
	if v := r.URL.Query().Get("unread"); v == "true" {
		filters.UnreadOnly = true
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			respondWithError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filters.Offset = offset
	}

	records, err := h.payments.List(r.Context(), filters)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}

	resp := PaymentListResponse{
		Payments: make([]PaymentResponse, 0, len(records)),
		Total:    len(records),
	}
	for _, record := range records {
		resp.Payments = append(resp.Payments, toPaymentResponse(record))
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GetPayment handles GET /payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	record, err := h.payments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound) {
			respondWithError(w, http.StatusNotFound, "payment not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to get payment")
		return
	}

	respondWithJSON(w, http.StatusOK, toPaymentResponse(record))
}

// MarkPaymentRead handles POST /payments/{id}/read
func (h *PaymentHandler) MarkPaymentRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	if err := h.payments.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, payment.ErrRecordNotFound) {
			respondWithError(w, http.StatusNotFound, "payment not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to mark payment read")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

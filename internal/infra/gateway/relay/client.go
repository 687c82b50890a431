// Package relay delivers payment notifications and device sync messages
// through the message relay service.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/logger"
)

const requestTimeout = 30 * time.Second

// Client is an HTTP client for the message relay
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *logger.Logger
}

var _ payment.Messaging = (*Client)(nil)

// NewClient creates a new relay client
func NewClient(baseURL, authToken string, log *logger.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: log.WithField("component", "relay"),
	}
}

type notifyRequest struct {
	RecipientID  string `json:"recipient_id"`
	ReceiptBytes []byte `json:"receipt"`
	Memo         string `json:"memo,omitempty"`
}

type notifyResponse struct {
	MessageID uuid.UUID `json:"message_id"`
}

type syncRequest struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Amount    string    `json:"amount"`
}

// SendPaymentNotification delivers the payment receipt to the counterparty,
// returning the relay's message id.
func (c *Client) SendPaymentNotification(ctx context.Context, counterpartyID string, record *payment.PaymentRecord) (uuid.UUID, error) {
	req := notifyRequest{
		RecipientID:  counterpartyID,
		ReceiptBytes: record.Ledger.ReceiptBytes,
	}
	if record.Memo != nil {
		req.Memo = *record.Memo
	}

	body, err := c.doRequest(ctx, "/v1/messages/payment", req)
	if err != nil {
		return uuid.Nil, err
	}

	var resp notifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return uuid.Nil, payment.WithCategory(payment.CategoryIndeterminate,
			fmt.Errorf("failed to parse relay response: %w", err))
	}

	c.logger.Info("sent payment notification",
		"payment_id", record.ID,
		"message_id", resp.MessageID)
	return resp.MessageID, nil
}

// SendSyncMessage mirrors the payment record to the account's linked devices
func (c *Client) SendSyncMessage(ctx context.Context, record *payment.PaymentRecord) error {
	_, err := c.doRequest(ctx, "/v1/messages/sync", syncRequest{
		PaymentID: record.ID,
		Type:      string(record.Type),
		State:     string(record.State),
		Amount:    record.Amount.String(),
	})
	return err
}

func (c *Client) doRequest(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, payment.WithCategory(payment.CategoryInternal,
			fmt.Errorf("failed to marshal relay request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, payment.WithCategory(payment.CategoryInternal,
			fmt.Errorf("failed to create relay request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, payment.WithCategory(payment.CategoryConnection,
			fmt.Errorf("relay request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, payment.WithCategory(payment.CategoryConnection,
			fmt.Errorf("failed to read relay response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, payment.WithCategory(payment.CategoryRateLimited,
			fmt.Errorf("relay rate limited"))
	case resp.StatusCode >= 500:
		return nil, payment.WithCategory(payment.CategoryConnection,
			fmt.Errorf("relay error: status %d", resp.StatusCode))
	default:
		return nil, payment.WithCategory(payment.CategoryValidation,
			fmt.Errorf("relay rejected message: status %d, body %s", resp.StatusCode, string(body)))
	}
}

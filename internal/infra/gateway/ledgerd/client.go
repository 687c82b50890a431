// Package ledgerd talks to the ledger daemon's JSON API and maps transport
// failures onto the retry categories the processing engine acts on.
package ledgerd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

const requestTimeout = 30 * time.Second

// Client is an HTTP client for the ledger daemon
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a new ledger daemon client. Requests are paced so
// status polling across many records cannot hammer the daemon.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  log.WithField("component", "ledgerd"),
	}
}

// GetAccountActivity returns the account's complete TXO activity
func (c *Client) GetAccountActivity(ctx context.Context) (*ledger.AccountActivity, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/account/activity", nil)
	if err != nil {
		return nil, err
	}

	var resp activityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, payment.WithCategory(payment.CategoryIndeterminate,
			fmt.Errorf("failed to parse activity response: %w", err))
	}
	return resp.toActivity()
}

// SubmitTransaction submits serialized transaction bytes. A rejection because
// the inputs were already consumed comes back as ledger.ErrInputsAlreadySpent.
func (c *Client) SubmitTransaction(ctx context.Context, transactionBytes []byte) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/transactions", submitRequest{
		Transaction: transactionBytes,
	})
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.code == "inputs_already_spent" {
		return ledger.ErrInputsAlreadySpent
	}
	return err
}

// GetOutgoingStatus queries the fate of a submitted transaction
func (c *Client) GetOutgoingStatus(ctx context.Context, transactionBytes []byte) (ledger.OutgoingStatus, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/transactions/status", statusRequest{
		Transaction: transactionBytes,
	})
	if err != nil {
		return ledger.OutgoingStatus{}, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ledger.OutgoingStatus{}, payment.WithCategory(payment.CategoryIndeterminate,
			fmt.Errorf("failed to parse transaction status: %w", err))
	}

	status := ledger.OutgoingStatus{Block: resp.Block.toBlock()}
	switch resp.Status {
	case "accepted":
		status.Kind = ledger.OutgoingStatusAccepted
	case "failed":
		status.Kind = ledger.OutgoingStatusFailed
	default:
		status.Kind = ledger.OutgoingStatusUnknown
	}
	return status, nil
}

// GetIncomingStatus queries the fate of a payment receipt
func (c *Client) GetIncomingStatus(ctx context.Context, receiptBytes []byte) (ledger.IncomingStatus, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/receipts/status", statusRequest{
		Receipt: receiptBytes,
	})
	if err != nil {
		return ledger.IncomingStatus{}, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ledger.IncomingStatus{}, payment.WithCategory(payment.CategoryIndeterminate,
			fmt.Errorf("failed to parse receipt status: %w", err))
	}

	status := ledger.IncomingStatus{Block: resp.Block.toBlock()}
	switch resp.Status {
	case "received":
		status.Kind = ledger.IncomingStatusReceived
		if resp.Amount != "" {
			amount, err := money.ParseAmount(resp.Amount)
			if err != nil {
				return ledger.IncomingStatus{}, payment.WithCategory(payment.CategoryIndeterminate,
					fmt.Errorf("invalid receipt amount: %w", err))
			}
			status.Amount = amount
		}
	case "failed":
		status.Kind = ledger.IncomingStatusFailed
	default:
		status.Kind = ledger.IncomingStatusUnknown
	}
	return status, nil
}

// GetLocalBalance returns the spendable balance
func (c *Client) GetLocalBalance(ctx context.Context) (money.Amount, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/balance", nil)
	if err != nil {
		return money.Amount{}, err
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return money.Amount{}, payment.WithCategory(payment.CategoryIndeterminate,
			fmt.Errorf("failed to parse balance response: %w", err))
	}

	amount, err := money.ParseAmount(resp.Spendable)
	if err != nil {
		return money.Amount{}, payment.WithCategory(payment.CategoryIndeterminate,
			fmt.Errorf("invalid balance: %w", err))
	}
	return amount, nil
}

// apiError is a non-2xx response from the ledger daemon
type apiError struct {
	status int
	code   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("ledger daemon error: status %d, code %q", e.status, e.code)
}

// doRequest performs one HTTP request and maps failures onto retry
// categories: network errors are connection failures, 429 is rate limiting,
// 5xx is a transient server fault, remaining 4xx cannot succeed on retry.
func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, payment.WithCategory(payment.CategoryConnection,
			fmt.Errorf("ledger request cancelled: %w", err))
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, payment.WithCategory(payment.CategoryInternal,
				fmt.Errorf("failed to marshal request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, payment.WithCategory(payment.CategoryInternal,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ledger request failed", "method", method, "path", path, "error", err)
		return nil, payment.WithCategory(payment.CategoryConnection,
			fmt.Errorf("ledger request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, payment.WithCategory(payment.CategoryConnection,
			fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.Debug("ledger response",
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, payment.WithCategory(payment.CategoryRateLimited,
			&apiError{status: resp.StatusCode, code: errorCode(body)})
	case resp.StatusCode >= 500:
		return nil, payment.WithCategory(payment.CategoryConnection,
			&apiError{status: resp.StatusCode, code: errorCode(body)})
	default:
		return nil, payment.WithCategory(payment.CategoryValidation,
			&apiError{status: resp.StatusCode, code: errorCode(body)})
	}
}

func errorCode(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error
}

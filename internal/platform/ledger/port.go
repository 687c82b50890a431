// Package ledger defines the device's view of the remote, append-only
// ledger. Implementations live in infra/gateway.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/renlav/payledger/pkg/money"
)

// ErrInputsAlreadySpent is returned by SubmitTransaction when the
// transaction's inputs were consumed by an earlier submission. Resubmitting
// the same transaction is idempotent, so callers treat this as success.
var ErrInputsAlreadySpent = errors.New("transaction inputs already spent")

// Block identifies a ledger block. Timestamp is nil when the ledger did not
// report one.
type Block struct {
	Index     uint64
	Timestamp *time.Time
}

// ActivityItem is one TXO's lifetime as reported by the ledger: when it was
// received and, if spent, when.
type ActivityItem struct {
	Amount        money.Amount
	TxoPublicKey  string
	KeyImage      string
	ReceivedBlock Block
	// SpentBlock is nil while the TXO is unspent
	SpentBlock *Block
}

// AccountActivity is the full TXO history of the account
type AccountActivity struct {
	Items      []ActivityItem
	BlockCount uint64
}

// OutgoingStatusKind enumerates the ledger's verdict on a submitted
// transaction
type OutgoingStatusKind int

const (
	OutgoingStatusUnknown OutgoingStatusKind = iota
	OutgoingStatusAccepted
	OutgoingStatusFailed
)

// OutgoingStatus is the result of an outgoing status query
type OutgoingStatus struct {
	Kind OutgoingStatusKind
	// Block is set when Kind is OutgoingStatusAccepted
	Block Block
}

// IncomingStatusKind enumerates the ledger's verdict on a receipt
type IncomingStatusKind int

const (
	IncomingStatusUnknown IncomingStatusKind = iota
	IncomingStatusReceived
	IncomingStatusFailed
)

// IncomingStatus is the result of a receipt status query
type IncomingStatus struct {
	Kind IncomingStatusKind
	// Block and Amount are set when Kind is IncomingStatusReceived
	Block  Block
	Amount money.Amount
}

// Client is the remote ledger access port
type Client interface {
	// GetAccountActivity returns the account's complete TXO activity
	GetAccountActivity(ctx context.Context) (*AccountActivity, error)

	// SubmitTransaction submits serialized transaction bytes
	SubmitTransaction(ctx context.Context, transactionBytes []byte) error

	// GetOutgoingStatus queries the fate of a submitted transaction
	GetOutgoingStatus(ctx context.Context, transactionBytes []byte) (OutgoingStatus, error)

	// GetIncomingStatus queries the fate of a payment receipt
	GetIncomingStatus(ctx context.Context, receiptBytes []byte) (IncomingStatus, error)

	// GetLocalBalance returns the spendable balance
	GetLocalBalance(ctx context.Context) (money.Amount, error)
}

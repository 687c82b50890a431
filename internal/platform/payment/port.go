package payment

import (
	"context"

	"github.com/google/uuid"
)

// RecordStore defines persistence for payment records and archived payments.
// Methods observe a transaction carried in the context when one was opened
// with BeginTx (see infra/postgres).
type RecordStore interface {
	Insert(ctx context.Context, record *PaymentRecord) error
	Update(ctx context.Context, record *PaymentRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*PaymentRecord, error)

	// ListActive returns non-terminal records ordered by creation time
	ListActive(ctx context.Context) ([]*PaymentRecord, error)

	// ListNonFailed returns every record not in a failed state
	ListNonFailed(ctx context.Context) ([]*PaymentRecord, error)

	ListByState(ctx context.Context, state PaymentState) ([]*PaymentRecord, error)
	ListByBlockIndex(ctx context.Context, blockIndex uint64) ([]*PaymentRecord, error)
	FindByTransaction(ctx context.Context, transactionBytes []byte) (*PaymentRecord, error)
	FindByReceipt(ctx context.Context, receiptBytes []byte) (*PaymentRecord, error)
	List(ctx context.Context, filters RecordFilters) ([]*PaymentRecord, error)

	// Archived payment stubs awaiting rehydration. InsertArchived is
	// idempotent on the stub id.
	InsertArchived(ctx context.Context, archived *ArchivedPayment) error
	ListArchived(ctx context.Context) ([]*ArchivedPayment, error)
	DeleteArchived(ctx context.Context, id uuid.UUID) error

	// Transaction management. BeginTx stores the transaction in the
	// returned context; readOnly transactions reject writes at the
	// database level.
	BeginTx(ctx context.Context, readOnly bool) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}

// RecordFilters narrows List queries for the API surface
type RecordFilters struct {
	State      *PaymentState
	Type       *PaymentType
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Messaging sends payment-related messages out of the device
type Messaging interface {
	// SendPaymentNotification notifies the counterparty that a payment was
	// sent to them, returning the outbound message id
	SendPaymentNotification(ctx context.Context, counterpartyID string, record *PaymentRecord) (uuid.UUID, error)

	// SendSyncMessage mirrors the payment to the account's linked devices
	SendSyncMessage(ctx context.Context, record *PaymentRecord) error
}

// BalanceCache holds the last known ledger balance for display. It is
// written by processing after verification and cleared on reset.
type BalanceCache interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, balance string) error
	Clear(ctx context.Context) error
}

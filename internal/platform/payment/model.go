package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/pkg/money"
)

// PaymentType describes where a payment record came from and its direction
type PaymentType string

const (
	TypeIncoming                PaymentType = "incoming"
	TypeOutgoing                PaymentType = "outgoing"
	TypeOutgoingTransfer        PaymentType = "outgoing_transfer"
	TypeOutgoingDefragmentation PaymentType = "outgoing_defragmentation"
	TypeIncomingUnidentified    PaymentType = "incoming_unidentified"
	TypeOutgoingUnidentified    PaymentType = "outgoing_unidentified"
	TypeIncomingRestored        PaymentType = "incoming_restored"
	TypeOutgoingRestored        PaymentType = "outgoing_restored"
)

// IsIncoming returns true for payment types that add funds to the account
func (t PaymentType) IsIncoming() bool {
	switch t {
	case TypeIncoming, TypeIncomingUnidentified, TypeIncomingRestored:
		return true
	}
	return false
}

// IsUnidentified returns true for records synthesized by reconciliation to
// account for ledger activity with no matching local metadata
func (t PaymentType) IsUnidentified() bool {
	return t == TypeIncomingUnidentified || t == TypeOutgoingUnidentified
}

// IsRestored returns true for records rehydrated from an archived payment
func (t PaymentType) IsRestored() bool {
	return t == TypeIncomingRestored || t == TypeOutgoingRestored
}

// RequiresNotification returns true when completing the payment must notify
// the counterparty. Transfers to the user's own addresses and
// defragmentation transactions have no counterparty.
func (t PaymentType) RequiresNotification() bool {
	return t == TypeOutgoing
}

// Valid reports whether t is a known payment type
func (t PaymentType) Valid() bool {
	switch t {
	case TypeIncoming, TypeOutgoing, TypeOutgoingTransfer,
		TypeOutgoingDefragmentation, TypeIncomingUnidentified,
		TypeOutgoingUnidentified, TypeIncomingRestored, TypeOutgoingRestored:
		return true
	}
	return false
}

// PaymentState is a node in the forward-only processing graph
type PaymentState string

const (
	StateOutgoingUnsubmitted PaymentState = "outgoing_unsubmitted"
	StateOutgoingUnverified  PaymentState = "outgoing_unverified"
	StateOutgoingVerified    PaymentState = "outgoing_verified"
	StateOutgoingSending     PaymentState = "outgoing_sending"
	StateOutgoingSent        PaymentState = "outgoing_sent"
	StateOutgoingComplete    PaymentState = "outgoing_complete"
	StateOutgoingFailed      PaymentState = "outgoing_failed"
	StateIncomingUnverified  PaymentState = "incoming_unverified"
	StateIncomingVerified    PaymentState = "incoming_verified"
	StateIncomingComplete    PaymentState = "incoming_complete"
	StateIncomingFailed      PaymentState = "incoming_failed"
)

// stateSuccessors encodes the forward-only transition graph. Terminal states
// have no successors.
var stateSuccessors = map[PaymentState][]PaymentState{
	StateOutgoingUnsubmitted: {StateOutgoingUnverified},
	StateOutgoingUnverified:  {StateOutgoingVerified, StateOutgoingFailed},
	StateOutgoingVerified:    {StateOutgoingSending, StateOutgoingSent},
	StateOutgoingSending:     {StateOutgoingComplete},
	StateOutgoingSent:        {StateOutgoingComplete},
	StateIncomingUnverified:  {StateIncomingVerified, StateIncomingFailed},
	StateIncomingVerified:    {StateIncomingComplete},
}

// IsTerminal returns true for states that processing never leaves
func (s PaymentState) IsTerminal() bool {
	switch s {
	case StateOutgoingComplete, StateOutgoingFailed,
		StateIncomingComplete, StateIncomingFailed:
		return true
	}
	return false
}

// IsFailed returns true for the two failure states
func (s PaymentState) IsFailed() bool {
	return s == StateOutgoingFailed || s == StateIncomingFailed
}

// IsIncoming returns true for states on the incoming half of the graph
func (s PaymentState) IsIncoming() bool {
	switch s {
	case StateIncomingUnverified, StateIncomingVerified,
		StateIncomingComplete, StateIncomingFailed:
		return true
	}
	return false
}

// IsVerified returns true once the ledger has confirmed the payment
func (s PaymentState) IsVerified() bool {
	switch s {
	case StateOutgoingVerified, StateOutgoingSending, StateOutgoingSent,
		StateOutgoingComplete, StateIncomingVerified, StateIncomingComplete:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s
func (s PaymentState) CanTransitionTo(next PaymentState) bool {
	for _, succ := range stateSuccessors[s] {
		if succ == next {
			return true
		}
	}
	return false
}

// FailureReason explains why a record reached a failed state
type FailureReason string

const (
	FailureNone                   FailureReason = ""
	FailureInsufficientFunds      FailureReason = "insufficient_funds"
	FailureValidationFailed       FailureReason = "validation_failed"
	FailureNotificationSendFailed FailureReason = "notification_send_failed"
	FailureInvalid                FailureReason = "invalid"
	FailureExpired                FailureReason = "expired"
	FailureUnknown                FailureReason = "unknown"
)

// LedgerInfo is the record's view of its ledger footprint. All fields are
// optional until verification fills them in.
type LedgerInfo struct {
	// TransactionBytes is the serialized ledger transaction of a locally
	// submitted outgoing payment
	TransactionBytes []byte
	// ReceiptBytes is the serialized receipt of an incoming payment
	ReceiptBytes []byte
	// IncomingTxoPublicKeys are hex public keys of TXOs received
	IncomingTxoPublicKeys []string
	// SpentKeyImages are hex key images of TXOs consumed
	SpentKeyImages []string
	// OutputPublicKeys are hex public keys of all outputs the transaction
	// created, including change back to this account
	OutputPublicKeys []string
	// BlockIndex is the ledger block containing the payment, nil until known
	BlockIndex *uint64
	// BlockTimestamp is the ledger-reported or derived block time
	BlockTimestamp *time.Time
	// Fee is the transaction fee, known only for locally built transactions
	Fee *money.Amount
}

// HasBlockIndex reports whether the ledger block is known
func (l LedgerInfo) HasBlockIndex() bool {
	return l.BlockIndex != nil
}

// PaymentRecord is the local record of a single payment
type PaymentRecord struct {
	ID                uuid.UUID
	Type              PaymentType
	State             PaymentState
	Amount            money.Amount
	CreatedAt         time.Time
	CounterpartyID    *string
	Memo              *string
	Ledger            LedgerInfo
	IsUnread          bool
	Failure           FailureReason
	OutboundMessageID *uuid.UUID
}

// Validate enforces consistency between a record's type and the ledger
// metadata it carries.
func (r *PaymentRecord) Validate() error {
	if !r.Type.Valid() {
		return ErrInvalidPaymentType
	}
	if r.Type.IsIncoming() != r.State.IsIncoming() {
		return ErrStateDirectionMismatch
	}
	if r.Type.IsUnidentified() {
		// Unidentified records exist precisely because no local metadata
		// matched the ledger activity
		if len(r.Ledger.TransactionBytes) > 0 || len(r.Ledger.ReceiptBytes) > 0 {
			return ErrUnidentifiedWithProof
		}
		if !r.State.IsTerminal() {
			return ErrUnidentifiedNotTerminal
		}
	}
	if r.Type == TypeOutgoing || r.Type == TypeOutgoingTransfer || r.Type == TypeOutgoingDefragmentation {
		if r.State.IsVerified() && len(r.Ledger.SpentKeyImages) == 0 {
			return ErrVerifiedWithoutKeyImages
		}
	}
	if r.State.IsFailed() && r.Failure == FailureNone {
		return ErrFailedWithoutReason
	}
	return nil
}

// IsIdentified returns true for records backed by local metadata with a
// known ledger block. Identified data supersedes unidentified placeholders.
func (r *PaymentRecord) IsIdentified() bool {
	return !r.Type.IsUnidentified() && r.Ledger.HasBlockIndex()
}

// ArchivedPayment is a backed-up, ledger-unconfirmed payment stub awaiting
// rehydration into a full PaymentRecord.
type ArchivedPayment struct {
	ID                    uuid.UUID
	Incoming              bool
	TransactionBytes      []byte
	ReceiptBytes          []byte
	SpentKeyImages        []string
	OutputPublicKeys      []string
	IncomingTxoPublicKeys []string
	Failed                bool
}

package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/events"
	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

// Service owns payment record lifecycle rules that sit above raw storage:
// creation of user-initiated and notification-born records, and the
// supersession of unidentified placeholders by identified data.
type Service struct {
	store RecordStore
	bus   *events.Bus
	log   *logger.Logger
}

// NewService creates a payment service
func NewService(store RecordStore, bus *events.Bus, log *logger.Logger) *Service {
	return &Service{
		store: store,
		bus:   bus,
		log:   log.WithField("service", "payment"),
	}
}

// CreateOutgoingParams describes a user-initiated send. The transaction has
// already been built and signed by the ledger SDK; this service only tracks
// its fate.
type CreateOutgoingParams struct {
	Type             PaymentType
	Amount           money.Amount
	Fee              *money.Amount
	TransactionBytes []byte
	ReceiptBytes     []byte
	SpentKeyImages   []string
	OutputPublicKeys []string
	CounterpartyID   *string
	Memo             *string
}

// CreateOutgoing records a freshly built outgoing payment in the
// unsubmitted state and arms a reconciliation pass, since the balance is
// about to change.
func (s *Service) CreateOutgoing(ctx context.Context, params CreateOutgoingParams) (*PaymentRecord, error) {
	if !params.Type.Valid() || params.Type.IsIncoming() || params.Type.IsUnidentified() {
		return nil, fmt.Errorf("cannot create outgoing payment of type %q: %w", params.Type, ErrInvalidPaymentType)
	}
	if len(params.TransactionBytes) == 0 {
		return nil, fmt.Errorf("outgoing payment requires transaction bytes")
	}
	// Verification cannot move the record forward without the key images
	// consumed by the transaction
	if len(params.SpentKeyImages) == 0 {
		return nil, fmt.Errorf("outgoing payment requires spent key images")
	}

	record := &PaymentRecord{
		ID:             uuid.New(),
		Type:           params.Type,
		State:          StateOutgoingUnsubmitted,
		Amount:         params.Amount,
		CreatedAt:      time.Now().UTC(),
		CounterpartyID: params.CounterpartyID,
		Memo:           params.Memo,
		Ledger: LedgerInfo{
			TransactionBytes: params.TransactionBytes,
			ReceiptBytes:     params.ReceiptBytes,
			SpentKeyImages:   params.SpentKeyImages,
			OutputPublicKeys: params.OutputPublicKeys,
			Fee:              params.Fee,
		},
	}

	if err := s.store.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to insert outgoing payment: %w", err)
	}

	s.log.Info("created outgoing payment",
		"payment_id", record.ID,
		"type", record.Type,
		"amount", record.Amount.String())

	s.bus.Publish(events.ReconcileNow)
	return record, nil
}

// CreateIncomingParams describes a payment notification received from a
// counterparty or a linked device.
type CreateIncomingParams struct {
	ReceiptBytes   []byte
	Amount         money.Amount
	CounterpartyID *string
	Memo           *string
}

// CreateIncoming records a notified incoming payment awaiting receipt
// verification.
func (s *Service) CreateIncoming(ctx context.Context, params CreateIncomingParams) (*PaymentRecord, error) {
	if len(params.ReceiptBytes) == 0 {
		return nil, fmt.Errorf("incoming payment requires receipt bytes")
	}

	record := &PaymentRecord{
		ID:             uuid.New(),
		Type:           TypeIncoming,
		State:          StateIncomingUnverified,
		Amount:         params.Amount,
		CreatedAt:      time.Now().UTC(),
		CounterpartyID: params.CounterpartyID,
		Memo:           params.Memo,
		IsUnread:       true,
		Ledger: LedgerInfo{
			ReceiptBytes: params.ReceiptBytes,
		},
	}

	if err := s.store.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to insert incoming payment: %w", err)
	}

	s.log.Info("created incoming payment from notification", "payment_id", record.ID)
	return record, nil
}

// Update persists a mutated record and applies the supersession rule:
// identified data always wins over a synthetic placeholder, so any
// unidentified record sharing the block index is removed and a new
// reconciliation pass armed.
func (s *Service) Update(ctx context.Context, record *PaymentRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid payment record: %w", err)
	}

	if err := s.store.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to update payment record: %w", err)
	}

	if record.IsIdentified() {
		if err := s.supersedeUnidentified(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// supersedeUnidentified deletes unidentified records occupying the same
// ledger block as an identified record.
func (s *Service) supersedeUnidentified(ctx context.Context, record *PaymentRecord) error {
	sharing, err := s.store.ListByBlockIndex(ctx, *record.Ledger.BlockIndex)
	if err != nil {
		return fmt.Errorf("failed to query block %d: %w", *record.Ledger.BlockIndex, err)
	}

	superseded := false
	for _, other := range sharing {
		if other.ID == record.ID || !other.Type.IsUnidentified() {
			continue
		}
		if err := s.store.Delete(ctx, other.ID); err != nil {
			return fmt.Errorf("failed to delete superseded record %s: %w", other.ID, err)
		}
		s.log.Info("superseded unidentified payment",
			"payment_id", other.ID,
			"block_index", *record.Ledger.BlockIndex,
			"superseded_by", record.ID)
		superseded = true
	}

	if superseded {
		s.bus.Publish(events.ReconcileNow)
	}
	return nil
}

// DeleteIndeterminate removes a record whose ledger data can no longer be
// interpreted and arms reconciliation to rebuild the truth from the ledger.
func (s *Service) DeleteIndeterminate(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete indeterminate record: %w", err)
	}
	s.log.Warn("deleted indeterminate payment record", "payment_id", id)
	s.bus.Publish(events.ReconcileNow)
	return nil
}

// ImportArchived stores a backed-up payment stub and arms reconciliation,
// which rehydrates the stub once the ledger confirms its activity. Importing
// the same stub twice is a no-op.
func (s *Service) ImportArchived(ctx context.Context, archived *ArchivedPayment) error {
	if archived.ID == uuid.Nil {
		return fmt.Errorf("archived payment requires an id")
	}
	if err := s.store.InsertArchived(ctx, archived); err != nil {
		return fmt.Errorf("failed to import archived payment: %w", err)
	}
	s.log.Info("imported archived payment", "payment_id", archived.ID)
	s.bus.Publish(events.ReconcileNow)
	return nil
}

// Get returns a single record
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PaymentRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns records matching the filters
func (s *Service) List(ctx context.Context, filters RecordFilters) ([]*PaymentRecord, error) {
	return s.store.List(ctx, filters)
}

// MarkRead clears the unread flag on a record
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !record.IsUnread {
		return nil
	}
	record.IsUnread = false
	return s.store.Update(ctx, record)
}

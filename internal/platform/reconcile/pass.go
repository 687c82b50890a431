// Package reconcile periodically diffs local payment records against the
// ledger's TXO activity, restoring archived payments and synthesizing
// placeholder records for activity nothing local explains.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

// errUnsavedChanges signals that a read-only pass found work to do. The
// caller reruns the pass once inside a write transaction.
var errUnsavedChanges = errors.New("reconcile: changes require a write transaction")

// pass is the state of a single reconciliation run over one transaction.
type pass struct {
	store    payment.RecordStore
	log      *logger.Logger
	now      time.Time
	canWrite bool
	// markUnread gates the unread flag on synthesized and restored records:
	// only devices that have reconciled before, or the primary device, may
	// surface them as new.
	markUnread bool
}

// archivedMatch accumulates the activity items attributed to one archived
// payment within a block.
type archivedMatch struct {
	arch     *payment.ArchivedPayment
	spent    money.Amount
	received money.Amount
}

// run executes the reconciliation body against the store transaction carried
// in ctx. It returns errUnsavedChanges when canWrite is false and a mutation
// was needed.
func (p *pass) run(ctx context.Context, items []ledger.ActivityItem) error {
	records, err := p.store.ListNonFailed(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	archived, err := p.store.ListArchived(ctx)
	if err != nil {
		return fmt.Errorf("list archived: %w", err)
	}

	idx := buildIndex(records, archived)
	blocks := groupByBlock(items)
	guesses := guessTimestamps(blocks, p.now)

	for _, block := range blocks {
		ts := block.timestamp()
		if ts == nil {
			guess := guesses[block.index]
			ts = &guess
		}
		if err := p.reconcileBlock(ctx, idx, block, ts); err != nil {
			return err
		}
	}

	if err := p.backfillTimestamps(ctx, idx, blocks); err != nil {
		return err
	}
	return p.cleanupUnidentified(ctx, idx, records)
}

// reconcileBlock classifies one block's activity, rehydrates archived
// payments matched by it, and folds whatever remains unaccounted into the
// block's unidentified record.
func (p *pass) reconcileBlock(ctx context.Context, idx *recordIndex, block *blockActivity, ts *time.Time) error {
	var (
		spentTotal    money.Amount
		receivedTotal money.Amount
		spentImages   []string
		receivedKeys  []string
		matches       []*archivedMatch
		matchByID     = make(map[uuid.UUID]*archivedMatch)
	)

	matchFor := func(arch *payment.ArchivedPayment) *archivedMatch {
		m, ok := matchByID[arch.ID]
		if !ok {
			m = &archivedMatch{arch: arch}
			matchByID[arch.ID] = m
			matches = append(matches, m)
		}
		return m
	}

	for _, item := range block.spent {
		if idx.ownsKeyImage(item.KeyImage) {
			continue
		}
		if arch := idx.archivedForSpent(item.KeyImage); arch != nil {
			m := matchFor(arch)
			m.spent = m.spent.Add(item.Amount)
			continue
		}
		spentTotal = spentTotal.Add(item.Amount)
		spentImages = append(spentImages, item.KeyImage)
	}
	for _, item := range block.received {
		if idx.ownsIncomingKey(item.TxoPublicKey) {
			continue
		}
		if idx.isChangeOutput(item.TxoPublicKey) {
			continue
		}
		if arch := idx.archivedForReceived(item.TxoPublicKey); arch != nil {
			m := matchFor(arch)
			m.received = m.received.Add(item.Amount)
			continue
		}
		receivedTotal = receivedTotal.Add(item.Amount)
		receivedKeys = append(receivedKeys, item.TxoPublicKey)
	}

	for _, m := range matches {
		if !rehydratable(m.arch) {
			// Without the original proof the stub cannot become a full
			// record; treat its activity as unaccounted instead.
			spentTotal = spentTotal.Add(m.spent)
			receivedTotal = receivedTotal.Add(m.received)
			spentImages = append(spentImages, m.arch.SpentKeyImages...)
			receivedKeys = append(receivedKeys, m.arch.IncomingTxoPublicKeys...)
			continue
		}
		rec := p.restoreRecord(m, block.index, ts)
		if err := p.insertRecord(ctx, rec); err != nil {
			return err
		}
		if err := p.deleteArchived(ctx, m.arch.ID); err != nil {
			return err
		}
		idx.add(rec)
		p.log.WithField("payment_id", rec.ID.String()).
			WithField("block_index", block.index).
			Info("restored archived payment")
	}

	net := receivedTotal.Sub(spentTotal)
	if net.IsZero() && len(spentImages) == 0 && len(receivedKeys) == 0 {
		return nil
	}
	return p.recordUnidentified(ctx, idx, block.index, ts, net, spentImages, receivedKeys)
}

// rehydratable checks that an archived stub still carries the proof a full
// record needs: transaction bytes and key images for outgoing, receipt bytes
// for incoming.
func rehydratable(arch *payment.ArchivedPayment) bool {
	if arch.Incoming {
		return len(arch.ReceiptBytes) > 0
	}
	return len(arch.TransactionBytes) > 0 && len(arch.SpentKeyImages) > 0
}

// restoreRecord builds the full record for a rehydrated archived payment. The
// stub's id is kept so every device restores the same payment to the same
// record.
func (p *pass) restoreRecord(m *archivedMatch, blockIndex uint64, ts *time.Time) *payment.PaymentRecord {
	rec := &payment.PaymentRecord{
		ID:        m.arch.ID,
		CreatedAt: *ts,
		Ledger: payment.LedgerInfo{
			TransactionBytes:      m.arch.TransactionBytes,
			ReceiptBytes:          m.arch.ReceiptBytes,
			SpentKeyImages:        m.arch.SpentKeyImages,
			OutputPublicKeys:      m.arch.OutputPublicKeys,
			IncomingTxoPublicKeys: m.arch.IncomingTxoPublicKeys,
			BlockIndex:            &blockIndex,
			BlockTimestamp:        ts,
		},
	}
	if m.arch.Incoming {
		rec.Type = payment.TypeIncomingRestored
		rec.State = payment.StateIncomingComplete
		rec.Amount = m.received
		rec.IsUnread = p.markUnread
	} else {
		rec.Type = payment.TypeOutgoingRestored
		rec.State = payment.StateOutgoingComplete
		rec.Amount = m.spent.Sub(m.received).Abs()
	}
	return rec
}

// recordUnidentified folds unaccounted activity into the block's single
// unidentified record, creating it if the block has none. net is signed:
// positive means more received than spent.
func (p *pass) recordUnidentified(ctx context.Context, idx *recordIndex, blockIndex uint64, ts *time.Time, net money.Amount, spentImages, receivedKeys []string) error {
	existing := unidentifiedAt(idx, blockIndex)
	if existing == nil {
		if net.IsZero() {
			// Spends and receipts cancel out exactly; nothing worth showing
			return nil
		}
		rec := &payment.PaymentRecord{
			ID:        uuid.New(),
			CreatedAt: *ts,
			Amount:    net.Abs(),
			Ledger: payment.LedgerInfo{
				SpentKeyImages:        spentImages,
				IncomingTxoPublicKeys: receivedKeys,
				BlockIndex:            &blockIndex,
				BlockTimestamp:        ts,
			},
		}
		if net.Sign() > 0 {
			rec.Type = payment.TypeIncomingUnidentified
			rec.State = payment.StateIncomingComplete
			rec.IsUnread = p.markUnread
		} else {
			rec.Type = payment.TypeOutgoingUnidentified
			rec.State = payment.StateOutgoingComplete
		}
		if err := p.insertRecord(ctx, rec); err != nil {
			return err
		}
		idx.add(rec)
		p.log.WithField("block_index", blockIndex).Info("synthesized unidentified payment")
		return nil
	}

	// Fold into the existing record so a block never carries two
	// unidentified records. Direction may flip when the new activity
	// outweighs the old.
	combined := signedAmount(existing).Add(net)
	existing.Amount = combined.Abs()
	if combined.Sign() >= 0 {
		existing.Type = payment.TypeIncomingUnidentified
		existing.State = payment.StateIncomingComplete
	} else {
		existing.Type = payment.TypeOutgoingUnidentified
		existing.State = payment.StateOutgoingComplete
	}
	existing.Ledger.SpentKeyImages = appendNew(existing.Ledger.SpentKeyImages, spentImages)
	existing.Ledger.IncomingTxoPublicKeys = appendNew(existing.Ledger.IncomingTxoPublicKeys, receivedKeys)
	for _, key := range spentImages {
		idx.byKeyImage[key] = append(idx.byKeyImage[key], existing)
	}
	for _, key := range receivedKeys {
		idx.byIncomingKey[key] = append(idx.byIncomingKey[key], existing)
	}
	return p.updateRecord(ctx, existing)
}

// signedAmount returns the record's amount with incoming positive and
// outgoing negative.
func signedAmount(rec *payment.PaymentRecord) money.Amount {
	if rec.Type.IsIncoming() {
		return rec.Amount
	}
	return money.Amount{}.Sub(rec.Amount)
}

func unidentifiedAt(idx *recordIndex, blockIndex uint64) *payment.PaymentRecord {
	for _, rec := range idx.recordsAt(blockIndex) {
		if rec.Type.IsUnidentified() {
			return rec
		}
	}
	return nil
}

func appendNew(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, key := range existing {
		seen[key] = struct{}{}
	}
	for _, key := range extra {
		if _, ok := seen[key]; !ok {
			existing = append(existing, key)
			seen[key] = struct{}{}
		}
	}
	return existing
}

// backfillTimestamps stores ledger-reported block timestamps on records that
// are missing one. A timestamp already stored is never overwritten.
func (p *pass) backfillTimestamps(ctx context.Context, idx *recordIndex, blocks []*blockActivity) error {
	for _, block := range blocks {
		ts := block.timestamp()
		if ts == nil {
			continue
		}
		for _, rec := range idx.recordsAt(block.index) {
			if rec.Ledger.BlockTimestamp != nil {
				continue
			}
			rec.Ledger.BlockTimestamp = ts
			if err := p.updateRecord(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// cleanupUnidentified removes unidentified records that have become
// redundant: either their activity is now fully attributed to identified
// records, or a second unidentified record exists at the same block.
func (p *pass) cleanupUnidentified(ctx context.Context, idx *recordIndex, records []*payment.PaymentRecord) error {
	keptAtBlock := make(map[uint64]uuid.UUID)
	for _, rec := range records {
		if !rec.Type.IsUnidentified() {
			continue
		}
		if p.coveredByIdentified(idx, rec) {
			if err := p.deleteRecord(ctx, rec.ID); err != nil {
				return err
			}
			p.log.WithField("payment_id", rec.ID.String()).
				Info("removed superseded unidentified payment")
			continue
		}
		if rec.Ledger.BlockIndex == nil {
			continue
		}
		block := *rec.Ledger.BlockIndex
		if _, ok := keptAtBlock[block]; ok {
			// Duplicate from a multi-device race; its activity shows up as
			// unaccounted again on the next pass and folds into the survivor.
			if err := p.deleteRecord(ctx, rec.ID); err != nil {
				return err
			}
			p.log.WithField("payment_id", rec.ID.String()).
				WithField("block_index", block).
				Info("removed duplicate unidentified payment")
			continue
		}
		keptAtBlock[block] = rec.ID
	}
	return nil
}

// coveredByIdentified reports whether every ledger key on an unidentified
// record is also claimed by a record backed by real metadata. Such a record
// duplicates information the identified records already carry.
func (p *pass) coveredByIdentified(idx *recordIndex, rec *payment.PaymentRecord) bool {
	keys := len(rec.Ledger.SpentKeyImages) + len(rec.Ledger.IncomingTxoPublicKeys)
	if keys == 0 {
		return false
	}
	for _, key := range rec.Ledger.SpentKeyImages {
		if !ownedByOther(idx.byKeyImage[key], rec) {
			return false
		}
	}
	for _, key := range rec.Ledger.IncomingTxoPublicKeys {
		if !ownedByOther(idx.byIncomingKey[key], rec) && !idx.isChangeOutput(key) {
			return false
		}
	}
	return true
}

func ownedByOther(owners []*payment.PaymentRecord, rec *payment.PaymentRecord) bool {
	for _, owner := range owners {
		if owner.ID != rec.ID && !owner.Type.IsUnidentified() {
			return true
		}
	}
	return false
}

// Mutation helpers. In a read-only pass the first required write aborts the
// body with errUnsavedChanges.

func (p *pass) insertRecord(ctx context.Context, rec *payment.PaymentRecord) error {
	if !p.canWrite {
		return errUnsavedChanges
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("reconcile: invalid record %s: %w", rec.ID, err)
	}
	return p.store.Insert(ctx, rec)
}

func (p *pass) updateRecord(ctx context.Context, rec *payment.PaymentRecord) error {
	if !p.canWrite {
		return errUnsavedChanges
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("reconcile: invalid record %s: %w", rec.ID, err)
	}
	return p.store.Update(ctx, rec)
}

func (p *pass) deleteRecord(ctx context.Context, id uuid.UUID) error {
	if !p.canWrite {
		return errUnsavedChanges
	}
	return p.store.Delete(ctx, id)
}

func (p *pass) deleteArchived(ctx context.Context, id uuid.UUID) error {
	if !p.canWrite {
		return errUnsavedChanges
	}
	return p.store.DeleteArchived(ctx, id)
}

package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
)

var (
	t1 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t5 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

// fundingRecord is an identified incoming record that accounts for the
// receipt of one TXO, so tests can exercise its spend in isolation.
func fundingRecord(txo string, block uint64, ts time.Time) *payment.PaymentRecord {
	return &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeIncoming,
		State:     payment.StateIncomingComplete,
		Amount:    picomob(100),
		CreatedAt: ts,
		Ledger: payment.LedgerInfo{
			ReceiptBytes:          []byte("receipt-" + txo),
			IncomingTxoPublicKeys: []string{txo},
			BlockIndex:            u64(block),
			BlockTimestamp:        tsPtr(ts),
		},
	}
}

func spentItem(amount uint64, txo, keyImage string) ledger.ActivityItem {
	spent := blockRef(5, tsPtr(t5))
	return ledger.ActivityItem{
		Amount:        picomob(amount),
		TxoPublicKey:  txo,
		KeyImage:      keyImage,
		ReceivedBlock: blockRef(1, tsPtr(t1)),
		SpentBlock:    &spent,
	}
}

func receivedItem(amount uint64, txo string, block uint64, ts *time.Time) ledger.ActivityItem {
	return ledger.ActivityItem{
		Amount:        picomob(amount),
		TxoPublicKey:  txo,
		KeyImage:      "ki-" + txo,
		ReceivedBlock: blockRef(block, ts),
	}
}

func runWith(t *testing.T, store *fakeStore, items []ledger.ActivityItem) *Service {
	t.Helper()
	client := &fakeLedger{activity: ledger.AccountActivity{Items: items, BlockCount: 10}}
	svc := newTestService(store, client, &fakeSnapshots{}, true)
	require.NoError(t, svc.RunPass(context.Background()))
	return svc
}

func TestUnexplainedSpendSynthesizesOutgoing(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))

	runWith(t, store, []ledger.ActivityItem{spentItem(100, "txo-a", "ki-a")})

	synthesized := store.unidentified()
	require.Len(t, synthesized, 1)
	rec := synthesized[0]
	assert.Equal(t, payment.TypeOutgoingUnidentified, rec.Type)
	assert.Equal(t, payment.StateOutgoingComplete, rec.State)
	assert.Equal(t, "100", rec.Amount.String())
	require.NotNil(t, rec.Ledger.BlockIndex)
	assert.Equal(t, uint64(5), *rec.Ledger.BlockIndex)
	require.NotNil(t, rec.Ledger.BlockTimestamp)
	assert.Equal(t, t5, *rec.Ledger.BlockTimestamp)
	assert.Equal(t, []string{"ki-a"}, rec.Ledger.SpentKeyImages)

	// Read-only probe first, then the write transaction
	assert.Equal(t, []bool{true, false}, store.begins)
	assert.Equal(t, 1, store.commits)
}

func TestUnexplainedSpendNetsAgainstReceipts(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))

	runWith(t, store, []ledger.ActivityItem{
		spentItem(100, "txo-a", "ki-a"),
		receivedItem(60, "txo-b", 5, tsPtr(t5)),
	})

	synthesized := store.unidentified()
	require.Len(t, synthesized, 1)
	rec := synthesized[0]
	assert.Equal(t, payment.TypeOutgoingUnidentified, rec.Type)
	assert.Equal(t, "40", rec.Amount.String())
	assert.Equal(t, []string{"ki-a"}, rec.Ledger.SpentKeyImages)
	assert.Equal(t, []string{"txo-b"}, rec.Ledger.IncomingTxoPublicKeys)
}

func TestChangeOutputNeverBecomesARecord(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))
	outgoing := &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeOutgoing,
		State:     payment.StateOutgoingComplete,
		Amount:    picomob(80),
		CreatedAt: t5,
		Ledger: payment.LedgerInfo{
			TransactionBytes: []byte("tx"),
			SpentKeyImages:   []string{"ki-a"},
			OutputPublicKeys: []string{"txo-dest", "txo-change"},
			BlockIndex:       u64(5),
			BlockTimestamp:   tsPtr(t5),
		},
	}
	store.put(outgoing)

	runWith(t, store, []ledger.ActivityItem{
		spentItem(100, "txo-a", "ki-a"),
		receivedItem(20, "txo-change", 5, tsPtr(t5)),
	})

	assert.Empty(t, store.unidentified())
	// Everything was accounted for, so the pass never needed to write
	assert.Equal(t, []bool{true}, store.begins)
	assert.Zero(t, store.commits)
	assert.Zero(t, store.writes)
}

func TestPassIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))
	items := []ledger.ActivityItem{
		spentItem(100, "txo-a", "ki-a"),
		receivedItem(60, "txo-b", 5, tsPtr(t5)),
	}

	svc := runWith(t, store, items)
	require.Len(t, store.unidentified(), 1)
	writesAfterFirst := store.writes

	// The synthesized record now owns the activity; a rerun of the body
	// finds nothing to do.
	require.NoError(t, svc.runBody(context.Background(), items, true))
	assert.Equal(t, writesAfterFirst, store.writes)
	assert.Len(t, store.unidentified(), 1)
}

func TestRestoreArchivedOutgoing(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))
	arch := &payment.ArchivedPayment{
		ID:               uuid.New(),
		TransactionBytes: []byte("archived-tx"),
		SpentKeyImages:   []string{"ki-a"},
		OutputPublicKeys: []string{"txo-dest", "txo-change"},
	}
	store.putArchived(arch)

	runWith(t, store, []ledger.ActivityItem{
		spentItem(100, "txo-a", "ki-a"),
		receivedItem(30, "txo-change", 5, tsPtr(t5)),
	})

	restored := store.get(arch.ID)
	require.NotNil(t, restored)
	assert.Equal(t, payment.TypeOutgoingRestored, restored.Type)
	assert.Equal(t, payment.StateOutgoingComplete, restored.State)
	assert.Equal(t, "70", restored.Amount.String())
	assert.Equal(t, []byte("archived-tx"), restored.Ledger.TransactionBytes)
	require.NotNil(t, restored.Ledger.BlockIndex)
	assert.Equal(t, uint64(5), *restored.Ledger.BlockIndex)

	archived, err := store.ListArchived(context.Background())
	require.NoError(t, err)
	assert.Empty(t, archived)
	assert.Empty(t, store.unidentified())
}

func TestRestoreArchivedIncoming(t *testing.T) {
	store := newFakeStore()
	arch := &payment.ArchivedPayment{
		ID:                    uuid.New(),
		Incoming:              true,
		ReceiptBytes:          []byte("archived-receipt"),
		IncomingTxoPublicKeys: []string{"txo-b"},
	}
	store.putArchived(arch)

	runWith(t, store, []ledger.ActivityItem{
		receivedItem(60, "txo-b", 7, tsPtr(t5)),
	})

	restored := store.get(arch.ID)
	require.NotNil(t, restored)
	assert.Equal(t, payment.TypeIncomingRestored, restored.Type)
	assert.Equal(t, payment.StateIncomingComplete, restored.State)
	assert.Equal(t, "60", restored.Amount.String())
	assert.True(t, restored.IsUnread)
}

func TestArchivedWithoutProofFallsBackToUnidentified(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))
	arch := &payment.ArchivedPayment{
		ID: uuid.New(),
		// No transaction bytes: the stub cannot be restored
		SpentKeyImages: []string{"ki-a"},
	}
	store.putArchived(arch)

	runWith(t, store, []ledger.ActivityItem{spentItem(100, "txo-a", "ki-a")})

	assert.Nil(t, store.get(arch.ID))
	synthesized := store.unidentified()
	require.Len(t, synthesized, 1)
	assert.Equal(t, payment.TypeOutgoingUnidentified, synthesized[0].Type)
	assert.Contains(t, synthesized[0].Ledger.SpentKeyImages, "ki-a")

	// The stub stays for a future pass that might explain it better
	archived, err := store.ListArchived(context.Background())
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestSupersededUnidentifiedIsRemoved(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))
	outgoing := &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeOutgoing,
		State:     payment.StateOutgoingComplete,
		Amount:    picomob(100),
		CreatedAt: t5,
		Ledger: payment.LedgerInfo{
			TransactionBytes: []byte("tx"),
			SpentKeyImages:   []string{"ki-a"},
			BlockIndex:       u64(5),
			BlockTimestamp:   tsPtr(t5),
		},
	}
	store.put(outgoing)
	stale := &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeOutgoingUnidentified,
		State:     payment.StateOutgoingComplete,
		Amount:    picomob(100),
		CreatedAt: t5,
		Ledger: payment.LedgerInfo{
			SpentKeyImages: []string{"ki-a"},
			BlockIndex:     u64(5),
			BlockTimestamp: tsPtr(t5),
		},
	}
	store.put(stale)

	runWith(t, store, []ledger.ActivityItem{spentItem(100, "txo-a", "ki-a")})

	assert.Nil(t, store.get(stale.ID))
	assert.NotNil(t, store.get(outgoing.ID))
	assert.Empty(t, store.unidentified())
}

func TestDuplicateUnidentifiedCollapses(t *testing.T) {
	store := newFakeStore()
	first := &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeIncomingUnidentified,
		State:     payment.StateIncomingComplete,
		Amount:    picomob(60),
		CreatedAt: t5,
		Ledger: payment.LedgerInfo{
			IncomingTxoPublicKeys: []string{"txo-b"},
			BlockIndex:            u64(5),
			BlockTimestamp:        tsPtr(t5),
		},
	}
	second := &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeIncomingUnidentified,
		State:     payment.StateIncomingComplete,
		Amount:    picomob(40),
		CreatedAt: t5.Add(time.Minute),
		Ledger: payment.LedgerInfo{
			IncomingTxoPublicKeys: []string{"txo-c"},
			BlockIndex:            u64(5),
			BlockTimestamp:        tsPtr(t5),
		},
	}
	store.put(first)
	store.put(second)

	runWith(t, store, []ledger.ActivityItem{
		receivedItem(60, "txo-b", 5, tsPtr(t5)),
		receivedItem(40, "txo-c", 5, tsPtr(t5)),
	})

	assert.Len(t, store.unidentified(), 1)
}

func TestBackfillStoresKnownTimestamp(t *testing.T) {
	store := newFakeStore()
	missing := fundingRecord("txo-b", 5, t5)
	missing.Ledger.BlockTimestamp = nil
	store.put(missing)

	stored := fundingRecord("txo-c", 5, t1)
	store.put(stored)

	runWith(t, store, []ledger.ActivityItem{
		receivedItem(60, "txo-b", 5, tsPtr(t5)),
		receivedItem(40, "txo-c", 5, tsPtr(t5)),
	})

	got := store.get(missing.ID)
	require.NotNil(t, got.Ledger.BlockTimestamp)
	assert.Equal(t, t5, *got.Ledger.BlockTimestamp)

	// An already stored timestamp is never overwritten
	kept := store.get(stored.ID)
	require.NotNil(t, kept.Ledger.BlockTimestamp)
	assert.Equal(t, t1, *kept.Ledger.BlockTimestamp)
}

func TestExactWashProducesNoRecord(t *testing.T) {
	store := newFakeStore()
	store.put(fundingRecord("txo-a", 1, t1))

	runWith(t, store, []ledger.ActivityItem{
		spentItem(100, "txo-a", "ki-a"),
		receivedItem(100, "txo-b", 5, tsPtr(t5)),
	})

	assert.Empty(t, store.unidentified())
}

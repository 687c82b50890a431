//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/money"
	"github.com/renlav/payledger/testutil/testdb"
)

var testDB *testdb.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testdb.NewTestDB(ctx)
	if err != nil {
		panic("failed to create test database: " + err.Error())
	}

	code := m.Run()

	testDB.Close(ctx)
	if code != 0 {
		panic("tests failed")
	}
}

func setupTest(t *testing.T) (*RecordRepository, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))

	repo := NewRecordRepository(testDB.Pool)
	return repo, ctx
}

func amount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func outgoingRecord(t *testing.T, tx []byte) *payment.PaymentRecord {
	t.Helper()
	counterparty := "counterparty-1"
	return &payment.PaymentRecord{
		ID:             uuid.New(),
		Type:           payment.TypeOutgoing,
		State:          payment.StateOutgoingUnsubmitted,
		Amount:         amount(t, "1000000000000"),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		CounterpartyID: &counterparty,
		Ledger: payment.LedgerInfo{
			TransactionBytes: tx,
			SpentKeyImages:   []string{"ki-1", "ki-2"},
			OutputPublicKeys: []string{"out-1", "out-2"},
		},
	}
}

func TestRecordRepository_InsertAndGet(t *testing.T) {
	repo, ctx := setupTest(t)

	record := outgoingRecord(t, []byte{0x01, 0x02, 0x03})
	memo := "lunch"
	record.Memo = &memo
	fee := amount(t, "400000000")
	record.Ledger.Fee = &fee

	require.NoError(t, repo.Insert(ctx, record))

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, payment.TypeOutgoing, got.Type)
	assert.Equal(t, payment.StateOutgoingUnsubmitted, got.State)
	assert.Equal(t, "1000000000000", got.Amount.String())
	assert.Equal(t, record.CreatedAt, got.CreatedAt.UTC())
	assert.Equal(t, "counterparty-1", *got.CounterpartyID)
	assert.Equal(t, "lunch", *got.Memo)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got.Ledger.TransactionBytes)
	assert.Equal(t, []string{"ki-1", "ki-2"}, got.Ledger.SpentKeyImages)
	assert.Equal(t, []string{"out-1", "out-2"}, got.Ledger.OutputPublicKeys)
	require.NotNil(t, got.Ledger.Fee)
	assert.Equal(t, "400000000", got.Ledger.Fee.String())
	assert.Nil(t, got.Ledger.BlockIndex)
	assert.False(t, got.IsUnread)
}

func TestRecordRepository_InsertDuplicateTransaction(t *testing.T) {
	repo, ctx := setupTest(t)

	tx := []byte{0xAA, 0xBB}
	require.NoError(t, repo.Insert(ctx, outgoingRecord(t, tx)))

	err := repo.Insert(ctx, outgoingRecord(t, tx))
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrDuplicateRecord)
}

func TestRecordRepository_GetNotFound(t *testing.T) {
	repo, ctx := setupTest(t)

	_, err := repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, payment.ErrRecordNotFound)
}

func TestRecordRepository_Update(t *testing.T) {
	repo, ctx := setupTest(t)

	record := outgoingRecord(t, []byte{0x01})
	require.NoError(t, repo.Insert(ctx, record))

	block := uint64(12345)
	ts := time.Now().UTC().Truncate(time.Microsecond)
	record.State = payment.StateOutgoingVerified
	record.Ledger.BlockIndex = &block
	record.Ledger.BlockTimestamp = &ts
	require.NoError(t, repo.Update(ctx, record))

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StateOutgoingVerified, got.State)
	require.NotNil(t, got.Ledger.BlockIndex)
	assert.Equal(t, block, *got.Ledger.BlockIndex)
	require.NotNil(t, got.Ledger.BlockTimestamp)
	assert.Equal(t, ts, got.Ledger.BlockTimestamp.UTC())
}

func TestRecordRepository_UpdateMissingRecord(t *testing.T) {
	repo, ctx := setupTest(t)

	record := outgoingRecord(t, []byte{0x01})
	err := repo.Update(ctx, record)
	assert.ErrorIs(t, err, payment.ErrRecordNotFound)
}

func TestRecordRepository_FindByTransaction(t *testing.T) {
	repo, ctx := setupTest(t)

	tx := []byte{0xDE, 0xAD}
	record := outgoingRecord(t, tx)
	require.NoError(t, repo.Insert(ctx, record))

	got, err := repo.FindByTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = repo.FindByTransaction(ctx, []byte{0xBE, 0xEF})
	assert.ErrorIs(t, err, payment.ErrRecordNotFound)
}

func TestRecordRepository_ListActiveExcludesTerminal(t *testing.T) {
	repo, ctx := setupTest(t)

	active := outgoingRecord(t, []byte{0x01})
	require.NoError(t, repo.Insert(ctx, active))

	block := uint64(7)
	done := outgoingRecord(t, []byte{0x02})
	done.State = payment.StateOutgoingComplete
	done.Ledger.BlockIndex = &block
	require.NoError(t, repo.Insert(ctx, done))

	failed := outgoingRecord(t, []byte{0x03})
	failed.State = payment.StateOutgoingFailed
	failed.Failure = payment.FailureValidationFailed
	require.NoError(t, repo.Insert(ctx, failed))

	records, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, active.ID, records[0].ID)
}

func TestRecordRepository_ListNonFailedIncludesComplete(t *testing.T) {
	repo, ctx := setupTest(t)

	block := uint64(7)
	done := outgoingRecord(t, []byte{0x02})
	done.State = payment.StateOutgoingComplete
	done.Ledger.BlockIndex = &block
	require.NoError(t, repo.Insert(ctx, done))

	failed := outgoingRecord(t, []byte{0x03})
	failed.State = payment.StateOutgoingFailed
	failed.Failure = payment.FailureValidationFailed
	require.NoError(t, repo.Insert(ctx, failed))

	records, err := repo.ListNonFailed(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, done.ID, records[0].ID)
}

func TestRecordRepository_ListFilters(t *testing.T) {
	repo, ctx := setupTest(t)

	unread := &payment.PaymentRecord{
		ID:        uuid.New(),
		Type:      payment.TypeIncomingUnidentified,
		State:     payment.StateIncomingComplete,
		Amount:    amount(t, "500"),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		IsUnread:  true,
		Ledger: payment.LedgerInfo{
			IncomingTxoPublicKeys: []string{"txo-1"},
		},
	}
	require.NoError(t, repo.Insert(ctx, unread))
	require.NoError(t, repo.Insert(ctx, outgoingRecord(t, []byte{0x01})))

	records, err := repo.List(ctx, payment.RecordFilters{UnreadOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, unread.ID, records[0].ID)

	typ := payment.TypeOutgoing
	records, err = repo.List(ctx, payment.RecordFilters{Type: &typ, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, payment.TypeOutgoing, records[0].Type)
}

func TestRecordRepository_ArchivedRoundTrip(t *testing.T) {
	repo, ctx := setupTest(t)

	stub := &payment.ArchivedPayment{
		ID:               uuid.New(),
		Incoming:         false,
		TransactionBytes: []byte{0x10},
		SpentKeyImages:   []string{"ki-1"},
		OutputPublicKeys: []string{"out-1"},
	}
	require.NoError(t, repo.InsertArchived(ctx, stub))
	// restore of the same backup is a no-op
	require.NoError(t, repo.InsertArchived(ctx, stub))

	archived, err := repo.ListArchived(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, stub.ID, archived[0].ID)
	assert.Equal(t, []string{"ki-1"}, archived[0].SpentKeyImages)

	require.NoError(t, repo.DeleteArchived(ctx, stub.ID))
	archived, err = repo.ListArchived(ctx)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestRecordRepository_ReadOnlyTxRejectsWrites(t *testing.T) {
	repo, ctx := setupTest(t)

	txCtx, err := repo.BeginTx(ctx, true)
	require.NoError(t, err)
	defer repo.RollbackTx(txCtx)

	err = repo.Insert(txCtx, outgoingRecord(t, []byte{0x01}))
	require.Error(t, err)
}

func TestRecordRepository_WriteTxCommitAndRollback(t *testing.T) {
	repo, ctx := setupTest(t)

	record := outgoingRecord(t, []byte{0x01})

	txCtx, err := repo.BeginTx(ctx, false)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(txCtx, record))
	require.NoError(t, repo.RollbackTx(txCtx))

	_, err = repo.Get(ctx, record.ID)
	assert.ErrorIs(t, err, payment.ErrRecordNotFound)

	txCtx, err = repo.BeginTx(ctx, false)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(txCtx, record))
	require.NoError(t, repo.CommitTx(txCtx))

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
}

package processing

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

func testLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

// fakeStore is an in-memory RecordStore
type fakeStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*payment.PaymentRecord
	archived map[uuid.UUID]*payment.ArchivedPayment

	beginCount  int
	commitCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[uuid.UUID]*payment.PaymentRecord),
		archived: make(map[uuid.UUID]*payment.ArchivedPayment),
	}
}

func (f *fakeStore) put(r *payment.PaymentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *r
	f.records[r.ID] = &clone
}

func (f *fakeStore) Insert(ctx context.Context, r *payment.PaymentRecord) error {
	f.put(r)
	return nil
}

func (f *fakeStore) Update(ctx context.Context, r *payment.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[r.ID]; !ok {
		return payment.ErrRecordNotFound
	}
	clone := *r
	f.records[r.ID] = &clone
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, payment.ErrRecordNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.PaymentRecord
	for _, r := range f.records {
		if !r.State.IsTerminal() {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ListNonFailed(ctx context.Context) ([]*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.PaymentRecord
	for _, r := range f.records {
		if !r.State.IsFailed() {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByState(ctx context.Context, state payment.PaymentState) ([]*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.PaymentRecord
	for _, r := range f.records {
		if r.State == state {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByBlockIndex(ctx context.Context, blockIndex uint64) ([]*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.PaymentRecord
	for _, r := range f.records {
		if r.Ledger.BlockIndex != nil && *r.Ledger.BlockIndex == blockIndex {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByTransaction(ctx context.Context, tx []byte) (*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if string(r.Ledger.TransactionBytes) == string(tx) {
			clone := *r
			return &clone, nil
		}
	}
	return nil, payment.ErrRecordNotFound
}

func (f *fakeStore) FindByReceipt(ctx context.Context, receipt []byte) (*payment.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if string(r.Ledger.ReceiptBytes) == string(receipt) {
			clone := *r
			return &clone, nil
		}
	}
	return nil, payment.ErrRecordNotFound
}

func (f *fakeStore) List(ctx context.Context, filters payment.RecordFilters) ([]*payment.PaymentRecord, error) {
	return f.ListNonFailed(ctx)
}

func (f *fakeStore) InsertArchived(ctx context.Context, a *payment.ArchivedPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.archived[a.ID]; ok {
		return nil
	}
	clone := *a
	f.archived[a.ID] = &clone
	return nil
}

func (f *fakeStore) ListArchived(ctx context.Context) ([]*payment.ArchivedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.ArchivedPayment
	for _, a := range f.archived {
		clone := *a
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeStore) DeleteArchived(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.archived, id)
	return nil
}

func (f *fakeStore) BeginTx(ctx context.Context, readOnly bool) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginCount++
	return ctx, nil
}

func (f *fakeStore) CommitTx(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCount++
	return nil
}

func (f *fakeStore) RollbackTx(ctx context.Context) error { return nil }

// fakeLedger is a scriptable ledger.Client
type fakeLedger struct {
	mu           sync.Mutex
	submitErr    error
	submitCalls  int
	outStatus    ledger.OutgoingStatus
	outErr       error
	inStatus     ledger.IncomingStatus
	inErr        error
	balance      money.Amount
	balanceCalls int
}

func (f *fakeLedger) GetAccountActivity(ctx context.Context) (*ledger.AccountActivity, error) {
	return &ledger.AccountActivity{}, nil
}

func (f *fakeLedger) SubmitTransaction(ctx context.Context, tx []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	return f.submitErr
}

func (f *fakeLedger) GetOutgoingStatus(ctx context.Context, tx []byte) (ledger.OutgoingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outStatus, f.outErr
}

func (f *fakeLedger) GetIncomingStatus(ctx context.Context, receipt []byte) (ledger.IncomingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inStatus, f.inErr
}

func (f *fakeLedger) GetLocalBalance(ctx context.Context) (money.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, nil
}

// fakeMessaging records outbound messages
type fakeMessaging struct {
	mu            sync.Mutex
	notifications []string
	syncs         int
	notifyErr     error
}

func (f *fakeMessaging) SendPaymentNotification(ctx context.Context, counterpartyID string, record *payment.PaymentRecord) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return uuid.Nil, f.notifyErr
	}
	f.notifications = append(f.notifications, counterpartyID)
	return uuid.New(), nil
}

func (f *fakeMessaging) SendSyncMessage(ctx context.Context, record *payment.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return nil
}

// fakeBalance is an in-memory BalanceCache
type fakeBalance struct {
	mu    sync.Mutex
	value string
	set   bool
}

func (f *fakeBalance) Get(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.set, nil
}

func (f *fakeBalance) Set(ctx context.Context, balance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.set = balance, true
	return nil
}

func (f *fakeBalance) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.set = "", false
	return nil
}

func blockAt(index uint64, ts *time.Time) ledger.Block {
	return ledger.Block{Index: index, Timestamp: ts}
}

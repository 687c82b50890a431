package reconcile

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renlav/payledger/internal/platform/events"
	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/config"
	"github.com/renlav/payledger/pkg/logger"
	"github.com/renlav/payledger/pkg/money"
)

func testLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

// fakeStore is an in-memory RecordStore that records transaction usage
type fakeStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*payment.PaymentRecord
	archived map[uuid.UUID]*payment.ArchivedPayment

	// begins records the readOnly flag of every BeginTx call
	begins  []bool
	commits int
	writes  int
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

func (f *fakeStore) putArchived(a *payment.ArchivedPayment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *a
	f.archived[a.ID] = &clone
}

func (f *fakeStore) get(id uuid.UUID) *payment.PaymentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil
	}
	clone := *r
	return &clone
}

func (f *fakeStore) all() []*payment.PaymentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.PaymentRecord
	for _, r := range f.records {
		clone := *r
		out = append(out, &clone)
	}
	return out
}

func (f *fakeStore) unidentified() []*payment.PaymentRecord {
	var out []*payment.PaymentRecord
	for _, r := range f.all() {
		if r.Type.IsUnidentified() {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeStore) Insert(ctx context.Context, r *payment.PaymentRecord) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	f.put(r)
	return nil
}

func (f *fakeStore) Update(ctx context.Context, r *payment.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[r.ID]; !ok {
		return payment.ErrRecordNotFound
	}
	f.writes++
	clone := *r
	f.records[r.ID] = &clone
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.records, id)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*payment.PaymentRecord, error) {
	r := f.get(id)
	if r == nil {
		return nil, payment.ErrRecordNotFound
	}
	return r, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]*payment.PaymentRecord, error) {
	var out []*payment.PaymentRecord
	for _, r := range f.all() {
		if !r.State.IsTerminal() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListNonFailed(ctx context.Context) ([]*payment.PaymentRecord, error) {
	var out []*payment.PaymentRecord
	for _, r := range f.all() {
		if !r.State.IsFailed() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByState(ctx context.Context, state payment.PaymentState) ([]*payment.PaymentRecord, error) {
	var out []*payment.PaymentRecord
	for _, r := range f.all() {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByBlockIndex(ctx context.Context, blockIndex uint64) ([]*payment.PaymentRecord, error) {
	var out []*payment.PaymentRecord
	for _, r := range f.all() {
		if r.Ledger.BlockIndex != nil && *r.Ledger.BlockIndex == blockIndex {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByTransaction(ctx context.Context, tx []byte) (*payment.PaymentRecord, error) {
	for _, r := range f.all() {
		if string(r.Ledger.TransactionBytes) == string(tx) {
			return r, nil
		}
	}
	return nil, payment.ErrRecordNotFound
}

func (f *fakeStore) FindByReceipt(ctx context.Context, receipt []byte) (*payment.PaymentRecord, error) {
	for _, r := range f.all() {
		if string(r.Ledger.ReceiptBytes) == string(receipt) {
			return r, nil
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
	f.writes++
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
	f.writes++
	delete(f.archived, id)
	return nil
}

func (f *fakeStore) BeginTx(ctx context.Context, readOnly bool) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins = append(f.begins, readOnly)
	return ctx, nil
}

func (f *fakeStore) CommitTx(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeStore) RollbackTx(ctx context.Context) error { return nil }

// fakeLedger serves scripted account activity
type fakeLedger struct {
	mu       sync.Mutex
	activity ledger.AccountActivity
	calls    int
}

func (f *fakeLedger) GetAccountActivity(ctx context.Context) (*ledger.AccountActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	clone := f.activity
	return &clone, nil
}

func (f *fakeLedger) SubmitTransaction(ctx context.Context, tx []byte) error { return nil }

func (f *fakeLedger) GetOutgoingStatus(ctx context.Context, tx []byte) (ledger.OutgoingStatus, error) {
	return ledger.OutgoingStatus{}, nil
}

func (f *fakeLedger) GetIncomingStatus(ctx context.Context, receipt []byte) (ledger.IncomingStatus, error) {
	return ledger.IncomingStatus{}, nil
}

func (f *fakeLedger) GetLocalBalance(ctx context.Context) (money.Amount, error) {
	return money.Amount{}, nil
}

// fakeSnapshots is an in-memory SnapshotStore
type fakeSnapshots struct {
	mu       sync.Mutex
	snapshot *Snapshot
}

func (f *fakeSnapshots) Get(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return nil, nil
	}
	clone := *f.snapshot
	return &clone, nil
}

func (f *fakeSnapshots) Set(ctx context.Context, snapshot Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = &snapshot
	return nil
}

func (f *fakeSnapshots) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = nil
	return nil
}

func newTestService(store *fakeStore, client *fakeLedger, snapshots *fakeSnapshots, primary bool) *Service {
	return NewService(store, client, snapshots, events.NewBus(), config.DefaultPolicy(), primary, testLogger())
}

func picomob(u uint64) money.Amount {
	return money.NewAmountFromUint64(u)
}

func blockRef(index uint64, ts *time.Time) ledger.Block {
	return ledger.Block{Index: index, Timestamp: ts}
}

func tsPtr(t time.Time) *time.Time { return &t }

func u64(v uint64) *uint64 { return &v }

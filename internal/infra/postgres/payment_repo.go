package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/money"
)

// RecordRepository implements payment.RecordStore using PostgreSQL
type RecordRepository struct {
	pool *pgxpool.Pool
}

var _ payment.RecordStore = (*RecordRepository)(nil)

// NewRecordRepository creates a new PostgreSQL payment record repository
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

const recordColumns = `
	id, type, state, amount, created_at, counterparty_id, memo,
	transaction_bytes, receipt_bytes, incoming_txo_public_keys,
	spent_key_images, output_public_keys, block_index, block_timestamp,
	fee, is_unread, failure, outbound_message_id`

// Insert creates a new payment record
func (r *RecordRepository) Insert(ctx context.Context, record *payment.PaymentRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid payment record: %w", err)
	}

	query := `
		INSERT INTO payment_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query, r.recordArgs(record)...)
	if err != nil {
		if isDuplicateError(err) {
			return payment.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert payment record: %w", err)
	}
	return nil
}

// Update replaces all mutable fields of an existing record
func (r *RecordRepository) Update(ctx context.Context, record *payment.PaymentRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid payment record: %w", err)
	}

	query := `
		UPDATE payment_records SET
			type = $2, state = $3, amount = $4, created_at = $5,
			counterparty_id = $6, memo = $7, transaction_bytes = $8,
			receipt_bytes = $9, incoming_txo_public_keys = $10,
			spent_key_images = $11, output_public_keys = $12,
			block_index = $13, block_timestamp = $14, fee = $15,
			is_unread = $16, failure = $17, outbound_message_id = $18
		WHERE id = $1
	`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, r.recordArgs(record)...)
	if err != nil {
		return fmt.Errorf("failed to update payment record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrRecordNotFound
	}
	return nil
}

// Delete removes a payment record
func (r *RecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, `DELETE FROM payment_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment record: %w", err)
	}
	return nil
}

// Get retrieves a payment record by ID
func (r *RecordRepository) Get(ctx context.Context, id uuid.UUID) (*payment.PaymentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM payment_records WHERE id = $1`

	q := r.getQueryer(ctx)
	record, err := scanRecord(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	return record, nil
}

// ListActive returns non-terminal records ordered by creation time
func (r *RecordRepository) ListActive(ctx context.Context) ([]*payment.PaymentRecord, error) {
	query := `
		SELECT` + recordColumns + `
		FROM payment_records
		WHERE state NOT IN ('outgoing_complete', 'outgoing_failed', 'incoming_complete', 'incoming_failed')
		ORDER BY created_at ASC
	`
	return r.queryRecords(ctx, query)
}

// ListNonFailed returns every record not in a failed state
func (r *RecordRepository) ListNonFailed(ctx context.Context) ([]*payment.PaymentRecord, error) {
	query := `
		SELECT` + recordColumns + `
		FROM payment_records
		WHERE state NOT IN ('outgoing_failed', 'incoming_failed')
		ORDER BY created_at ASC
	`
	return r.queryRecords(ctx, query)
}

// ListByState returns all records in the given state
func (r *RecordRepository) ListByState(ctx context.Context, state payment.PaymentState) ([]*payment.PaymentRecord, error) {
	query := `
		SELECT` + recordColumns + `
		FROM payment_records
		WHERE state = $1
		ORDER BY created_at ASC
	`
	return r.queryRecords(ctx, query, string(state))
}

// ListByBlockIndex returns all records anchored to the given ledger block
func (r *RecordRepository) ListByBlockIndex(ctx context.Context, blockIndex uint64) ([]*payment.PaymentRecord, error) {
	query := `
		SELECT` + recordColumns + `
		FROM payment_records
		WHERE block_index = $1
		ORDER BY created_at ASC
	`
	return r.queryRecords(ctx, query, int64(blockIndex))
}

// FindByTransaction finds the record carrying the given transaction bytes
func (r *RecordRepository) FindByTransaction(ctx context.Context, transactionBytes []byte) (*payment.PaymentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM payment_records WHERE transaction_bytes = $1`

	q := r.getQueryer(ctx)
	record, err := scanRecord(q.QueryRow(ctx, query, transactionBytes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find payment record by transaction: %w", err)
	}
	return record, nil
}

// FindByReceipt finds the record carrying the given receipt bytes
func (r *RecordRepository) FindByReceipt(ctx context.Context, receiptBytes []byte) (*payment.PaymentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM payment_records WHERE receipt_bytes = $1`

	q := r.getQueryer(ctx)
	record, err := scanRecord(q.QueryRow(ctx, query, receiptBytes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find payment record by receipt: %w", err)
	}
	return record, nil
}

// List returns records matching the filters, newest first
func (r *RecordRepository) List(ctx context.Context, filters payment.RecordFilters) ([]*payment.PaymentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM payment_records WHERE 1=1`

	args := make([]interface{}, 0)
	argPos := 1

	if filters.State != nil {
		query += fmt.Sprintf(" AND state = $%d", argPos)
		args = append(args, string(*filters.State))
		argPos++
	}

	if filters.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, string(*filters.Type))
		argPos++
	}

	if filters.UnreadOnly {
		query += " AND is_unread = TRUE"
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
		argPos++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filters.Offset)
	}

	return r.queryRecords(ctx, query, args...)
}

// ListArchived returns all archived payment stubs
func (r *RecordRepository) ListArchived(ctx context.Context) ([]*payment.ArchivedPayment, error) {
	query := `
		SELECT id, incoming, transaction_bytes, receipt_bytes, spent_key_images,
			output_public_keys, incoming_txo_public_keys, failed
		FROM archived_payments
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived payments: %w", err)
	}
	defer rows.Close()

	var archived []*payment.ArchivedPayment
	for rows.Next() {
		var a payment.ArchivedPayment
		err := rows.Scan(
			&a.ID,
			&a.Incoming,
			&a.TransactionBytes,
			&a.ReceiptBytes,
			&a.SpentKeyImages,
			&a.OutputPublicKeys,
			&a.IncomingTxoPublicKeys,
			&a.Failed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived payment: %w", err)
		}
		archived = append(archived, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived payments: %w", err)
	}
	return archived, nil
}

// DeleteArchived removes an archived payment stub
func (r *RecordRepository) DeleteArchived(ctx context.Context, id uuid.UUID) error {
	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, `DELETE FROM archived_payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete archived payment: %w", err)
	}
	return nil
}

// InsertArchived stores an archived payment stub. Restores with an existing
// id are idempotent.
func (r *RecordRepository) InsertArchived(ctx context.Context, a *payment.ArchivedPayment) error {
	query := `
		INSERT INTO archived_payments (id, incoming, transaction_bytes, receipt_bytes,
			spent_key_images, output_public_keys, incoming_txo_public_keys, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		a.ID,
		a.Incoming,
		a.TransactionBytes,
		a.ReceiptBytes,
		a.SpentKeyImages,
		a.OutputPublicKeys,
		a.IncomingTxoPublicKeys,
		a.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert archived payment: %w", err)
	}
	return nil
}

func (r *RecordRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*payment.PaymentRecord, error) {
	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment records: %w", err)
	}
	defer rows.Close()

	var records []*payment.PaymentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment records: %w", err)
	}
	return records, nil
}

// recordArgs returns the column values in recordColumns order
func (r *RecordRepository) recordArgs(record *payment.PaymentRecord) []interface{} {
	var blockIndex *int64
	if record.Ledger.BlockIndex != nil {
		v := int64(*record.Ledger.BlockIndex)
		blockIndex = &v
	}
	var fee *string
	if record.Ledger.Fee != nil {
		v := record.Ledger.Fee.String()
		fee = &v
	}
	return []interface{}{
		record.ID,
		string(record.Type),
		string(record.State),
		record.Amount.String(),
		record.CreatedAt,
		record.CounterpartyID,
		record.Memo,
		record.Ledger.TransactionBytes,
		record.Ledger.ReceiptBytes,
		record.Ledger.IncomingTxoPublicKeys,
		record.Ledger.SpentKeyImages,
		record.Ledger.OutputPublicKeys,
		blockIndex,
		record.Ledger.BlockTimestamp,
		fee,
		record.IsUnread,
		string(record.Failure),
		record.OutboundMessageID,
	}
}

// scanRecord scans a single payment record from a row
func scanRecord(row pgx.Row) (*payment.PaymentRecord, error) {
	var record payment.PaymentRecord
	var amountStr string
	var counterparty, memo, feeStr sql.NullString
	var blockIndex sql.NullInt64
	var blockTimestamp sql.NullTime
	var outboundID uuid.NullUUID

	err := row.Scan(
		&record.ID,
		&record.Type,
		&record.State,
		&amountStr,
		&record.CreatedAt,
		&counterparty,
		&memo,
		&record.Ledger.TransactionBytes,
		&record.Ledger.ReceiptBytes,
		&record.Ledger.IncomingTxoPublicKeys,
		&record.Ledger.SpentKeyImages,
		&record.Ledger.OutputPublicKeys,
		&blockIndex,
		&blockTimestamp,
		&feeStr,
		&record.IsUnread,
		&record.Failure,
		&outboundID,
	)
	if err != nil {
		return nil, err
	}

	amount, err := money.ParseAmount(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	record.Amount = amount

	if counterparty.Valid {
		record.CounterpartyID = &counterparty.String
	}
	if memo.Valid {
		record.Memo = &memo.String
	}
	if blockIndex.Valid {
		v := uint64(blockIndex.Int64)
		record.Ledger.BlockIndex = &v
	}
	if blockTimestamp.Valid {
		ts := blockTimestamp.Time
		record.Ledger.BlockTimestamp = &ts
	}
	if feeStr.Valid {
		fee, err := money.ParseAmount(feeStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fee: %w", err)
		}
		record.Ledger.Fee = &fee
	}
	if outboundID.Valid {
		id := outboundID.UUID
		record.OutboundMessageID = &id
	}

	return &record, nil
}

// isDuplicateError reports whether err is a unique constraint violation
func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Transaction management. The open transaction travels in the context so
// every repository method observes it.

type ctxKey string

const txContextKey ctxKey = "payment_tx"

// BeginTx starts a database transaction and stores it in the returned
// context. readOnly transactions reject writes at the database level, which
// lets reconciliation probe for work without risking a partial mutation.
func (r *RecordRepository) BeginTx(ctx context.Context, readOnly bool) (context.Context, error) {
	if tx := txFromContext(ctx); tx != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	opts := pgx.TxOptions{}
	if readOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the transaction carried in the context
func (r *RecordRepository) CommitTx(ctx context.Context) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTx rolls back the transaction carried in the context
func (r *RecordRepository) RollbackTx(ctx context.Context) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer returns the context's transaction if one exists, otherwise the
// pool, so methods work both inside and outside transactions.
func (r *RecordRepository) getQueryer(ctx context.Context) interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

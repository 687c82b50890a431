package payment

import "errors"

// Record validation errors
var (
	ErrInvalidPaymentType       = errors.New("invalid payment type")
	ErrStateDirectionMismatch   = errors.New("payment state direction does not match payment type")
	ErrUnidentifiedWithProof    = errors.New("unidentified payment cannot carry transaction or receipt bytes")
	ErrUnidentifiedNotTerminal  = errors.New("unidentified payment must be in a terminal state")
	ErrVerifiedWithoutKeyImages = errors.New("verified outgoing payment must carry spent key images")
	ErrFailedWithoutReason      = errors.New("failed payment must carry a failure reason")
	ErrInvalidTransition        = errors.New("payment state may only move forward")
)

// Store errors
var (
	ErrRecordNotFound = errors.New("payment record not found")
	ErrDuplicateRecord = errors.New("payment record already exists")
)

// Category classifies an error for the retry policy. Only the first three
// categories are retryable.
type Category int

const (
	// CategoryNone marks a nil or uncategorized error
	CategoryNone Category = iota
	// CategoryConnection covers connection failures and timeouts
	CategoryConnection
	// CategoryRateLimited covers explicit throttling by the ledger
	CategoryRateLimited
	// CategoryLedgerUnknown means the ledger has not yet decided the
	// payment's fate
	CategoryLedgerUnknown
	// CategoryValidation covers model and transport errors that retrying
	// cannot fix
	CategoryValidation
	// CategoryIndeterminate marks unparsable ledger data; the local record
	// is disposable and reconciliation re-derives the truth
	CategoryIndeterminate
	// CategoryInternal covers programmer errors
	CategoryInternal
)

// Retryable reports whether errors of this category should be retried
func (c Category) Retryable() bool {
	switch c {
	case CategoryConnection, CategoryRateLimited, CategoryLedgerUnknown:
		return true
	}
	return false
}

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryLedgerUnknown:
		return "ledger_unknown"
	case CategoryValidation:
		return "validation"
	case CategoryIndeterminate:
		return "indeterminate"
	case CategoryInternal:
		return "internal"
	}
	return "none"
}

// categoryError attaches a Category to an underlying error
type categoryError struct {
	category Category
	err      error
}

func (e *categoryError) Error() string { return e.err.Error() }
func (e *categoryError) Unwrap() error { return e.err }

// WithCategory wraps err with a retry category. A nil err returns nil.
func WithCategory(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &categoryError{category: category, err: err}
}

// Categorize extracts the retry category from an error chain. Errors without
// an explicit category are treated as internal.
func Categorize(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var ce *categoryError
	if errors.As(err, &ce) {
		return ce.category
	}
	return CategoryInternal
}

package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/internal/platform/payment"
)

// stepOutcome is the closed set of verdicts a processing step can reach,
// mirroring the continue/retry/end delegate protocol.
type stepOutcome int

const (
	// outcomeContinue schedules the next step immediately
	outcomeContinue stepOutcome = iota
	// outcomeRetry re-arms the same step after a category-based backoff
	outcomeRetry
	// outcomeEnd finishes processing for this record
	outcomeEnd
)

type stepResult struct {
	outcome  stepOutcome
	category payment.Category
}

func continueProcessing() stepResult { return stepResult{outcome: outcomeContinue} }

func endProcessing() stepResult { return stepResult{outcome: outcomeEnd} }

func retryProcessing(c payment.Category) stepResult {
	return stepResult{outcome: outcomeRetry, category: c}
}

// step performs exactly one state transition for the record, or fails.
// Ledger and messaging I/O happen outside the store transaction; the record
// mutation itself is committed atomically.
func (s *Service) step(ctx context.Context, record *payment.PaymentRecord) stepResult {
	switch record.State {
	case payment.StateOutgoingUnsubmitted:
		return s.stepSubmit(ctx, record)
	case payment.StateOutgoingUnverified:
		return s.stepVerifyOutgoing(ctx, record)
	case payment.StateOutgoingVerified:
		return s.stepNotify(ctx, record)
	case payment.StateOutgoingSending, payment.StateOutgoingSent:
		return s.stepComplete(ctx, record, payment.StateOutgoingComplete)
	case payment.StateIncomingUnverified:
		return s.stepVerifyIncoming(ctx, record)
	case payment.StateIncomingVerified:
		return s.stepComplete(ctx, record, payment.StateIncomingComplete)
	default:
		s.log.Error("no processing step for state",
			"payment_id", record.ID, "state", record.State)
		return endProcessing()
	}
}

// stepSubmit handles outgoingUnsubmitted -> outgoingUnverified
func (s *Service) stepSubmit(ctx context.Context, record *payment.PaymentRecord) stepResult {
	// An old unsubmitted payment may already have been accepted by the
	// ledger; submitting again would be ambiguous. Skip to verification and
	// let the status query decide.
	if time.Since(record.CreatedAt) > s.policy.SubmissionWindow.Std() {
		s.log.Info("submission window elapsed, skipping submit",
			"payment_id", record.ID,
			"age", time.Since(record.CreatedAt).Round(time.Second))
		return s.transition(ctx, record, payment.StateOutgoingUnverified)
	}

	if len(record.Ledger.TransactionBytes) == 0 {
		return s.discardIndeterminate(ctx, record, fmt.Errorf("unsubmitted payment has no transaction bytes"))
	}

	err := s.client.SubmitTransaction(ctx, record.Ledger.TransactionBytes)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInputsAlreadySpent):
		// Idempotent double-submit: an earlier attempt went through
		s.log.Debug("transaction inputs already spent, treating submit as success",
			"payment_id", record.ID)
	default:
		category := payment.Categorize(err)
		if category == payment.CategoryIndeterminate {
			return s.discardIndeterminate(ctx, record, err)
		}
		return s.failStep(record, "submit", err)
	}

	return s.transition(ctx, record, payment.StateOutgoingUnverified)
}

// stepVerifyOutgoing handles outgoingUnverified -> outgoingVerified|outgoingFailed
func (s *Service) stepVerifyOutgoing(ctx context.Context, record *payment.PaymentRecord) stepResult {
	status, err := s.client.GetOutgoingStatus(ctx, record.Ledger.TransactionBytes)
	if err != nil {
		return s.failStep(record, "outgoing status", err)
	}

	switch status.Kind {
	case ledger.OutgoingStatusAccepted:
		res := s.mutate(ctx, record, func(r *payment.PaymentRecord) error {
			if r.Ledger.BlockIndex == nil {
				idx := status.Block.Index
				r.Ledger.BlockIndex = &idx
			}
			if r.Ledger.BlockTimestamp == nil && status.Block.Timestamp != nil {
				ts := *status.Block.Timestamp
				r.Ledger.BlockTimestamp = &ts
			}
			r.State = payment.StateOutgoingVerified
			return nil
		})
		if res.outcome == outcomeContinue {
			s.refreshBalance(ctx)
		}
		return res

	case ledger.OutgoingStatusFailed:
		s.log.Warn("ledger rejected outgoing payment", "payment_id", record.ID)
		return s.fail(ctx, record, payment.StateOutgoingFailed, payment.FailureValidationFailed)

	default:
		// The ledger has not decided yet
		return retryProcessing(payment.CategoryLedgerUnknown)
	}
}

// stepNotify handles outgoingVerified -> outgoingSending|outgoingSent
func (s *Service) stepNotify(ctx context.Context, record *payment.PaymentRecord) stepResult {
	if !record.Type.RequiresNotification() || record.CounterpartyID == nil {
		// Transfers between the user's own wallets have nobody to notify
		return s.transition(ctx, record, payment.StateOutgoingSent)
	}

	messageID, err := s.messaging.SendPaymentNotification(ctx, *record.CounterpartyID, record)
	if err != nil {
		return s.failStep(record, "payment notification", err)
	}
	if err := s.messaging.SendSyncMessage(ctx, record); err != nil {
		// The counterparty already knows; device sync rides the next
		// reconciliation pass if this fails permanently
		s.log.WithError(err).Warn("failed to send payment sync message",
			"payment_id", record.ID)
	}

	return s.mutate(ctx, record, func(r *payment.PaymentRecord) error {
		r.OutboundMessageID = &messageID
		r.State = payment.StateOutgoingSending
		return nil
	})
}

// stepVerifyIncoming handles incomingUnverified -> incomingVerified|incomingFailed
func (s *Service) stepVerifyIncoming(ctx context.Context, record *payment.PaymentRecord) stepResult {
	status, err := s.client.GetIncomingStatus(ctx, record.Ledger.ReceiptBytes)
	if err != nil {
		return s.failStep(record, "incoming status", err)
	}

	switch status.Kind {
	case ledger.IncomingStatusReceived:
		res := s.mutate(ctx, record, func(r *payment.PaymentRecord) error {
			// A daemon response without an amount keeps the notified one
			if !status.Amount.IsZero() {
				r.Amount = status.Amount
			}
			if r.Ledger.BlockIndex == nil {
				idx := status.Block.Index
				r.Ledger.BlockIndex = &idx
			}
			if r.Ledger.BlockTimestamp == nil && status.Block.Timestamp != nil {
				ts := *status.Block.Timestamp
				r.Ledger.BlockTimestamp = &ts
			}
			r.State = payment.StateIncomingVerified
			return nil
		})
		if res.outcome == outcomeContinue {
			s.refreshBalance(ctx)
		}
		return res

	case ledger.IncomingStatusFailed:
		s.log.Warn("ledger rejected incoming receipt", "payment_id", record.ID)
		return s.fail(ctx, record, payment.StateIncomingFailed, payment.FailureValidationFailed)

	default:
		return retryProcessing(payment.CategoryLedgerUnknown)
	}
}

// stepComplete is the bookkeeping-only advance into a completed state
func (s *Service) stepComplete(ctx context.Context, record *payment.PaymentRecord, terminal payment.PaymentState) stepResult {
	res := s.transition(ctx, record, terminal)
	if res.outcome == outcomeContinue {
		s.log.Info("payment complete", "payment_id", record.ID, "type", record.Type)
		return endProcessing()
	}
	return res
}

// transition moves the record to next inside a write transaction
func (s *Service) transition(ctx context.Context, record *payment.PaymentRecord, next payment.PaymentState) stepResult {
	return s.mutate(ctx, record, func(r *payment.PaymentRecord) error {
		r.State = next
		return nil
	})
}

// fail moves the record to a terminal failure state
func (s *Service) fail(ctx context.Context, record *payment.PaymentRecord, state payment.PaymentState, reason payment.FailureReason) stepResult {
	res := s.mutate(ctx, record, func(r *payment.PaymentRecord) error {
		r.State = state
		r.Failure = reason
		return nil
	})
	if res.outcome == outcomeContinue {
		return endProcessing()
	}
	return res
}

// mutate applies fn to the record and persists it atomically, enforcing the
// forward-only transition rule.
func (s *Service) mutate(ctx context.Context, record *payment.PaymentRecord, fn func(*payment.PaymentRecord) error) stepResult {
	prev := record.State
	if err := fn(record); err != nil {
		record.State = prev
		return s.failStep(record, "mutate", err)
	}
	if record.State != prev && !prev.CanTransitionTo(record.State) {
		s.log.Error("illegal state transition",
			"payment_id", record.ID, "from", prev, "to", record.State)
		record.State = prev
		return endProcessing()
	}

	err := s.inWriteTx(ctx, func(txCtx context.Context) error {
		return s.payments.Update(txCtx, record)
	})
	if err != nil {
		record.State = prev
		return s.failStep(record, "persist", err)
	}

	if record.State != prev {
		s.log.Debug("payment state advanced",
			"payment_id", record.ID, "from", prev, "to", record.State)
	}
	return continueProcessing()
}

// discardIndeterminate deletes a record whose ledger data cannot be
// interpreted; reconciliation rebuilds the truth from the ledger.
func (s *Service) discardIndeterminate(ctx context.Context, record *payment.PaymentRecord, cause error) stepResult {
	s.log.WithError(cause).Warn("discarding indeterminate payment", "payment_id", record.ID)
	if err := s.payments.DeleteIndeterminate(ctx, record.ID); err != nil {
		return s.failStep(record, "discard", err)
	}
	return endProcessing()
}

// failStep routes a step error into retry or end according to its category
func (s *Service) failStep(record *payment.PaymentRecord, op string, err error) stepResult {
	category := payment.Categorize(err)
	log := s.log.WithError(err).WithFields(map[string]interface{}{
		"payment_id": record.ID,
		"op":         op,
		"category":   category.String(),
	})
	if category.Retryable() {
		log.Debug("retryable processing error")
		return retryProcessing(category)
	}
	log.Warn("processing ended on non-retryable error")
	return endProcessing()
}

// inWriteTx runs fn inside a write transaction with rollback on error
func (s *Service) inWriteTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, err := s.store.BeginTx(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(txCtx); err != nil {
		_ = s.store.RollbackTx(txCtx)
		return err
	}
	return s.store.CommitTx(txCtx)
}

// refreshBalance updates the cached balance after a verified payment
// changed it. Best effort: display staleness is the only impact.
func (s *Service) refreshBalance(ctx context.Context) {
	balance, err := s.client.GetLocalBalance(ctx)
	if err != nil {
		s.log.WithError(err).Debug("balance refresh failed")
		return
	}
	if err := s.balance.Set(ctx, balance.String()); err != nil {
		s.log.WithError(err).Debug("balance cache write failed")
	}
}

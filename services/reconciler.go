package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nurealazmie002/santri-billing-core/gateway"
	"github.com/nurealazmie002/santri-billing-core/models"
)

// ApplyResult is what a caller gets back from ApplyOutcome. Deduped is
// true when the gateway transaction id had already been applied and the
// call was a no-op returning the prior result.
type ApplyResult struct {
	AttemptID     string `json:"attempt_id"`
	AttemptStatus string `json:"attempt_status"`
	InvoiceID     string `json:"invoice_id"`
	InvoiceStatus string `json:"invoice_status"`
	Deduped       bool   `json:"deduped"`
}

// Reconciler is the single entry point for every gateway outcome.
// Webhook delivery, status polling and user retries all funnel into
// ApplyOutcome, so whichever arrives first wins by the idempotency and
// conflict rules; the loser observes a no-op or a conflict.
//
// All mutation of an invoice and its attempts is serialized by a
// per-invoice mutex and applied in one gorm transaction. Partial
// application (attempt updated but invoice not, or vice versa) is the
// bug class this exists to prevent.
type Reconciler struct {
	db      *gorm.DB
	gateway gateway.Client
	log     zerolog.Logger

	mu      sync.Mutex             // guards locks and applied
	locks   map[string]*sync.Mutex // per invoice id
	applied map[string]ApplyResult // per gateway transaction id
}

func NewReconciler(db *gorm.DB, gw gateway.Client, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		gateway: gw,
		log:     log.With().Str("component", "reconciler").Logger(),
		locks:   make(map[string]*sync.Mutex),
		applied: make(map[string]ApplyResult),
	}
}

func (r *Reconciler) invoiceLock(invoiceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[invoiceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[invoiceID] = l
	}
	return l
}

// OpenSession opens a gateway checkout session for an invoice. The
// amount must equal the invoice's current total and the invoice must be
// effectively PENDING or OVERDUE. The attempt row is persisted before
// the gateway call so an ambiguous timeout still leaves a record that a
// later poll can resolve.
func (r *Reconciler) OpenSession(ctx context.Context, invoiceID string, amount int64, now time.Time) (*models.PaymentAttempt, error) {
	lock := r.invoiceLock(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	var inv models.Invoice
	if err := r.db.First(&inv, "id = ?", invoiceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "invoice", ID: invoiceID}
		}
		return nil, fmt.Errorf("failed to load invoice %s: %w", invoiceID, err)
	}

	switch models.EffectiveStatus(&inv, now) {
	case models.InvoiceStatusPending, models.InvoiceStatusOverdue:
	default:
		return nil, &PreconditionError{Msg: fmt.Sprintf("invoice %s is %s and cannot be paid", invoiceID, inv.Status)}
	}
	if amount != inv.TotalAmount {
		return nil, &PreconditionError{Msg: fmt.Sprintf("amount %d does not match invoice total %d", amount, inv.TotalAmount)}
	}

	attempt := models.PaymentAttempt{
		ID:        uuid.NewString(),
		InvoiceID: invoiceID,
		Amount:    inv.TotalAmount,
		Status:    models.AttemptStatusOpened,
	}
	if err := r.db.Create(&attempt).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment attempt: %w", err)
	}

	session, err := r.gateway.OpenSession(ctx, attempt.ID, attempt.Amount)
	if err != nil {
		if errors.Is(err, gateway.ErrTimeout) {
			return nil, &TransientError{Err: err}
		}
		return nil, fmt.Errorf("failed to open gateway session: %w", err)
	}

	if err := r.db.Model(&attempt).Update("session_token", session.Token).Error; err != nil {
		return nil, fmt.Errorf("failed to store session token: %w", err)
	}
	attempt.SessionToken = session.Token
	return &attempt, nil
}

// Sync polls the gateway for an attempt's current status and applies
// the result. A PENDING answer (including one synthesized from a
// timeout) leaves everything untouched.
func (r *Reconciler) Sync(ctx context.Context, attemptID string, now time.Time) (*ApplyResult, error) {
	var attempt models.PaymentAttempt
	if err := r.db.First(&attempt, "id = ?", attemptID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "payment attempt", ID: attemptID}
		}
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}

	st, err := r.gateway.PollStatus(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gateway.ErrTimeout) {
			// Outcome unknown. Leave the attempt as is and let the next
			// poll decide; never guess FAILED from a timeout.
			return nil, &TransientError{Err: err}
		}
		return nil, fmt.Errorf("failed to poll gateway: %w", err)
	}

	return r.ApplyOutcome(attemptID, st.Outcome, st.TransactionID, now)
}

// ApplyOutcome applies one normalized gateway outcome to an attempt and
// its invoice, exactly once per gateway transaction id.
func (r *Reconciler) ApplyOutcome(attemptID string, outcome gateway.Outcome, gatewayTxnID string, now time.Time) (*ApplyResult, error) {
	var probe models.PaymentAttempt
	if err := r.db.First(&probe, "id = ?", attemptID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "payment attempt", ID: attemptID}
		}
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}

	lock := r.invoiceLock(probe.InvoiceID)
	lock.Lock()
	defer lock.Unlock()

	// Fast path: this transaction id has already been applied.
	if gatewayTxnID != "" {
		r.mu.Lock()
		prior, ok := r.applied[gatewayTxnID]
		r.mu.Unlock()
		if ok {
			prior.Deduped = true
			return &prior, nil
		}
	}

	var result ApplyResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// Second line of defense: the persisted event log.
		if gatewayTxnID != "" {
			var ev models.GatewayEvent
			err := tx.First(&ev, "gateway_transaction_id = ?", gatewayTxnID).Error
			if err == nil {
				var inv models.Invoice
				if err := tx.First(&inv, "id = ?", ev.InvoiceID).Error; err != nil {
					return fmt.Errorf("failed to load invoice %s: %w", ev.InvoiceID, err)
				}
				result = ApplyResult{
					AttemptID:     ev.AttemptID,
					AttemptStatus: ev.ResultStatus,
					InvoiceID:     ev.InvoiceID,
					InvoiceStatus: inv.Status,
					Deduped:       true,
				}
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return fmt.Errorf("failed to check event log: %w", err)
			}
		}

		var attempt models.PaymentAttempt
		if err := tx.First(&attempt, "id = ?", attemptID).Error; err != nil {
			return fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
		}
		var inv models.Invoice
		if err := tx.First(&inv, "id = ?", attempt.InvoiceID).Error; err != nil {
			return fmt.Errorf("failed to load invoice %s: %w", attempt.InvoiceID, err)
		}

		switch outcome {
		case gateway.OutcomePending:
			// Not settled. Nothing to record; the same transaction id
			// may still arrive later with a terminal status.
			result = ApplyResult{
				AttemptID:     attempt.ID,
				AttemptStatus: attempt.Status,
				InvoiceID:     inv.ID,
				InvoiceStatus: inv.Status,
			}
			return nil

		case gateway.OutcomeSucceeded:
			if attempt.Terminal() && attempt.Status != models.AttemptStatusSucceeded {
				return r.conflict("success reported for attempt %s already %s on invoice %s", attempt.ID, attempt.Status, inv.ID)
			}
			if inv.Status == models.InvoiceStatusPaid && attempt.Status != models.AttemptStatusSucceeded {
				return r.conflict("second success (txn %s) for invoice %s already PAID", gatewayTxnID, inv.ID)
			}
			if inv.Status == models.InvoiceStatusCancelled {
				return r.conflict("success (txn %s) for cancelled invoice %s", gatewayTxnID, inv.ID)
			}
			if attempt.Status == models.AttemptStatusSucceeded {
				// Same attempt settling again under a new transaction id.
				result = ApplyResult{
					AttemptID:     attempt.ID,
					AttemptStatus: attempt.Status,
					InvoiceID:     inv.ID,
					InvoiceStatus: inv.Status,
					Deduped:       true,
				}
				return nil
			}

			if err := tx.Model(&attempt).Updates(map[string]interface{}{
				"status":                 models.AttemptStatusSucceeded,
				"gateway_transaction_id": gatewayTxnID,
			}).Error; err != nil {
				return fmt.Errorf("failed to settle attempt %s: %w", attempt.ID, err)
			}
			if err := markPaidTx(tx, inv.ID, now); err != nil {
				return err
			}
			// The winner settles; open siblings are moot.
			if err := tx.Model(&models.PaymentAttempt{}).
				Where("invoice_id = ? AND id <> ? AND status = ?", inv.ID, attempt.ID, models.AttemptStatusOpened).
				Update("status", models.AttemptStatusFailed).Error; err != nil {
				return fmt.Errorf("failed to fail sibling attempts: %w", err)
			}
			result = ApplyResult{
				AttemptID:     attempt.ID,
				AttemptStatus: models.AttemptStatusSucceeded,
				InvoiceID:     inv.ID,
				InvoiceStatus: models.InvoiceStatusPaid,
			}

		case gateway.OutcomeFailed, gateway.OutcomeExpired:
			target := models.AttemptStatusFailed
			if outcome == gateway.OutcomeExpired {
				target = models.AttemptStatusExpired
			}
			if attempt.Terminal() {
				if attempt.Status == target {
					result = ApplyResult{
						AttemptID:     attempt.ID,
						AttemptStatus: attempt.Status,
						InvoiceID:     inv.ID,
						InvoiceStatus: inv.Status,
						Deduped:       true,
					}
					return nil
				}
				return r.conflict("%s reported for attempt %s already %s", outcome, attempt.ID, attempt.Status)
			}
			if err := tx.Model(&attempt).Updates(map[string]interface{}{
				"status":                 target,
				"gateway_transaction_id": gatewayTxnID,
			}).Error; err != nil {
				return fmt.Errorf("failed to update attempt %s: %w", attempt.ID, err)
			}
			// Invoice untouched: the user may retry with a new attempt.
			result = ApplyResult{
				AttemptID:     attempt.ID,
				AttemptStatus: target,
				InvoiceID:     inv.ID,
				InvoiceStatus: inv.Status,
			}

		default:
			return &ValidationError{Msg: fmt.Sprintf("unknown outcome %q", outcome)}
		}

		if gatewayTxnID != "" {
			ev := models.GatewayEvent{
				GatewayTransactionID: gatewayTxnID,
				AttemptID:            attempt.ID,
				InvoiceID:            inv.ID,
				Outcome:              string(outcome),
				ResultStatus:         result.AttemptStatus,
			}
			if err := tx.Create(&ev).Error; err != nil {
				return fmt.Errorf("failed to record gateway event %s: %w", gatewayTxnID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if gatewayTxnID != "" && !result.Deduped && result.AttemptStatus != models.AttemptStatusOpened {
		r.mu.Lock()
		r.applied[gatewayTxnID] = result
		r.mu.Unlock()
	}
	return &result, nil
}

// conflict logs at error severity and returns a ConflictError. These
// need a human: the reconciler never resolves a disagreement by picking
// a side.
func (r *Reconciler) conflict(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	r.log.Error().Str("reason", msg).Msg("reconciliation conflict, manual review required")
	return &ConflictError{Msg: msg}
}

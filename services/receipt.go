package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/nurealazmie002/santri-billing-core/models"
)

// ReceiptLine is one line of a receipt.
type ReceiptLine struct {
	Description string `json:"description"`
	UnitAmount  int64  `json:"unit_amount"`
	Quantity    int    `json:"quantity"`
}

// Receipt is an immutable derived snapshot. It is never persisted as a
// source of truth: regenerating it from the same invoice or transaction
// yields an identical receipt except for GeneratedAt, which is excluded
// from equality.
type Receipt struct {
	ReceiptNumber string        `json:"receipt_number"`
	PayerID       string        `json:"payer_id"`
	PayerName     string        `json:"payer_name"`
	Lines         []ReceiptLine `json:"lines"`
	TotalAmount   int64         `json:"total_amount"`
	PaidAt        time.Time     `json:"paid_at"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// Equal compares two receipts ignoring GeneratedAt.
func (r Receipt) Equal(other Receipt) bool {
	if r.ReceiptNumber != other.ReceiptNumber ||
		r.PayerID != other.PayerID ||
		r.PayerName != other.PayerName ||
		r.TotalAmount != other.TotalAmount ||
		!r.PaidAt.Equal(other.PaidAt) ||
		len(r.Lines) != len(other.Lines) {
		return false
	}
	for i := range r.Lines {
		if r.Lines[i] != other.Lines[i] {
			return false
		}
	}
	return true
}

// receiptNumber derives a stable number from the source's settle date
// and id suffix, so a reprint always carries the same number.
func receiptNumber(prefix string, settledAt time.Time, sourceID string) string {
	suffix := strings.ToUpper(sourceID)
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, settledAt.Format("20060102"), suffix)
}

// ReceiptFromInvoice builds a receipt for a paid invoice. payerName is
// the student display name as known at print time; it does not affect
// the receipt number.
func ReceiptFromInvoice(inv *models.Invoice, payerName string, now time.Time) (*Receipt, error) {
	if models.EffectiveStatus(inv, now) != models.InvoiceStatusPaid || inv.PaidAt == nil {
		return nil, &PreconditionError{Msg: fmt.Sprintf("invoice %s is not paid", inv.ID)}
	}
	lines := make([]ReceiptLine, len(inv.Items))
	for i, it := range inv.Items {
		lines[i] = ReceiptLine{Description: it.Description, UnitAmount: it.UnitAmount, Quantity: it.Quantity}
	}
	return &Receipt{
		ReceiptNumber: receiptNumber("KWI", *inv.PaidAt, inv.ID),
		PayerID:       inv.StudentID,
		PayerName:     payerName,
		Lines:         lines,
		TotalAmount:   inv.TotalAmount,
		PaidAt:        *inv.PaidAt,
		GeneratedAt:   now,
	}, nil
}

// ReceiptFromTransaction builds a receipt for a manually recorded
// income entry not backed by an invoice.
func ReceiptFromTransaction(t *models.Transaction, now time.Time) (*Receipt, error) {
	if t.Type != models.TransactionTypeIncome {
		return nil, &PreconditionError{Msg: fmt.Sprintf("transaction %s is not income", t.ID)}
	}
	return &Receipt{
		ReceiptNumber: receiptNumber("KWT", t.OccurredAt, t.ID),
		Lines: []ReceiptLine{
			{Description: t.Description, UnitAmount: t.Amount, Quantity: 1},
		},
		TotalAmount: t.Amount,
		PaidAt:      t.OccurredAt,
		GeneratedAt: now,
	}, nil
}

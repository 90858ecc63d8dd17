package services

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nurealazmie002/santri-billing-core/models"
)

// Student is the read-side view of one santri from the directory.
type Student struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	NIS         string `json:"nis"`
}

// StudentDirectory is the roster boundary. Used only to enrich read
// views with display names, never for reconciliation correctness.
type StudentDirectory interface {
	GetStudent(id string) (*Student, error)
}

// MonthBucket is one month of cash flow, rupiah minor units.
type MonthBucket struct {
	Period  string `json:"period"` // YYYY-MM
	Income  int64  `json:"income"`
	Expense int64  `json:"expense"`
}

// UnpaidInvoice is one outstanding bill enriched for display.
type UnpaidInvoice struct {
	Invoice     models.Invoice `json:"invoice"`
	Status      string         `json:"status"` // PENDING or OVERDUE at read time
	StudentName string         `json:"student_name"`
}

// Aggregator derives dashboard views from the invoice and transaction
// ledger. Everything is recomputed fully on each call; nothing here is
// cached or incrementally maintained, so the views can never go stale.
type Aggregator struct {
	db       *gorm.DB
	students StudentDirectory
	log      zerolog.Logger
}

func NewAggregator(db *gorm.DB, students StudentDirectory, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		db:       db,
		students: students,
		log:      log.With().Str("component", "aggregator").Logger(),
	}
}

// CashFlowByMonth returns the last monthCount months ending at now,
// newest first, with zero-valued buckets for quiet months. Income is
// PEMASUKAN transactions plus invoices paid in the month, bucketed by
// occurredAt/paidAt, never by query time.
func (a *Aggregator) CashFlowByMonth(monthCount int, now time.Time) ([]MonthBucket, error) {
	if monthCount < 1 {
		return nil, &ValidationError{Msg: "month count must be at least 1"}
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	start := first.AddDate(0, -(monthCount - 1), 0)

	index := make(map[string]int, monthCount)
	buckets := make([]MonthBucket, monthCount)
	for i := 0; i < monthCount; i++ {
		m := first.AddDate(0, -i, 0)
		period := m.Format("2006-01")
		index[period] = i
		buckets[i] = MonthBucket{Period: period}
	}

	var txs []models.Transaction
	if err := a.db.Where("occurred_at >= ?", start).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	for _, t := range txs {
		// Bucket keys are formatted in now's location; records carry
		// whatever location their timestamps were stored with.
		i, ok := index[t.OccurredAt.In(now.Location()).Format("2006-01")]
		if !ok {
			continue
		}
		switch t.Type {
		case models.TransactionTypeIncome:
			buckets[i].Income += t.Amount
		case models.TransactionTypeExpense:
			buckets[i].Expense += t.Amount
		}
	}

	var paid []models.Invoice
	if err := a.db.Where("status = ? AND paid_at >= ?", models.InvoiceStatusPaid, start).Find(&paid).Error; err != nil {
		return nil, fmt.Errorf("failed to load paid invoices: %w", err)
	}
	for _, inv := range paid {
		if inv.PaidAt == nil {
			continue
		}
		if i, ok := index[inv.PaidAt.In(now.Location()).Format("2006-01")]; ok {
			buckets[i].Income += inv.TotalAmount
		}
	}

	return buckets, nil
}

// UnpaidSummary lists invoices that are effectively PENDING or OVERDUE,
// most urgent first. Student names come from the directory, fetched
// lazily and cached for the duration of the call; a directory miss
// degrades that entry to a placeholder rather than failing the summary.
func (a *Aggregator) UnpaidSummary(now time.Time) ([]UnpaidInvoice, error) {
	var invoices []models.Invoice
	if err := a.db.Preload("Items").
		Where("status = ?", models.InvoiceStatusPending).
		Order("due_date asc").
		Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to load unpaid invoices: %w", err)
	}

	names := make(map[string]string)
	out := make([]UnpaidInvoice, 0, len(invoices))
	for _, inv := range invoices {
		name, ok := names[inv.StudentID]
		if !ok {
			if s, err := a.students.GetStudent(inv.StudentID); err == nil {
				name = s.DisplayName
			} else {
				a.log.Warn().Str("student_id", inv.StudentID).Err(err).Msg("student lookup failed, using placeholder")
				name = "(santri tidak dikenal)"
			}
			names[inv.StudentID] = name
		}
		out = append(out, UnpaidInvoice{
			Invoice:     inv,
			Status:      models.EffectiveStatus(&inv, now),
			StudentName: name,
		})
	}
	return out, nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Invoice statuses. OVERDUE is never stored: it is derived at read time
// by EffectiveStatus so overdue-ness never requires a write.
const (
	InvoiceStatusPending   = "PENDING"
	InvoiceStatusPaid      = "PAID"
	InvoiceStatusOverdue   = "OVERDUE"
	InvoiceStatusCancelled = "CANCELLED"
)

// Invoice is one billable obligation for one santri. Amounts are rupiah
// minor units (int64), never floats. TotalAmount is computed from the
// items at creation and is immutable afterwards; correcting an amount
// means cancelling and issuing a new invoice.
type Invoice struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	StudentID   string         `gorm:"size:36;not null;index" json:"student_id"`
	Items       []InvoiceItem  `gorm:"foreignKey:InvoiceID" json:"items"`
	TotalAmount int64          `gorm:"not null" json:"total_amount"`
	DueDate     time.Time      `gorm:"not null" json:"due_date"`
	Status      string         `gorm:"size:20;default:'PENDING'" json:"status"` // PENDING, PAID, CANCELLED
	PaidAt      *time.Time     `json:"paid_at"`
	Notes       string         `gorm:"type:text" json:"notes"`
}

// TableName overrides the table name
func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceItem is one line of an invoice, e.g. "SPP Januari".
type InvoiceItem struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	InvoiceID   string `gorm:"size:36;not null;index" json:"invoice_id"`
	Description string `gorm:"size:255;not null" json:"description"`
	UnitAmount  int64  `gorm:"not null" json:"unit_amount"`
	Quantity    int    `gorm:"not null" json:"quantity"`
}

// TableName overrides the table name
func (InvoiceItem) TableName() string {
	return "invoice_items"
}

// EffectiveStatus returns the status an invoice presents at read time:
// OVERDUE when a stored-PENDING invoice is past its due date, otherwise
// the stored status. Every read path (list, detail, notification) must
// go through this instead of the raw column.
func EffectiveStatus(inv *Invoice, now time.Time) string {
	if inv.Status == InvoiceStatusPending && now.After(inv.DueDate) {
		return InvoiceStatusOverdue
	}
	return inv.Status
}

// ItemsTotal recomputes an invoice total from its items. Client-supplied
// totals are never trusted; this is the only way TotalAmount is set.
func ItemsTotal(items []InvoiceItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitAmount * int64(it.Quantity)
	}
	return total
}

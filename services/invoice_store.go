package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurealazmie002/santri-billing-core/models"
)

// InvoiceStore owns invoice records and their status transitions. All
// writes that settle a payment go through the Reconciler, which calls
// MarkPaid inside its own transaction; administrator actions (create,
// cancel) come in directly.
type InvoiceStore struct {
	db *gorm.DB
}

func NewInvoiceStore(db *gorm.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// NewInvoiceItem is the creation-time shape of one invoice line.
type NewInvoiceItem struct {
	Description string `json:"description" binding:"required"`
	UnitAmount  int64  `json:"unit_amount"`
	Quantity    int    `json:"quantity" binding:"required"`
}

// Create validates the items, computes the total server-side and
// persists a PENDING invoice. Any total supplied by the client is
// ignored.
func (s *InvoiceStore) Create(studentID string, items []NewInvoiceItem, dueDate time.Time, notes string) (*models.Invoice, error) {
	if studentID == "" {
		return nil, &ValidationError{Msg: "student id is required"}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Msg: "invoice must have at least one item"}
	}
	rows := make([]models.InvoiceItem, 0, len(items))
	for i, it := range items {
		if it.Quantity < 1 {
			return nil, &ValidationError{Msg: fmt.Sprintf("item %d: quantity must be at least 1", i)}
		}
		if it.UnitAmount < 0 {
			return nil, &ValidationError{Msg: fmt.Sprintf("item %d: unit amount must not be negative", i)}
		}
		rows = append(rows, models.InvoiceItem{
			Description: it.Description,
			UnitAmount:  it.UnitAmount,
			Quantity:    it.Quantity,
		})
	}

	inv := models.Invoice{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Items:       rows,
		TotalAmount: models.ItemsTotal(rows),
		DueDate:     dueDate,
		Status:      models.InvoiceStatusPending,
		Notes:       notes,
	}

	if err := s.db.Create(&inv).Error; err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return &inv, nil
}

// Get loads an invoice with its items.
func (s *InvoiceStore) Get(id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.Preload("Items").First(&inv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "invoice", ID: id}
		}
		return nil, fmt.Errorf("failed to load invoice %s: %w", id, err)
	}
	return &inv, nil
}

// List returns all invoices, newest first.
func (s *InvoiceStore) List() ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := s.db.Preload("Items").Order("created_at desc").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

// Cancel moves a PENDING (or effectively OVERDUE) invoice to CANCELLED.
// PAID and CANCELLED are terminal. The UPDATE guards on the stored
// status itself: the reconciler may commit a settlement between our
// read and our write, and a paid invoice must never become cancelled.
// OVERDUE is derived from stored PENDING, so the guard covers both
// cancellable states.
func (s *InvoiceStore) Cancel(id string, now time.Time) error {
	var inv models.Invoice
	if err := s.db.First(&inv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &NotFoundError{Kind: "invoice", ID: id}
		}
		return fmt.Errorf("failed to load invoice %s: %w", id, err)
	}

	res := s.db.Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, models.InvoiceStatusPending).
		Update("status", models.InvoiceStatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel invoice %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.db.First(&inv, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to reload invoice %s: %w", id, err)
		}
		return &InvalidStateError{Msg: fmt.Sprintf("cannot cancel invoice in status %s", models.EffectiveStatus(&inv, now))}
	}
	return nil
}

// markPaidTx moves an invoice to PAID inside the caller's transaction.
// Only the Reconciler calls this, under the per-invoice lock.
func markPaidTx(tx *gorm.DB, id string, paidAt time.Time) error {
	var inv models.Invoice
	if err := tx.First(&inv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &NotFoundError{Kind: "invoice", ID: id}
		}
		return fmt.Errorf("failed to load invoice %s: %w", id, err)
	}
	if inv.Status == models.InvoiceStatusPaid || inv.Status == models.InvoiceStatusCancelled {
		return &InvalidStateError{Msg: fmt.Sprintf("invoice %s is already %s", id, inv.Status)}
	}
	updates := map[string]interface{}{
		"status":  models.InvoiceStatusPaid,
		"paid_at": paidAt,
	}
	if err := tx.Model(&inv).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark invoice %s paid: %w", id, err)
	}
	return nil
}

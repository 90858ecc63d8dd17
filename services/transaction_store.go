package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurealazmie002/santri-billing-core/models"
)

// TransactionStore owns manually recorded income/expense entries.
type TransactionStore struct {
	db *gorm.DB
}

func NewTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// NewTransaction is the creation/update shape of a manual entry.
type NewTransaction struct {
	Type        string    `json:"type" binding:"required"`
	Amount      int64     `json:"amount"`
	CategoryID  string    `json:"category_id"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at" binding:"required"`
}

func validateTransaction(in NewTransaction) error {
	if in.Type != models.TransactionTypeIncome && in.Type != models.TransactionTypeExpense {
		return &ValidationError{Msg: fmt.Sprintf("unknown transaction type %q", in.Type)}
	}
	if in.Amount < 0 {
		return &ValidationError{Msg: "amount must not be negative"}
	}
	return nil
}

func (s *TransactionStore) Create(in NewTransaction) (*models.Transaction, error) {
	if err := validateTransaction(in); err != nil {
		return nil, err
	}
	t := models.Transaction{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Amount:      in.Amount,
		CategoryID:  in.CategoryID,
		Description: in.Description,
		OccurredAt:  in.OccurredAt,
	}
	if err := s.db.Create(&t).Error; err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return &t, nil
}

func (s *TransactionStore) Get(id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "transaction", ID: id}
		}
		return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	return &t, nil
}

// List returns entries newest first, optionally limited to one month
// (YYYY-MM).
func (s *TransactionStore) List(month string) ([]models.Transaction, error) {
	q := s.db.Order("occurred_at desc")
	if month != "" {
		start, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid month %q, want YYYY-MM", month)}
		}
		q = q.Where("occurred_at >= ? AND occurred_at < ?", start, start.AddDate(0, 1, 0))
	}
	var txs []models.Transaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (s *TransactionStore) Update(id string, in NewTransaction) (*models.Transaction, error) {
	if err := validateTransaction(in); err != nil {
		return nil, err
	}
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"type":        in.Type,
		"amount":      in.Amount,
		"category_id": in.CategoryID,
		"description": in.Description,
		"occurred_at": in.OccurredAt,
	}
	if err := s.db.Model(t).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	return s.Get(id)
}

func (s *TransactionStore) Delete(id string) error {
	res := s.db.Delete(&models.Transaction{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Kind: "transaction", ID: id}
	}
	return nil
}

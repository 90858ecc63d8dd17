package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction types as the administrators record them.
const (
	TransactionTypeIncome  = "PEMASUKAN"
	TransactionTypeExpense = "PENGELUARAN"
)

// Transaction is a manually recorded income or expense entry not tied to
// an invoice. It feeds cash-flow aggregation alongside paid invoices.
type Transaction struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Type        string         `gorm:"size:20;not null" json:"type"` // PEMASUKAN, PENGELUARAN
	Amount      int64          `gorm:"not null" json:"amount"`
	CategoryID  string         `gorm:"size:36;index" json:"category_id"`
	Description string         `gorm:"type:text" json:"description"`
	OccurredAt  time.Time      `gorm:"not null;index" json:"occurred_at"`
}

// TableName overrides the table name
func (Transaction) TableName() string {
	return "transactions"
}

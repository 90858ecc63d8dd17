package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentAttempt statuses. OPENED is the only non-terminal state.
const (
	AttemptStatusOpened    = "OPENED"
	AttemptStatusSucceeded = "SUCCEEDED"
	AttemptStatusFailed    = "FAILED"
	AttemptStatusExpired   = "EXPIRED"
)

// PaymentAttempt is one gateway checkout session opened for an invoice.
// An invoice may accumulate attempts through retries, but at most one
// may ever reach SUCCEEDED; the reconciler enforces that and fails the
// siblings once a winner settles.
type PaymentAttempt struct {
	ID                   string         `gorm:"primaryKey;size:36" json:"id"` // gateway order id
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
	InvoiceID            string         `gorm:"size:36;not null;index" json:"invoice_id"`
	Amount               int64          `gorm:"not null" json:"amount"` // invoice total at session-open time
	Status               string         `gorm:"size:20;default:'OPENED'" json:"status"` // OPENED, SUCCEEDED, FAILED, EXPIRED
	GatewayTransactionID string         `gorm:"size:64;index" json:"gateway_transaction_id"`
	SessionToken         string         `gorm:"size:255" json:"session_token"`
}

// TableName overrides the table name
func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

// Terminal reports whether the attempt can no longer change state.
func (a *PaymentAttempt) Terminal() bool {
	return a.Status != AttemptStatusOpened
}

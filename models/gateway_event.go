package models

import "time"

// GatewayEvent records one applied gateway outcome, keyed by the
// gateway's transaction id. The unique index is the storage-level second
// line of defense behind the reconciler's in-memory dedup: a redelivered
// callback or a poll racing a webhook can never apply the same
// transaction twice.
type GatewayEvent struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	CreatedAt            time.Time `json:"created_at"`
	GatewayTransactionID string    `gorm:"uniqueIndex;size:64;not null" json:"gateway_transaction_id"`
	AttemptID            string    `gorm:"size:36;not null;index" json:"attempt_id"`
	InvoiceID            string    `gorm:"size:36;not null;index" json:"invoice_id"`
	Outcome              string    `gorm:"size:20;not null" json:"outcome"`
	ResultStatus         string    `gorm:"size:20;not null" json:"result_status"` // attempt status after applying
}

// TableName overrides the table name
func (GatewayEvent) TableName() string {
	return "gateway_events"
}

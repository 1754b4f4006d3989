package models

import (
	"time"

	"gorm.io/datatypes"
)

// BillingEntry records revenue for one paid card. The unique index on
// (transaction_ref, card_id) deduplicates replayed gateway callbacks.
type BillingEntry struct {
	ID       string `gorm:"type:uuid;primaryKey"`                                      // Primary key.
	CardKind string `gorm:"type:text;not null"`                                        // Card kind paid for.
	CardID   string `gorm:"type:uuid;not null;uniqueIndex:idx_billing_txn,priority:2"` // Paid registration.

	PayerUserID string  `gorm:"type:uuid;not null"`          // User who paid.
	UnitID      string  `gorm:"type:uuid;index"`             // Unit the card belongs to.
	Amount      float64 `gorm:"type:decimal(18,2);not null"` // Amount paid.

	TransactionRef  string         `gorm:"type:text;not null;uniqueIndex:idx_billing_txn,priority:1"` // Gateway transaction reference.
	GatewayMetadata datatypes.JSON `gorm:"type:jsonb"`                                                // Raw gateway fields for audit.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName maps BillingEntry to its table.
func (BillingEntry) TableName() string { return "billing_entries" }

// PaymentCallbackLog keeps each raw gateway callback for audit and replay
// analysis. Old rows are purged by the retention cleaner.
type PaymentCallbackLog struct {
	ID             string         `gorm:"type:uuid;primaryKey"` // Primary key.
	TransactionRef string         `gorm:"type:text;index"`      // Reference parsed from the callback.
	Params         datatypes.JSON `gorm:"type:jsonb;not null"`  // Raw callback parameters.
	Outcome        string         `gorm:"type:text;not null"`   // SUCCESS, FAILED or REJECTED.
	Message        string         `gorm:"type:text"`            // Human-readable result.

	ReceivedAt time.Time `gorm:"not null;index"` // When the callback arrived.
}

// TableName maps PaymentCallbackLog to its table.
func (PaymentCallbackLog) TableName() string { return "payment_callback_logs" }

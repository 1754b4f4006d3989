package models

import "time"

// CardPricing is the active price for one card kind. Rows are soft deleted
// by flipping IsActive so historical prices stay auditable.
type CardPricing struct {
	ID       string  `gorm:"type:uuid;primaryKey"`        // Primary key.
	CardKind string  `gorm:"type:text;not null"`          // RESIDENT, ELEVATOR or VEHICLE.
	Price    float64 `gorm:"type:decimal(18,2);not null"` // Price per card.

	IsActive bool `gorm:"not null;default:true;index"` // Only active rows are consulted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps CardPricing to its table.
func (CardPricing) TableName() string { return "card_pricings" }

package models

import "time"

// ReminderState tracks the recurring fee cycle for one issued card.
// There is at most one row per (card_kind, card_id).
type ReminderState struct {
	ID       string `gorm:"type:uuid;primaryKey"`                                        // Primary key.
	CardKind string `gorm:"type:text;not null;uniqueIndex:idx_reminder_card,priority:1"` // Card kind of the tracked card.
	CardID   string `gorm:"type:uuid;not null;uniqueIndex:idx_reminder_card,priority:2"` // Registration ID of the tracked card.

	UnitID       string  `gorm:"type:uuid;not null;index"` // Unit the card belongs to.
	ResidentID   *string `gorm:"type:uuid;index"`          // Notification recipient.
	UserID       *string `gorm:"type:uuid"`                // Account of the recipient.
	ApartmentNo  string  `gorm:"type:text"`                // Address snapshot, backfilled lazily.
	BuildingName string  `gorm:"type:text"`                // Address snapshot, backfilled lazily.

	CycleStartDate time.Time  `gorm:"not null"`           // Date the current fee period began.
	NextDueDate    time.Time  `gorm:"not null;index"`     // CycleStartDate plus the cycle length.
	ReminderCount  int        `gorm:"not null;default:0"` // Reminders sent in the current cycle.
	MaxReminders   int        `gorm:"not null;default:6"` // Cap before the state goes dormant.
	LastRemindedAt *time.Time // Most recent reminder dispatch.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps ReminderState to its table.
func (ReminderState) TableName() string { return "card_fee_reminder_states" }

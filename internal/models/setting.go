package models

import (
	"encoding/json"
	"time"
)

// Setting stores one runtime configuration entry. The reminder engine and
// capacity policy read their tunables from these rows via the settings snapshot.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`                      // Configuration key.
	Value     json.RawMessage `gorm:"type:jsonb"`                                        // JSON-encoded value.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"` // Last update timestamp.
}

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openresident/cardservice/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureDefaults inserts a settings row for every tunable that has no row
// yet, so the admin API lists the effective values instead of an empty
// table. Existing rows are never touched.
func EnsureDefaults(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}

	defaults := map[string]int{
		FeeCycleMonthsKey:           defaultFeeCycleMonths,
		ReminderIntervalHoursKey:    defaultReminderIntervalHours,
		ReminderGraceDaysKey:        defaultReminderGraceDays,
		MaxRemindersKey:             defaultMaxReminders,
		CardsPerBedroomKey:          defaultCardsPerBedroom,
		DefaultUnitCapacityKey:      defaultUnitCapacity,
		CallbackLogRetentionDaysKey: defaultCallbackLogRetentionDays,
	}
	rows := make([]models.Setting, 0, len(defaults))
	for key, value := range defaults {
		raw, errMarshal := json.Marshal(value)
		if errMarshal != nil {
			return errMarshal
		}
		rows = append(rows, models.Setting{Key: key, Value: raw})
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// RefreshDBConfigSnapshot reloads all settings rows and replaces the
// in-memory tunable snapshot. Called at startup and after every admin
// settings update; until the first refresh every tunable reads its fallback.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	updatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(updatedAt) {
			updatedAt = rowUpdatedAt
		}
	}

	replaceSnapshot(updatedAt, values)
	log.Debugf("settings: snapshot refreshed (%d keys)", len(values))
	return nil
}

package db

import (
	"fmt"

	"github.com/openresident/cardservice/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for every model the service owns.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errMigrate := conn.AutoMigrate(
		&models.Unit{},
		&models.Household{},
		&models.HouseholdMember{},
		&models.Resident{},
		&models.MembershipRequest{},
		&models.CardRegistration{},
		&models.ReminderState{},
		&models.CardPricing{},
		&models.BillingEntry{},
		&models.PaymentCallbackLog{},
		&models.Admin{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}

	return backfillColumns(conn)
}

// backfillColumns adds columns introduced after the first release to tables
// that may predate AutoMigrate knowing about them.
func backfillColumns(conn *gorm.DB) error {
	migrator := conn.Migrator()
	type addition struct {
		model  any
		column string
	}
	additions := []addition{
		{&models.CardRegistration{}, "payment_initiated_at"},
		{&models.CardRegistration{}, "reissued_from_card_id"},
		{&models.ReminderState{}, "max_reminders"},
		{&models.Admin{}, "display_name"},
	}
	for _, add := range additions {
		if migrator.HasColumn(add.model, add.column) {
			continue
		}
		if errAdd := migrator.AddColumn(add.model, add.column); errAdd != nil {
			return fmt.Errorf("db: add column %s: %w", add.column, errAdd)
		}
	}
	return nil
}

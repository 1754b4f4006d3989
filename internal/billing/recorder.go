package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payment captures one settled card payment for the revenue ledger.
type Payment struct {
	CardKind        string
	CardID          string
	PayerUserID     string
	UnitID          string
	Amount          float64
	TransactionRef  string
	GatewayMetadata []byte
}

// Recorder records settled payments. Implementations must be idempotent per
// (transaction reference, card): callbacks can replay.
type Recorder interface {
	RecordPayment(ctx context.Context, p Payment) error
}

// GormRecorder writes billing entries to the local ledger table. The unique
// index on (transaction_ref, card_id) absorbs callback replays.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder constructs a ledger-backed recorder.
func NewGormRecorder(db *gorm.DB) *GormRecorder {
	if db == nil {
		return nil
	}
	return &GormRecorder{db: db}
}

// RecordPayment inserts one ledger row. A duplicate (transaction_ref,
// card_id) pair is treated as already recorded and succeeds silently.
func (r *GormRecorder) RecordPayment(ctx context.Context, p Payment) error {
	if r == nil || r.db == nil {
		return errors.New("billing: recorder not initialized")
	}
	if strings.TrimSpace(p.TransactionRef) == "" || strings.TrimSpace(p.CardID) == "" {
		return errors.New("billing: transaction ref and card id are required")
	}

	entry := models.BillingEntry{
		ID:             uuid.NewString(),
		CardKind:       p.CardKind,
		CardID:         p.CardID,
		PayerUserID:    p.PayerUserID,
		UnitID:         p.UnitID,
		Amount:         p.Amount,
		TransactionRef: p.TransactionRef,
	}
	if len(p.GatewayMetadata) > 0 {
		entry.GatewayMetadata = datatypes.JSON(p.GatewayMetadata)
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_ref"}, {Name: "card_id"}},
			DoNothing: true,
		}).
		Create(&entry)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Infof("billing: duplicate payment ignored (txn=%s card=%s)", p.TransactionRef, p.CardID)
	}
	return nil
}

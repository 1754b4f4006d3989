package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRetryWindow is how long a pending payment attempt blocks a fresh
// one. Stale attempts are implicitly cleared by the next initiation.
const paymentRetryWindow = 10 * time.Minute

// PaymentIntent is the outcome of a payment initiation.
type PaymentIntent struct {
	RegistrationIDs []string
	OrderID         string
	PayURL          string
	TransactionRef  string
	Amount          float64
}

// InitiatePayment moves one registration into PAYMENT_PENDING and returns
// the gateway checkout URL.
func (s *Service) InitiatePayment(ctx context.Context, registrationID, userID, clientIP string) (*PaymentIntent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registration: service not initialized")
	}

	var intent *PaymentIntent
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg models.CardRegistration
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", registrationID).
			First(&reg).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errFind
		}

		if !s.mayOperate(ctx, &reg, userID) {
			return ErrNotCardOwner
		}
		if errState := payableState(&reg, time.Now().UTC()); errState != nil {
			return errState
		}

		orderID := uuid.NewString()
		payURL, txnRef, errURL := s.gateway.CreatePaymentURL(
			orderID,
			reg.PaymentAmount,
			fmt.Sprintf("%s card fee for unit %s", reg.CardKind, reg.ApartmentNo),
			clientIP,
		)
		if errURL != nil {
			return errURL
		}

		s.storePending(ctx, orderID, reg.ID)

		now := time.Now().UTC()
		updates := map[string]any{
			"payment_status":       models.PaymentStatusPending,
			"payment_gateway":      s.gateway.Name(),
			"transaction_ref":      txnRef,
			"payment_initiated_at": now,
		}
		// Renewal cards keep their status so the callback can route them
		// straight back to APPROVED.
		if reg.Status != models.StatusNeedsRenewal && reg.Status != models.StatusSuspended {
			updates["status"] = models.StatusPaymentPending
		}
		if errUpdate := tx.Model(&reg).Updates(updates).Error; errUpdate != nil {
			return errUpdate
		}

		intent = &PaymentIntent{
			RegistrationIDs: []string{reg.ID},
			OrderID:         orderID,
			PayURL:          payURL,
			TransactionRef:  txnRef,
			Amount:          reg.PaymentAmount,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	log.Infof("registration: payment initiated (card=%s order=%s)", registrationID, intent.OrderID)
	return intent, nil
}

// InitiateBatchPayment creates one checkout covering several registrations.
// All cards must belong to the same unit and requester; the shared
// transaction reference lets the callback settle them as one atomic batch.
func (s *Service) InitiateBatchPayment(ctx context.Context, registrationIDs []string, userID, clientIP string) (*PaymentIntent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registration: service not initialized")
	}
	registrationIDs = trimAll(registrationIDs)
	if len(registrationIDs) == 0 {
		return nil, newValidationError("registration_ids is required")
	}

	var intent *PaymentIntent
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var regs []models.CardRegistration
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", registrationIDs).
			Find(&regs).Error; errFind != nil {
			return errFind
		}
		if len(regs) != len(registrationIDs) {
			return ErrNotFound
		}

		now := time.Now().UTC()
		total := 0.0
		unitID := regs[0].UnitID
		for i := range regs {
			reg := &regs[i]
			if reg.UnitID != unitID {
				return newValidationError("batch payment requires cards of a single unit")
			}
			if reg.RequesterUserID != regs[0].RequesterUserID {
				return newValidationError("batch payment requires cards of a single requester")
			}
			if !s.mayOperate(ctx, reg, userID) {
				return ErrNotCardOwner
			}
			if errState := payableState(reg, now); errState != nil {
				return errState
			}
			total += reg.PaymentAmount
		}

		orderID := uuid.NewString()
		payURL, txnRef, errURL := s.gateway.CreatePaymentURL(
			orderID,
			total,
			fmt.Sprintf("card fees for unit %s (%d cards)", regs[0].ApartmentNo, len(regs)),
			clientIP,
		)
		if errURL != nil {
			return errURL
		}

		s.storePending(ctx, orderID, regs[0].ID)

		ids := make([]string, 0, len(regs))
		for i := range regs {
			ids = append(ids, regs[i].ID)
		}
		if errUpdate := tx.Model(&models.CardRegistration{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"payment_status":       models.PaymentStatusInProgress,
				"payment_gateway":      s.gateway.Name(),
				"transaction_ref":      txnRef,
				"payment_initiated_at": now,
			}).Error; errUpdate != nil {
			return errUpdate
		}
		// Renewal cards keep their status so the callback can route them
		// straight back to APPROVED.
		if errUpdate := tx.Model(&models.CardRegistration{}).
			Where("id IN ?", ids).
			Where("status NOT IN ?", []string{models.StatusNeedsRenewal, models.StatusSuspended}).
			Update("status", models.StatusPaymentPending).Error; errUpdate != nil {
			return errUpdate
		}

		intent = &PaymentIntent{
			RegistrationIDs: ids,
			OrderID:         orderID,
			PayURL:          payURL,
			TransactionRef:  txnRef,
			Amount:          total,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	log.Infof("registration: batch payment initiated (cards=%d order=%s)", len(intent.RegistrationIDs), intent.OrderID)
	return intent, nil
}

// payableState decides whether a payment attempt may start now.
func payableState(reg *models.CardRegistration, now time.Time) error {
	if reg.IsTerminal() {
		return ErrNotPayable
	}
	switch reg.Status {
	case models.StatusNeedsRenewal, models.StatusSuspended:
		// Renewal is only offered to cards that completed a first payment.
		if reg.PaymentStatus != models.PaymentStatusPaid {
			return ErrRenewalUnpaid
		}
		return nil
	}

	switch reg.PaymentStatus {
	case models.PaymentStatusUnpaid:
		return nil
	case models.PaymentStatusPending, models.PaymentStatusInProgress:
		if reg.PaymentInitiatedAt == nil || now.Sub(*reg.PaymentInitiatedAt) > paymentRetryWindow {
			return nil
		}
		return ErrPaymentInProgress
	default:
		return ErrNotPayable
	}
}

// mayOperate reports whether userID may act on the registration: the
// requester themself, the holder resident, or the unit owner.
func (s *Service) mayOperate(ctx context.Context, reg *models.CardRegistration, userID string) bool {
	if userID == "" {
		return false
	}
	if reg.RequesterUserID == userID {
		return true
	}
	if s.validator != nil && s.validator.IsUnitOwner(ctx, userID, reg.UnitID) {
		return true
	}
	if reg.ResidentID != nil {
		if residentID := s.requesterResidentID(ctx, userID, reg.UnitID); residentID != "" && residentID == *reg.ResidentID {
			return true
		}
	}
	return false
}

func (s *Service) storePending(ctx context.Context, orderID, registrationID string) {
	if s.pending == nil {
		return
	}
	if errPut := s.pending.Put(ctx, orderID, registrationID); errPut != nil {
		// The callback falls back to the stored transaction reference.
		log.WithError(errPut).Warnf("registration: pending store put failed (order=%s)", orderID)
	}
}

// trimAll trims every element of ids.
func trimAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

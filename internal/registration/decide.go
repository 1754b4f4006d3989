package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Admin decisions.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
	DecisionCancel  = "CANCEL"
)

// DecideInput is an admin decision on a registration.
type DecideInput struct {
	RegistrationID  string
	Decision        string
	AdminID         string
	AdminNote       string
	RejectionReason string
}

// Decide applies an admin decision. The returned bool reports whether the
// externally visible status changed; notifications are only emitted for
// state-changing decisions, so repeating a decision is side-effect free.
func (s *Service) Decide(ctx context.Context, in DecideInput) (*models.CardRegistration, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("registration: service not initialized")
	}

	decision := strings.ToUpper(strings.TrimSpace(in.Decision))
	if decision != DecisionApprove && decision != DecisionReject && decision != DecisionCancel {
		return nil, false, newValidationError("decision must be APPROVE, REJECT or CANCEL")
	}

	var reg models.CardRegistration
	changed := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", in.RegistrationID).
			First(&reg).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errFind
		}

		switch decision {
		case DecisionApprove:
			return s.applyApprove(tx, &reg, in, &changed)
		default:
			return s.applyReject(tx, &reg, in, &changed)
		}
	})
	if errTx != nil {
		return nil, false, errTx
	}

	if changed {
		s.afterDecision(ctx, &reg, decision)
	}
	return &reg, changed, nil
}

func (s *Service) applyApprove(tx *gorm.DB, reg *models.CardRegistration, in DecideInput, changed *bool) error {
	if reg.Status == models.StatusApproved {
		// Repeat approval refreshes admin metadata without re-notifying.
		if strings.TrimSpace(in.AdminNote) != "" {
			if errUpdate := tx.Model(reg).Update("admin_note", in.AdminNote).Error; errUpdate != nil {
				return errUpdate
			}
			reg.AdminNote = in.AdminNote
		}
		return nil
	}
	if reg.Status != models.StatusPending && reg.Status != models.StatusReadyForPayment {
		return ErrNotApprovable
	}
	if reg.PaymentStatus != models.PaymentStatusPaid {
		return ErrApproveUnpaid
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":      models.StatusApproved,
		"approved_by": in.AdminID,
		"approved_at": now,
	}
	if strings.TrimSpace(in.AdminNote) != "" {
		updates["admin_note"] = in.AdminNote
	}
	if errUpdate := tx.Model(reg).Updates(updates).Error; errUpdate != nil {
		return errUpdate
	}

	adminID := in.AdminID
	reg.Status = models.StatusApproved
	reg.ApprovedBy = &adminID
	reg.ApprovedAt = &now
	if strings.TrimSpace(in.AdminNote) != "" {
		reg.AdminNote = in.AdminNote
	}
	*changed = true
	return nil
}

func (s *Service) applyReject(tx *gorm.DB, reg *models.CardRegistration, in DecideInput, changed *bool) error {
	if reg.Status == models.StatusRejected {
		return ErrAlreadyRejected
	}

	reason := strings.TrimSpace(in.RejectionReason)
	updates := map[string]any{
		"status":           models.StatusRejected,
		"rejection_reason": reason,
	}
	if strings.TrimSpace(in.AdminNote) != "" {
		updates["admin_note"] = in.AdminNote
	}
	if errUpdate := tx.Model(reg).Updates(updates).Error; errUpdate != nil {
		return errUpdate
	}

	reg.Status = models.StatusRejected
	reg.RejectionReason = reason
	if strings.TrimSpace(in.AdminNote) != "" {
		reg.AdminNote = in.AdminNote
	}
	*changed = true
	return nil
}

// afterDecision runs the best-effort side effects of a state-changing
// decision: reminder seeding on approval and the resident notification.
func (s *Service) afterDecision(ctx context.Context, reg *models.CardRegistration, decision string) {
	if decision == DecisionApprove && reg.PaymentStatus == models.PaymentStatusPaid && s.seeder != nil {
		if errSeed := s.seeder.ResetAfterPayment(ctx, reg.CardKind, reg.ID); errSeed != nil {
			log.WithError(errSeed).Warnf("registration: reminder seed failed (card=%s)", reg.ID)
		}
	}

	if s.notifier == nil {
		return
	}
	residentID := ""
	if reg.ResidentID != nil {
		residentID = *reg.ResidentID
	} else {
		residentID = s.requesterResidentID(ctx, reg.RequesterUserID, reg.UnitID)
	}

	msg := notify.Message{
		ResidentID:    residentID,
		BuildingID:    s.resolver.BuildingID(ctx, reg.UnitID),
		ReferenceID:   reg.ID,
		ReferenceType: "CARD_REGISTRATION",
	}
	if decision == DecisionApprove {
		msg.Type = notify.TypeCardApproved
		msg.Title = "Card request approved"
		msg.Body = fmt.Sprintf("Your %s card for apartment %s has been approved.", strings.ToLower(reg.CardKind), reg.ApartmentNo)
	} else {
		msg.Type = notify.TypeCardRejected
		msg.Title = "Card request rejected"
		msg.Body = fmt.Sprintf("Your %s card request for apartment %s was rejected.", strings.ToLower(reg.CardKind), reg.ApartmentNo)
		if reg.RejectionReason != "" {
			msg.Body += " Reason: " + reg.RejectionReason
		}
	}
	if errSend := s.notifier.SendResidentNotification(ctx, msg); errSend != nil {
		log.WithError(errSend).Warnf("registration: decision notification failed (card=%s)", reg.ID)
	}
}

// Cancel is the requester-initiated stop. The unit owner may cancel any
// household member's card; everyone else only their own. Cancelling an
// already-cancelled card is a no-op success, and only CANCELLED cards can
// later be reissued.
func (s *Service) Cancel(ctx context.Context, registrationID, userID string) (*models.CardRegistration, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registration: service not initialized")
	}

	var reg models.CardRegistration
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", registrationID).
			First(&reg).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errFind
		}

		if reg.IsTerminal() {
			if reg.Status == models.StatusCancelled {
				return nil
			}
			return ErrNotCancellable
		}
		if !s.mayOperate(ctx, &reg, userID) {
			return ErrNotCardOwner
		}

		if errUpdate := tx.Model(&reg).Update("status", models.StatusCancelled).Error; errUpdate != nil {
			return errUpdate
		}
		reg.Status = models.StatusCancelled
		log.Infof("registration: cancelled by requester (card=%s)", reg.ID)
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &reg, nil
}

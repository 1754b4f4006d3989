package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/address"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/settings"
	"github.com/openresident/cardservice/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// addressLabelMax bounds the snapshot labels stored on reminder states.
const addressLabelMax = 100

// ErrCardNotFound indicates the tracked registration does not exist.
var ErrCardNotFound = errors.New("reminder: card not found")

// Service owns the recurring fee cycle state for issued cards.
type Service struct {
	db       *gorm.DB
	resolver *address.Resolver
}

// NewService constructs a reminder service.
func NewService(db *gorm.DB, resolver *address.Resolver) *Service {
	if db == nil {
		return nil
	}
	return &Service{db: db, resolver: resolver}
}

// cycleStart picks the date the fee period began: approval first, then
// payment, then creation.
func cycleStart(reg *models.CardRegistration) time.Time {
	if reg.ApprovedAt != nil {
		return *reg.ApprovedAt
	}
	if reg.PaymentDate != nil {
		return *reg.PaymentDate
	}
	return reg.CreatedAt
}

// cardInactive reports whether the card left the fee-paying population.
func cardInactive(status string) bool {
	switch status {
	case models.StatusCancelled, models.StatusSuspended, models.StatusRejected:
		return true
	default:
		return false
	}
}

// ResetAfterPayment seeds or resets the reminder cycle for a card after a
// successful payment or approval. This is the only path that revives a
// state whose reminder count reached the cap.
func (s *Service) ResetAfterPayment(ctx context.Context, cardKind, cardID string) error {
	if s == nil || s.db == nil {
		return errors.New("reminder: service not initialized")
	}

	var reg models.CardRegistration
	errFind := s.db.WithContext(ctx).
		Where("id = ? AND card_kind = ?", cardID, cardKind).
		First(&reg).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return ErrCardNotFound
	}
	if errFind != nil {
		return errFind
	}

	start := cycleStart(&reg)
	nextDue := start.AddDate(0, settings.FeeCycleMonths(), 0)

	var state models.ReminderState
	errState := s.db.WithContext(ctx).
		Where("card_kind = ? AND card_id = ?", cardKind, cardID).
		First(&state).Error
	if errState == nil {
		updates := map[string]any{
			"cycle_start_date": start,
			"next_due_date":    nextDue,
			"reminder_count":   0,
			"last_reminded_at": nil,
			"max_reminders":    settings.MaxReminders(),
		}
		s.addressBackfill(ctx, &state, &reg, updates)
		if errUpdate := s.db.WithContext(ctx).
			Model(&models.ReminderState{}).
			Where("id = ?", state.ID).
			Updates(updates).Error; errUpdate != nil {
			return errUpdate
		}
		log.Infof("reminder: cycle reset (kind=%s card=%s next_due=%s)", cardKind, cardID, nextDue.Format("2006-01-02"))
		return nil
	}
	if !errors.Is(errState, gorm.ErrRecordNotFound) {
		return errState
	}

	row := s.newState(ctx, &reg, start, nextDue)
	if errCreate := s.db.WithContext(ctx).Create(row).Error; errCreate != nil {
		return errCreate
	}
	log.Infof("reminder: cycle seeded (kind=%s card=%s next_due=%s)", cardKind, cardID, nextDue.Format("2006-01-02"))
	return nil
}

func (s *Service) newState(ctx context.Context, reg *models.CardRegistration, start, nextDue time.Time) *models.ReminderState {
	row := &models.ReminderState{
		ID:             uuid.NewString(),
		CardKind:       reg.CardKind,
		CardID:         reg.ID,
		UnitID:         reg.UnitID,
		ApartmentNo:    util.Truncate(reg.ApartmentNo, addressLabelMax),
		BuildingName:   util.Truncate(reg.BuildingName, addressLabelMax),
		CycleStartDate: start,
		NextDueDate:    nextDue,
		ReminderCount:  0,
		MaxReminders:   settings.MaxReminders(),
	}
	if reg.ResidentID != nil {
		residentID := *reg.ResidentID
		row.ResidentID = &residentID
	}
	userID := reg.RequesterUserID
	if userID != "" {
		row.UserID = &userID
	}
	s.fillRecipient(ctx, row, reg)
	return row
}

// fillRecipient resolves missing recipient identity so the notification can
// be addressed. Resolution failure leaves the fields blank; the sync sweep
// retries later.
func (s *Service) fillRecipient(ctx context.Context, row *models.ReminderState, reg *models.CardRegistration) {
	if s.resolver == nil {
		return
	}
	if row.ResidentID != nil && row.ApartmentNo != "" && row.BuildingName != "" {
		return
	}
	res, errResolve := s.resolver.Resolve(ctx, address.Query{
		UserID: reg.RequesterUserID,
		UnitID: reg.UnitID,
	})
	if errResolve != nil || !res.Found() {
		return
	}
	if row.ResidentID == nil && res.ResidentID != "" {
		residentID := res.ResidentID
		row.ResidentID = &residentID
	}
	if row.ApartmentNo == "" {
		row.ApartmentNo = util.Truncate(res.ApartmentNo, addressLabelMax)
	}
	if row.BuildingName == "" {
		row.BuildingName = util.Truncate(res.BuildingName, addressLabelMax)
	}
}

// addressBackfill adds missing address fields to updates without
// overwriting anything already populated.
func (s *Service) addressBackfill(ctx context.Context, state *models.ReminderState, reg *models.CardRegistration, updates map[string]any) {
	if state.ApartmentNo == "" && reg.ApartmentNo != "" {
		updates["apartment_no"] = util.Truncate(reg.ApartmentNo, addressLabelMax)
	}
	if state.BuildingName == "" && reg.BuildingName != "" {
		updates["building_name"] = util.Truncate(reg.BuildingName, addressLabelMax)
	}
	if state.ResidentID == nil && reg.ResidentID != nil {
		updates["resident_id"] = *reg.ResidentID
	}
	if state.UserID == nil && reg.RequesterUserID != "" {
		updates["user_id"] = reg.RequesterUserID
	}
	_ = ctx
}

// FindDueStates selects the states due for a reminder on the given day. The
// repository query is only a grace-window prefilter; card liveness is
// checked against the registration row at selection time and fails closed.
func (s *Service) FindDueStates(ctx context.Context, today time.Time) ([]models.ReminderState, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("reminder: service not initialized")
	}

	grace := settings.ReminderGraceDays()
	interval := time.Duration(settings.ReminderIntervalHours()) * time.Hour
	dayEnd := today
	graceFloor := today.AddDate(0, 0, -grace)

	var candidates []models.ReminderState
	if errFind := s.db.WithContext(ctx).
		Where("next_due_date <= ?", dayEnd).
		Where("next_due_date >= ?", graceFloor).
		Where("reminder_count < max_reminders").
		Order("next_due_date ASC").
		Find(&candidates).Error; errFind != nil {
		return nil, errFind
	}

	due := make([]models.ReminderState, 0, len(candidates))
	for _, state := range candidates {
		if state.LastRemindedAt != nil && today.Sub(*state.LastRemindedAt) < interval {
			continue
		}

		var reg models.CardRegistration
		errCard := s.db.WithContext(ctx).
			Select("status").
			Where("id = ? AND card_kind = ?", state.CardID, state.CardKind).
			First(&reg).Error
		if errCard != nil {
			// Fail closed: never remind for a card we cannot verify.
			if !errors.Is(errCard, gorm.ErrRecordNotFound) {
				log.WithError(errCard).Warnf("reminder: card liveness check failed (card=%s)", state.CardID)
			}
			continue
		}
		if cardInactive(reg.Status) {
			continue
		}
		due = append(due, state)
	}
	return due, nil
}

// MarkReminderSent increments counters for every dispatched state. Callers
// invoke this immediately after dispatch, so a crash in between costs at
// most one duplicate reminder, never a skipped one.
func (s *Service) MarkReminderSent(ctx context.Context, states []models.ReminderState) error {
	if s == nil || s.db == nil {
		return errors.New("reminder: service not initialized")
	}
	if len(states) == 0 {
		return nil
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range states {
			if errUpdate := tx.Model(&models.ReminderState{}).
				Where("id = ?", states[i].ID).
				Updates(map[string]any{
					"reminder_count":   gorm.Expr("reminder_count + 1"),
					"last_reminded_at": now,
				}).Error; errUpdate != nil {
				return errUpdate
			}
		}
		return nil
	})
}

// SyncActiveCards seeds a reminder state for every paid, active card that
// lacks one and backfills blank recipient fields on existing states. It
// covers cards approved before the reminder engine existed or settled
// outside the gateway callback.
func (s *Service) SyncActiveCards(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("reminder: service not initialized")
	}

	var cards []models.CardRegistration
	if errFind := s.db.WithContext(ctx).
		Where("payment_status = ?", models.PaymentStatusPaid).
		Where("status NOT IN ?", []string{models.StatusCancelled, models.StatusSuspended, models.StatusRejected}).
		Find(&cards).Error; errFind != nil {
		return 0, errFind
	}

	seeded := 0
	for i := range cards {
		reg := &cards[i]

		var state models.ReminderState
		errState := s.db.WithContext(ctx).
			Where("card_kind = ? AND card_id = ?", reg.CardKind, reg.ID).
			First(&state).Error
		if errState == nil {
			updates := map[string]any{}
			s.addressBackfill(ctx, &state, reg, updates)
			if len(updates) == 0 {
				continue
			}
			if errUpdate := s.db.WithContext(ctx).
				Model(&models.ReminderState{}).
				Where("id = ?", state.ID).
				Updates(updates).Error; errUpdate != nil {
				log.WithError(errUpdate).Warnf("reminder: sync backfill failed (card=%s)", reg.ID)
			}
			continue
		}
		if !errors.Is(errState, gorm.ErrRecordNotFound) {
			log.WithError(errState).Warnf("reminder: sync state lookup failed (card=%s)", reg.ID)
			continue
		}

		start := cycleStart(reg)
		row := s.newState(ctx, reg, start, start.AddDate(0, settings.FeeCycleMonths(), 0))
		if errCreate := s.db.WithContext(ctx).Create(row).Error; errCreate != nil {
			log.WithError(errCreate).Warnf("reminder: sync seed failed (card=%s)", reg.ID)
			continue
		}
		seeded++
	}
	if seeded > 0 {
		log.Infof("reminder: sync seeded %d state(s)", seeded)
	}
	return seeded, nil
}

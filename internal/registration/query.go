package registration

import (
	"context"
	"errors"
	"strings"

	"github.com/openresident/cardservice/internal/db"
	"github.com/openresident/cardservice/internal/models"
	"gorm.io/gorm"
)

// Detail is a registration plus derived view fields.
type Detail struct {
	models.CardRegistration
	CanReissue bool `json:"can_reissue"`
}

// Get loads one registration with its derived reissue flag.
func (s *Service) Get(ctx context.Context, registrationID string) (*Detail, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registration: service not initialized")
	}

	var reg models.CardRegistration
	if errFind := s.db.WithContext(ctx).Where("id = ?", registrationID).First(&reg).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errFind
	}

	detail := Detail{CardRegistration: reg}
	canReissue, errReissue := s.canReissue(ctx, &reg)
	if errReissue != nil {
		return nil, errReissue
	}
	detail.CanReissue = canReissue
	return &detail, nil
}

// canReissue: the card is cancelled, was paid for, is not itself a
// replacement, and has not been replaced yet.
func (s *Service) canReissue(ctx context.Context, reg *models.CardRegistration) (bool, error) {
	if reg.Status != models.StatusCancelled || reg.PaymentStatus != models.PaymentStatusPaid {
		return false, nil
	}
	if reg.ReissuedFromCardID != nil {
		return false, nil
	}
	var reissued int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.CardRegistration{}).
		Where("reissued_from_card_id = ?", reg.ID).
		Count(&reissued).Error; errCount != nil {
		return false, errCount
	}
	return reissued == 0, nil
}

// ListByUser returns the registrations a user submitted, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.CardRegistration, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registration: service not initialized")
	}
	var regs []models.CardRegistration
	if errFind := s.db.WithContext(ctx).
		Where("requester_user_id = ?", userID).
		Order("created_at DESC").
		Find(&regs).Error; errFind != nil {
		return nil, errFind
	}
	return regs, nil
}

// ListFilter narrows the admin registration listing.
type ListFilter struct {
	CardKind string
	Status   string
	UnitID   string
	Search   string
	Limit    int
	Offset   int
}

// List returns registrations for the admin view with optional filters.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.CardRegistration, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, errors.New("registration: service not initialized")
	}

	query := s.db.WithContext(ctx).Model(&models.CardRegistration{})
	if kind := strings.ToUpper(strings.TrimSpace(filter.CardKind)); kind != "" {
		query = query.Where("card_kind = ?", kind)
	}
	if status := strings.ToUpper(strings.TrimSpace(filter.Status)); status != "" {
		query = query.Where("status = ?", status)
	}
	if unitID := strings.TrimSpace(filter.UnitID); unitID != "" {
		query = query.Where("unit_id = ?", unitID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+search+"%")
		query = query.Where(
			s.db.Where(db.CaseInsensitiveLikeExpr(s.db, "full_name"), pattern).
				Or(db.CaseInsensitiveLikeExpr(s.db, "apartment_no"), pattern),
		)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var regs []models.CardRegistration
	if errFind := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&regs).Error; errFind != nil {
		return nil, 0, errFind
	}
	return regs, total, nil
}

// RemainingCapacity reports how many more cards of a kind the unit can hold.
// Kinds without a capacity rule report -1.
func (s *Service) RemainingCapacity(ctx context.Context, unitID, cardKind string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("registration: service not initialized")
	}
	kind, okKind := KindByName(cardKind)
	if !okKind {
		return 0, newValidationError("unknown card kind")
	}
	if !kind.CapacityLimited {
		return -1, nil
	}

	capacity := s.unitCapacity(ctx, unitID)
	var active int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.CardRegistration{}).
		Where("card_kind = ? AND unit_id = ?", kind.Name, unitID).
		Where("status NOT IN ?", []string{models.StatusRejected, models.StatusCancelled}).
		Count(&active).Error; errCount != nil {
		return 0, errCount
	}
	remaining := capacity - int(active)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

package registration

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/address"
	"github.com/openresident/cardservice/internal/eligibility"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	"github.com/openresident/cardservice/internal/payment"
	"github.com/openresident/cardservice/internal/pricing"
	"github.com/openresident/cardservice/internal/settings"
	"github.com/openresident/cardservice/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CycleSeeder seeds or resets the fee reminder cycle for a card. Calls are
// best-effort; the lifecycle never fails on a seeding error.
type CycleSeeder interface {
	ResetAfterPayment(ctx context.Context, cardKind, cardID string) error
}

// Service is the shared card registration lifecycle. One instance serves all
// card kinds; per-kind behavior comes from the Kind table.
type Service struct {
	db        *gorm.DB
	validator *eligibility.Validator
	resolver  *address.Resolver
	prices    *pricing.Service
	gateway   *payment.Gateway
	pending   payment.PendingStore
	notifier  notify.Dispatcher
	seeder    CycleSeeder
}

// NewService constructs the registration lifecycle service.
func NewService(
	db *gorm.DB,
	validator *eligibility.Validator,
	resolver *address.Resolver,
	prices *pricing.Service,
	gateway *payment.Gateway,
	pending payment.PendingStore,
	notifier notify.Dispatcher,
	seeder CycleSeeder,
) *Service {
	if db == nil {
		return nil
	}
	return &Service{
		db:        db,
		validator: validator,
		resolver:  resolver,
		prices:    prices,
		gateway:   gateway,
		pending:   pending,
		notifier:  notifier,
		seeder:    seeder,
	}
}

// CreateInput is the payload for a new card registration.
type CreateInput struct {
	CardKind           string
	RequestType        string
	ReissuedFromCardID string

	RequesterUserID string
	ResidentID      string
	UnitID          string

	FullName     string
	CitizenID    string
	PhoneNumber  string
	ApartmentNo  string
	BuildingName string

	VehicleType  string
	LicensePlate string
	VehicleBrand string
	VehicleColor string
}

// Create validates a registration request and persists it in
// READY_FOR_PAYMENT. The payment amount is snapshotted from the current
// price and never changes afterwards.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.CardRegistration, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registration: service not initialized")
	}

	kind, okKind := KindByName(in.CardKind)
	if !okKind {
		return nil, newValidationError("unknown card kind")
	}
	if errValidate := s.validateCreate(kind, &in); errValidate != nil {
		return nil, errValidate
	}
	if errEligible := s.checkEligibility(ctx, kind, &in); errEligible != nil {
		return nil, errEligible
	}

	var original *models.CardRegistration
	if in.RequestType == models.RequestTypeReplaceCard {
		found, errReissue := s.checkReissue(ctx, kind, in.ReissuedFromCardID)
		if errReissue != nil {
			return nil, errReissue
		}
		original = found
	}

	if kind.CapacityLimited {
		if errCapacity := s.checkCapacity(ctx, kind, in.UnitID); errCapacity != nil {
			return nil, errCapacity
		}
	}

	amount := s.prices.GetPrice(ctx, kind.Name)

	row := models.CardRegistration{
		ID:              uuid.NewString(),
		CardKind:        kind.Name,
		RequestType:     in.RequestType,
		RequesterUserID: in.RequesterUserID,
		UnitID:          in.UnitID,
		FullName:        strings.TrimSpace(in.FullName),
		CitizenID:       in.CitizenID,
		PhoneNumber:     strings.TrimSpace(in.PhoneNumber),
		ApartmentNo:     strings.TrimSpace(in.ApartmentNo),
		BuildingName:    strings.TrimSpace(in.BuildingName),
		VehicleType:     strings.TrimSpace(in.VehicleType),
		LicensePlate:    strings.TrimSpace(in.LicensePlate),
		VehicleBrand:    strings.TrimSpace(in.VehicleBrand),
		VehicleColor:    strings.TrimSpace(in.VehicleColor),
		PaymentAmount:   amount,
		PaymentStatus:   models.PaymentStatusUnpaid,
		Status:          models.StatusReadyForPayment,
	}
	if in.ResidentID != "" {
		residentID := in.ResidentID
		row.ResidentID = &residentID
	}
	if original != nil {
		row.ReissuedFromCardID = &original.ID
	}

	s.applyResolvedAddress(ctx, &row, in)

	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, errCreate
	}
	log.Infof("registration: created %s card %s (unit=%s citizen=%s amount=%.0f)",
		row.CardKind, row.ID, row.UnitID, util.MaskCitizenID(row.CitizenID), row.PaymentAmount)
	return &row, nil
}

func (s *Service) validateCreate(kind Kind, in *CreateInput) error {
	in.RequestType = strings.ToUpper(strings.TrimSpace(in.RequestType))
	if in.RequestType == "" {
		in.RequestType = models.RequestTypeNewCard
	}
	if in.RequestType != models.RequestTypeNewCard && in.RequestType != models.RequestTypeReplaceCard {
		return newValidationError("request_type must be NEW_CARD or REPLACE_CARD")
	}
	if in.RequestType == models.RequestTypeReplaceCard && strings.TrimSpace(in.ReissuedFromCardID) == "" {
		return newValidationError("reissued_from_card_id is required for REPLACE_CARD")
	}
	if strings.TrimSpace(in.RequesterUserID) == "" {
		return newValidationError("requester user is required")
	}
	if strings.TrimSpace(in.UnitID) == "" {
		return newValidationError("unit_id is required")
	}
	if strings.TrimSpace(in.FullName) == "" {
		return newValidationError("full_name is required")
	}

	if kind.RequiresResident {
		if strings.TrimSpace(in.ResidentID) == "" {
			return newValidationError("resident_id is required for this card kind")
		}
		normalized, okCitizen := normalizeCitizenID(in.CitizenID)
		if !okCitizen {
			return newValidationError("citizen_id must contain at least 12 digits")
		}
		in.CitizenID = normalized
	} else {
		in.CitizenID = strings.TrimSpace(in.CitizenID)
	}

	if kind.Validate != nil {
		if errKind := kind.Validate(in); errKind != nil {
			return errKind
		}
	}
	return nil
}

func (s *Service) checkEligibility(ctx context.Context, kind Kind, in *CreateInput) error {
	if !s.validator.IsHouseholdMember(ctx, in.RequesterUserID, in.UnitID) {
		return eligibility.ErrNotHouseholdMember
	}

	if in.ResidentID == "" {
		return nil
	}

	requesterResidentID := s.requesterResidentID(ctx, in.RequesterUserID, in.UnitID)
	if in.ResidentID != requesterResidentID {
		if !s.validator.AreInSameHousehold(ctx, requesterResidentID, in.ResidentID, in.UnitID) {
			return eligibility.ErrCrossHousehold
		}
	}
	if !s.validator.IsMemberApproved(ctx, in.ResidentID, in.UnitID) {
		return eligibility.ErrMemberNotApproved
	}

	if kind.RequiresResident && in.CitizenID != "" {
		var duplicates int64
		errCount := s.db.WithContext(ctx).
			Model(&models.CardRegistration{}).
			Where("card_kind = ? AND unit_id = ? AND citizen_id = ?", kind.Name, in.UnitID, in.CitizenID).
			Where("status NOT IN ?", []string{models.StatusRejected, models.StatusCancelled}).
			Count(&duplicates).Error
		if errCount != nil {
			return errCount
		}
		if duplicates > 0 {
			return newValidationError("citizen_id already has an active card for this unit")
		}
	}
	return nil
}

func (s *Service) requesterResidentID(ctx context.Context, userID, unitID string) string {
	if s.resolver == nil {
		return ""
	}
	res, errResolve := s.resolver.Resolve(ctx, address.Query{UserID: userID, UnitID: unitID})
	if errResolve != nil || !res.Found() {
		return ""
	}
	return res.ResidentID
}

// checkReissue enforces the one-reissue rule: the original card must exist
// for the same kind, be CANCELLED, and have no replacement yet.
func (s *Service) checkReissue(ctx context.Context, kind Kind, originalID string) (*models.CardRegistration, error) {
	originalID = strings.TrimSpace(originalID)

	var original models.CardRegistration
	errFind := s.db.WithContext(ctx).
		Where("id = ? AND card_kind = ?", originalID, kind.Name).
		First(&original).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrOriginalCardNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	if original.Status != models.StatusCancelled {
		return nil, ErrOriginalNotCancelled
	}

	var reissued int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.CardRegistration{}).
		Where("reissued_from_card_id = ?", original.ID).
		Count(&reissued).Error; errCount != nil {
		return nil, errCount
	}
	if reissued > 0 {
		return nil, ErrAlreadyReissued
	}
	return &original, nil
}

func (s *Service) checkCapacity(ctx context.Context, kind Kind, unitID string) error {
	capacity := s.unitCapacity(ctx, unitID)

	var active int64
	errCount := s.db.WithContext(ctx).
		Model(&models.CardRegistration{}).
		Where("card_kind = ? AND unit_id = ?", kind.Name, unitID).
		Where("status NOT IN ?", []string{models.StatusRejected, models.StatusCancelled}).
		Count(&active).Error
	if errCount != nil {
		return errCount
	}
	if active >= int64(capacity) {
		return ErrOverCapacity
	}
	return nil
}

// unitCapacity derives the card cap from the unit's bedroom count. The
// multiplier and the no-bedroom fallback are runtime settings.
func (s *Service) unitCapacity(ctx context.Context, unitID string) int {
	multiplier := settings.CardsPerBedroom()
	fallback := settings.DefaultUnitCapacity()

	var unit models.Unit
	errFind := s.db.WithContext(ctx).Select("bedrooms").Where("id = ?", unitID).First(&unit).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warnf("registration: unit capacity lookup failed (unit=%s)", unitID)
		}
		return fallback
	}
	if unit.Bedrooms == nil || *unit.Bedrooms <= 0 {
		return fallback
	}
	capacity := *unit.Bedrooms * multiplier
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// applyResolvedAddress fills address and identity from the resolver,
// keeping the submitted form values when resolution fails. Resolution
// failure never aborts a creation.
func (s *Service) applyResolvedAddress(ctx context.Context, row *models.CardRegistration, in CreateInput) {
	if s.resolver == nil {
		return
	}
	res, errResolve := s.resolver.Resolve(ctx, address.Query{
		ResidentID: in.ResidentID,
		UserID:     in.RequesterUserID,
		UnitID:     in.UnitID,
	})
	if errResolve != nil {
		log.WithError(errResolve).Warnf("registration: address resolution failed (unit=%s), using form values", in.UnitID)
		return
	}
	if !res.Found() {
		return
	}
	if res.ApartmentNo != "" {
		row.ApartmentNo = res.ApartmentNo
	}
	if res.BuildingName != "" {
		row.BuildingName = res.BuildingName
	}
	if row.ResidentID == nil && res.ResidentID != "" {
		residentID := res.ResidentID
		row.ResidentID = &residentID
	}
}

package eligibility

import (
	"context"
	"errors"

	"github.com/openresident/cardservice/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Rejection reasons. Every check fails closed: a lookup error or missing row
// means not eligible, never an optimistic allow.
var (
	ErrNotHouseholdMember = errors.New("eligibility: requester is not a member of the unit's household")
	ErrCrossHousehold     = errors.New("eligibility: requester and target resident belong to different households")
	ErrMemberNotApproved  = errors.New("eligibility: resident is not an approved household member")
)

// Validator answers household and ownership questions for card requests.
type Validator struct {
	db *gorm.DB
}

// NewValidator constructs an eligibility validator.
func NewValidator(db *gorm.DB) *Validator {
	if db == nil {
		return nil
	}
	return &Validator{db: db}
}

// IsHouseholdMember reports whether the user is a current member of the
// household occupying the unit.
func (v *Validator) IsHouseholdMember(ctx context.Context, userID, unitID string) bool {
	if v == nil || v.db == nil || userID == "" || unitID == "" {
		return false
	}

	var count int64
	errCount := v.db.WithContext(ctx).
		Table("household_members AS hm").
		Joins("JOIN households h ON h.id = hm.household_id").
		Joins("JOIN residents r ON r.id = hm.resident_id").
		Where("r.user_id = ?", userID).
		Where("h.unit_id = ?", unitID).
		Where("hm.left_at IS NULL").
		Where("h.end_date IS NULL").
		Count(&count).Error
	if errCount != nil {
		log.WithError(errCount).Warnf("eligibility: household membership lookup failed (unit=%s)", unitID)
		return false
	}
	return count > 0
}

// IsUnitOwner reports whether the user is the primary member of the unit's
// active household.
func (v *Validator) IsUnitOwner(ctx context.Context, userID, unitID string) bool {
	if v == nil || v.db == nil || userID == "" || unitID == "" {
		return false
	}

	var count int64
	errCount := v.db.WithContext(ctx).
		Table("household_members AS hm").
		Joins("JOIN households h ON h.id = hm.household_id").
		Joins("JOIN residents r ON r.id = hm.resident_id").
		Where("r.user_id = ?", userID).
		Where("h.unit_id = ?", unitID).
		Where("hm.is_primary = ?", true).
		Where("hm.left_at IS NULL").
		Where("h.end_date IS NULL").
		Count(&count).Error
	if errCount != nil {
		log.WithError(errCount).Warnf("eligibility: owner lookup failed (unit=%s)", unitID)
		return false
	}
	return count > 0
}

// AreInSameHousehold reports whether both residents are current members of
// the same active household attached to the unit.
func (v *Validator) AreInSameHousehold(ctx context.Context, residentA, residentB, unitID string) bool {
	if v == nil || v.db == nil || residentA == "" || residentB == "" || unitID == "" {
		return false
	}
	if residentA == residentB {
		return true
	}

	var count int64
	errCount := v.db.WithContext(ctx).
		Table("household_members AS a").
		Joins("JOIN household_members b ON b.household_id = a.household_id").
		Joins("JOIN households h ON h.id = a.household_id").
		Where("a.resident_id = ?", residentA).
		Where("b.resident_id = ?", residentB).
		Where("h.unit_id = ?", unitID).
		Where("a.left_at IS NULL").
		Where("b.left_at IS NULL").
		Where("h.end_date IS NULL").
		Count(&count).Error
	if errCount != nil {
		log.WithError(errCount).Warnf("eligibility: same-household lookup failed (unit=%s)", unitID)
		return false
	}
	return count > 0
}

// IsMemberApproved reports whether the resident may hold a card for the unit:
// primary members are exempt, otherwise an approved membership request or an
// active member row is required.
func (v *Validator) IsMemberApproved(ctx context.Context, residentID, unitID string) bool {
	if v == nil || v.db == nil || residentID == "" || unitID == "" {
		return false
	}

	var primaryCount int64
	errPrimary := v.db.WithContext(ctx).
		Table("household_members AS hm").
		Joins("JOIN households h ON h.id = hm.household_id").
		Where("hm.resident_id = ?", residentID).
		Where("h.unit_id = ?", unitID).
		Where("hm.is_primary = ?", true).
		Where("hm.left_at IS NULL").
		Where("h.end_date IS NULL").
		Count(&primaryCount).Error
	if errPrimary != nil {
		log.WithError(errPrimary).Warnf("eligibility: primary member lookup failed (unit=%s)", unitID)
		return false
	}
	if primaryCount > 0 {
		return true
	}

	var requestCount int64
	errRequest := v.db.WithContext(ctx).
		Model(&models.MembershipRequest{}).
		Where("resident_id = ? AND unit_id = ? AND status = ?", residentID, unitID, models.MembershipRequestApproved).
		Count(&requestCount).Error
	if errRequest != nil {
		log.WithError(errRequest).Warnf("eligibility: membership request lookup failed (unit=%s)", unitID)
		return false
	}
	if requestCount > 0 {
		return true
	}

	var memberCount int64
	errMember := v.db.WithContext(ctx).
		Table("household_members AS hm").
		Joins("JOIN households h ON h.id = hm.household_id").
		Where("hm.resident_id = ?", residentID).
		Where("h.unit_id = ?", unitID).
		Where("hm.left_at IS NULL").
		Where("h.end_date IS NULL").
		Count(&memberCount).Error
	if errMember != nil {
		log.WithError(errMember).Warnf("eligibility: member row lookup failed (unit=%s)", unitID)
		return false
	}
	return memberCount > 0
}

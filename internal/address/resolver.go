package address

import (
	"context"
	"errors"

	"github.com/openresident/cardservice/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Source tags how a resolution was satisfied. Cards can be requested by users
// not yet linked to a household row, so identity and address degrade
// independently instead of failing together.
type Source int

const (
	// SourceNotFound means no identifier resolved anything.
	SourceNotFound Source = iota
	// SourceMembership means identity and address came from an active membership.
	SourceMembership
	// SourceResidentOnly means only the resident identity resolved; no address.
	SourceResidentOnly
	// SourceUnitOnly means only the unit address resolved; no identity.
	SourceUnitOnly
)

// Query selects which identifiers to resolve by. Empty fields are skipped.
type Query struct {
	ResidentID string
	UserID     string
	UnitID     string
}

// Result is the resolved display data for a registration or notification.
type Result struct {
	Source       Source
	ResidentID   string
	UserID       string
	FullName     string
	ApartmentNo  string
	BuildingName string
}

// Found reports whether anything resolved.
func (r Result) Found() bool { return r.Source != SourceNotFound }

// Resolver resolves unit, apartment and resident display data.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs an address resolver.
func NewResolver(db *gorm.DB) *Resolver {
	if db == nil {
		return nil
	}
	return &Resolver{db: db}
}

// membershipRow is the join projection used by the membership path.
type membershipRow struct {
	ResidentID   string
	UserID       *string
	FullName     string
	ApartmentNo  string
	BuildingName string
	IsPrimary    bool
}

// Resolve applies the resolution order: active membership join first
// (preferring the primary member), then resident identity by user ID, then
// the bare unit address.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, error) {
	if r == nil || r.db == nil {
		return Result{}, errors.New("address: resolver not initialized")
	}

	if row, ok, errMembership := r.resolveMembership(ctx, q); errMembership != nil {
		return Result{}, errMembership
	} else if ok {
		userID := ""
		if row.UserID != nil {
			userID = *row.UserID
		}
		return Result{
			Source:       SourceMembership,
			ResidentID:   row.ResidentID,
			UserID:       userID,
			FullName:     row.FullName,
			ApartmentNo:  row.ApartmentNo,
			BuildingName: row.BuildingName,
		}, nil
	}

	if q.UserID != "" {
		var resident models.Resident
		errFind := r.db.WithContext(ctx).Where("user_id = ?", q.UserID).First(&resident).Error
		if errFind == nil {
			return Result{
				Source:     SourceResidentOnly,
				ResidentID: resident.ID,
				UserID:     q.UserID,
				FullName:   resident.FullName,
			}, nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Result{}, errFind
		}
	}

	if q.UnitID != "" {
		var unit models.Unit
		errFind := r.db.WithContext(ctx).Where("id = ?", q.UnitID).First(&unit).Error
		if errFind == nil {
			return Result{
				Source:       SourceUnitOnly,
				ApartmentNo:  unit.ApartmentNo,
				BuildingName: unit.BuildingName,
			}, nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Result{}, errFind
		}
	}

	return Result{Source: SourceNotFound}, nil
}

func (r *Resolver) resolveMembership(ctx context.Context, q Query) (membershipRow, bool, error) {
	if q.ResidentID == "" && q.UserID == "" {
		return membershipRow{}, false, nil
	}

	query := r.db.WithContext(ctx).
		Table("household_members AS hm").
		Select("hm.resident_id, r.user_id, r.full_name, u.apartment_no, u.building_name, hm.is_primary").
		Joins("JOIN households h ON h.id = hm.household_id").
		Joins("JOIN residents r ON r.id = hm.resident_id").
		Joins("JOIN units u ON u.id = h.unit_id").
		Where("hm.left_at IS NULL").
		Where("h.end_date IS NULL")

	if q.ResidentID != "" {
		query = query.Where("hm.resident_id = ?", q.ResidentID)
	}
	if q.UserID != "" {
		query = query.Where("r.user_id = ?", q.UserID)
	}
	if q.UnitID != "" {
		query = query.Where("h.unit_id = ?", q.UnitID)
	}

	var rows []membershipRow
	if errFind := query.
		Order("hm.is_primary DESC, hm.joined_at ASC").
		Limit(1).
		Scan(&rows).Error; errFind != nil {
		log.WithError(errFind).Warn("address: membership resolution failed")
		return membershipRow{}, false, errFind
	}
	if len(rows) == 0 {
		return membershipRow{}, false, nil
	}
	return rows[0], true, nil
}

// BuildingID returns the building ID of a unit, or empty when unknown.
func (r *Resolver) BuildingID(ctx context.Context, unitID string) string {
	if r == nil || r.db == nil || unitID == "" {
		return ""
	}
	var unit models.Unit
	if errFind := r.db.WithContext(ctx).Select("building_id").Where("id = ?", unitID).First(&unit).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warnf("address: building lookup failed (unit=%s)", unitID)
		}
		return ""
	}
	return unit.BuildingID
}

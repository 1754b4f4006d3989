package models

import "time"

// Unit is an apartment unit. Bedrooms drives the card capacity rule.
type Unit struct {
	ID           string `gorm:"type:uuid;primaryKey"` // Primary key.
	ApartmentNo  string `gorm:"type:text;not null"`   // Apartment label.
	BuildingID   string `gorm:"type:uuid;index"`      // Owning building.
	BuildingName string `gorm:"type:text"`            // Building label.
	Bedrooms     *int   // Bedroom count; nil when unknown.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps Unit to its table.
func (Unit) TableName() string { return "units" }

// Household groups the residents currently occupying a unit. A household
// with a non-nil EndDate has moved out.
type Household struct {
	ID      string     `gorm:"type:uuid;primaryKey"`     // Primary key.
	UnitID  string     `gorm:"type:uuid;not null;index"` // Occupied unit.
	EndDate *time.Time // Set when the household leaves the unit.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps Household to its table.
func (Household) TableName() string { return "households" }

// HouseholdMember links a resident to a household. A non-nil LeftAt means
// the resident departed; IsPrimary marks the unit owner.
type HouseholdMember struct {
	ID          string     `gorm:"type:uuid;primaryKey"`     // Primary key.
	HouseholdID string     `gorm:"type:uuid;not null;index"` // Owning household.
	ResidentID  string     `gorm:"type:uuid;not null;index"` // Member resident.
	IsPrimary   bool       `gorm:"not null;default:false"`   // Unit owner flag.
	JoinedAt    time.Time  `gorm:"not null"`                 // Membership start.
	LeftAt      *time.Time // Membership end, if departed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps HouseholdMember to its table.
func (HouseholdMember) TableName() string { return "household_members" }

// Resident is the identity record behind a user account.
type Resident struct {
	ID          string  `gorm:"type:uuid;primaryKey"`  // Primary key.
	UserID      *string `gorm:"type:uuid;uniqueIndex"` // Linked account; nil before activation.
	FullName    string  `gorm:"type:text;not null"`    // Display name.
	CitizenID   string  `gorm:"type:text;index"`       // National ID digits.
	PhoneNumber string  `gorm:"type:text"`             // Contact phone.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps Resident to its table.
func (Resident) TableName() string { return "residents" }

// Membership request statuses.
const (
	MembershipRequestApproved = "APPROVED"
	MembershipRequestPending  = "PENDING"
	MembershipRequestRejected = "REJECTED"
)

// MembershipRequest is a resident's request to join a unit's household.
type MembershipRequest struct {
	ID         string `gorm:"type:uuid;primaryKey"`               // Primary key.
	ResidentID string `gorm:"type:uuid;not null;index"`           // Requesting resident.
	UnitID     string `gorm:"type:uuid;not null;index"`           // Target unit.
	Status     string `gorm:"type:text;not null;default:PENDING"` // PENDING, APPROVED or REJECTED.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps MembershipRequest to its table.
func (MembershipRequest) TableName() string { return "membership_requests" }

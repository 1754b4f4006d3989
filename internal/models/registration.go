package models

import "time"

// Card kinds.
const (
	CardKindResident = "RESIDENT"
	CardKindElevator = "ELEVATOR"
	CardKindVehicle  = "VEHICLE"
)

// Request types.
const (
	RequestTypeNewCard     = "NEW_CARD"
	RequestTypeReplaceCard = "REPLACE_CARD"
)

// Registration workflow statuses.
const (
	StatusReadyForPayment = "READY_FOR_PAYMENT"
	StatusPaymentPending  = "PAYMENT_PENDING"
	StatusPending         = "PENDING"
	StatusApproved        = "APPROVED"
	StatusRejected        = "REJECTED"
	StatusCancelled       = "CANCELLED"
	StatusNeedsRenewal    = "NEEDS_RENEWAL"
	StatusSuspended       = "SUSPENDED"
)

// Payment statuses.
const (
	PaymentStatusUnpaid     = "UNPAID"
	PaymentStatusPending    = "PAYMENT_PENDING"
	PaymentStatusInProgress = "PAYMENT_IN_PROGRESS"
	PaymentStatusPaid       = "PAID"
)

// CardRegistration is a card issuance request for a unit. All three card
// kinds share this row shape; kind-specific fields stay empty for the others.
type CardRegistration struct {
	ID       string `gorm:"type:uuid;primaryKey"`                                            // Primary key.
	CardKind string `gorm:"type:text;not null;index:idx_registrations_kind_unit,priority:1"` // RESIDENT, ELEVATOR or VEHICLE.

	RequestType        string  `gorm:"type:text;not null;default:NEW_CARD"` // NEW_CARD or REPLACE_CARD.
	ReissuedFromCardID *string `gorm:"type:uuid;index"`                     // Original card when replacing.

	RequesterUserID string  `gorm:"type:uuid;not null;index"`                                        // User who submitted the request.
	ResidentID      *string `gorm:"type:uuid;index"`                                                 // Card holder; nullable for vehicle cards.
	UnitID          string  `gorm:"type:uuid;not null;index:idx_registrations_kind_unit,priority:2"` // Unit the card belongs to.

	FullName     string `gorm:"type:text;not null"` // Card holder display name.
	CitizenID    string `gorm:"type:text"`          // National ID digits.
	PhoneNumber  string `gorm:"type:text"`          // Contact phone.
	ApartmentNo  string `gorm:"type:text"`          // Resolved apartment label.
	BuildingName string `gorm:"type:text"`          // Resolved building label.

	VehicleType  string `gorm:"type:text"` // Vehicle cards only.
	LicensePlate string `gorm:"type:text"` // Vehicle cards only.
	VehicleBrand string `gorm:"type:text"` // Vehicle cards only.
	VehicleColor string `gorm:"type:text"` // Vehicle cards only.

	PaymentAmount      float64    `gorm:"type:decimal(18,2);not null"`       // Price snapshot taken at creation.
	PaymentStatus      string     `gorm:"type:text;not null;default:UNPAID"` // UNPAID, PAYMENT_PENDING, PAYMENT_IN_PROGRESS or PAID.
	PaymentDate        *time.Time // Reconciliation instant of the successful payment.
	PaymentGateway     string     `gorm:"type:text"`       // Gateway identifier.
	TransactionRef     string     `gorm:"type:text;index"` // Gateway transaction reference.
	PaymentInitiatedAt *time.Time // When the current payment attempt started.

	Status string `gorm:"type:text;not null;default:READY_FOR_PAYMENT;index"` // Workflow status.

	AdminNote       string     `gorm:"type:text"` // Free-form admin note.
	RejectionReason string     `gorm:"type:text"` // Reason recorded on rejection.
	ApprovedBy      *string    `gorm:"type:text"` // Admin who approved.
	ApprovedAt      *time.Time // Approval timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName maps CardRegistration to its table.
func (CardRegistration) TableName() string { return "card_registrations" }

// IsTerminal reports whether the registration can no longer move forward
// without a renewal or reissue.
func (r *CardRegistration) IsTerminal() bool {
	if r == nil {
		return false
	}
	return r.Status == StatusRejected || r.Status == StatusCancelled
}

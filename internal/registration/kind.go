package registration

import (
	"strings"

	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/util"
)

// Kind captures what differs between the three card variants. Everything
// else in the lifecycle is shared.
type Kind struct {
	Name string

	// RequiresResident makes the target resident and citizen ID mandatory.
	RequiresResident bool

	// CapacityLimited enforces the per-unit registration cap at creation.
	CapacityLimited bool

	// Validate runs kind-specific payload checks after the shared ones.
	Validate func(in *CreateInput) error
}

var kinds = map[string]Kind{
	models.CardKindResident: {
		Name:             models.CardKindResident,
		RequiresResident: true,
		CapacityLimited:  true,
	},
	models.CardKindElevator: {
		Name:             models.CardKindElevator,
		RequiresResident: true,
		CapacityLimited:  true,
	},
	models.CardKindVehicle: {
		Name:     models.CardKindVehicle,
		Validate: validateVehicle,
	},
}

// KindByName resolves a card kind by its wire name.
func KindByName(name string) (Kind, bool) {
	kind, ok := kinds[strings.ToUpper(strings.TrimSpace(name))]
	return kind, ok
}

func validateVehicle(in *CreateInput) error {
	if strings.TrimSpace(in.LicensePlate) == "" {
		return newValidationError("license_plate is required for vehicle cards")
	}
	if strings.TrimSpace(in.VehicleType) == "" {
		return newValidationError("vehicle_type is required for vehicle cards")
	}
	return nil
}

// minCitizenIDDigits is the minimum digit count of a valid citizen ID.
const minCitizenIDDigits = 12

func normalizeCitizenID(raw string) (string, bool) {
	digits := util.NormalizeDigits(raw)
	if len(digits) < minCitizenIDDigits {
		return "", false
	}
	return digits, true
}

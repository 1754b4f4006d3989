package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/registration"
)

// CardHandler handles card registration endpoints for residents.
type CardHandler struct {
	service *registration.Service
}

// NewCardHandler constructs a CardHandler.
func NewCardHandler(service *registration.Service) *CardHandler {
	return &CardHandler{service: service}
}

// cardDTO defines the registration response payload.
type cardDTO struct {
	ID                 string     `json:"id"`
	CardKind           string     `json:"card_kind"`
	RequestType        string     `json:"request_type"`
	ReissuedFromCardID *string    `json:"reissued_from_card_id,omitempty"`
	ResidentID         *string    `json:"resident_id,omitempty"`
	UnitID             string     `json:"unit_id"`
	FullName           string     `json:"full_name"`
	PhoneNumber        string     `json:"phone_number,omitempty"`
	ApartmentNo        string     `json:"apartment_no"`
	BuildingName       string     `json:"building_name"`
	VehicleType        string     `json:"vehicle_type,omitempty"`
	LicensePlate       string     `json:"license_plate,omitempty"`
	VehicleBrand       string     `json:"vehicle_brand,omitempty"`
	VehicleColor       string     `json:"vehicle_color,omitempty"`
	PaymentAmount      float64    `json:"payment_amount"`
	PaymentStatus      string     `json:"payment_status"`
	PaymentDate        *time.Time `json:"payment_date,omitempty"`
	Status             string     `json:"status"`
	AdminNote          string     `json:"admin_note,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toCardDTO(reg *models.CardRegistration) cardDTO {
	return cardDTO{
		ID:                 reg.ID,
		CardKind:           reg.CardKind,
		RequestType:        reg.RequestType,
		ReissuedFromCardID: reg.ReissuedFromCardID,
		ResidentID:         reg.ResidentID,
		UnitID:             reg.UnitID,
		FullName:           reg.FullName,
		PhoneNumber:        reg.PhoneNumber,
		ApartmentNo:        reg.ApartmentNo,
		BuildingName:       reg.BuildingName,
		VehicleType:        reg.VehicleType,
		LicensePlate:       reg.LicensePlate,
		VehicleBrand:       reg.VehicleBrand,
		VehicleColor:       reg.VehicleColor,
		PaymentAmount:      reg.PaymentAmount,
		PaymentStatus:      reg.PaymentStatus,
		PaymentDate:        reg.PaymentDate,
		Status:             reg.Status,
		AdminNote:          reg.AdminNote,
		RejectionReason:    reg.RejectionReason,
		ApprovedAt:         reg.ApprovedAt,
		CreatedAt:          reg.CreatedAt,
	}
}

// createCardRequest defines the request body for a new registration.
type createCardRequest struct {
	CardKind           string `json:"card_kind"`
	RequestType        string `json:"request_type"`
	ReissuedFromCardID string `json:"reissued_from_card_id"`
	ResidentID         string `json:"resident_id"`
	UnitID             string `json:"unit_id"`
	FullName           string `json:"full_name"`
	CitizenID          string `json:"citizen_id"`
	PhoneNumber        string `json:"phone_number"`
	ApartmentNo        string `json:"apartment_no"`
	BuildingName       string `json:"building_name"`
	VehicleType        string `json:"vehicle_type"`
	LicensePlate       string `json:"license_plate"`
	VehicleBrand       string `json:"vehicle_brand"`
	VehicleColor       string `json:"vehicle_color"`
}

// Create submits a new card registration for the current user.
func (h *CardHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body createCardRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	residentID := strings.TrimSpace(body.ResidentID)
	if residentID == "" {
		// Default the card holder to the requester's own resident profile.
		residentID = getResidentID(c)
	}

	reg, errCreate := h.service.Create(c.Request.Context(), registration.CreateInput{
		CardKind:           body.CardKind,
		RequestType:        body.RequestType,
		ReissuedFromCardID: body.ReissuedFromCardID,
		RequesterUserID:    userID,
		ResidentID:         residentID,
		UnitID:             body.UnitID,
		FullName:           body.FullName,
		CitizenID:          body.CitizenID,
		PhoneNumber:        body.PhoneNumber,
		ApartmentNo:        body.ApartmentNo,
		BuildingName:       body.BuildingName,
		VehicleType:        body.VehicleType,
		LicensePlate:       body.LicensePlate,
		VehicleBrand:       body.VehicleBrand,
		VehicleColor:       body.VehicleColor,
	})
	if errCreate != nil {
		writeLifecycleError(c, errCreate)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"card": toCardDTO(reg)})
}

// List returns the registrations the current user submitted.
func (h *CardHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	regs, errList := h.service.ListByUser(c.Request.Context(), userID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query cards failed"})
		return
	}

	resp := make([]cardDTO, 0, len(regs))
	for i := range regs {
		resp = append(resp, toCardDTO(&regs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"cards": resp})
}

// Get returns one registration with its derived reissue flag.
func (h *CardHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	detail, errGet := h.service.Get(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		writeLifecycleError(c, errGet)
		return
	}

	dto := toCardDTO(&detail.CardRegistration)
	c.JSON(http.StatusOK, gin.H{
		"card":        dto,
		"can_reissue": detail.CanReissue,
	})
}

// Cancel stops a registration on behalf of the requester. Cancelling an
// already-cancelled card succeeds without effect.
func (h *CardHandler) Cancel(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	reg, errCancel := h.service.Cancel(c.Request.Context(), c.Param("id"), userID)
	if errCancel != nil {
		writeLifecycleError(c, errCancel)
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": toCardDTO(reg)})
}

// RemainingCapacity reports how many more cards of a kind the unit can hold.
func (h *CardHandler) RemainingCapacity(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	unitID := strings.TrimSpace(c.Query("unit_id"))
	cardKind := strings.TrimSpace(c.Query("card_kind"))
	if unitID == "" || cardKind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_id and card_kind are required"})
		return
	}

	remaining, errRemaining := h.service.RemainingCapacity(c.Request.Context(), unitID, cardKind)
	if errRemaining != nil {
		writeLifecycleError(c, errRemaining)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unit_id":   unitID,
		"card_kind": strings.ToUpper(cardKind),
		"remaining": remaining,
		"unlimited": remaining < 0,
	})
}

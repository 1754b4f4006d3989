package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/registration"
)

// RegistrationHandler handles the admin view of card registrations.
type RegistrationHandler struct {
	service *registration.Service
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(service *registration.Service) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// List returns registrations with optional kind, status, unit and name
// search filters.
func (h *RegistrationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	regs, total, errList := h.service.List(c.Request.Context(), registration.ListFilter{
		CardKind: c.Query("card_kind"),
		Status:   c.Query("status"),
		UnitID:   c.Query("unit_id"),
		Search:   c.Query("search"),
		Limit:    limit,
		Offset:   offset,
	})
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query registrations failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"registrations": regs,
		"total":         total,
	})
}

// Get returns one registration with its derived reissue flag.
func (h *RegistrationHandler) Get(c *gin.Context) {
	detail, errGet := h.service.Get(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		if errors.Is(errGet, registration.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "registration not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"registration": detail.CardRegistration,
		"can_reissue":  detail.CanReissue,
	})
}

// decideRequest defines the admin decision request body.
type decideRequest struct {
	Decision        string `json:"decision"`
	AdminNote       string `json:"admin_note"`
	RejectionReason string `json:"rejection_reason"`
}

// Decide applies an admin decision to one registration.
func (h *RegistrationHandler) Decide(c *gin.Context) {
	adminID := getAdminID(c)
	if adminID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body decideRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	reg, changed, errDecide := h.service.Decide(c.Request.Context(), registration.DecideInput{
		RegistrationID:  c.Param("id"),
		Decision:        body.Decision,
		AdminID:         strconv.FormatUint(adminID, 10),
		AdminNote:       body.AdminNote,
		RejectionReason: body.RejectionReason,
	})
	if errDecide != nil {
		writeDecisionError(c, errDecide)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"registration": reg,
		"changed":      changed,
	})
}

func writeDecisionError(c *gin.Context, err error) {
	var ve *registration.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Reason})
		return
	}
	switch {
	case errors.Is(err, registration.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "registration not found"})
	case errors.Is(err, registration.ErrNotApprovable),
		errors.Is(err, registration.ErrApproveUnpaid),
		errors.Is(err, registration.ErrAlreadyRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decision failed"})
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/eligibility"
	"github.com/openresident/cardservice/internal/registration"
)

// Context keys set by the front auth middleware.
const (
	ContextUserID     = "userID"
	ContextResidentID = "residentID"
	ContextFullName   = "fullName"
)

func getUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func getResidentID(c *gin.Context) string {
	return c.GetString(ContextResidentID)
}

// writeLifecycleError maps service errors onto HTTP responses.
func writeLifecycleError(c *gin.Context, err error) {
	var ve *registration.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Reason})
		return
	}

	switch {
	case errors.Is(err, registration.ErrNotFound),
		errors.Is(err, registration.ErrOriginalCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, registration.ErrNotCardOwner),
		errors.Is(err, eligibility.ErrNotHouseholdMember),
		errors.Is(err, eligibility.ErrCrossHousehold),
		errors.Is(err, eligibility.ErrMemberNotApproved):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, registration.ErrPaymentInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, registration.ErrOverCapacity),
		errors.Is(err, registration.ErrOriginalNotCancelled),
		errors.Is(err, registration.ErrAlreadyReissued),
		errors.Is(err, registration.ErrNotPayable),
		errors.Is(err, registration.ErrRenewalUnpaid),
		errors.Is(err, registration.ErrNotCancellable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

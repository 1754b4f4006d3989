package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/pricing"
)

// PricingHandler manages per-kind card prices.
type PricingHandler struct {
	service *pricing.Service
}

// NewPricingHandler constructs a PricingHandler.
func NewPricingHandler(service *pricing.Service) *PricingHandler {
	return &PricingHandler{service: service}
}

// List returns all active price rows.
func (h *PricingHandler) List(c *gin.Context) {
	rows, errList := h.service.List(c.Request.Context())
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query prices failed"})
		return
	}

	resp := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, gin.H{
			"card_kind":  row.CardKind,
			"price":      row.Price,
			"updated_at": row.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"prices": resp})
}

// savePriceRequest defines the price upsert request body.
type savePriceRequest struct {
	CardKind string  `json:"card_kind"`
	Price    float64 `json:"price"`
}

// Save upserts the active price for a card kind.
func (h *PricingHandler) Save(c *gin.Context) {
	var body savePriceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	row, errSave := h.service.Save(c.Request.Context(), body.CardKind, body.Price)
	if errSave != nil {
		switch {
		case errors.Is(errSave, pricing.ErrUnknownCardKind), errors.Is(errSave, pricing.ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{"error": errSave.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save price failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"price": gin.H{
			"card_kind":  row.CardKind,
			"price":      row.Price,
			"updated_at": row.UpdatedAt,
		},
	})
}

// Deactivate retires the active price row for a card kind; lookups fall
// back to the default price afterwards.
func (h *PricingHandler) Deactivate(c *gin.Context) {
	errDeactivate := h.service.Deactivate(c.Request.Context(), c.Param("kind"))
	if errDeactivate != nil {
		switch {
		case errors.Is(errDeactivate, pricing.ErrUnknownCardKind):
			c.JSON(http.StatusBadRequest, gin.H{"error": errDeactivate.Error()})
		case errors.Is(errDeactivate, pricing.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no active price for this kind"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deactivate price failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/payment"
	"github.com/openresident/cardservice/internal/registration"
	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// PaymentHandler handles payment initiation and the gateway return callback.
type PaymentHandler struct {
	service    *registration.Service
	gateway    *payment.Gateway
	reconciler *payment.Reconciler
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(service *registration.Service, gateway *payment.Gateway, reconciler *payment.Reconciler) *PaymentHandler {
	return &PaymentHandler{service: service, gateway: gateway, reconciler: reconciler}
}

func intentResponse(intent *registration.PaymentIntent) gin.H {
	return gin.H{
		"registration_ids": intent.RegistrationIDs,
		"order_id":         intent.OrderID,
		"pay_url":          intent.PayURL,
		"transaction_ref":  intent.TransactionRef,
		"amount":           intent.Amount,
	}
}

// Initiate starts a payment for one registration and returns the checkout URL.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	intent, errInit := h.service.InitiatePayment(c.Request.Context(), c.Param("id"), userID, c.ClientIP())
	if errInit != nil {
		writeLifecycleError(c, errInit)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": intentResponse(intent)})
}

// batchPaymentRequest defines the request body for a batch checkout.
type batchPaymentRequest struct {
	RegistrationIDs []string `json:"registration_ids"`
}

// InitiateBatch starts one checkout covering several registrations.
func (h *PaymentHandler) InitiateBatch(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body batchPaymentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	intent, errInit := h.service.InitiateBatchPayment(c.Request.Context(), body.RegistrationIDs, userID, c.ClientIP())
	if errInit != nil {
		writeLifecycleError(c, errInit)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": intentResponse(intent)})
}

// QR renders a checkout URL as a PNG so the user can pay from another
// device. Only URLs pointing at the configured gateway are encoded.
func (h *PaymentHandler) QR(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	payURL := strings.TrimSpace(c.Query("pay_url"))
	if payURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pay_url is required"})
		return
	}
	if h.gateway == nil || !h.gateway.IsGatewayURL(payURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pay_url does not point at the payment gateway"})
		return
	}

	png, errEncode := qrcode.Encode(payURL, qrcode.Medium, qrImageSize)
	if errEncode != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr encode failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// GatewayReturn is the public endpoint the gateway redirects to after a
// payment attempt. It reconciles the callback and reports the outcome.
func (h *PaymentHandler) GatewayReturn(c *gin.Context) {
	params := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	outcome, errHandle := h.reconciler.HandleCallback(c.Request.Context(), params)
	if errHandle != nil {
		switch {
		case errors.Is(errHandle, payment.ErrMalformedReference):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed transaction reference"})
		case errors.Is(errHandle, payment.ErrRegistrationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no matching payment"})
		default:
			log.WithError(errHandle).Error("payment callback: reconciliation failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"registration_id": outcome.RegistrationID,
		"request_type":    outcome.RequestType,
		"success":         outcome.Success,
		"message":         outcome.Message,
	})
}

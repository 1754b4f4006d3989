package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/config"
	"github.com/openresident/cardservice/internal/http/api/front/handlers"
	"github.com/openresident/cardservice/internal/payment"
	"github.com/openresident/cardservice/internal/registration"
	"github.com/openresident/cardservice/internal/security"
)

// RegisterFrontRoutes registers public and authenticated resident routes.
func RegisterFrontRoutes(
	r *gin.Engine,
	jwtCfg config.JWTConfig,
	service *registration.Service,
	gateway *payment.Gateway,
	reconciler *payment.Reconciler,
) {
	if r == nil || service == nil {
		return
	}

	front := r.Group("/v0/front")

	paymentHandler := handlers.NewPaymentHandler(service, gateway, reconciler)
	// The gateway redirects the payer here; no session is available.
	front.GET("/payments/return", paymentHandler.GatewayReturn)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(jwtCfg))

	cardHandler := handlers.NewCardHandler(service)
	authed.POST("/cards", cardHandler.Create)
	authed.GET("/cards", cardHandler.List)
	authed.GET("/cards/:id", cardHandler.Get)
	authed.POST("/cards/:id/cancel", cardHandler.Cancel)
	authed.GET("/cards/capacity", cardHandler.RemainingCapacity)

	authed.POST("/cards/:id/payment", paymentHandler.Initiate)
	authed.POST("/payments/batch", paymentHandler.InitiateBatch)
	authed.GET("/payments/qr", paymentHandler.QR)
}

// userAuthMiddleware validates resident JWTs and loads identity into context.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(handlers.ContextUserID, claims.UserID)
		c.Set(handlers.ContextResidentID, claims.ResidentID)
		c.Set(handlers.ContextFullName, claims.FullName)
		c.Next()
	}
}

package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/config"
	"github.com/openresident/cardservice/internal/http/api/admin/handlers"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/pricing"
	"github.com/openresident/cardservice/internal/registration"
	"github.com/openresident/cardservice/internal/reminder"
	"github.com/openresident/cardservice/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers the management API.
func RegisterAdminRoutes(
	r *gin.Engine,
	db *gorm.DB,
	jwtCfg config.JWTConfig,
	regService *registration.Service,
	priceService *pricing.Service,
	reminderScheduler *reminder.Scheduler,
	reminderService *reminder.Service,
) {
	if r == nil || db == nil {
		return
	}

	adminGroup := r.Group("/v0/admin")

	healthHandler := handlers.NewHealthHandler(db)
	adminGroup.GET("/health", healthHandler.Check)

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	regHandler := handlers.NewRegistrationHandler(regService)
	authed.GET("/registrations", regHandler.List)
	authed.GET("/registrations/:id", regHandler.Get)
	authed.POST("/registrations/:id/decision", regHandler.Decide)

	priceHandler := handlers.NewPricingHandler(priceService)
	authed.GET("/prices", priceHandler.List)
	authed.PUT("/prices", priceHandler.Save)
	authed.DELETE("/prices/:kind", priceHandler.Deactivate)

	settingsHandler := handlers.NewSettingsHandler(db)
	authed.GET("/settings", settingsHandler.List)
	authed.PUT("/settings", settingsHandler.Update)

	reminderHandler := handlers.NewReminderHandler(reminderScheduler, reminderService)
	authed.POST("/reminders/sync", reminderHandler.Sync)
	authed.POST("/reminders/run", reminderHandler.Run)
}

// adminAuthMiddleware validates admin JWTs and checks the account is active.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
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

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "query admin failed"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set(handlers.ContextAdminID, admin.ID)
		c.Set(handlers.ContextAdminUsername, admin.Username)
		c.Next()
	}
}

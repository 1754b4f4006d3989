package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/settings"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsHandler manages runtime tunables stored in the settings table.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// List returns all settings rows.
func (h *SettingsHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query settings failed"})
		return
	}

	resp := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		resp[row.Key] = row.Value
	}
	c.JSON(http.StatusOK, gin.H{"settings": resp})
}

// Update upserts settings rows and refreshes the in-memory snapshot so new
// values take effect without a restart.
func (h *SettingsHandler) Update(c *gin.Context) {
	var body map[string]json.RawMessage
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings provided"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for key, value := range body {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			row := models.Setting{Key: key, Value: value}
			if errSave := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; errSave != nil {
				return errSave
			}
		}
		return nil
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save settings failed"})
		return
	}

	if errRefresh := settings.RefreshDBConfigSnapshot(c.Request.Context(), h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings saved but snapshot refresh failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

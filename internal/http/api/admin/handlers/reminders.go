package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/reminder"
)

// ReminderHandler exposes manual reminder engine controls.
type ReminderHandler struct {
	scheduler *reminder.Scheduler
	service   *reminder.Service
}

// NewReminderHandler constructs a ReminderHandler.
func NewReminderHandler(scheduler *reminder.Scheduler, service *reminder.Service) *ReminderHandler {
	return &ReminderHandler{scheduler: scheduler, service: service}
}

// Sync seeds reminder states for paid cards that lack one.
func (h *ReminderHandler) Sync(c *gin.Context) {
	seeded, errSync := h.service.SyncActiveCards(c.Request.Context())
	if errSync != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seeded": seeded})
}

// Run triggers one full reminder sweep outside the daily schedule.
func (h *ReminderHandler) Run(c *gin.Context) {
	processed, errRun := h.scheduler.RunOnce(c.Request.Context())
	if errRun != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/mw"
	"reminder-notify-backend/internal/store"
)

type queueStatusResponse struct {
	ReminderID string               `json:"reminderId"`
	Status     model.ReminderStatus `json:"status"`
	Items      []model.QueueItem    `json:"items"`
}

// GetQueueStatus handles the GET /api/reminders/:id/queue request.
func (h *Handler) GetQueueStatus(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	rem, err := h.store.GetReminder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		abortError(c, http.StatusNotFound, "reminder not found")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	if rem.OwnerID != mw.UserID(c) {
		abortError(c, http.StatusForbidden, errForbidden.Error())
		return
	}

	items, err := h.store.ListQueueItems(ctx, id)
	if err != nil {
		internalError(c, err)
		return
	}
	if items == nil {
		items = []model.QueueItem{}
	}

	c.JSON(http.StatusOK, queueStatusResponse{ReminderID: rem.ID, Status: rem.Status, Items: items})
}

// Healthz reports whether the database is reachable.
func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

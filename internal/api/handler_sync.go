package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/mw"
	"reminder-notify-backend/internal/recurrence"
	"reminder-notify-backend/internal/store"
)

type syncRequest struct {
	Action                model.SyncAction `json:"action" binding:"required"`
	ReminderID            string           `json:"reminderId"`
	RoutineID             string           `json:"routineId"`
	DeleteFutureReminders bool             `json:"deleteFutureReminders"`
}

// validate checks the action names a known operation and carries its target.
func (r *syncRequest) validate() string {
	switch r.Action {
	case model.ActionSync, model.ActionRemove:
		if r.ReminderID == "" {
			return "reminderId is required"
		}
	case model.ActionRemoveRoutine, model.ActionSyncRoutine:
		if r.RoutineID == "" {
			return "routineId is required"
		}
	default:
		return "unknown action"
	}
	return ""
}

var errForbidden = errors.New("target belongs to another user")

// PostSync reconciles the delivery queue after the caller changed a reminder or routine.
// The work is applied before responding. When it fails, the request is parked in the
// outbox for the next sweep and the response is 202.
func (h *Handler) PostSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request")
		return
	}
	if msg := req.validate(); msg != "" {
		abortError(c, http.StatusBadRequest, msg)
		return
	}

	ctx := c.Request.Context()
	userID := mw.UserID(c)
	if err := h.checkOwner(ctx, userID, &req); err != nil {
		if errors.Is(err, errForbidden) {
			abortError(c, http.StatusForbidden, err.Error())
		} else {
			internalError(c, err)
		}
		return
	}

	sr := &model.SyncRequest{
		OwnerID:               userID,
		Action:                req.Action,
		ReminderID:            req.ReminderID,
		RoutineID:             req.RoutineID,
		DeleteFutureReminders: req.DeleteFutureReminders,
	}
	result, err := h.syncer.Apply(ctx, sr)
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}

	var recErr *recurrence.Error
	if errors.As(err, &recErr) {
		abortError(c, http.StatusUnprocessableEntity, recErr.Error())
		return
	}

	logger.Warn("inline sync failed, deferring to outbox", "action", req.Action,
		"reminder", req.ReminderID, "routine", req.RoutineID, "err", err)
	if err := h.syncer.Enqueue(context.WithoutCancel(ctx), sr); err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "requestId": sr.ID})
}

// checkOwner rejects requests that target another user's reminder or routine. Targets
// that no longer exist are judged by the rows that still reference them.
func (h *Handler) checkOwner(ctx context.Context, userID string, req *syncRequest) error {
	owned := func(owner string) error {
		if owner != userID {
			return errForbidden
		}
		return nil
	}

	if req.ReminderID != "" {
		rem, err := h.store.GetReminder(ctx, req.ReminderID)
		if err == nil {
			return owned(rem.OwnerID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		items, err := h.store.ListQueueItems(ctx, req.ReminderID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := owned(it.OwnerID); err != nil {
				return err
			}
		}
		return nil
	}

	r, err := h.store.GetRoutine(ctx, req.RoutineID)
	if err == nil {
		return owned(r.OwnerID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	linked, err := h.store.ListReminders(ctx, store.ReminderFilter{RoutineID: req.RoutineID})
	if err != nil {
		return err
	}
	for _, rem := range linked {
		if err := owned(rem.OwnerID); err != nil {
			return err
		}
	}
	return nil
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reminder-notify-backend/internal/mw"
	"reminder-notify-backend/internal/pushsub"
	"reminder-notify-backend/internal/store"
)

// PutSubscription registers the caller's browser push subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req pushsub.Subscription
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request")
		return
	}

	sub, err := h.registry.Subscribe(c.Request.Context(), mw.UserID(c), req, c.Request.UserAgent())
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": sub.ID})
}

type rotateSubscriptionRequest struct {
	OldEndpoint  string               `json:"oldEndpoint" binding:"required"`
	Subscription pushsub.Subscription `json:"subscription" binding:"required"`
}

// RotateSubscription replaces an endpoint the browser has renewed.
func (h *Handler) RotateSubscription(c *gin.Context) {
	var req rotateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request")
		return
	}

	sub, err := h.registry.Rotate(c.Request.Context(), mw.UserID(c), req.OldEndpoint, req.Subscription)
	if errors.Is(err, store.ErrNotFound) {
		abortError(c, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": sub.ID})
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request")
		return
	}

	err := h.registry.Unsubscribe(c.Request.Context(), mw.UserID(c), req.Endpoint)
	if errors.Is(err, store.ErrNotFound) {
		abortError(c, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListSubscriptions returns the caller's registered devices.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.registry.List(c.Request.Context(), mw.UserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/pushsub"
	"reminder-notify-backend/internal/queuesync"
	"reminder-notify-backend/internal/store"
)

// QueueSyncer is the part of queuesync.Syncer the sync endpoint drives.
type QueueSyncer interface {
	Apply(ctx context.Context, req *model.SyncRequest) (queuesync.Result, error)
	Enqueue(ctx context.Context, req *model.SyncRequest) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store          store.Store
	syncer         QueueSyncer
	registry       *pushsub.Registry
	vapidPublicKey string
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, syncer QueueSyncer, registry *pushsub.Registry, vapidPublicKey string) *Handler {
	return &Handler{
		store:          s,
		syncer:         syncer,
		registry:       registry,
		vapidPublicKey: vapidPublicKey,
	}
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	abortError(c, http.StatusInternalServerError, err.Error())
}

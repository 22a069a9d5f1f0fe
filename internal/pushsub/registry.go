package pushsub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/store"
)

// ErrInvalid is returned for subscriptions missing an endpoint or keys.
var ErrInvalid = errors.New("subscription requires endpoint, p256dh and auth")

// Keys are the client's encryption material from PushSubscription.toJSON().
type Keys struct {
	P256dh string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// Subscription is a browser push registration as the client reports it.
type Subscription struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     Keys   `json:"keys" binding:"required"`
}

func (s Subscription) validate() error {
	if s.Endpoint == "" || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrInvalid
	}
	return nil
}

// ID derives the subscription key from its endpoint.
func ID(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

// Registry records which push endpoints belong to which user.
type Registry struct {
	store store.Store
	Now   func() time.Time
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s, Now: time.Now}
}

func (r *Registry) row(ownerID string, sub Subscription, userAgent string) *model.PushSubscription {
	now := r.Now().UTC()
	return &model.PushSubscription{
		ID:        ID(sub.Endpoint),
		OwnerID:   ownerID,
		Endpoint:  sub.Endpoint,
		P256DH:    sub.Keys.P256dh,
		Auth:      sub.Keys.Auth,
		UserAgent: userAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Subscribe stores sub for ownerID. Registering the same endpoint again overwrites the
// existing row, including its owner.
func (r *Registry) Subscribe(ctx context.Context, ownerID string, sub Subscription, userAgent string) (*model.PushSubscription, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}
	row := r.row(ownerID, sub, userAgent)
	if err := r.store.UpsertPushSubscription(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save push subscription: %w", err)
	}
	logger.Debug("push subscription saved", "owner", ownerID, "id", row.ID)
	return row, nil
}

// Rotate moves the owner's registrations at oldEndpoint to next. The browser hands out a
// new endpoint when it refreshes a subscription, and the old one stops working.
// It returns store.ErrNotFound when the owner has nothing at oldEndpoint.
func (r *Registry) Rotate(ctx context.Context, ownerID, oldEndpoint string, next Subscription) (*model.PushSubscription, error) {
	if err := next.validate(); err != nil {
		return nil, err
	}
	row := r.row(ownerID, next, "")
	replaced, err := r.store.ReplacePushEndpoint(ctx, ownerID, oldEndpoint, row)
	if err != nil {
		return nil, err
	}
	logger.Info("push endpoint rotated", "owner", ownerID, "replaced", replaced, "id", row.ID)
	return row, nil
}

// Unsubscribe removes the owner's registration at endpoint.
func (r *Registry) Unsubscribe(ctx context.Context, ownerID, endpoint string) error {
	id := ID(endpoint)
	subs, err := r.store.ListPushSubscriptions(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s.ID == id {
			return r.store.DeletePushSubscription(ctx, id)
		}
	}
	return store.ErrNotFound
}

func (r *Registry) List(ctx context.Context, ownerID string) ([]model.PushSubscription, error) {
	return r.store.ListPushSubscriptions(ctx, ownerID)
}

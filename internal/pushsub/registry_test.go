package pushsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-notify-backend/internal/store"
	"reminder-notify-backend/internal/testutil"
)

func newRegistry(t *testing.T) *Registry {
	r := NewRegistry(store.NewGormStore(testutil.NewDB(t)))
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	r.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return r
}

func sub(endpoint, key string) Subscription {
	return Subscription{Endpoint: endpoint, Keys: Keys{P256dh: key, Auth: "auth-" + key}}
}

func TestID(t *testing.T) {
	assert.Equal(t, ID("https://push.example/a"), ID("https://push.example/a"))
	assert.NotEqual(t, ID("https://push.example/a"), ID("https://push.example/b"))
	assert.Len(t, ID("https://push.example/a"), 64)
}

func TestRegistry_SubscribeTwice(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	first, err := r.Subscribe(ctx, "user-1", sub("https://push.example/e1", "k1"), "Firefox")
	require.NoError(t, err)
	second, err := r.Subscribe(ctx, "user-1", sub("https://push.example/e1", "k2"), "Chrome")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	subs, err := r.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Chrome", subs[0].UserAgent)
	assert.Equal(t, "k2", subs[0].P256DH)
	assert.True(t, subs[0].UpdatedAt.After(subs[0].CreatedAt))
}

func TestRegistry_SubscribeMovesEndpointBetweenOwners(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Subscribe(ctx, "user-1", sub("https://push.example/shared", "k1"), "Firefox")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "user-2", sub("https://push.example/shared", "k1"), "Firefox")
	require.NoError(t, err)

	subs, err := r.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, subs)
	subs, err = r.List(ctx, "user-2")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestRegistry_SubscribeInvalid(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Subscribe(context.Background(), "user-1", Subscription{Endpoint: "https://push.example/e1"}, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRegistry_Rotate(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Subscribe(ctx, "user-1", sub("https://push.example/old", "k1"), "Safari")
	require.NoError(t, err)

	_, err = r.Rotate(ctx, "user-1", "https://push.example/missing", sub("https://push.example/new", "k2"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.Rotate(ctx, "user-2", "https://push.example/old", sub("https://push.example/new", "k2"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	rotated, err := r.Rotate(ctx, "user-1", "https://push.example/old", sub("https://push.example/new", "k2"))
	require.NoError(t, err)
	assert.Equal(t, ID("https://push.example/new"), rotated.ID)

	subs, err := r.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/new", subs[0].Endpoint)
	assert.Equal(t, "k2", subs[0].P256DH)
	assert.Equal(t, "Safari", subs[0].UserAgent)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Subscribe(ctx, "user-1", sub("https://push.example/e1", "k1"), "")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Unsubscribe(ctx, "user-2", "https://push.example/e1"), store.ErrNotFound)
	require.NoError(t, r.Unsubscribe(ctx, "user-1", "https://push.example/e1"))
	assert.ErrorIs(t, r.Unsubscribe(ctx, "user-1", "https://push.example/e1"), store.ErrNotFound)
}

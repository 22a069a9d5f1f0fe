package api

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"reminder-notify-backend/config"
	"reminder-notify-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, verifier *mw.TokenVerifier, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	// The key fingerprint namespaces cached responses so a rotated key pair is served
	// fresh even from a long-lived cache.
	caching := mw.NewResponseCache(ttl, keyFingerprint(handler.vapidPublicKey)).Handler()

	r.GET("/healthz", handler.Healthz)

	// Identity is resolved before limiting so callers are throttled per user.
	api := r.Group("/api")
	api.Use(mw.Authenticate(verifier), rateLimiter)
	{
		api.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)

		authed := api.Group("", mw.RequireUser())
		authed.POST("/sync", handler.PostSync)
		authed.GET("/reminders/:id/queue", handler.GetQueueStatus)

		authed.GET("/push/subscriptions", handler.ListSubscriptions)
		authed.PUT("/push/subscriptions", handler.PutSubscription)
		authed.DELETE("/push/subscriptions", handler.DeleteSubscription)
		authed.POST("/push/subscriptions/rotate", handler.RotateSubscription)
	}

	return r
}

// defaultCacheTTL is used when the server section leaves the cache TTL unset.
const defaultCacheTTL = 5 * time.Minute

func keyFingerprint(publicKey string) string {
	sum := sha256.Sum256([]byte(publicKey))
	return hex.EncodeToString(sum[:8])
}

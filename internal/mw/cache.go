package mw

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// ResponseCache keeps anonymous GET responses in memory for a fixed TTL. Entries are
// keyed by a namespace and the request URI, so a new namespace (a rotated VAPID key,
// say) never serves what was stored under the old one.
type ResponseCache struct {
	entries   *cache.Cache
	ttl       time.Duration
	namespace string
}

type snapshot struct {
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
}

// recorder tees the response body while it is written to the client.
type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// NewResponseCache creates an empty cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration, namespace string) *ResponseCache {
	return &ResponseCache{
		entries:   cache.New(ttl, 2*ttl),
		ttl:       ttl,
		namespace: namespace,
	}
}

// Purge drops every stored response.
func (rc *ResponseCache) Purge() {
	rc.entries.Flush()
}

func (rc *ResponseCache) key(c *gin.Context) string {
	return rc.namespace + "|" + c.Request.URL.RequestURI()
}

// Handler serves stored responses and stores new 200 responses. Requests carrying
// credentials and responses marked no-store or private are passed through untouched.
func (rc *ResponseCache) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || c.GetHeader("Authorization") != "" {
			c.Next()
			return
		}

		key := rc.key(c)
		if v, found := rc.entries.Get(key); found {
			snap := v.(snapshot)
			h := c.Writer.Header()
			for k, vals := range snap.header {
				h[k] = vals
			}
			h.Set("X-Cache", "HIT")
			h.Set("Age", strconv.Itoa(int(time.Since(snap.storedAt).Seconds())))
			c.Writer.WriteHeader(snap.status)
			_, _ = c.Writer.Write(snap.body)
			c.Abort()
			return
		}

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if rec.Status() != http.StatusOK || !storable(rec.Header()) {
			return
		}
		rc.entries.Set(key, snapshot{
			status:   rec.Status(),
			header:   rec.Header().Clone(),
			body:     bytes.Clone(rec.body.Bytes()),
			storedAt: time.Now(),
		}, rc.ttl)
	}
}

func storable(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// ResponseCache keeps successful GET responses in memory. Any successful
// mutating request empties it, so reads never outlive the write that changed
// them.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewResponseCache creates a cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: cache.New(ttl, 2*ttl), ttl: ttl}
}

type snapshot struct {
	Status int
	Header http.Header
	Body   []byte
}

type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Serve answers from the cache when it can and records 2xx responses.
// Attach it to GET routes.
func (rc *ResponseCache) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key := c.Request.URL.RequestURI()
		if v, ok := rc.store.Get(key); ok {
			snap := v.(snapshot)
			h := c.Writer.Header()
			for k, vals := range snap.Header {
				h[k] = vals
			}
			h.Set("X-Cache", "HIT")
			c.Writer.WriteHeader(snap.Status)
			_, _ = c.Writer.Write(snap.Body)
			c.Abort()
			return
		}

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			header := rec.Header().Clone()
			// Encoding is negotiated per request by the compression middleware.
			for _, k := range []string{"Content-Encoding", "Content-Length", "Vary"} {
				header.Del(k)
			}
			rc.store.Set(key, snapshot{
				Status: status,
				Header: header,
				Body:   append([]byte(nil), rec.buf.Bytes()...),
			}, rc.ttl)
		}
	}
}

// Invalidate empties the cache after every successful non-GET request.
// Attach it to the whole group.
func (rc *ResponseCache) Invalidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if status := c.Writer.Status(); status >= 200 && status < 300 {
			rc.store.Flush()
		}
	}
}

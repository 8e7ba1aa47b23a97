package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerCaller(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(NewLimiters(rate.Limit(0.001), 2, time.Minute), nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := http.Header{UserIDHeader: {"alice"}}
	bob := http.Header{UserIDHeader: {"bob"}}

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", alice).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/", alice).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", bob).Code)
}

func TestLimiters_ReusesBucket(t *testing.T) {
	l := NewLimiters(rate.Limit(1), 1, time.Minute)
	assert.Same(t, l.Get("k"), l.Get("k"))
	assert.NotSame(t, l.Get("k"), l.Get("other"))
}

func TestCache_HitAndInvalidate(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	calls := 0

	r := gin.New()
	r.Use(rc.Invalidate())
	r.GET("/queue", rc.Serve(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.POST("/rooms", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/missing", rc.Serve(), func(c *gin.Context) {
		calls++
		c.Status(http.StatusNotFound)
	})

	first := do(r, http.MethodGet, "/queue", nil)
	second := do(r, http.MethodGet, "/queue", nil)
	assert.JSONEq(t, `{"calls":1}`, first.Body.String())
	assert.JSONEq(t, `{"calls":1}`, second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	do(r, http.MethodPost, "/rooms", nil)
	third := do(r, http.MethodGet, "/queue", nil)
	assert.JSONEq(t, `{"calls":2}`, third.Body.String())

	do(r, http.MethodGet, "/missing", nil)
	do(r, http.MethodGet, "/missing", nil)
	assert.Equal(t, 4, calls)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := do(r, http.MethodGet, "/", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	w = do(r, http.MethodGet, "/", http.Header{RequestIDHeader: {"abc"}})
	assert.Equal(t, "abc", w.Body.String())
}

package api

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"venue-backend/config"
	"venue-backend/internal/metrics"
	"venue-backend/internal/mw"
)

// NewRouter wires the handler routes and middleware.
func NewRouter(h *Handler, cfg config.ServerConfig, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.Logger(logger), metrics.HTTP())
	if cfg.RequestIPHeader != "" {
		r.RemoteIPHeaders = []string{cfg.RequestIPHeader}
		r.ForwardedByClientIP = true
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}
	limiter := mw.RateLimiter(mw.NewLimiters(rate.Limit(perSec), burst, 10*time.Minute), mw.CallerKey)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	responses := mw.NewResponseCache(ttl)
	caching := responses.Serve()

	api := r.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression), limiter, responses.Invalidate())
	{
		rooms := api.Group("/rooms")
		rooms.GET("/queue", caching, h.Queue)
		rooms.GET("/:id/stats", caching, h.RoomStats)
		rooms.POST("/:id/check-in", h.CheckIn)
		rooms.POST("/:id/reserve", h.Reserve)
		rooms.POST("/:id/extend", h.ExtendRoom)
		rooms.DELETE("/:id", h.ClearRoom)

		auctions := api.Group("/auctions")
		auctions.GET("/settlements", caching, h.Settlements)
		auctions.GET("/:id/participants", caching, h.Participants)
		auctions.POST("/:id", h.BeginAuction)
		auctions.POST("/:id/bids", h.PlaceBid)
		auctions.POST("/:id/extend", h.ExtendAuction)
		auctions.POST("/:id/cancel", h.CancelAuction)

		api.GET("/resources/:id/labels", h.GetLabels)
		api.PUT("/resources/:id/labels", h.PutLabels)

		api.GET("/triggers", h.ListTriggers)
		api.POST("/triggers/:name/fire", h.FireTrigger)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}

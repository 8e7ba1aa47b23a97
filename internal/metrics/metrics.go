// Package metrics holds the Prometheus collectors of the engine and the HTTP
// front end. Collectors register with the default registry on init.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SweepDuration records how long each sweep took, by sweeper.
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venue_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweeper"},
	)

	// SweepItems counts due items handled by sweeps, by sweeper and outcome
	// (processed, skipped, failed).
	SweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_sweep_items_total",
			Help: "Due items handled by sweeps.",
		},
		[]string{"sweeper", "outcome"},
	)

	// Bids counts bid attempts by outcome (accepted or the rejection reason).
	Bids = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_bids_total",
			Help: "Bid attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// RoomTransitions counts room lifecycle transitions by kind.
	RoomTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_room_transitions_total",
			Help: "Room lifecycle transitions.",
		},
		[]string{"kind"},
	)

	// TriggersFired counts event trigger firings by trigger name.
	TriggersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_triggers_fired_total",
			Help: "Event trigger notifications sent.",
		},
		[]string{"trigger", "mode"},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SweepDuration, SweepItems, Bids, RoomTransitions, TriggersFired,
		httpReqs, httpLat, httpInflight,
	)
}

// ObserveSweep records the duration of a sweep that started at start.
func ObserveSweep(sweeper string, start time.Time) {
	SweepDuration.WithLabelValues(sweeper).Observe(time.Since(start).Seconds())
}

// HTTP returns a Gin middleware that instruments requests. The path label is
// the registered route, falling back to the raw path when nothing matched.
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

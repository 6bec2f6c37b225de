// Package metrics defines the Prometheus collectors exported on /metrics.
//
// Collectors are registered on a caller-supplied prometheus.Registerer rather
// than the global default registry, so tests can build as many engines as they
// like without "duplicate metrics collector registration" panics.
//
// Every method is safe to call on a nil receiver; the engine runs without
// metrics in unit tests and in streakctl.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Streaks counts streak engine outcomes.
type Streaks struct {
	touches         *prometheus.CounterVec
	foodTransitions *prometheus.CounterVec
	floorAdvances   prometheus.Counter
	prUpdates       *prometheus.CounterVec
	walkCapped      prometheus.Counter
	failures        *prometheus.CounterVec
}

// NewStreaks creates and registers the streak collectors on reg.
func NewStreaks(reg prometheus.Registerer) *Streaks {
	m := &Streaks{
		touches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_touches_total",
				Help: "Total number of completed streak touches by activity kind",
			},
			[]string{"kind"},
		),
		foodTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_food_transitions_total",
				Help: "Food streak state after each update (active, on_hold, broken)",
			},
			[]string{"state"},
		),
		floorAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_floor_advances_total",
			Help: "Number of confirmed food streak breaks that moved the floor watermark",
		}),
		prUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_pr_updates_total",
				Help: "Number of new personal records by activity kind",
			},
			[]string{"kind"},
		),
		walkCapped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streak_login_walk_capped_total",
			Help: "Login recomputes that stopped at the backward-walk iteration cap",
		}),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_failures_total",
				Help: "Streak operations that failed and were rolled back",
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(m.touches, m.foodTransitions, m.floorAdvances, m.prUpdates, m.walkCapped, m.failures)
	return m
}

func (m *Streaks) Touched(kind string) {
	if m == nil {
		return
	}
	m.touches.WithLabelValues(kind).Inc()
}

func (m *Streaks) FoodTransition(state string) {
	if m == nil {
		return
	}
	m.foodTransitions.WithLabelValues(state).Inc()
}

func (m *Streaks) FloorAdvanced() {
	if m == nil {
		return
	}
	m.floorAdvances.Inc()
}

func (m *Streaks) PRUpdated(kind string) {
	if m == nil {
		return
	}
	m.prUpdates.WithLabelValues(kind).Inc()
}

func (m *Streaks) LoginWalkCapped() {
	if m == nil {
		return
	}
	m.walkCapped.Inc()
}

func (m *Streaks) Failed(operation string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation).Inc()
}

// HTTP tracks request counts and latency per route pattern.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP creates and registers the HTTP collectors on reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// Observe records one finished request. route should be the router pattern
// ("/api/streaks"), not the raw path, to keep label cardinality bounded.
func (m *HTTP) Observe(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(seconds)
}

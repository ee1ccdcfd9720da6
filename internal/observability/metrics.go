package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gymdesk/internal/apperr"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	checkIns        *prometheus.CounterVec
	checkOuts       *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	httpRequests    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymdesk",
			Name:      "check_ins_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		checkOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymdesk",
			Name:      "check_outs_total",
			Help:      "Check-out attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymdesk",
			Name:      "member_registrations_total",
			Help:      "Member registrations by outcome.",
		}, []string{"outcome"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gymdesk",
			Name:      "session_duration_minutes",
			Help:      "Length of closed attendance sessions.",
			Buckets:   []float64{15, 30, 45, 60, 90, 120, 180, 240},
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gymdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.checkIns, m.checkOuts, m.registrations, m.sessionDuration, m.httpRequests)
	return m
}

// Outcome labels an operation result by error kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func (m *Metrics) ObserveCheckIn(err error) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(Outcome(err)).Inc()
}

func (m *Metrics) ObserveCheckOut(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.checkOuts.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		m.sessionDuration.Observe(d.Minutes())
	}
}

func (m *Metrics) ObserveRegistration(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(Outcome(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// CheckInCounter exposes the check-in counter for an outcome, for tests.
func (m *Metrics) CheckInCounter(outcome string) prometheus.Counter {
	return m.checkIns.WithLabelValues(outcome)
}

// CheckOutCounter exposes the check-out counter for an outcome, for tests.
func (m *Metrics) CheckOutCounter(outcome string) prometheus.Counter {
	return m.checkOuts.WithLabelValues(outcome)
}

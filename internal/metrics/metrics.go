// Package metrics exposes Prometheus counters for the booking engine.  A nil
// *Recorder is valid and records nothing, so callers never need to check.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "babyfoot"

// Recorder groups the engine's instruments.
type Recorder struct {
	admissions  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	promotions  prometheus.Counter
	releases    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	requests    *prometheus.HistogramVec
	registry    *prometheus.Registry
}

// NewRecorder creates the instruments and registers them on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Booking requests by outcome (confirmed, queued, rejected).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Reservation actions by action and outcome.",
		}, []string{"action", "outcome"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Queued reservations promoted to CONFIRMED.",
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Released active reservations by result (promoted, freed).",
		}, []string{"result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Operations re-run after a slot conflict or lock timeout.",
		}, []string{"operation", "reason"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		registry: reg,
	}
	reg.MustRegister(r.admissions, r.transitions, r.promotions, r.releases, r.retries, r.requests)
	return r
}

// RecordAdmission counts one admission outcome.
func (r *Recorder) RecordAdmission(outcome string) {
	if r == nil {
		return
	}
	r.admissions.WithLabelValues(outcome).Inc()
}

// RecordTransition counts one action with its outcome ("ok" or an error kind).
func (r *Recorder) RecordTransition(action, outcome string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(action, outcome).Inc()
}

// RecordRelease counts a released slot and whether someone was promoted.
func (r *Recorder) RecordRelease(promoted bool) {
	if r == nil {
		return
	}
	if promoted {
		r.promotions.Inc()
		r.releases.WithLabelValues("promoted").Inc()
		return
	}
	r.releases.WithLabelValues("freed").Inc()
}

// RecordRetry counts a retried operation.
func (r *Recorder) RecordRetry(operation, reason string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation, reason).Inc()
}

// ObserveRequest records one served HTTP request.  route is the matched
// pattern, not the raw path, to keep cardinality bounded.
func (r *Recorder) ObserveRequest(method, route string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

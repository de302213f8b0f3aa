// Package metrics holds the Prometheus collectors for admission, lifecycle
// transitions and sweeps.  Every method is safe on a nil receiver so tests
// and tools can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reservation"

// Booking records admission outcomes and status transitions.
type Booking struct {
	admissions  *prometheus.CounterVec
	admitTime   *prometheus.HistogramVec
	retries     prometheus.Counter
	transitions *prometheus.CounterVec
	notifyFails *prometheus.CounterVec
}

// NewBooking registers the booking collectors on reg.
func NewBooking(reg prometheus.Registerer) *Booking {
	if reg == nil {
		return &Booking{}
	}
	b := &Booking{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Booking attempts by outcome code.",
		}, []string{"mode", "outcome"}),
		admitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent admitting a booking, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_conflict_retries_total",
			Help:      "Admission attempts retried after a lock conflict.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed status transitions.",
		}, []string{"from", "to"}),
		notifyFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be dispatched.",
		}, []string{"event"}),
	}
	reg.MustRegister(b.admissions, b.admitTime, b.retries, b.transitions, b.notifyFails)
	return b
}

// ObserveAdmission counts one Book call and its latency.
func (b *Booking) ObserveAdmission(mode, outcome string, d time.Duration) {
	if b == nil || b.admissions == nil {
		return
	}
	b.admissions.WithLabelValues(label(mode), label(outcome)).Inc()
	b.admitTime.WithLabelValues(label(mode)).Observe(d.Seconds())
}

// IncRetry counts an admission retried after ErrConflict.
func (b *Booking) IncRetry() {
	if b == nil || b.retries == nil {
		return
	}
	b.retries.Inc()
}

// IncTransition counts a committed status change.
func (b *Booking) IncTransition(from, to string) {
	if b == nil || b.transitions == nil {
		return
	}
	b.transitions.WithLabelValues(label(from), label(to)).Inc()
}

// IncNotifyFailure counts a failed notification dispatch.
func (b *Booking) IncNotifyFailure(event string) {
	if b == nil || b.notifyFails == nil {
		return
	}
	b.notifyFails.WithLabelValues(label(event)).Inc()
}

// Sweeper records scheduled and on-demand sweep runs.
type Sweeper struct {
	duration prometheus.Histogram
	released prometheus.Counter
	runs     *prometheus.CounterVec
}

// NewSweeper registers the sweeper collectors on reg.
func NewSweeper(reg prometheus.Registerer) *Sweeper {
	if reg == nil {
		return &Sweeper{}
	}
	s := &Sweeper{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_released_total",
			Help:      "Holds released by the sweeper.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep runs by result (ok, failed, skipped).",
		}, []string{"result"}),
	}
	reg.MustRegister(s.duration, s.released, s.runs)
	return s
}

// ObserveRun records one sweep.  result is ok, failed or skipped.
func (s *Sweeper) ObserveRun(result string, released int, d time.Duration) {
	if s == nil || s.runs == nil {
		return
	}
	s.runs.WithLabelValues(label(result)).Inc()
	if result == "skipped" {
		return
	}
	s.duration.Observe(d.Seconds())
	if released > 0 {
		s.released.Add(float64(released))
	}
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

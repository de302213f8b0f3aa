package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var b *Booking
	var s *Sweeper
	assert.NotPanics(t, func() {
		b.ObserveAdmission("confirm", "ok", time.Millisecond)
		b.IncRetry()
		b.IncTransition("pending", "cancelled")
		b.IncNotifyFailure("booking.created")
		s.ObserveRun("ok", 3, time.Millisecond)
		NewBooking(nil).IncRetry()
		NewSweeper(nil).ObserveRun("failed", 0, time.Second)
	})
}

func TestBookingCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBooking(reg)
	b.ObserveAdmission("confirm", "ok", 10*time.Millisecond)
	b.ObserveAdmission("confirm", "capacity_exceeded", 10*time.Millisecond)
	b.ObserveAdmission("confirm", "ok", 10*time.Millisecond)
	b.IncTransition("tentative", "cancelled")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(2), counter(t, mfs, "reservation_admissions_total", "outcome", "ok"))
	assert.Equal(t, float64(1), counter(t, mfs, "reservation_admissions_total", "outcome", "capacity_exceeded"))
	assert.Equal(t, float64(1), counter(t, mfs, "reservation_transitions_total", "to", "cancelled"))
}

func TestSweeperCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSweeper(reg)
	s.ObserveRun("ok", 4, time.Millisecond)
	s.ObserveRun("skipped", 0, 0)
	s.ObserveRun("ok", 0, time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(4), counter(t, mfs, "reservation_sweep_released_total", "", ""))
	assert.Equal(t, float64(2), counter(t, mfs, "reservation_sweep_runs_total", "result", "ok"))
	assert.Equal(t, float64(1), counter(t, mfs, "reservation_sweep_runs_total", "result", "skipped"))
}

// counter returns the value of the named counter whose label matches.  An
// empty label selects the first series.
func counter(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

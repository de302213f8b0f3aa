package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyValidateStay(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name    string
		in, out string
		ok      bool
	}{
		{"today", "2026-03-01", "2026-03-02", true},
		{"yesterday", "2026-02-28", "2026-03-02", false},
		{"same day", "2026-03-05", "2026-03-05", false},
		{"reversed", "2026-03-06", "2026-03-05", false},
		{"limit ahead", "2027-03-01", "2027-03-02", true},
		{"beyond limit", "2027-03-02", "2027-03-03", false},
		{"max nights", "2026-04-01", "2026-05-01", true},
		{"over max nights", "2026-04-01", "2026-05-02", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateStay(stay(t, tt.in, tt.out), testNow)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			requireCode(t, err, CodeInvalidRange)
		})
	}
}

func TestPolicyMinNights(t *testing.T) {
	p := DefaultPolicy()
	p.MinNights = 2
	requireCode(t, p.ValidateStay(stay(t, "2026-04-01", "2026-04-02"), testNow), CodeInvalidRange)
	assert.NoError(t, p.ValidateStay(stay(t, "2026-04-01", "2026-04-03"), testNow))
}

func TestPolicyHoldTTL(t *testing.T) {
	p := DefaultPolicy()

	ttl, err := p.HoldTTL(nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, ttl)

	zero := time.Duration(0)
	ttl, err = p.HoldTTL(&zero)
	require.NoError(t, err)
	assert.Zero(t, ttl)

	hour := time.Hour
	ttl, err = p.HoldTTL(&hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	neg := -time.Minute
	_, err = p.HoldTTL(&neg)
	requireCode(t, err, CodeInvalidRange)

	long := 25 * time.Hour
	_, err = p.HoldTTL(&long)
	requireCode(t, err, CodeInvalidRange)
}

func TestRejectionMatchesSentinels(t *testing.T) {
	err := error(capacityExceeded(nil))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.NotErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, CodeCapacityExceeded, CodeOf(err))
	assert.Equal(t, CodeStoreUnavailable, CodeOf(assert.AnError))
	assert.Contains(t, invalidTransition("cancelled", "confirmed").Error(), "cannot move reservation from cancelled to confirmed")
}

package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Hour})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		ok, err := cb.Allow()
		assert.True(t, ok, "below threshold the circuit stays closed")
		assert.NoError(t, err)
	}

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	ok, err := cb.Allow()
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Millisecond})

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	// The first request after the reset window probes the endpoint.
	ok, err := cb.Allow()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A failed probe reopens immediately.
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	// Success reset the count, so one more failure does not trip.
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	ok, err := cb.Allow()
	assert.True(t, ok)
	assert.NoError(t, err)
}

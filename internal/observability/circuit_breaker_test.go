package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fakeClock lets tests advance the breaker's view of time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration, successes int) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker("test", threshold, reset, successes)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cb.now = clock.Now
	return cb, clock
}

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := cb.Execute(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute, 2)

	failN(t, cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failN(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_FastFailsWhileOpen(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute, 1)
	failN(t, cb, 2)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "guarded op must not run while open")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute, 1)

	failN(t, cb, 2)
	require.NoError(t, cb.Execute(func() error { return nil }))
	failN(t, cb, 2)
	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures must not trip the breaker")
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute, 2)
	failN(t, cb, 2)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(59 * time.Second)
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State(), "one probe success is not enough to close")

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute, 3)
	failN(t, cb, 2)

	clock.Advance(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateHalfOpen, cb.State())

	failN(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	// A fresh timeout is required before the next probe.
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
	clock.Advance(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
}

func TestCircuitBreaker_OpErrorReturnedUnchanged(t *testing.T) {
	cb, _ := newTestBreaker(5, time.Minute, 1)
	err := cb.Execute(func() error { return errBoom })
	assert.Same(t, errBoom, err)
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute, 1)
	require.NoError(t, cb.Execute(func() error { return nil }))
	failN(t, cb, 2)

	snap := cb.GetSnapshot()
	assert.Equal(t, "test", snap.Name)
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.TotalFailures)
	assert.Equal(t, int64(1), snap.StateChanges)
	assert.False(t, snap.LastFailureTime.IsZero())
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker("defaults", 0, time.Minute, 0)
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 3, cb.successesRequired)
}

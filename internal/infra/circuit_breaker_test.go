package infra

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("sidecar down")

func newTestBreaker(clock *time.Time, transitions *[]string) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "aeat",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
		OnStateChange: func(_ string, from, to CBState) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(&now, &transitions)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errDown }), errDown)
	}
	assert.Equal(t, CBClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(func() error { return errDown }), errDown)
	assert.Equal(t, CBOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(&now, &transitions)

	_ = cb.Execute(func() error { return errDown })
	_ = cb.Execute(func() error { return errDown })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errDown })
	_ = cb.Execute(func() error { return errDown })

	assert.Equal(t, CBClosed, cb.State())
	assert.Empty(t, transitions)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(&now, &transitions)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDown })
	}

	now = now.Add(61 * time.Second)
	assert.Equal(t, CBHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, CBHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, CBClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(&now, &transitions)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDown })
	}
	now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(func() error { return errDown }), errDown)
	assert.Equal(t, CBOpen, cb.State())
	// the open window restarts from the failed trial call
	now = now.Add(30 * time.Second)
	assert.Equal(t, CBOpen, cb.State())
}

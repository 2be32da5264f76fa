package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errBackend = errors.New("backend down")

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 3, 60*time.Second, WithClock(clock))

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(fail), errBackend)
	}
	assert.Equal(t, string(StateClosed), cb.State(), "below threshold stays closed")

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, string(StateOpen), cb.State())

	// while open, calls are rejected without reaching the backend
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerProbeAfterResetTimeout(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clock))

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	require.Equal(t, string(StateOpen), cb.State())

	clock.now = clock.now.Add(11 * time.Second)

	// successful probe closes the breaker
	require.NoError(t, cb.Execute(succeed))
	assert.Equal(t, string(StateClosed), cb.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clock))

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	clock.now = clock.now.Add(11 * time.Second)

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, string(StateOpen), cb.State())

	assert.ErrorIs(t, cb.Execute(succeed), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 60*time.Second)

	require.Error(t, cb.Execute(fail))
	require.Error(t, cb.Execute(fail))
	require.NoError(t, cb.Execute(succeed))
	require.Error(t, cb.Execute(fail))
	require.Error(t, cb.Execute(fail))

	assert.Equal(t, string(StateClosed), cb.State(), "streak was broken by the success")
}

func TestBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker("test", 0, 0)
	assert.Equal(t, 3, cb.threshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
}

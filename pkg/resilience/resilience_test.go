package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("dial tcp: connection refused")

func failing(context.Context) error { return errBoom }
func ok(context.Context) error      { return nil }

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(t.Name(), cfg)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, "op", failing), errBoom)
	assert.Equal(t, CircuitBreakerClosed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, "op", failing), errBoom)
	assert.Equal(t, CircuitBreakerOpen, b.State())

	called := false
	err := b.Execute(ctx, "op", func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_TrialAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, "op", failing)
	assert.Equal(t, CircuitBreakerOpen, b.State())

	*now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Execute(ctx, "op", failing), errBoom)
	assert.Equal(t, CircuitBreakerOpen, b.State())

	*now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Execute(ctx, "op", ok))
	assert.Equal(t, CircuitBreakerClosed, b.State())
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	rejected := errors.New("validation")
	b, _ := newTestBreaker(t, Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, rejected) },
	})

	err := b.Execute(context.Background(), "op", func(context.Context) error { return rejected })

	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, CircuitBreakerClosed, b.State())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "network", classifyError(errBoom))
	assert.Equal(t, "dns", classifyError(errors.New("lookup relay: no such host")))
	assert.Equal(t, "unknown", classifyError(errors.New("teapot")))
}

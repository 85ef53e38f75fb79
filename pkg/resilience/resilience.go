// Package resilience guards calls to remote collaborators with a circuit
// breaker so a dead relay fails fast instead of stalling every operation.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"secureconnect-sync/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_requests_total",
			Help: "Total number of guarded requests",
		},
		[]string{"breaker", "operation", "status"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_errors_total",
			Help: "Total number of guarded request failures",
		},
		[]string{"breaker", "operation", "error_type"},
	)
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "State of the circuit breaker (0=closed, 1=half_open, 2=open)",
		},
		[]string{"breaker"},
	)
)

// Config tunes a Breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial request
	Cooldown time.Duration
	// IsFailure decides whether an error counts against the circuit.
	// Nil counts every error.
	IsFailure func(error) bool
}

// Breaker is a consecutive-failure circuit breaker. While open it rejects
// calls; after the cooldown one trial call is let through and its outcome
// closes or reopens the circuit.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	circuitBreakerState.WithLabelValues(name).Set(0)
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: CircuitBreakerClosed,
	}
}

// Execute runs fn unless the circuit is open
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if !b.allow() {
		requestsTotal.WithLabelValues(b.name, operation, "circuit_breaker_open").Inc()
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil && (b.cfg.IsFailure == nil || b.cfg.IsFailure(err)) {
		errorsTotal.WithLabelValues(b.name, operation, classifyError(err)).Inc()
		requestsTotal.WithLabelValues(b.name, operation, "failure").Inc()
		b.onFailure(operation)
		return err
	}

	requestsTotal.WithLabelValues(b.name, operation, "success").Inc()
	b.onSuccess()
	return err
}

// State returns the current circuit breaker state
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setStateLocked(CircuitBreakerHalfOpen)
		b.trialInFlight = true
		return true
	case CircuitBreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.trialInFlight = false
	if b.state != CircuitBreakerClosed {
		logger.Info("Circuit breaker closed", zap.String("breaker", b.name))
		b.setStateLocked(CircuitBreakerClosed)
	}
}

func (b *Breaker) onFailure(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.trialInFlight = false

	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Warn("Circuit breaker opened",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures))
		}
		b.openedAt = b.now()
		b.setStateLocked(CircuitBreakerOpen)
	}
}

func (b *Breaker) setStateLocked(s CircuitBreakerState) {
	b.state = s
	var v float64
	switch s {
	case CircuitBreakerHalfOpen:
		v = 1
	case CircuitBreakerOpen:
		v = 2
	}
	circuitBreakerState.WithLabelValues(b.name).Set(v)
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host"):
		return "dns"
	default:
		return "unknown"
	}
}

// Package circuitbreaker guards the external retrieval backends. An open
// breaker is reported to callers the same way a transport failure is, so the
// orchestrator advances down the fallback chain instead of hammering a
// backend that is already down.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/finsight/internal/metrics"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker refuses a call.
var ErrOpen = errors.New("circuit breaker is open")

// Settings controls breaker behavior.
type Settings struct {
	FailureThreshold uint32        // consecutive failures before opening
	SuccessThreshold uint32        // consecutive successes in half-open to close
	OpenTimeout      time.Duration // how long to stay open before probing
	MaxHalfOpen      uint32        // concurrent probes allowed in half-open
}

// DefaultSettings returns the defaults used for all backends unless
// configured otherwise.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      15 * time.Second,
		MaxHalfOpen:      1,
	}
}

// Breaker is a per-backend circuit breaker.
type Breaker struct {
	backend  string
	settings Settings
	logger   *zap.Logger

	mu            sync.Mutex
	state         State
	openedAt      time.Time
	consecFails   uint32
	consecOKs     uint32
	halfOpenInUse uint32
}

// New creates a breaker for one named backend.
func New(backend string, settings Settings, logger *zap.Logger) *Breaker {
	if settings.FailureThreshold == 0 {
		settings = DefaultSettings()
	}
	b := &Breaker{backend: backend, settings: settings, logger: logger}
	metrics.CircuitBreakerState.WithLabelValues(backend).Set(0)
	return b
}

// Do runs fn under the breaker. It returns ErrOpen without calling fn when
// the breaker is open, otherwise fn's error.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

// IsOpen reports whether calls would currently be refused.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe(time.Now())
	return b.state == StateOpen
}

// StateNow returns the current state.
func (b *Breaker) StateNow() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe(time.Now())
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.maybeProbe(now)

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenInUse >= b.settings.MaxHalfOpen {
			return ErrOpen
		}
		b.halfOpenInUse++
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInUse > 0 {
		b.halfOpenInUse--
	}

	if success {
		b.consecFails = 0
		if b.state == StateHalfOpen {
			b.consecOKs++
			if b.consecOKs >= b.settings.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.consecOKs = 0
	switch b.state {
	case StateClosed:
		b.consecFails++
		if b.consecFails >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// maybeProbe moves open -> half-open once the open timeout has elapsed.
// Callers must hold b.mu.
func (b *Breaker) maybeProbe(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.OpenTimeout {
		b.transition(StateHalfOpen)
	}
}

// transition changes state. Callers must hold b.mu.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.consecFails = 0
	b.consecOKs = 0
	b.halfOpenInUse = 0
	if next == StateOpen {
		b.openedAt = time.Now()
	}
	metrics.CircuitBreakerState.WithLabelValues(b.backend).Set(float64(next))
	if b.logger != nil {
		b.logger.Info("circuit breaker state changed",
			zap.String("backend", b.backend),
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
		)
	}
}

// Package breaker implements a per-dependency circuit breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned while the circuit is open and the retry window has
// not yet arrived.
var ErrOpen = errors.New("circuit open")

// State is a breaker lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// VolumeThreshold is the minimum request count before failures can open
	// the circuit; avoids tripping on low traffic.
	VolumeThreshold int
	// SuccessThreshold is the consecutive-success count in half-open that
	// closes the circuit.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a trial call.
	Timeout time.Duration
	// IsFailure filters which errors count toward the failure threshold.
	// Nil counts every error.
	IsFailure func(error) bool
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 10
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Breaker wraps calls to one remote dependency.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu                  sync.Mutex
	state               State
	requests            int
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
	nextRetryAt         time.Time
}

// New constructs a closed Breaker.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("breaker").With(zap.String("name", name)),
		now:    time.Now,
		state:  StateClosed,
	}
}

// SetClock overrides the time source. Used by tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// State reports the current state, applying the open -> half-open timer.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Execute runs fn under the breaker. While open it fails fast with ErrOpen
// without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	if b.state == StateOpen {
		return fmt.Errorf("%w: %s until %s", ErrOpen, b.name, b.nextRetryAt.Format(time.RFC3339))
	}
	b.requests++
	return nil
}

// refresh moves open to half-open once the retry time arrives. Callers hold
// the mutex.
func (b *Breaker) refresh() {
	if b.state == StateOpen && !b.now().Before(b.nextRetryAt) {
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
		b.logger.Info("circuit half-open")
	}
}

func (b *Breaker) record(err error) {
	failure := err != nil
	if failure && b.cfg.IsFailure != nil && !b.cfg.IsFailure(err) {
		failure = false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if failure {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.toClosed()
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

func (b *Breaker) onFailure() {
	b.lastFailureAt = b.now()
	switch b.state {
	case StateHalfOpen:
		// One failure during trial reopens immediately.
		b.toOpen()
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold && b.requests >= b.cfg.VolumeThreshold {
			b.toOpen()
		}
	}
}

func (b *Breaker) toOpen() {
	b.state = StateOpen
	b.nextRetryAt = b.now().Add(b.cfg.Timeout)
	b.logger.Warn("circuit opened", zap.Time("next_retry_at", b.nextRetryAt))
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.requests = 0
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.logger.Info("circuit closed")
}

// Registry hands out one breaker per key with a shared config.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := New(key, r.cfg, r.logger)
	r.breakers[key] = b
	return b
}

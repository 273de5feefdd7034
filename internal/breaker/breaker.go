// Package breaker isolates failing upstream dependencies behind a
// closed/open/half-open state machine. Trip decisions combine an absolute
// consecutive-failure threshold with a rolling-window error percentage that
// only applies once enough samples exist, so the breaker reacts to sharp
// outages and gradual degradation without tripping on a cold start.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/metrics"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed indicates calls execute normally.
	StateClosed State = "closed"
	// StateOpen indicates calls are rejected without reaching upstream.
	StateOpen State = "open"
	// StateHalfOpen indicates recovery is being probed with live calls.
	StateHalfOpen State = "half-open"
)

func (s State) gaugeValue() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Fallback produces a substitute result when the guarded call is rejected or
// fails. Fallback outcomes are opaque to the breaker: they are never counted
// as breaker successes or failures.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// Config defines thresholds for one dependency's breaker.
type Config struct {
	FailureThreshold         int           `json:"failureThreshold" yaml:"failureThreshold"`                 // consecutive failures that open the circuit
	SuccessThreshold         int           `json:"successThreshold" yaml:"successThreshold"`                 // consecutive half-open successes that close it
	Timeout                  time.Duration `json:"timeout" yaml:"timeout"`                                   // per-call timeout, counted as a failure
	SleepWindow              time.Duration `json:"sleepWindow" yaml:"sleepWindow"`                           // how long the circuit stays open
	RollingWindow            time.Duration `json:"rollingWindow" yaml:"rollingWindow"`                       // look-back for the error percentage
	ErrorThresholdPercentage float64       `json:"errorThresholdPercentage" yaml:"errorThresholdPercentage"` // window error rate that opens the circuit
	RequestVolumeThreshold   int           `json:"requestVolumeThreshold" yaml:"requestVolumeThreshold"`     // minimum window samples before the rate applies
	Fallback                 Fallback      `json:"-" yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:         5,
		SuccessThreshold:         2,
		Timeout:                  10 * time.Second,
		SleepWindow:              30 * time.Second,
		RollingWindow:            60 * time.Second,
		ErrorThresholdPercentage: 50,
		RequestVolumeThreshold:   5,
	}
}

type sample struct {
	at       time.Time
	success  bool
	duration time.Duration
}

// Breaker guards calls to one named dependency.
type Breaker struct {
	name   string
	config Config

	mu                   sync.RWMutex
	state                State
	samples              []sample
	consecutiveFailures  int
	consecutiveSuccesses int
	totalSuccesses       int64
	totalFailures        int64
	timeouts             int64
	rejections           int64
	fallbacks            int64
	openedUntil          time.Time

	metrics *metrics.Metrics
	logger  *utils.Logger
}

// New creates a breaker for the named dependency.
func New(name string, config Config, m *metrics.Metrics) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.SleepWindow <= 0 {
		config.SleepWindow = DefaultConfig().SleepWindow
	}
	if config.RollingWindow <= 0 {
		config.RollingWindow = DefaultConfig().RollingWindow
	}
	if config.ErrorThresholdPercentage <= 0 {
		config.ErrorThresholdPercentage = DefaultConfig().ErrorThresholdPercentage
	}
	if config.RequestVolumeThreshold <= 0 {
		config.RequestVolumeThreshold = DefaultConfig().RequestVolumeThreshold
	}

	return &Breaker{
		name:    name,
		config:  config,
		state:   StateClosed,
		metrics: m,
		logger:  utils.BreakerLogger,
	}
}

// Execute runs fn under circuit protection with the configured timeout.
// Rejections surface as utils.ErrCircuitOpen, timeouts as
// utils.ErrDependencyTimeout; when a fallback is configured the caller sees
// the fallback result instead of the error.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := b.beforeCall(); err != nil {
		b.metrics.IncBreakerRejection(b.name)
		if b.config.Fallback != nil {
			b.recordFallbackUse()
			return b.config.Fallback(ctx, err)
		}
		return nil, err
	}

	start := time.Now()
	value, err := b.run(ctx, fn)
	duration := time.Since(start)

	timedOut := errors.Is(err, utils.ErrDependencyTimeout)
	b.afterCall(err == nil, timedOut, duration)

	if err != nil {
		if b.config.Fallback != nil {
			b.recordFallbackUse()
			return b.config.Fallback(ctx, err)
		}
		return nil, err
	}
	return value, nil
}

// run executes fn in its own goroutine and races it against the timeout.
// The result channel is buffered so a late-arriving result after the timeout
// path has already settled is simply dropped, never double-delivered.
func (b *Breaker) run(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	go func() {
		value, err := fn(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, utils.ErrDependencyTimeout
	}
}

// beforeCall applies Open-state rejection and the Open -> HalfOpen
// transition once the sleep window has elapsed.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if !now.Before(b.openedUntil) {
			b.transitionLocked(StateHalfOpen, now)
			return nil
		}
		b.rejections++
		b.samples = append(b.samples, sample{at: now, success: false})
		return utils.ErrCircuitOpen
	}
	return nil
}

// afterCall records the outcome and evaluates state transitions. Outcomes
// are applied serially under the lock, never interleaved mid-update.
func (b *Breaker) afterCall(success, timedOut bool, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.pruneLocked(now)
	b.samples = append(b.samples, sample{at: now, success: success, duration: duration})

	if timedOut {
		b.timeouts++
		b.metrics.IncBreakerTimeout(b.name)
	}

	if success {
		b.totalSuccesses++
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0

		if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed, now)
		}
		return
	}

	b.totalFailures++
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.metrics.IncBreakerFailure(b.name)

	switch b.state {
	case StateHalfOpen:
		// Any failure while probing reopens immediately with a fresh sleep timer.
		b.transitionLocked(StateOpen, now)
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold || b.windowTrippedLocked(now) {
			b.transitionLocked(StateOpen, now)
		}
	}
}

// windowTrippedLocked evaluates the percentage trigger, gated on the rolling
// window holding at least RequestVolumeThreshold samples.
func (b *Breaker) windowTrippedLocked(now time.Time) bool {
	total, failures := b.windowCountsLocked(now)
	if total < b.config.RequestVolumeThreshold {
		return false
	}
	errPct := float64(failures) / float64(total) * 100
	return errPct >= b.config.ErrorThresholdPercentage
}

func (b *Breaker) windowCountsLocked(now time.Time) (total, failures int) {
	cutoff := now.Add(-b.config.RollingWindow)
	for _, s := range b.samples {
		if s.at.Before(cutoff) {
			continue
		}
		total++
		if !s.success {
			failures++
		}
	}
	return total, failures
}

// pruneLocked drops samples older than the rolling window. Pruning happens
// only on the execution path; Stats never mutates.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.RollingWindow)
	kept := b.samples[:0]
	for _, s := range b.samples {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	b.samples = kept
}

func (b *Breaker) transitionLocked(newState State, now time.Time) {
	if b.state == newState {
		return
	}

	b.logger.Info("%s: %s -> %s", b.name, b.state, newState)
	b.state = newState
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.samples = b.samples[:0]

	if newState == StateOpen {
		b.openedUntil = now.Add(b.config.SleepWindow)
	} else {
		b.openedUntil = time.Time{}
	}
	b.metrics.SetBreakerState(b.name, newState.gaugeValue())
}

func (b *Breaker) recordFallbackUse() {
	b.mu.Lock()
	b.fallbacks++
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats exposes breaker status for introspection endpoints.
type Stats struct {
	State                string  `json:"state"`
	ConsecutiveFailures  int     `json:"consecutiveFailures"`
	ConsecutiveSuccesses int     `json:"consecutiveSuccesses"`
	TotalSuccesses       int64   `json:"totalSuccesses"`
	TotalFailures        int64   `json:"totalFailures"`
	Timeouts             int64   `json:"timeouts"`
	Rejections           int64   `json:"rejections"`
	Fallbacks            int64   `json:"fallbacks"`
	WindowRequests       int     `json:"windowRequests"`
	ErrorPercentage      float64 `json:"errorPercentage"`
	OpenedUntil          string  `json:"openedUntil,omitempty"`
}

// GetStats returns a snapshot without mutating any counter or sample.
func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now()
	total, failures := b.windowCountsLocked(now)
	errPct := 0.0
	if total > 0 {
		errPct = float64(failures) / float64(total) * 100
	}

	stats := Stats{
		State:                string(b.state),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		Timeouts:             b.timeouts,
		Rejections:           b.rejections,
		Fallbacks:            b.fallbacks,
		WindowRequests:       total,
		ErrorPercentage:      errPct,
	}
	if !b.openedUntil.IsZero() {
		stats.OpenedUntil = b.openedUntil.Format(time.RFC3339)
	}
	return stats
}

// Reset forces the breaker to Closed with all counters zeroed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.samples = nil
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.totalSuccesses = 0
	b.totalFailures = 0
	b.timeouts = 0
	b.rejections = 0
	b.fallbacks = 0
	b.openedUntil = time.Time{}
	b.metrics.SetBreakerState(b.name, StateClosed.gaugeValue())
}

// Registry manages breakers for multiple dependencies, creating them lazily
// on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		metrics:  m,
	}
}

// Configure adds or replaces the breaker for a dependency.
func (r *Registry) Configure(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := New(name, config, r.metrics)
	r.breakers[name] = b
	return b
}

// Get retrieves the breaker for a dependency, creating a default one if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, DefaultConfig(), r.metrics)
	r.breakers[name] = b
	return b
}

// Stats returns statistics for all breakers.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.GetStats()
	}
	return out
}

// ResetAll resets every breaker to Closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

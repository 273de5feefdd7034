// Package ratelimit serializes calls to a rate-limited upstream dependency.
// Each dependency owns one queue and one consumer goroutine, so upstream
// concurrency is bounded to one regardless of caller concurrency, and
// completion order matches enqueue order.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/metrics"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Limits configures the per-window quotas for a dependency. PerMinute is
// always enforced; hour and day windows are optional (zero disables them).
type Limits struct {
	PerMinute int `json:"perMinute" yaml:"perMinute"`
	PerHour   int `json:"perHour" yaml:"perHour"`
	PerDay    int `json:"perDay" yaml:"perDay"`
}

// Config holds limiter tuning shared by all dependencies
type Config struct {
	QueueSize     int           `json:"queueSize" yaml:"queueSize"`         // buffered queue capacity per dependency
	Spacing       time.Duration `json:"spacing" yaml:"spacing"`             // fixed delay between consecutive executions
	QueueWarnSize int           `json:"queueWarnSize" yaml:"queueWarnSize"` // depth at which queue growth is logged
}

// DefaultConfig returns default limiter configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		Spacing:       100 * time.Millisecond,
		QueueWarnSize: 64,
	}
}

type bucket struct {
	name      string
	window    time.Duration
	capacity  int
	remaining int
	resetAt   time.Time
}

// refill resets the bucket to capacity once its window has elapsed. The
// reset is all-at-once; tokens are never restored partially.
func (b *bucket) refill(now time.Time) {
	if !now.Before(b.resetAt) {
		b.remaining = b.capacity
		b.resetAt = now.Add(b.window)
	}
}

// remainingAt reports the token count without mutating the bucket.
func (b *bucket) remainingAt(now time.Time) int {
	if !now.Before(b.resetAt) {
		return b.capacity
	}
	return b.remaining
}

type jobResult struct {
	value interface{}
	err   error
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) (interface{}, error)
	result chan jobResult
}

// Limiter owns the token buckets and FIFO queue for one dependency.
type Limiter struct {
	name    string
	config  Config
	queue   chan *job
	mu      sync.Mutex // guards buckets
	buckets []*bucket
	metrics *metrics.Metrics
	logger  *utils.Logger
}

// New creates a limiter for the named dependency.
func New(name string, limits Limits, config Config, m *metrics.Metrics) *Limiter {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.Spacing <= 0 {
		config.Spacing = DefaultConfig().Spacing
	}
	if limits.PerMinute <= 0 {
		limits.PerMinute = 60
	}

	now := time.Now()
	buckets := []*bucket{
		{name: "minute", window: time.Minute, capacity: limits.PerMinute, remaining: limits.PerMinute, resetAt: now.Add(time.Minute)},
	}
	if limits.PerHour > 0 {
		buckets = append(buckets, &bucket{name: "hour", window: time.Hour, capacity: limits.PerHour, remaining: limits.PerHour, resetAt: now.Add(time.Hour)})
	}
	if limits.PerDay > 0 {
		buckets = append(buckets, &bucket{name: "day", window: 24 * time.Hour, capacity: limits.PerDay, remaining: limits.PerDay, resetAt: now.Add(24 * time.Hour)})
	}

	return &Limiter{
		name:    name,
		config:  config,
		queue:   make(chan *job, config.QueueSize),
		buckets: buckets,
		metrics: m,
		logger:  utils.LimiterLogger,
	}
}

// Execute enqueues fn and blocks until the consumer loop has run it in turn.
// An error from fn is returned to this caller only; the queue keeps draining.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	j := &job{
		ctx:    ctx,
		fn:     fn,
		result: make(chan jobResult, 1),
	}

	select {
	case l.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	depth := len(l.queue)
	l.metrics.SetLimiterQueueDepth(l.name, depth)
	if l.config.QueueWarnSize > 0 && depth >= l.config.QueueWarnSize {
		l.logger.Warn("%s: queue depth %d, upstream quota likely exceeded", l.name, depth)
	}

	select {
	case r := <-j.result:
		return r.value, r.err
	case <-ctx.Done():
		// The consumer will still run or skip the job; this caller stops waiting.
		return nil, ctx.Err()
	}
}

// Start runs the consumer loop until ctx is cancelled. Items execute one at
// a time in enqueue order, each preceded by all-or-nothing token acquisition
// and followed by the fixed spacing delay.
func (l *Limiter) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case j := <-l.queue:
			l.runJob(ctx, j)
			l.metrics.SetLimiterQueueDepth(l.name, len(l.queue))

			select {
			case <-ctx.Done():
				l.drain()
				return
			case <-time.After(l.config.Spacing):
			}
		}
	}
}

func (l *Limiter) runJob(ctx context.Context, j *job) {
	if err := j.ctx.Err(); err != nil {
		j.result <- jobResult{err: err}
		return
	}

	if err := l.acquireTokens(ctx, j.ctx); err != nil {
		j.result <- jobResult{err: err}
		return
	}

	value, err := l.invoke(j)
	l.metrics.IncLimiterExecution(l.name)
	j.result <- jobResult{value: value, err: err}
}

// invoke runs the job function, converting a panic into an error so one bad
// closure cannot kill the consumer loop.
func (l *Limiter) invoke(j *job) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("%s: panic in queued execution: %v", l.name, r)
			err = fmt.Errorf("panic in rate limited execution: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// acquireTokens takes one token from every bucket, or waits until the
// exhausted bucket's window resets. Acquisition is all-or-nothing: no bucket
// is decremented until all have tokens available.
func (l *Limiter) acquireTokens(ctx, jobCtx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		var nextReset time.Time
		ready := true
		for _, b := range l.buckets {
			b.refill(now)
			if b.remaining <= 0 {
				ready = false
				if nextReset.IsZero() || b.resetAt.Before(nextReset) {
					nextReset = b.resetAt
				}
			}
		}
		if ready {
			for _, b := range l.buckets {
				b.remaining--
			}
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		l.logger.Debug("%s: window exhausted, waiting until %s", l.name, nextReset.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return utils.ErrLimiterStopped
		case <-jobCtx.Done():
			return jobCtx.Err()
		case <-time.After(time.Until(nextReset)):
		}
	}
}

// drain fails any queued jobs so their callers are not left waiting forever.
func (l *Limiter) drain() {
	for {
		select {
		case j := <-l.queue:
			j.result <- jobResult{err: utils.ErrLimiterStopped}
		default:
			return
		}
	}
}

// RemainingTokens reports the current token counts per window without
// consuming any.
func (l *Limiter) RemainingTokens() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	out := make(map[string]int, len(l.buckets))
	for _, b := range l.buckets {
		out[b.name] = b.remainingAt(now)
	}
	return out
}

// QueueDepth returns the number of queued executions.
func (l *Limiter) QueueDepth() int {
	return len(l.queue)
}

// Registry holds one limiter per dependency name.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	config   Config
	metrics  *metrics.Metrics
	ctx      context.Context
	wg       sync.WaitGroup
}

// NewRegistry creates an empty limiter registry.
func NewRegistry(config Config, m *metrics.Metrics) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		config:   config,
		metrics:  m,
	}
}

// Start launches consumer loops for all registered limiters. Limiters
// registered afterwards are started immediately.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctx = ctx
	for _, l := range r.limiters {
		r.startLocked(l)
	}
}

func (r *Registry) startLocked(l *Limiter) {
	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		l.Start(ctx)
	}()
}

// Register creates (or replaces) the limiter for a dependency.
func (r *Registry) Register(name string, limits Limits) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := New(name, limits, r.config, r.metrics)
	r.limiters[name] = l
	if r.ctx != nil {
		r.startLocked(l)
	}
	return l
}

// Get returns the limiter for a dependency.
func (r *Registry) Get(name string) (*Limiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[name]
	return l, ok
}

// RemainingTokens reports the token counts for every dependency.
func (r *Registry) RemainingTokens() map[string]map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]map[string]int, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = l.RemainingTokens()
	}
	return out
}

// Wait blocks until all consumer loops have exited after ctx cancellation.
func (r *Registry) Wait() {
	r.wg.Wait()
}

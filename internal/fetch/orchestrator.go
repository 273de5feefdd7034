// Package fetch composes the resilience layers in front of upstream
// providers: cache lookup first, then the dependency's rate-limit queue,
// then its circuit breaker around the actual call. Fresh results are pushed
// into the broadcast hub for real-time subscribers.
package fetch

import (
	"context"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/breaker"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/cache"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/ratelimit"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Publisher receives fresh fetch results for fan-out. *hub.Hub satisfies it.
type Publisher interface {
	Broadcast(channel string, data map[string]interface{}, opts hub.DeliveryOptions)
}

// Request describes one orchestrated fetch.
type Request struct {
	// Dependency names the upstream provider; it selects the rate limiter
	// and circuit breaker.
	Dependency string
	// Key is the cache key; when empty a fingerprint of Dependency and
	// Channel is used.
	Key string
	// TTL is the cache lifetime of a successful result.
	TTL time.Duration
	// Channel, when set, receives the result as a broadcast after a fresh fetch.
	Channel string
}

// Orchestrator wires cache, rate limiters and circuit breakers together.
type Orchestrator struct {
	cache     *cache.Cache
	limiters  *ratelimit.Registry
	breakers  *breaker.Registry
	publisher Publisher
	logger    *utils.Logger
}

// New creates an orchestrator. publisher may be nil when no fan-out is wanted.
func New(c *cache.Cache, limiters *ratelimit.Registry, breakers *breaker.Registry, publisher Publisher) *Orchestrator {
	return &Orchestrator{
		cache:     c,
		limiters:  limiters,
		breakers:  breakers,
		publisher: publisher,
		logger:    utils.FetchLogger,
	}
}

// RegisterDependency configures the limiter and breaker for a provider.
func (o *Orchestrator) RegisterDependency(name string, limits ratelimit.Limits, breakerConfig breaker.Config) {
	o.limiters.Register(name, limits)
	o.breakers.Configure(name, breakerConfig)
}

// Fetch returns the value for the request, from cache when fresh, otherwise
// by executing fn through the dependency's rate-limit queue and circuit
// breaker. The caller sees either a value (possibly stale or a fallback) or
// a described error; queueing and state transitions stay invisible.
func (o *Orchestrator) Fetch(ctx context.Context, req Request, fn cache.FetchFunc) (interface{}, error) {
	key := req.Key
	if key == "" {
		key = cache.Fingerprint(req.Dependency, req.Channel)
	}

	fetched := false
	value, err := o.cache.GetOrPopulate(ctx, key, req.TTL, func(ctx context.Context) (interface{}, error) {
		limiter, ok := o.limiters.Get(req.Dependency)
		if !ok {
			limiter = o.limiters.Register(req.Dependency, ratelimit.Limits{})
		}
		br := o.breakers.Get(req.Dependency)

		return limiter.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			value, err := br.Execute(ctx, fn)
			if err == nil {
				fetched = true
			}
			return value, err
		})
	})
	if err != nil {
		o.logger.Warn("fetch %s/%s failed: %v", req.Dependency, key, err)
		return nil, err
	}

	if fetched && req.Channel != "" && o.publisher != nil {
		if payload, ok := value.(map[string]interface{}); ok {
			o.publisher.Broadcast(req.Channel, payload, hub.DeliveryOptions{})
		}
	}
	return value, nil
}

// Stats aggregates introspection data across the resilience layers.
type Stats struct {
	Cache    cache.Stats               `json:"cache"`
	Breakers map[string]breaker.Stats  `json:"breakers"`
	Limits   map[string]map[string]int `json:"remainingTokens"`
}

// GetStats returns a snapshot across cache, breakers and limiters.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		Cache:    o.cache.GetStats(),
		Breakers: o.breakers.Stats(),
		Limits:   o.limiters.RemainingTokens(),
	}
}

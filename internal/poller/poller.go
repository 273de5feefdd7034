// Package poller drives the periodic provider fetch loops and bridges their
// results into the broadcast hub.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/cache"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/channels"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/fetch"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/providers"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Poller runs one polling loop per provider.
type Poller struct {
	providers    []*providers.Provider
	orchestrator *fetch.Orchestrator
	channels     *channels.Channels
	logger       *utils.Logger
	wg           sync.WaitGroup
}

// New creates a poller and registers every provider's dependency limits.
func New(provs []*providers.Provider, orchestrator *fetch.Orchestrator, ch *channels.Channels) *Poller {
	for _, p := range provs {
		orchestrator.RegisterDependency(p.Name, p.Limits, p.Breaker)
	}
	return &Poller{
		providers:    provs,
		orchestrator: orchestrator,
		channels:     ch,
		logger:       utils.PollerLogger,
	}
}

// Start launches the polling loops. It returns immediately; loops stop when
// ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	for _, prov := range p.providers {
		p.wg.Add(1)
		go func(prov *providers.Provider) {
			defer p.wg.Done()
			p.loop(ctx, prov)
		}(prov)
	}
	p.logger.Info("started %d provider polling loops", len(p.providers))
}

// Wait blocks until all loops have exited.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, prov *providers.Provider) {
	// Immediate first poll so clients see data right after startup.
	p.poll(ctx, prov)

	ticker := time.NewTicker(prov.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, prov)
		}
	}
}

func (p *Poller) poll(ctx context.Context, prov *providers.Provider) {
	value, err := p.orchestrator.Fetch(ctx, fetch.Request{
		Dependency: prov.Name,
		Key:        cache.Fingerprint(prov.Name, prov.Channel, "poll"),
		TTL:        prov.TTL,
	}, prov.Fetch)
	if err != nil {
		p.logger.Warn("%s poll failed (%s, retryable=%t): %v",
			prov.Name, utils.GetErrorType(err), utils.IsRetryableError(err), err)
		return
	}

	for _, payload := range prov.Split(value) {
		update := channels.Update{Channel: prov.Channel, Payload: payload}
		if !utils.TrySend(p.channels.Updates, update, p.channels.Backpressure) {
			p.logger.Warn("%s: update channel full, dropping payload", prov.Name)
		}
	}
}

// Bridge drains the pipeline channel into hub broadcasts until ctx is
// cancelled.
func Bridge(ctx context.Context, ch *channels.Channels, h *hub.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-ch.Updates:
			h.Broadcast(update.Channel, update.Payload, hub.DeliveryOptions{})
		}
	}
}

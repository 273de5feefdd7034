package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/config"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/breaker"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/cache"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/channels"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/fetch"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/metrics"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/poller"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/providers"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/ratelimit"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/server"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/stats"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/ws"
)

func main() {
	fmt.Printf("Starting AlphaTerminal data layer...\n")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load application configuration
	appConfig, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	utils.InitializeComponentLoggers()
	fmt.Printf("Configuration loaded\n")

	// Shared instrumentation
	m := metrics.New()
	collector := stats.NewCollector()

	// Resilience layers
	dataCache := cache.New(appConfig.CacheConfig(), m)
	go dataCache.Start(ctx)

	limiters := ratelimit.NewRegistry(ratelimit.DefaultConfig(), m)
	limiters.Start(ctx)

	breakers := breaker.NewRegistry(m)

	// Broadcast hub
	h := hub.New(appConfig.HubConfig(), m, collector)
	hubDone := make(chan struct{})
	go h.Run(hubDone)

	// Fetch orchestration in front of the upstream providers
	orchestrator := fetch.New(dataCache, limiters, breakers, h)

	provs := providers.Build(appConfig.ProviderConfig())
	for _, p := range provs {
		h.RegisterChannel(p.Channel, &hub.BaseHandler{})
	}

	// Pipeline between the pollers and the hub
	pipe := channels.NewChannels()
	poll := poller.New(provs, orchestrator, pipe)
	poll.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Bridge(ctx, pipe, h)
	}()

	// HTTP server
	gateway := ws.NewGateway(h)
	srv := server.New(gateway, h, orchestrator, collector, m)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx, ":"+appConfig.Port); err != nil {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	fmt.Printf("AlphaTerminal data layer started on :%s\n", appConfig.Port)
	fmt.Printf("Press Ctrl+C to stop...\n")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	fmt.Printf("Shutdown signal received...\n")

	// Cancel context to signal shutdown
	cancel()
	close(hubDone)

	// Wait for all components to shut down
	done := make(chan struct{})
	go func() {
		poll.Wait()
		limiters.Wait()
		wg.Wait()
		close(done)
	}()

	// Wait for shutdown with timeout
	select {
	case <-done:
		fmt.Printf("Graceful shutdown completed\n")
	case <-time.After(10 * time.Second):
		fmt.Printf("Shutdown timeout reached\n")
	}
}

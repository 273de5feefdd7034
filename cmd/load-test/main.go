package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var (
	clients       = flag.Int("clients", 1000, "Number of concurrent WebSocket clients")
	duration      = flag.Duration("duration", 60*time.Second, "Test duration")
	serverURL     = flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	channelList   = flag.String("channels", "prices,defi,news,sentiment", "Comma-separated channels to subscribe to")
	throttleMs    = flag.Int64("throttle", 0, "Per-subscription throttle in milliseconds")
	rampUp        = flag.Duration("rampup", 10*time.Second, "Time to ramp up all clients")
	printInterval = flag.Duration("print", 5*time.Second, "Statistics print interval")
)

type Stats struct {
	connected    int64
	disconnected int64
	subscribed   int64
	messages     int64
	errors       int64
}

type frame struct {
	Type       string `json:"type"`
	Channel    string `json:"channel,omitempty"`
	ThrottleMs int64  `json:"throttleMs,omitempty"`
}

func main() {
	flag.Parse()

	channels := strings.Split(*channelList, ",")

	fmt.Printf("🚀 WebSocket Load Test\n")
	fmt.Printf("📊 Configuration:\n")
	fmt.Printf("   Clients: %d\n", *clients)
	fmt.Printf("   Duration: %v\n", *duration)
	fmt.Printf("   Server: %s\n", *serverURL)
	fmt.Printf("   Channels: %v\n", channels)
	fmt.Printf("   Ramp-up: %v\n", *rampUp)
	fmt.Printf("\n")

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("Invalid URL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var stats Stats
	var wg sync.WaitGroup

	go reportStats(ctx, &stats)

	clientInterval := *rampUp / time.Duration(*clients)

	fmt.Printf("🔄 Starting %d clients over %v (%.2fms interval)\n",
		*clients, *rampUp, float64(clientInterval.Nanoseconds())/1e6)

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go startClient(ctx, &wg, u, i, channels, &stats)

		if clientInterval > 0 {
			time.Sleep(clientInterval)
		}

		if (i+1)%100 == 0 {
			fmt.Printf("   Started %d/%d clients...\n", i+1, *clients)
		}
	}

	fmt.Printf("✅ All %d clients started\n", *clients)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		fmt.Printf("\n⏰ Test duration completed\n")
	case <-sigChan:
		fmt.Printf("\n🛑 Interrupted by user\n")
		cancel()
	}

	fmt.Printf("⏳ Waiting for clients to disconnect...\n")
	wg.Wait()

	fmt.Printf("\n📈 Final Statistics:\n")
	fmt.Printf("   Peak Connected: %d\n", atomic.LoadInt64(&stats.connected))
	fmt.Printf("   Subscriptions: %d\n", atomic.LoadInt64(&stats.subscribed))
	fmt.Printf("   Total Messages: %d\n", atomic.LoadInt64(&stats.messages))
	fmt.Printf("   Total Errors: %d\n", atomic.LoadInt64(&stats.errors))
	messages := atomic.LoadInt64(&stats.messages)
	errors := atomic.LoadInt64(&stats.errors)
	if messages+errors > 0 {
		fmt.Printf("   Success Rate: %.2f%%\n", 100.0*float64(messages)/float64(messages+errors))
	}
}

func startClient(ctx context.Context, wg *sync.WaitGroup, u *url.URL, clientID int, channels []string, stats *Stats) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}
	defer conn.Close()

	atomic.AddInt64(&stats.connected, 1)
	defer atomic.AddInt64(&stats.disconnected, 1)

	// Subscribe to every requested channel.
	for _, channel := range channels {
		msg, _ := json.Marshal(frame{Type: "subscribe", Channel: strings.TrimSpace(channel), ThrottleMs: *throttleMs})
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			atomic.AddInt64(&stats.errors, 1)
			return
		}
		atomic.AddInt64(&stats.subscribed, 1)
	}

	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_, message, err := conn.ReadMessage()
				if err != nil {
					if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						atomic.AddInt64(&stats.errors, 1)
					}
					return
				}

				atomic.AddInt64(&stats.messages, 1)

				// Log first few messages for verification
				if atomic.LoadInt64(&stats.messages) <= 5 {
					fmt.Printf("📨 Client %d received: %s\n", clientID, string(message)[:min(100, len(message))])
				}
			}
		}
	}()

	// Keep the connection alive with protocol-level pings.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ping, _ := json.Marshal(frame{Type: "ping"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				atomic.AddInt64(&stats.errors, 1)
				return
			}
		}
	}
}

func reportStats(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(*printInterval)
	defer ticker.Stop()

	var lastMessages int64
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := atomic.LoadInt64(&stats.connected)
			disconnected := atomic.LoadInt64(&stats.disconnected)
			messages := atomic.LoadInt64(&stats.messages)
			errors := atomic.LoadInt64(&stats.errors)

			currentActive := connected - disconnected
			messagesThisInterval := messages - lastMessages
			messageRate := float64(messagesThisInterval) / printInterval.Seconds()
			totalRate := float64(messages) / time.Since(startTime).Seconds()

			fmt.Printf("📊 [STATS] Active: %d | Messages: %d (+%d) | Rate: %.1f/s (avg: %.1f/s) | Errors: %d\n",
				currentActive, messages, messagesThisInterval, messageRate, totalRate, errors)

			lastMessages = messages
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

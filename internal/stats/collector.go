// Package stats tracks process-wide realtime distribution statistics.
// Cardinalities (unique clients, unique symbols) are estimated with
// HyperLogLog sketches rather than exact sets to keep memory flat.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
)

// Collector aggregates broadcast and client statistics.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time

	broadcastsByChannel map[string]int64
	totalBroadcasts     int64

	uniqueClients *hyperloglog.Sketch
	uniqueSymbols *hyperloglog.Sketch
	totalClients  int64
}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{
		startedAt:           time.Now(),
		broadcastsByChannel: make(map[string]int64),
		// Precision 14: ~1.5KB per sketch, 1.63% error
		uniqueClients: hyperloglog.New14(),
		uniqueSymbols: hyperloglog.New14(),
	}
}

// RecordBroadcast accounts one queued broadcast. The payload's symbol field,
// when present, feeds the unique-symbol sketch.
func (c *Collector) RecordBroadcast(channel string, payload map[string]interface{}) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcastsByChannel[channel]++
	c.totalBroadcasts++

	if symbol, ok := payload["symbol"]; ok {
		c.uniqueSymbols.Insert([]byte(fmt.Sprint(symbol)))
	}
}

// RecordClient accounts one client connection.
func (c *Collector) RecordClient(clientID string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalClients++
	c.uniqueClients.Insert([]byte(clientID))
}

// Snapshot holds collector output for introspection endpoints.
type Snapshot struct {
	UptimeSeconds       float64          `json:"uptimeSeconds"`
	TotalBroadcasts     int64            `json:"totalBroadcasts"`
	BroadcastsByChannel map[string]int64 `json:"broadcastsByChannel"`
	TotalConnections    int64            `json:"totalConnections"`
	UniqueClients       uint64           `json:"uniqueClients"`
	UniqueSymbols       uint64           `json:"uniqueSymbols"`
}

// GetSnapshot returns a copy of the current statistics.
func (c *Collector) GetSnapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byChannel := make(map[string]int64, len(c.broadcastsByChannel))
	for name, n := range c.broadcastsByChannel {
		byChannel[name] = n
	}

	return Snapshot{
		UptimeSeconds:       time.Since(c.startedAt).Seconds(),
		TotalBroadcasts:     c.totalBroadcasts,
		BroadcastsByChannel: byChannel,
		TotalConnections:    c.totalClients,
		UniqueClients:       c.uniqueClients.Estimate(),
		UniqueSymbols:       c.uniqueSymbols.Estimate(),
	}
}

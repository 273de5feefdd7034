// Package hub fans fetched data out to subscribed real-time clients over
// named channels. Broadcasts are never sent synchronously: they queue per
// channel and a periodic flush delivers each item client by client, applying
// the subscription's filters and throttle, so one slow or mismatched client
// never affects the rest.
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/metrics"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/stats"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Sender delivers events to one connected client. Implemented by the
// WebSocket client; tests use in-memory fakes.
type Sender interface {
	ID() string
	SendEvent(channel string, data interface{}) error
	Close()
}

// Config holds hub configuration
type Config struct {
	FlushInterval time.Duration `json:"flushInterval" yaml:"flushInterval"` // broadcast queue drain cadence
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"` // idle-client sweep cadence
	IdleTimeout   time.Duration `json:"idleTimeout" yaml:"idleTimeout"`     // disconnect clients idle longer than this
	QueueLimit    int           `json:"queueLimit" yaml:"queueLimit"`       // max queued broadcasts per channel
}

// DefaultConfig returns default hub configuration
func DefaultConfig() Config {
	return Config{
		FlushInterval: 100 * time.Millisecond,
		SweepInterval: 30 * time.Second,
		IdleTimeout:   5 * time.Minute,
		QueueLimit:    1000,
	}
}

// Subscription records one client's interest in a channel.
type Subscription struct {
	ClientID   string
	Channel    string
	Filters    map[string]string
	Throttle   time.Duration
	lastSentAt time.Time
}

type channelState struct {
	name    string
	handler ChannelHandler // nil means pass-through
	subs    map[string]*Subscription
}

type queueItem struct {
	payload map[string]interface{}
	opts    DeliveryOptions
}

type clientState struct {
	sender       Sender
	connectedAt  time.Time
	lastActivity time.Time
}

// Hub is the process-wide publish/subscribe coordinator.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channelState
	queues   map[string][]queueItem
	clients  map[string]*clientState

	config    Config
	metrics   *metrics.Metrics
	collector *stats.Collector
	logger    *utils.Logger
}

// New creates a hub.
func New(config Config, m *metrics.Metrics, collector *stats.Collector) *Hub {
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if config.QueueLimit <= 0 {
		config.QueueLimit = DefaultConfig().QueueLimit
	}

	return &Hub{
		channels:  make(map[string]*channelState),
		queues:    make(map[string][]queueItem),
		clients:   make(map[string]*clientState),
		config:    config,
		metrics:   m,
		collector: collector,
		logger:    utils.HubLogger,
	}
}

// RegisterChannel registers a named channel with an optional handler.
// Explicitly registered channels persist even with no subscribers.
func (h *Hub) RegisterChannel(name string, handler ChannelHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.channels[name] = &channelState{
		name:    name,
		handler: handler,
		subs:    make(map[string]*Subscription),
	}
}

// ChannelNames returns the registered channel names.
func (h *Hub) ChannelNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	return names
}

// AttachClient makes a connected client known to the hub.
func (h *Hub) AttachClient(sender Sender) {
	h.mu.Lock()
	now := time.Now()
	h.clients[sender.ID()] = &clientState{
		sender:       sender,
		connectedAt:  now,
		lastActivity: now,
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConnectedClients(count)
	h.collector.RecordClient(sender.ID())
}

// Touch records client activity for the idle sweep.
func (h *Hub) Touch(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.lastActivity = time.Now()
	}
}

// Subscribe records a client's subscription to a registered channel. The
// channel handler's Authorize hook, when present, must approve the request;
// OnSubscribe runs once after the subscription is recorded.
func (h *Hub) Subscribe(clientID, channel string, opts SubscribeOptions) error {
	h.mu.Lock()
	ch, ok := h.channels[channel]
	if !ok {
		h.mu.Unlock()
		return utils.ErrChannelNotRegistered
	}
	if _, known := h.clients[clientID]; !known {
		h.mu.Unlock()
		return fmt.Errorf("unknown client %q", clientID)
	}
	handler := ch.handler
	h.mu.Unlock()

	if handler != nil {
		if err := h.authorize(handler, clientID, channel, opts); err != nil {
			return err
		}
	}

	sub := &Subscription{
		ClientID: clientID,
		Channel:  channel,
		Filters:  opts.Filters,
		Throttle: time.Duration(opts.ThrottleMs) * time.Millisecond,
	}

	h.mu.Lock()
	ch, ok = h.channels[channel]
	if !ok {
		h.mu.Unlock()
		return utils.ErrChannelNotRegistered
	}
	ch.subs[clientID] = sub
	if c, exists := h.clients[clientID]; exists {
		c.lastActivity = time.Now()
	}
	h.mu.Unlock()

	h.logger.Debug("client %s subscribed to %s", clientID, channel)

	if handler != nil {
		h.runOnSubscribe(handler, clientID, channel, opts)
	}
	return nil
}

// authorize runs the handler's Authorize hook, converting a panic into a denial.
func (h *Hub) authorize(handler ChannelHandler, clientID, channel string, opts SubscribeOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("authorize panic on %s: %v", channel, r)
			err = utils.ErrAuthorizationDenied
		}
	}()

	if authErr := handler.Authorize(clientID, opts); authErr != nil {
		h.logger.Warn("subscription to %s denied for %s: %v", channel, clientID, authErr)
		return utils.ErrAuthorizationDenied
	}
	return nil
}

func (h *Hub) runOnSubscribe(handler ChannelHandler, clientID, channel string, opts SubscribeOptions) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("onSubscribe panic on %s: %v", channel, r)
		}
	}()
	handler.OnSubscribe(clientID, opts)
}

// Unsubscribe removes a client's subscription. Removing a subscription that
// does not exist is a no-op.
func (h *Hub) Unsubscribe(clientID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(ch.subs, clientID)
	h.cleanupChannelLocked(ch)
}

// cleanupChannelLocked removes empty handlerless channels; channels with a
// handler were registered deliberately and persist.
func (h *Hub) cleanupChannelLocked(ch *channelState) {
	if ch.handler == nil && len(ch.subs) == 0 {
		delete(h.channels, ch.name)
		delete(h.queues, ch.name)
	}
}

// Disconnect atomically removes all of a client's subscriptions and forgets
// the client.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	for _, ch := range h.channels {
		delete(ch.subs, clientID)
		h.cleanupChannelLocked(ch)
	}
	delete(h.clients, clientID)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConnectedClients(count)
	h.logger.Debug("client %s disconnected", clientID)
}

// Broadcast validates and queues a payload for delivery on the next flush.
// It never sends synchronously and never surfaces errors to the publisher: a
// payload failing validation is logged and dropped.
func (h *Hub) Broadcast(channel string, data map[string]interface{}, opts DeliveryOptions) {
	h.mu.Lock()
	ch, ok := h.channels[channel]
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("broadcast to unregistered channel %s dropped", channel)
		return
	}

	payload := data
	if ch.handler != nil {
		var dropped bool
		payload, dropped = h.prepare(ch.handler, channel, data)
		if dropped {
			return
		}
	}

	h.mu.Lock()
	queue := h.queues[channel]
	if len(queue) >= h.config.QueueLimit {
		// Keep the freshest data when the flush cannot keep up.
		queue = queue[1:]
		h.logger.Warn("queue limit reached on %s, dropping oldest item", channel)
	}
	h.queues[channel] = append(queue, queueItem{payload: payload, opts: opts})
	h.mu.Unlock()

	h.metrics.IncBroadcastQueued(channel)
	h.collector.RecordBroadcast(channel, payload)
}

// prepare runs Validate and Transform, reporting whether the broadcast was dropped.
func (h *Hub) prepare(handler ChannelHandler, channel string, data map[string]interface{}) (payload map[string]interface{}, dropped bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic on %s: %v", channel, r)
			payload, dropped = nil, true
		}
	}()

	if err := handler.Validate(data); err != nil {
		h.logger.Warn("broadcast to %s failed validation, dropped: %v", channel, err)
		return nil, true
	}
	return handler.Transform(data), false
}

// DeliverTo sends a payload directly to one client, bypassing the queue.
// Used by OnSubscribe hooks to push snapshots.
func (h *Hub) DeliverTo(clientID, channel string, data interface{}) error {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown client %q", clientID)
	}
	return c.sender.SendEvent(channel, data)
}

// Run drives the flush and idle-sweep loops until ctx is cancelled.
func (h *Hub) Run(done <-chan struct{}) {
	flush := time.NewTicker(h.config.FlushInterval)
	sweep := time.NewTicker(h.config.SweepInterval)
	defer flush.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-done:
			return
		case <-flush.C:
			h.Flush()
		case <-sweep.C:
			h.sweepIdle()
		}
	}
}

// Flush drains every channel's queue in enqueue order, delivering each item
// to every matching, non-throttled subscriber individually.
func (h *Hub) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	var evict []string

	for name, queue := range h.queues {
		if len(queue) == 0 {
			continue
		}
		h.queues[name] = nil

		ch, ok := h.channels[name]
		if !ok {
			continue
		}

		for _, item := range queue {
			for clientID, sub := range ch.subs {
				if excluded(clientID, item.opts.Except) {
					continue
				}
				if !matchFilters(item.payload, sub.Filters) {
					continue
				}
				if sub.Throttle > 0 && now.Sub(sub.lastSentAt) < sub.Throttle {
					continue
				}

				c, exists := h.clients[clientID]
				if !exists {
					continue
				}
				if err := c.sender.SendEvent(name, item.payload); err != nil {
					h.logger.Warn("delivery to %s on %s failed: %v", clientID, name, err)
					evict = append(evict, clientID)
					continue
				}
				sub.lastSentAt = now
				h.metrics.IncBroadcastDelivered(name)
			}
		}
	}

	for _, clientID := range evict {
		h.disconnectLocked(clientID)
	}
}

func (h *Hub) disconnectLocked(clientID string) {
	for _, ch := range h.channels {
		delete(ch.subs, clientID)
		h.cleanupChannelLocked(ch)
	}
	if c, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		go c.sender.Close()
	}
	h.metrics.SetConnectedClients(len(h.clients))
}

// sweepIdle disconnects clients with no activity within the idle window.
func (h *Hub) sweepIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-h.config.IdleTimeout)
	for clientID, c := range h.clients {
		if c.lastActivity.Before(cutoff) {
			h.logger.Info("disconnecting idle client %s", clientID)
			h.disconnectLocked(clientID)
		}
	}
}

func excluded(clientID string, except []string) bool {
	for _, id := range except {
		if id == clientID {
			return true
		}
	}
	return false
}

// matchFilters reports whether every filter key exactly matches the string
// form of the corresponding payload field.
func matchFilters(payload map[string]interface{}, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// ClientInfo describes one connected client for admin endpoints.
type ClientInfo struct {
	ID            string    `json:"id"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Subscriptions []string  `json:"subscriptions"`
}

// GetClients returns a snapshot of connected clients.
func (h *Hub) GetClients() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ClientInfo, 0, len(h.clients))
	for clientID, c := range h.clients {
		info := ClientInfo{
			ID:           clientID,
			ConnectedAt:  c.connectedAt,
			LastActivity: c.lastActivity,
		}
		for name, ch := range h.channels {
			if _, ok := ch.subs[clientID]; ok {
				info.Subscriptions = append(info.Subscriptions, name)
			}
		}
		out = append(out, info)
	}
	return out
}

// ChannelStats describes one channel for introspection.
type ChannelStats struct {
	Subscribers int `json:"subscribers"`
	QueueDepth  int `json:"queueDepth"`
}

// GetStats returns per-channel subscriber counts and queue depths.
func (h *Hub) GetStats() map[string]ChannelStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]ChannelStats, len(h.channels))
	for name, ch := range h.channels {
		out[name] = ChannelStats{
			Subscribers: len(ch.subs),
			QueueDepth:  len(h.queues[name]),
		}
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

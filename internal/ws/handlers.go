// Package ws implements the WebSocket endpoint: connection lifecycle,
// the subscribe/unsubscribe protocol and per-client send buffering.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Message types accepted from clients.
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePing        = "ping"
)

// ClientMessage is the inbound protocol frame.
type ClientMessage struct {
	Type       string            `json:"type"`
	Channel    string            `json:"channel,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	ThrottleMs int64             `json:"throttleMs,omitempty"`
}

// ErrorMessage is sent to a client when a request cannot be honored.
type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// AckMessage confirms a subscribe or unsubscribe request.
type AckMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

// Gateway upgrades HTTP requests and speaks the client protocol on behalf of
// the hub.
type Gateway struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *utils.Logger
}

// NewGateway creates a gateway bound to the hub.
func NewGateway(h *hub.Hub) *Gateway {
	return &Gateway{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard origins are enforced at the proxy layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: utils.WSLogger,
	}
}

// HandleWebSocket upgrades the connection and runs the client until it
// disconnects.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("upgrade failed: %v", err)
		return
	}

	client := NewClient(uuid.NewString(), conn, func(c *Client) {
		g.hub.Disconnect(c.ID())
	})
	g.hub.AttachClient(client)
	g.logger.Info("client %s connected from %s", client.ID(), r.RemoteAddr)

	client.Send(struct {
		Type      string `json:"type"`
		ClientID  string `json:"clientId"`
		Timestamp int64  `json:"timestamp"`
	}{
		Type:      "connected",
		ClientID:  client.ID(),
		Timestamp: time.Now().UnixMilli(),
	})

	go client.WritePump()
	client.ReadPump(g.handleMessage)
}

func (g *Gateway) handleMessage(client *Client, raw []byte) {
	g.hub.Touch(client.ID())

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.sendError(client, "INVALID_MESSAGE", "message is not valid JSON")
		return
	}

	switch msg.Type {
	case MessageSubscribe:
		g.handleSubscribe(client, msg)
	case MessageUnsubscribe:
		g.handleUnsubscribe(client, msg)
	case MessagePing:
		client.Send(struct {
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
		}{Type: "pong", Timestamp: time.Now().UnixMilli()})
	default:
		g.sendError(client, "UNKNOWN_TYPE", "unsupported message type: "+msg.Type)
	}
}

func (g *Gateway) handleSubscribe(client *Client, msg ClientMessage) {
	if msg.Channel == "" {
		g.sendError(client, "MISSING_CHANNEL", "subscribe requires a channel")
		return
	}

	err := g.hub.Subscribe(client.ID(), msg.Channel, hub.SubscribeOptions{
		Filters:    msg.Filters,
		ThrottleMs: msg.ThrottleMs,
	})
	if err != nil {
		switch utils.GetErrorType(err) {
		case utils.ErrorTypeNotRegistered:
			g.sendError(client, "UNKNOWN_CHANNEL", "channel not available: "+msg.Channel)
		case utils.ErrorTypeAuthorization:
			g.sendError(client, "SUBSCRIPTION_DENIED", "subscription denied for "+msg.Channel)
		default:
			g.sendError(client, "SUBSCRIBE_FAILED", err.Error())
		}
		return
	}

	client.Send(AckMessage{
		Type:      "subscribed",
		Channel:   msg.Channel,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (g *Gateway) handleUnsubscribe(client *Client, msg ClientMessage) {
	if msg.Channel == "" {
		g.sendError(client, "MISSING_CHANNEL", "unsubscribe requires a channel")
		return
	}

	g.hub.Unsubscribe(client.ID(), msg.Channel)
	client.Send(AckMessage{
		Type:      "unsubscribed",
		Channel:   msg.Channel,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (g *Gateway) sendError(client *Client, code, message string) {
	client.Send(ErrorMessage{
		Type:      "error",
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

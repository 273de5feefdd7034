package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

type wireMessage struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"clientId,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func dialTestServer(t *testing.T, h *hub.Hub) *websocket.Conn {
	t.Helper()

	gateway := NewGateway(h)
	srv := httptest.NewServer(http.HandlerFunc(gateway.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestConnectAnnouncesClientID(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	conn := dialTestServer(t, h)

	msg := readMessage(t, conn)
	assert.Equal(t, "connected", msg.Type)
	assert.NotEmpty(t, msg.ClientID)
}

func TestSubscribeAndReceiveBroadcast(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	h.RegisterChannel("prices", nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn) // connected

	writeFrame(t, conn, ClientMessage{Type: MessageSubscribe, Channel: "prices"})
	ack := readMessage(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "prices", ack.Channel)

	h.Broadcast("prices", map[string]interface{}{"symbol": "BTC", "priceUsd": 50000.0}, hub.DeliveryOptions{})
	h.Flush()

	event := readMessage(t, conn)
	assert.Equal(t, "prices", event.Type)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "BTC", payload["symbol"])
}

func TestSubscribeUnknownChannelReturnsError(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: MessageSubscribe, Channel: "nope"})
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "UNKNOWN_CHANNEL", msg.Code)
}

type denyAllHandler struct{ hub.BaseHandler }

func (denyAllHandler) Authorize(string, hub.SubscribeOptions) error {
	return utils.ErrAuthorizationDenied
}

func TestSubscribeDeniedByHandler(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	h.RegisterChannel("whales", denyAllHandler{})
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: MessageSubscribe, Channel: "whales"})
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "SUBSCRIPTION_DENIED", msg.Code)
}

func TestSubscribeWithoutChannelReturnsError(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: MessageSubscribe})
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "MISSING_CHANNEL", msg.Code)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	h.RegisterChannel("prices", nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: MessageSubscribe, Channel: "prices"})
	readMessage(t, conn) // subscribed

	writeFrame(t, conn, ClientMessage{Type: MessageUnsubscribe, Channel: "prices"})
	ack := readMessage(t, conn)
	assert.Equal(t, "unsubscribed", ack.Type)

	h.Broadcast("prices", map[string]interface{}{"symbol": "BTC"}, hub.DeliveryOptions{})
	h.Flush()

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var msg wireMessage
	err := conn.ReadJSON(&msg)
	assert.Error(t, err, "no delivery expected after unsubscribe")
}

func TestPingPong(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: MessagePing})
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestMalformedJSONReturnsError(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "INVALID_MESSAGE", msg.Code)
}

func TestUnknownTypeReturnsError(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: "mystery"})
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "UNKNOWN_TYPE", msg.Code)
}

func TestDisconnectCleansUpHubState(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil, nil)
	h.RegisterChannel("prices", nil)
	conn := dialTestServer(t, h)
	readMessage(t, conn)

	writeFrame(t, conn, ClientMessage{Type: MessageSubscribe, Channel: "prices"})
	readMessage(t, conn)
	require.Equal(t, 1, h.ClientCount())

	conn.Close()

	assert.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

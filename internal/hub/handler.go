package hub

// SubscribeOptions carries the per-subscription settings supplied by a client.
type SubscribeOptions struct {
	// Filters must exactly match the corresponding payload fields for a
	// delivery to happen. Values are compared by their string form.
	Filters map[string]string `json:"filters,omitempty"`
	// ThrottleMs caps delivery frequency for this subscription; zero
	// disables throttling.
	ThrottleMs int64 `json:"throttleMs,omitempty"`
}

// DeliveryOptions tunes a single broadcast.
type DeliveryOptions struct {
	// Except lists client IDs that must not receive this payload.
	Except []string
}

// ChannelHandler customizes a channel's behavior. All methods are optional
// in effect: embed BaseHandler to get no-op defaults. Handler errors and
// panics never propagate to publishers or subscribers; the hub logs them and
// drops the single operation involved.
type ChannelHandler interface {
	// Validate inspects an outgoing payload; a non-nil error drops the broadcast.
	Validate(data map[string]interface{}) error
	// Transform rewrites the payload before it is queued.
	Transform(data map[string]interface{}) map[string]interface{}
	// Authorize approves a subscription attempt; a non-nil error denies it.
	Authorize(clientID string, opts SubscribeOptions) error
	// OnSubscribe runs once per recorded subscription, e.g. to push a
	// cached snapshot to the new subscriber via hub.DeliverTo.
	OnSubscribe(clientID string, opts SubscribeOptions)
}

// BaseHandler provides no-op implementations of every capability.
type BaseHandler struct{}

func (BaseHandler) Validate(map[string]interface{}) error { return nil }

func (BaseHandler) Transform(data map[string]interface{}) map[string]interface{} { return data }

func (BaseHandler) Authorize(string, SubscribeOptions) error { return nil }

func (BaseHandler) OnSubscribe(string, SubscribeOptions) {}

package channels

import (
	"os"
	"strconv"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Update is one payload headed for a hub channel.
type Update struct {
	Channel string
	Payload map[string]interface{}
}

// Channels holds the pipeline channels between the pollers and the hub.
type Channels struct {
	Updates      chan Update
	Backpressure *utils.BackpressureMetrics
}

// NewChannels creates the pipeline channels with buffer sizes overridable
// from the environment.
func NewChannels() *Channels {
	return &Channels{
		Updates:      make(chan Update, bufferSize("UPDATES", 512)),
		Backpressure: &utils.BackpressureMetrics{},
	}
}

// Close closes all channels.
func (c *Channels) Close() {
	close(c.Updates)
}

func bufferSize(name string, def int) int {
	if v := os.Getenv("CHANNEL_BUFFER_" + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

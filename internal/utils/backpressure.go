package utils

import (
	"sync/atomic"
	"time"
)

// BackpressureMetrics tracks channel overflow statistics
type BackpressureMetrics struct {
	channelOverflows int64
	channelTimeouts  int64
	droppedMessages  int64
}

// IncOverflows increments the overflow counter
func (bm *BackpressureMetrics) IncOverflows() {
	atomic.AddInt64(&bm.channelOverflows, 1)
}

// IncTimeouts increments the timeout counter
func (bm *BackpressureMetrics) IncTimeouts() {
	atomic.AddInt64(&bm.channelTimeouts, 1)
}

// IncDropped increments the dropped messages counter
func (bm *BackpressureMetrics) IncDropped() {
	atomic.AddInt64(&bm.droppedMessages, 1)
}

// GetStats returns current metrics
func (bm *BackpressureMetrics) GetStats() (overflows, timeouts, dropped int64) {
	return atomic.LoadInt64(&bm.channelOverflows),
		atomic.LoadInt64(&bm.channelTimeouts),
		atomic.LoadInt64(&bm.droppedMessages)
}

// BackpressureConfig holds configuration for overflow handling
type BackpressureConfig struct {
	DropOnOverflow bool
	Timeout        time.Duration
}

// DefaultBackpressureConfig returns sensible defaults
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		DropOnOverflow: false,
		Timeout:        100 * time.Millisecond,
	}
}

// SendWithBackpressure sends data to a channel with overflow protection
func SendWithBackpressure[T any](ch chan<- T, data T, config BackpressureConfig, metrics *BackpressureMetrics) bool {
	select {
	case ch <- data:
		return true
	default:
		if metrics != nil {
			metrics.IncOverflows()
		}

		if config.DropOnOverflow {
			if metrics != nil {
				metrics.IncDropped()
			}
			return false
		}

		select {
		case ch <- data:
			return true
		case <-time.After(config.Timeout):
			if metrics != nil {
				metrics.IncTimeouts()
			}
			return false
		}
	}
}

// TrySend attempts to send without blocking, returns success status
func TrySend[T any](ch chan<- T, data T, metrics *BackpressureMetrics) bool {
	select {
	case ch <- data:
		return true
	default:
		if metrics != nil {
			metrics.IncOverflows()
		}
		return false
	}
}

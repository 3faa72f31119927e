package apiclient

import (
	"time"

	"golang.org/x/time/rate"
)

// RetryLimit caps how many retries a Dispatcher may issue across all requests,
// so that an outage does not turn every client into a retry storm.
type RetryLimit struct {
	// RetriesPerWindow is the steady-state number of retries per Window.
	RetriesPerWindow int
	Window           time.Duration
	// Burst allows short bursts above the steady rate.
	Burst int
}

// NewRetryLimiter returns a limiter for cfg, or nil when cfg disables limiting.
func NewRetryLimiter(cfg RetryLimit) *rate.Limiter {
	if cfg.RetriesPerWindow <= 0 || cfg.Window <= 0 {
		return nil
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RetriesPerWindow
	}

	return rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.RetriesPerWindow)), burst)
}

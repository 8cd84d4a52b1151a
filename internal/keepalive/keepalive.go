package keepalive

import (
	"context"
	"time"

	"tutorly/internal/logging"
)

// DefaultInterval keeps free-tier backends from idling out.
const DefaultInterval = 12 * time.Minute

// Pinger is anything exposing the backend health endpoint.
type Pinger interface {
	Health(ctx context.Context) (map[string]interface{}, error)
}

// Start pings the backend every interval until ctx is done. Responses are
// logged at debug level and failures are swallowed.
func Start(ctx context.Context, p Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ping(ctx, p, interval)
			}
		}
	}()
}

func ping(ctx context.Context, p Pinger, interval time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	resp, err := p.Health(ctx)
	if err != nil {
		logging.Debugf("[keepalive] backend ping failed: %v", err)
		return
	}
	logging.Debugf("[keepalive] backend ping: %v", resp)
}

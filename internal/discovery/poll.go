package discovery

import (
	"context"
	"time"
)

// DefaultPollInterval is how often Poll retries a locate function
const DefaultPollInterval = 500 * time.Millisecond

// Poll calls locate immediately and then every interval until it reports a
// result, which is returned exactly once. A missing endpoint is not an
// error; only ctx cancellation stops the loop early.
func Poll[T any](ctx context.Context, interval time.Duration, locate func() (T, bool)) (T, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if v, ok := locate(); ok {
		return v, nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
			if v, ok := locate(); ok {
				return v, nil
			}
		}
	}
}

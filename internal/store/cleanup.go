package store

import (
	"context"
	"time"

	"github.com/markb/mentionbot/internal/log"
)

// expiredCleaner is implemented by flow stores that do not expire entries on
// their own.
type expiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// StartCleanupRoutine periodically purges expired flow states from flows
// until ctx is done. It reports false when flows expires entries itself and
// no routine was started.
func StartCleanupRoutine(ctx context.Context, flows any, interval time.Duration) bool {
	c, ok := flows.(expiredCleaner)
	if !ok {
		return false
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.CleanupExpired(ctx)
				if err != nil {
					log.Warn("flow state cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					log.Debug("expired flow states removed", "count", n)
				}
			}
		}
	}()
	return true
}

package selection

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-locator/internal/observability"
)

// lookupTracker counts lookups issued by a session that have not completed.
// Wait uses it to let callers observe the settled state.
type lookupTracker struct {
	mu    sync.RWMutex
	count int64
}

func (t *lookupTracker) increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	observability.LookupsInFlight.Inc()
}

func (t *lookupTracker) decrement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count--
	observability.LookupsInFlight.Dec()
}

func (t *lookupTracker) Count() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// waitForZero blocks until no lookups are in flight or ctx is done.
func (t *lookupTracker) waitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package waiter

import (
	"context"
	"sync"
	"time"
)

// StartMonitor calls fn every interval on its own goroutine until ctx ends or
// the returned stop function is called. fn must only read session state.
// stop never blocks; an fn call in flight finishes on its own.
func StartMonitor(ctx context.Context, every time.Duration, fn func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	if every <= 0 || fn == nil {
		return cancel
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

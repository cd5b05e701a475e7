package turn

import (
	"context"
	"sync"
	"time"
)

// Repeater runs a task, waits for it to return, pauses, and runs it again
// until stopped. A run never overlaps the previous one.
type Repeater struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func StartRepeater(ctx context.Context, pause time.Duration, task func(ctx context.Context)) *Repeater {
	ctx, cancel := context.WithCancel(ctx)
	r := &Repeater{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			task(ctx)
			if ctx.Err() != nil {
				return
			}
			timer.Reset(pause)
		}
	}()
	return r
}

// Stop cancels the current run and waits for the loop to exit. Safe on nil and
// safe to call more than once.
func (r *Repeater) Stop() {
	if r == nil {
		return
	}
	r.once.Do(r.cancel)
	<-r.done
}

package engine

import (
	"context"
	"time"
)

// Watchdog bounds worst-case resource holding from a hung network call: a
// running job with no page progress for longer than the configured timeout
// is failed from outside the orchestrator's own loop, and its account
// claim is released.
type Watchdog struct {
	orch    *Orchestrator
	timeout time.Duration
	tick    time.Duration
}

func NewWatchdog(orch *Orchestrator, timeout time.Duration) *Watchdog {
	tick := timeout / 4
	if tick < time.Second {
		tick = time.Second
	}
	return &Watchdog{orch: orch, timeout: timeout, tick: tick}
}

func (w *Watchdog) Name() string { return "watchdog" }

func (w *Watchdog) RunModule(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(time.Now())
		}
	}
}

func (w *Watchdog) sweep(now time.Time) {
	cutoff := now.Add(-w.timeout)
	w.orch.controls.Range(func(key, value interface{}) bool {
		ctl := value.(*jobControl)
		if ctl.isCancelled() || ctl.lastProgressTime().After(cutoff) {
			return true
		}
		w.orch.failStuckJob(key.(string), now.Sub(ctl.lastProgressTime()))
		return true
	})
}

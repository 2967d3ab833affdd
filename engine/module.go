package engine

import (
	"context"
	"sync"

	Logger "github.com/meridianlabs/postvault/utils/log"
)

// Module is a long-running component whose lifetime is bound to the
// Engine: the orchestrator's worker pool, the watchdog, the scheduler and
// the reporter all run as modules.
type Module interface {
	// Name of this module, for logging.
	Name() string

	// RunModule blocks until the module finishes or the context is
	// cancelled.
	RunModule(ctx context.Context) error
}

// Engine runs each module in its own goroutine and waits for all of them
// to finish. Shutdown is driven by cancelling the shared context.
type Engine struct {
	Modules []Module

	ctx context.Context
}

func NewEngine(ctx context.Context, ms ...Module) *Engine {
	return &Engine{Modules: ms, ctx: ctx}
}

// Run executes all engine modules and blocks until every one of them has
// finished execution.
func (e *Engine) Run() {
	var wg sync.WaitGroup

	for idx := range e.Modules {
		wg.Add(1)
		go func(m Module) {
			defer wg.Done()
			Logger.Log.Infof("start engine module %s", m.Name())
			if err := m.RunModule(e.ctx); err != nil {
				Logger.Log.Errorf("module %s exited with error: %s", m.Name(), err)
			}
			Logger.Log.Infof("module %s finished execution", m.Name())
		}(e.Modules[idx])
	}

	wg.Wait()
}

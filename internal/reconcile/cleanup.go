package reconcile

import (
	"time"

	"github.com/dliang/chatlink/internal/scheduler"
)

// cleaner periodically evicts aged confirmed messages so the engine's
// memory stays bounded over long sessions. Confirmed entries are kept
// for twice the confirmation timeout before being dropped.
type cleaner struct {
	engine *Engine
	handle scheduler.Handle
}

func newCleaner(e *Engine, interval time.Duration) *cleaner {
	c := &cleaner{engine: e}
	c.handle = e.sched.Every(interval, c.run)
	return c
}

func (c *cleaner) run() {
	e := c.engine
	horizon := e.sched.Now().UnixMilli() - 2*e.cfg.Timeout.Milliseconds()

	e.mu.Lock()
	kept := e.confirmed[:0]
	removed := 0
	for _, cm := range e.confirmed {
		if cm.ConfirmedAt >= horizon {
			kept = append(kept, cm)
		} else {
			removed++
		}
	}
	e.confirmed = kept
	e.mu.Unlock()

	if removed > 0 {
		e.log.Debug("pruned aged confirmed messages", "removed", removed)
	}
}

func (c *cleaner) stop() {
	c.engine.sched.Cancel(c.handle)
}

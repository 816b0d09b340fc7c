package consensus

// onViewTimeout is the view-change path: fired by either the micro-
// or macro-block timer for the current height. A
// height that has already sealed ignores its own stale timer (the
// normal path stops timers synchronously on commit; this guards the
// rare case where a tick was already queued on the runtime's timer
// channel before that happened).
func (e *Engine) onViewTimeout() {
	hs := e.cur
	if hs == nil || hs.sealed {
		return
	}
	next := hs.view + 1
	e.logger.Printf("view timeout at %s view %d, advancing to view %d", hs.height, hs.view, next)
	if err := e.enterView(next); err != nil {
		e.logger.Printf("failed to enter view %d at %s: %v", next, hs.height, err)
	}
}

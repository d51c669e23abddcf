package scheduler

import "sync"

// runner is one live session loop. The stop channel interrupts the
// inter-cycle sleep; done closes when the loop goroutine has fully exited.
type runner struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// signalStop closes the stop channel. Safe to call any number of times,
// from any goroutine; concurrent stops of one session must not panic.
func (rn *runner) signalStop() {
	rn.stopOnce.Do(func() { close(rn.stop) })
}

// stopping reports whether a stop has been signalled.
func (rn *runner) stopping() bool {
	select {
	case <-rn.stop:
		return true
	default:
		return false
	}
}

// registry tracks live session loops. Insertion is compare-and-set under
// one mutex, so two concurrent starts of the same session cannot both
// spawn a loop.
type registry struct {
	mu      sync.Mutex
	runners map[string]*runner
}

func newRegistry() *registry {
	return &registry{runners: make(map[string]*runner)}
}

// tryAdd registers a runner for the session. Returns nil and false when a
// runner already exists.
func (r *registry) tryAdd(sessionID string) (*runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runners[sessionID]; exists {
		return nil, false
	}
	rn := &runner{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.runners[sessionID] = rn
	return rn, true
}

// get returns the live runner for a session, if any.
func (r *registry) get(sessionID string) (*runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runners[sessionID]
	return rn, ok
}

// remove drops the session's runner. Called by the loop goroutine on exit.
func (r *registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, sessionID)
}

// size returns the number of live runners.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runners)
}

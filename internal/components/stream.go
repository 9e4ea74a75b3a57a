package components

import (
	"sync"
	"time"
)

// streamState tracks one streamed reply: the Slack timestamp of the
// message being updated and whether a terminal chunk has been seen.
type streamState struct {
	mu        sync.Mutex
	ts        string
	completed bool
	created   time.Time
}

// streamTracker maps stream IDs to their state. Streams that never see a
// terminal chunk are aged out by Sweep so the map cannot grow without
// bound when an upstream flow dies mid-reply.
type streamTracker struct {
	mu     sync.Mutex
	states map[string]*streamState
	now    func() time.Time // for testing
}

func newStreamTracker() *streamTracker {
	return &streamTracker{states: map[string]*streamState{}, now: time.Now}
}

// get returns the state for id, or nil if the stream is unknown.
func (t *streamTracker) get(id string) *streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id]
}

// add registers a fresh state for id, replacing any previous one.
func (t *streamTracker) add(id string) *streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &streamState{created: t.now()}
	t.states[id] = st
	return st
}

// getOrAdd returns the existing state for id or registers a new one.
// Chunks can arrive out of order, so a non-first chunk for an unknown
// stream still gets a state rather than being dropped.
func (t *streamTracker) getOrAdd(id string) *streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[id]; ok {
		return st
	}
	st := &streamState{created: t.now()}
	t.states[id] = st
	return st
}

func (t *streamTracker) delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
}

func (t *streamTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// sweep drops states older than maxAge and reports how many were removed.
func (t *streamTracker) sweep(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxAge)
	n := 0
	for id, st := range t.states {
		if st.created.Before(cutoff) {
			delete(t.states, id)
			n++
		}
	}
	return n
}

// Package session implements the Session & Stream Layer (§4.10): one
// Session buffers the events of a single execute call and fans them out to
// any number of subscribers, new subscribers always receiving the backlog
// first (in order) followed by live events. Subscribe/unsubscribe are
// idempotent, and a closed session replays its full transcript plus the
// close signal to any later subscriber. Grounded on the teacher's
// mutex-guarded, map-backed Manager shape (pkg/session/manager.go) but
// built around fan-out channels rather than a single status field, since
// this layer's job is streaming events, not conversation bookkeeping.
package session

import (
	"sync"
	"time"

	"github.com/nexops/kernelengine/pkg/executor"
)

// Listener receives events published to a Session. Implementations must
// not block for long — a slow subscriber is dropped rather than stalling
// the producer (§9 design note: "backpressure is per-consumer").
type Listener chan executor.Event

// listenerBuffer bounds how many unconsumed events a subscriber may queue
// before it is dropped.
const listenerBuffer = 64

// Session is a transient record bound to one execute request (§3 Session).
type Session struct {
	ID         string
	ResourceID string // owning kernel's "namespace:id"
	Code       string
	CreatedAt  time.Time

	mu        sync.Mutex
	backlog   []executor.Event
	listeners map[*Listener]struct{}
	terminal  bool
}

// New creates a Session bound to resourceID and code.
func New(id, resourceID, code string) *Session {
	return &Session{
		ID:         id,
		ResourceID: resourceID,
		Code:       code,
		CreatedAt:  time.Now(),
		listeners:  make(map[*Listener]struct{}),
	}
}

// Publish appends ev to the backlog and fans it out to every current
// listener, in the order ev was produced — every subscriber observes
// events in the executor's order (§5 ordering guarantee). Once the
// terminator has been fanned out, every listener is closed. Publish after
// the session has gone terminal is a no-op: exactly one terminator per
// session (§3 invariant).
func (s *Session) Publish(ev executor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.backlog = append(s.backlog, ev)
	if ev.IsTerminator() {
		s.terminal = true
	}
	for l := range s.listeners {
		select {
		case *l <- ev:
		default:
			// Slow consumer: drop it rather than stall the producer.
			close(*l)
			delete(s.listeners, l)
		}
	}
	if s.terminal {
		for l := range s.listeners {
			close(*l)
			delete(s.listeners, l)
		}
	}
}

// Subscribe registers a new listener, delivering the backlog synchronously
// (so the caller sees a consistent snapshot) before any live events. If
// the session is already terminal, the returned channel receives the full
// transcript and is then closed — subscribing to a finished session never
// blocks on new activity. Subscribe is idempotent: calling it twice with
// channels obtained from two separate calls simply yields two independent
// views; there is no "already subscribed" failure mode.
func (s *Session) Subscribe() *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(Listener, listenerBuffer+len(s.backlog))
	for _, ev := range s.backlog {
		ch <- ev
	}
	if s.terminal {
		close(ch)
		return &ch
	}
	s.listeners[&ch] = struct{}{}
	return &ch
}

// Unsubscribe removes l from the listener set. Idempotent: unsubscribing
// an already-removed or never-registered listener is a no-op.
func (s *Session) Unsubscribe(l *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[l]; ok {
		delete(s.listeners, l)
	}
}

// Close forcibly terminates the session (used when its owning kernel is
// destroyed): subsequent Publish calls are ignored and every live listener
// is closed so former subscribers stop receiving events (§8 invariant 3).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.terminal = true
	for l := range s.listeners {
		close(*l)
		delete(s.listeners, l)
	}
}

// Transcript returns a copy of every event published so far.
func (s *Session) Transcript() []executor.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]executor.Event, len(s.backlog))
	copy(out, s.backlog)
	return out
}

// IsTerminal reports whether the session has seen its terminator.
func (s *Session) IsTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

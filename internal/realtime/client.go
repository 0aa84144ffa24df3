package realtime

import (
	"sync"
	"time"

	"github.com/BearBump/trackengine/internal/auth"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is one live connection. topics and state are guarded by the hub lock.
type Client struct {
	ID        string
	Principal auth.Principal
	Outbound  chan Message

	state   State
	topics  map[string]bool
	ingress *windowCounter

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) Done() <-chan struct{} { return c.done }

// windowCounter counts ingress commands over a sliding window. It keeps the times of
// the last limit accepted commands; a command is accepted once the oldest of them has
// left the window.
type windowCounter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	next   int
}

func newWindowCounter(limit int, window time.Duration) *windowCounter {
	return &windowCounter{limit: limit, window: window, stamps: make([]time.Time, 0, max(limit, 0))}
}

func (w *windowCounter) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.limit <= 0 {
		return false
	}
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return true
	}
	// stamps is full; next points at the oldest entry.
	if now.Sub(w.stamps[w.next]) < w.window {
		return false
	}
	w.stamps[w.next] = now
	w.next = (w.next + 1) % w.limit
	return true
}

// Package liveness implements the periodic PING/PONG liveness subsystem
// of spec.md §4.F: a one-shot rescheduling timer plus an ordered
// pong-wait queue. Grounded on the teacher's vardiff.Manager ticker-driven
// Run(ctx) loop (core/internal/vardiff/vardiff.go) for the scheduling
// shape, generalized from a fixed-period ticker to the spec's
// reschedule-after-each-fire timer so a reconnect can safely retime it.
package liveness

import (
	"sync"
	"time"
)

// PongCallback is invoked when its matching PONG arrives. A nil callback
// is valid: it still consumes its queue slot, it just has nothing to run.
type PongCallback func()

// Liveness owns the PING scheduling timer and the pong-wait queue for one
// connection lifetime. It does not write to the socket itself; SendPing
// and OnStale are supplied by the connection FSM so liveness stays
// transport-agnostic, matching the teacher's habit of keeping manager
// types free of direct I/O (vardiff.Manager never touches a net.Conn
// either — it calls back through the Client interface).
type Liveness struct {
	mu sync.Mutex

	interval   time.Duration
	maxPingOut int
	pout       int

	pongQueue []PongCallback

	timer *time.Timer

	// SendPing writes "PING\r\n" to the outbound buffer.
	SendPing func()
	// OnStale fires when pout exceeds maxPingOut; the caller treats this
	// as a protocol error that drives a silent reconnect.
	OnStale func()
	// OnPingCount fires each time the ping timer increments pout, for the
	// pingcount(pout) event in spec.md §6. OnPong and Requeue reset pout
	// to zero without calling it.
	OnPingCount func(pout int)
	// IsConnecting lets the timer skip sending while mid-handshake,
	// rescheduling instead (spec.md §4.F).
	IsConnecting func() bool
	// IsClosed stops the scheduler outright once true.
	IsClosed func() bool
}

// New returns a Liveness configured with the given ping interval and
// maximum outstanding unacked pings.
func New(interval time.Duration, maxPingOut int) *Liveness {
	return &Liveness{interval: interval, maxPingOut: maxPingOut}
}

// Start arms the first one-shot timer. Call once the socket is connected.
func (l *Liveness) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scheduleLocked()
}

// Stop cancels the pending timer, e.g. on Close.
func (l *Liveness) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Liveness) scheduleLocked() {
	l.timer = time.AfterFunc(l.interval, l.fire)
}

func (l *Liveness) fire() {
	l.mu.Lock()
	if l.IsClosed != nil && l.IsClosed() {
		l.mu.Unlock()
		return
	}
	if l.IsConnecting != nil && l.IsConnecting() {
		l.scheduleLocked()
		l.mu.Unlock()
		return
	}

	l.pout++
	pout := l.pout
	stale := l.pout > l.maxPingOut
	if !stale {
		l.pongQueue = append(l.pongQueue, nil)
		l.scheduleLocked()
	}
	l.mu.Unlock()

	if l.OnPingCount != nil {
		l.OnPingCount(pout)
	}
	if stale {
		if l.OnStale != nil {
			l.OnStale()
		}
		return
	}
	if l.SendPing != nil {
		l.SendPing()
	}
}

// AwaitPong pushes cb onto the pong-wait queue and sends a PING,
// independent of the periodic scheduler. Used by Flush, and by the
// connect/reconnect handshake's "fire connect on paired PONG" step
// (spec.md §4.H).
func (l *Liveness) AwaitPong(cb PongCallback) {
	l.mu.Lock()
	l.pongQueue = append(l.pongQueue, cb)
	l.mu.Unlock()
	if l.SendPing != nil {
		l.SendPing()
	}
}

// OnPong pops the front of the pong-wait queue, resets pout to zero, and
// invokes the popped callback if any, per spec.md §4.F and §8 invariant 1.
func (l *Liveness) OnPong() {
	l.mu.Lock()
	l.pout = 0
	var cb PongCallback
	if len(l.pongQueue) > 0 {
		cb = l.pongQueue[0]
		l.pongQueue = l.pongQueue[1:]
	}
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// PendingPongs reports the current pong-queue depth, for tests and
// diagnostics.
func (l *Liveness) PendingPongs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pongQueue)
}

// Pout reports the current outstanding-ping count.
func (l *Liveness) Pout() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pout
}

// HasAwaiter reports whether the queue slot at index holds a non-nil
// (real flush/connect awaiter) callback; an out-of-range index reports
// false.
func (l *Liveness) HasAwaiter(index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.pongQueue) {
		return false
	}
	return l.pongQueue[index] != nil
}

// CallbackAt returns the callback stored at the given pong-queue index,
// or nil if out of range.
func (l *Liveness) CallbackAt(index int) PongCallback {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.pongQueue) {
		return nil
	}
	return l.pongQueue[index]
}

// Requeue replaces the pong-wait queue with cbs, in order, without
// sending new PINGs. Used by the connection FSM's pending-buffer rebuild
// (spec.md §4.H): PING chunks that survive the rebuild already carry a
// real awaiter, and that awaiter's slot must line up with the PING that
// will actually reach the new socket.
func (l *Liveness) Requeue(cbs []PongCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pout = 0
	l.pongQueue = cbs
}

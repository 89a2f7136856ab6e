// Package mux implements the request/reply multiplexer of spec.md §4.E:
// a single wildcard inbox subscription shared by many outstanding
// requests, distinguished by a per-request token appended to the reply
// subject. Grounded on the teacher's routing.PendingReq /
// AddPendingRequest / RemovePendingRequest pattern
// (core/internal/routing/routing.go and core/internal/connection), which
// maps an upstream request id back to the downstream client awaiting the
// response — the same shape as mapping a mux token back to the caller
// awaiting a reply.
package mux

import (
	"sync"
	"time"
)

// Reply is what a mux request's callback receives: the decoded payload,
// or a non-nil Err on timeout.
type Reply struct {
	Data any
	Err  error
}

// Callback is invoked once per matching reply (or once with Err set on
// timeout).
type Callback func(Reply)

// Request is one outstanding mux request, per spec.md §3 MuxRequest.
type Request struct {
	Token    string
	Inbox    string
	Callback Callback
	ID       int64 // strictly decreasing, starts at -1
	Received uint64
	Expected uint64 // 0 = unbounded (legacy single-reply requests use 1)

	timer *time.Timer
}

// Mux is the lazily-created root: one wildcard subscription plus the
// token -> Request map, per spec.md §3 MuxRoot.
type Mux struct {
	mu sync.Mutex

	RootInbox   string
	PrefixLen   int
	WildcardSid uint64

	nextID   int64
	requests map[string]*Request
	byID     map[int64]*Request
}

// New creates a MuxRoot. wildcardSid is the sid of the `<rootInbox>.*`
// subscription the caller has already issued.
func New(rootInbox string, wildcardSid uint64) *Mux {
	return &Mux{
		RootInbox:   rootInbox,
		PrefixLen:   len(rootInbox) + 1,
		WildcardSid: wildcardSid,
		requests:    make(map[string]*Request),
		byID:        make(map[int64]*Request),
	}
}

// AddRequest allocates a fresh negative id for a new outstanding request
// keyed by token. expected of 0 means no reply-count-based auto-cancel.
func (m *Mux) AddRequest(token string, expected uint64, cb Callback) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID--
	req := &Request{
		Token:    token,
		Inbox:    m.RootInbox + "." + token,
		Callback: cb,
		ID:       m.nextID,
		Expected: expected,
	}
	m.requests[token] = req
	m.byID[req.ID] = req
	return req
}

// ArmTimeout schedules a REQ_TIMEOUT delivery if no (sufficient) reply
// arrives within d, per spec.md §4.E and §5.
func (m *Mux) ArmTimeout(req *Request, d time.Duration, onTimeout func(*Request)) {
	req.timer = time.AfterFunc(d, func() {
		if m.cancelIfPresent(req.Token) {
			onTimeout(req)
		}
	})
}

// cancelIfPresent removes the request if it is still outstanding,
// reporting whether it was (an already-cancelled/completed request must
// not double-fire).
func (m *Mux) cancelIfPresent(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[token]
	if !ok {
		return false
	}
	delete(m.requests, token)
	delete(m.byID, req.ID)
	return true
}

// Cancel removes a request by its negative id (the public API's
// Unsubscribe(negativeId) maps here) without unsubscribing the shared
// wildcard subscription.
func (m *Mux) Cancel(id int64) {
	m.mu.Lock()
	req, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
		delete(m.requests, req.Token)
	}
	m.mu.Unlock()
	if ok && req.timer != nil {
		req.timer.Stop()
	}
}

// Deliver routes an inbound reply on the wildcard subscription: subject
// must be "<rootInbox>.<token>". data is already decoded by the caller.
func (m *Mux) Deliver(subject string, data any) {
	if len(subject) <= m.PrefixLen {
		return
	}
	token := subject[m.PrefixLen:]

	m.mu.Lock()
	req, ok := m.requests[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	req.Received++
	done := req.Expected > 0 && req.Received >= req.Expected
	if done {
		delete(m.requests, token)
		delete(m.byID, req.ID)
	}
	m.mu.Unlock()

	if done && req.timer != nil {
		req.timer.Stop()
	}
	if req.Callback != nil {
		req.Callback(Reply{Data: data})
	}
}

// Len reports the number of outstanding requests, for tests/diagnostics.
func (m *Mux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

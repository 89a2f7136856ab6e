// Package subs implements the subscription registry described in
// spec.md §4.D: sid -> {subject, queue, callback, counters, timeout}.
// Grounded on the real nats.go client's subs map (apcera-nats reference)
// and on the teacher's nonce.Manager map+mutex pattern for gating
// delivery on registry state (core/internal/nonce/nonce.go).
package subs

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Callback receives a delivered message. data is []byte normally, or the
// JSON-decoded value (or the parse error itself — spec.md §4.D's
// established, if odd, contract) when the registry is in JSON mode.
type Callback func(data any, reply, subject string, sid uint64)

// Subscription is one entry in the registry, per spec.md §3.
type Subscription struct {
	Sid      uint64
	Subject  string
	Queue    string
	Callback Callback
	Received uint64
	Max      uint64 // 0 = unlimited

	timeoutExpected uint64
	timeoutTimer    *time.Timer
}

// Registry is the sid-keyed subscription table.
type Registry struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription

	nextSid uint64

	// JSONMode mirrors Options.JSON: attempt to decode payloads as JSON.
	JSONMode bool

	// OnUnsubscribe fires when a subscription hits its Max and is
	// auto-removed, so the connection can emit the "unsubscribe" event.
	OnUnsubscribe func(sid uint64, subject string)

	// OnCallbackPanic fires when a user callback panics, so the
	// connection can surface it as an error event instead of crashing
	// the delivery loop.
	OnCallbackPanic func(err error)
}

// New returns an empty Registry. sid 0 is reserved/invalid per spec.md §3.
func New() *Registry {
	return &Registry{subs: make(map[uint64]*Subscription)}
}

// NextSid allocates the next strictly-increasing positive sid.
func (r *Registry) NextSid() uint64 {
	return atomic.AddUint64(&r.nextSid, 1)
}

// Add registers a new subscription.
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.Sid] = sub
}

// Get returns the subscription for sid, if any.
func (r *Registry) Get(sid uint64) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[sid]
	return s, ok
}

// Remove deletes sid from the registry (explicit unsubscribe).
func (r *Registry) Remove(sid uint64) {
	r.mu.Lock()
	sub, ok := r.subs[sid]
	if ok {
		delete(r.subs, sid)
	}
	r.mu.Unlock()
	if ok && sub.timeoutTimer != nil {
		sub.timeoutTimer.Stop()
	}
}

// All returns a snapshot of every live subscription, used for SUB replay
// on reconnect (spec.md §4.H: "re-emit every sub via SUB before
// processing any application traffic"). Iteration order is unspecified,
// matching the registry's underlying map.
func (r *Registry) All() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// SetMax updates the auto-unsubscribe threshold for an existing
// subscription, used by the explicit UNSUB-with-max API (spec.md §6
// "UNSUB <sid> [<max>]").
func (r *Registry) SetMax(sid uint64, max uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[sid]; ok {
		sub.Max = max
	}
}

// SetTimeout arms a subscription timeout per spec.md §5: if fewer than
// expected messages have arrived by d, onTimeout fires once and the
// subscription is removed.
func (r *Registry) SetTimeout(sid uint64, d time.Duration, expected uint64, onTimeout func()) {
	r.mu.Lock()
	sub, ok := r.subs[sid]
	if !ok {
		r.mu.Unlock()
		return
	}
	sub.timeoutExpected = expected
	r.mu.Unlock()

	sub.timeoutTimer = time.AfterFunc(d, func() {
		r.mu.Lock()
		s, ok := r.subs[sid]
		fire := ok && s.Received < expected
		r.mu.Unlock()
		if fire && onTimeout != nil {
			onTimeout()
		}
		r.Remove(sid)
	})
}

// Deliver routes an inbound MSG to its subscription, implementing the
// counters/max/timeout/callback sequencing of spec.md §4.D.
func (r *Registry) Deliver(sid uint64, reply, subject string, payload []byte) {
	r.mu.Lock()
	sub, ok := r.subs[sid]
	if !ok {
		r.mu.Unlock()
		return
	}

	sub.Received++
	if sub.timeoutExpected > 0 && sub.Received >= sub.timeoutExpected && sub.timeoutTimer != nil {
		sub.timeoutTimer.Stop()
		sub.timeoutTimer = nil
	}

	removed := false
	if sub.Max > 0 {
		switch {
		case sub.Received == sub.Max:
			delete(r.subs, sid)
			removed = true
		case sub.Received > sub.Max:
			delete(r.subs, sid)
			sub.Callback = nil
			removed = true
		}
	}

	cb := sub.Callback
	jsonMode := r.JSONMode
	r.mu.Unlock()

	if removed && r.OnUnsubscribe != nil {
		r.OnUnsubscribe(sid, subject)
	}
	if cb == nil {
		return
	}

	var data any = payload
	if jsonMode {
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			data = err
		} else {
			data = v
		}
	}
	r.safeInvoke(cb, data, reply, subject, sid)
}

func (r *Registry) safeInvoke(cb Callback, data any, reply, subject string, sid uint64) {
	defer func() {
		if rec := recover(); rec != nil && r.OnCallbackPanic != nil {
			r.OnCallbackPanic(fmt.Errorf("subscription callback panic: %v", rec))
		}
	}()
	cb(data, reply, subject, sid)
}

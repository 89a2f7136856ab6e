package mux

import (
	"testing"
	"time"
)

func TestAddRequestAllocatesDecreasingIDs(t *testing.T) {
	m := New("_INBOX.abc", 1)
	r1 := m.AddRequest("tok1", 1, nil)
	r2 := m.AddRequest("tok2", 1, nil)
	if r1.ID != -1 || r2.ID != -2 {
		t.Fatalf("got ids %d, %d, want -1, -2", r1.ID, r2.ID)
	}
	if r1.Inbox != "_INBOX.abc.tok1" {
		t.Fatalf("inbox = %q", r1.Inbox)
	}
}

func TestDeliverInvokesCallbackAndRemovesSingleReply(t *testing.T) {
	m := New("_INBOX.abc", 1)
	var got any
	m.AddRequest("tok1", 1, func(r Reply) { got = r.Data })

	m.Deliver("_INBOX.abc.tok1", "payload")

	if got != "payload" {
		t.Fatalf("got %v, want payload", got)
	}
	if m.Len() != 0 {
		t.Fatal("request should be removed once expected replies are received")
	}
}

func TestDeliverUnknownTokenIsSilentlyDropped(t *testing.T) {
	m := New("_INBOX.abc", 1)
	m.Deliver("_INBOX.abc.nope", "x") // must not panic
}

func TestDeliverMultiReplyStaysOutstandingUntilExpected(t *testing.T) {
	m := New("_INBOX.abc", 1)
	var calls int
	m.AddRequest("tok1", 3, func(r Reply) { calls++ })

	m.Deliver("_INBOX.abc.tok1", "a")
	if m.Len() != 1 {
		t.Fatal("request should remain outstanding before expected count is reached")
	}
	m.Deliver("_INBOX.abc.tok1", "b")
	m.Deliver("_INBOX.abc.tok1", "c")

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if m.Len() != 0 {
		t.Fatal("request should be removed after expected count is reached")
	}
}

func TestCancelRemovesByID(t *testing.T) {
	m := New("_INBOX.abc", 1)
	req := m.AddRequest("tok1", 1, nil)
	m.Cancel(req.ID)
	if m.Len() != 0 {
		t.Fatal("request should be removed after Cancel")
	}
	// A late reply after cancellation must be a no-op, not a panic.
	m.Deliver("_INBOX.abc.tok1", "late")
}

func TestArmTimeoutFiresWhenNoReplyArrives(t *testing.T) {
	m := New("_INBOX.abc", 1)
	req := m.AddRequest("tok1", 1, nil)
	fired := make(chan struct{})
	m.ArmTimeout(req, 10*time.Millisecond, func(r *Request) { close(fired) })

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout callback never fired")
	}
	if m.Len() != 0 {
		t.Fatal("request should be removed once the timeout fires")
	}
}

func TestArmTimeoutDoesNotFireAfterReplyArrives(t *testing.T) {
	m := New("_INBOX.abc", 1)
	var got any
	req := m.AddRequest("tok1", 1, func(r Reply) { got = r.Data })
	fired := make(chan struct{}, 1)
	m.ArmTimeout(req, 20*time.Millisecond, func(r *Request) { fired <- struct{}{} })

	m.Deliver("_INBOX.abc.tok1", "reply")

	select {
	case <-fired:
		t.Fatal("timeout must not fire once the reply has already arrived")
	case <-time.After(50 * time.Millisecond):
	}
	if got != "reply" {
		t.Fatalf("got = %v, want reply", got)
	}
}

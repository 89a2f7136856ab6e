package connfsm

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coreclient/natscore/internal/liveness"
	"github.com/coreclient/natscore/internal/mux"
	"github.com/coreclient/natscore/internal/sendbuf"
	"github.com/coreclient/natscore/internal/serverpool"
	"github.com/coreclient/natscore/pkg/natserr"
)

type fakeObserver struct {
	mu                sync.Mutex
	connects          int
	reconnects        int
	reconnectings     int
	disconnects       int
	closes            int
	errors            []error
	permErrors        []error
	subs              []uint64
	unsubs            []uint64
	servers           [][]string
	discovered        [][]string
	pingTimers        int
	pingCounts        []int
}

func (f *fakeObserver) OnConnect()       { f.mu.Lock(); f.connects++; f.mu.Unlock() }
func (f *fakeObserver) OnReconnect()     { f.mu.Lock(); f.reconnects++; f.mu.Unlock() }
func (f *fakeObserver) OnReconnecting()  { f.mu.Lock(); f.reconnectings++; f.mu.Unlock() }
func (f *fakeObserver) OnDisconnect()    { f.mu.Lock(); f.disconnects++; f.mu.Unlock() }
func (f *fakeObserver) OnClose()        { f.mu.Lock(); f.closes++; f.mu.Unlock() }
func (f *fakeObserver) OnError(err error) {
	f.mu.Lock()
	f.errors = append(f.errors, err)
	f.mu.Unlock()
}
func (f *fakeObserver) OnPermissionError(err error) {
	f.mu.Lock()
	f.permErrors = append(f.permErrors, err)
	f.mu.Unlock()
}
func (f *fakeObserver) OnSubscribe(sid uint64, subject, queue string) {
	f.mu.Lock()
	f.subs = append(f.subs, sid)
	f.mu.Unlock()
}
func (f *fakeObserver) OnUnsubscribe(sid uint64, subject string) {
	f.mu.Lock()
	f.unsubs = append(f.unsubs, sid)
	f.mu.Unlock()
}
func (f *fakeObserver) OnServers(urls []string) {
	f.mu.Lock()
	f.servers = append(f.servers, urls)
	f.mu.Unlock()
}
func (f *fakeObserver) OnServersDiscovered(urls []string) {
	f.mu.Lock()
	f.discovered = append(f.discovered, urls)
	f.mu.Unlock()
}
func (f *fakeObserver) OnPingTimer() { f.mu.Lock(); f.pingTimers++; f.mu.Unlock() }
func (f *fakeObserver) OnPingCount(pout int) {
	f.mu.Lock()
	f.pingCounts = append(f.pingCounts, pout)
	f.mu.Unlock()
}

func newTestMachine(servers []string) (*Machine, *fakeObserver) {
	obs := &fakeObserver{}
	m := New(Options{
		Servers:      servers,
		PingInterval: time.Hour,
		MaxPingsOut:  2,
	}, obs)
	return m, obs
}

func TestMergeAuthOptionsFillsFromURL(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	pu := &serverpool.ParsedURL{User: "alice", Pass: "secret"}
	opts, err := m.mergeAuthOptions(pu)
	if err != nil {
		t.Fatal(err)
	}
	if opts.User != "alice" || opts.Pass != "secret" {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestMergeAuthOptionsDoesNotOverrideExplicitAuth(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	m.opts.Auth.User = "bob"
	pu := &serverpool.ParsedURL{User: "alice", Pass: "secret"}
	opts, err := m.mergeAuthOptions(pu)
	if err != nil {
		t.Fatal(err)
	}
	if opts.User != "bob" || opts.Pass != "" {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestMergeAuthOptionsRejectsUserAndTokenTogether(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	m.opts.Auth.User = "bob"
	m.opts.Auth.Token = "tok"
	_, err := m.mergeAuthOptions(&serverpool.ParsedURL{})
	ae, ok := err.(*natserr.Error)
	if !ok || ae.Code != natserr.CodeBadAuthentication {
		t.Fatalf("err = %v, want BAD_AUTHENTICATION", err)
	}
}

func TestRebuildPendingBeforeDialKeepsPubAndAwaitedPingOnly(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})

	var awaitedFired bool
	m.live.Requeue([]liveness.PongCallback{
		func() { awaitedFired = true }, // index 0: kept PING
		nil,                            // index 1: discarded PING
	})

	m.sendBuf.Rebuild([]sendbuf.Chunk{
		{Kind: sendbuf.KindConnect, Data: []byte("CONNECT {}\r\n")},
		{Kind: sendbuf.KindSub, Data: []byte("SUB foo 1\r\n")},
		{Kind: sendbuf.KindPub, Data: []byte("PUB foo 5\r\n")},
		{Kind: sendbuf.KindPub, Data: []byte("hello\r\n"), Binary: true},
		{Kind: sendbuf.KindPing, Data: []byte("PING\r\n")}, // index 0, awaited
		{Kind: sendbuf.KindPing, Data: []byte("PING\r\n")}, // index 1, not awaited
	})

	m.rebuildPendingBeforeDial()

	kept := m.sendBuf.Drain()
	if len(kept) != 3 {
		t.Fatalf("kept %d chunks, want 3 (2 pub + 1 ping): %+v", len(kept), kept)
	}
	if kept[0].Kind != sendbuf.KindPub || kept[1].Kind != sendbuf.KindPub || kept[2].Kind != sendbuf.KindPing {
		t.Fatalf("kept kinds = %v %v %v", kept[0].Kind, kept[1].Kind, kept[2].Kind)
	}

	if m.live.PendingPongs() != 1 {
		t.Fatalf("PendingPongs = %d, want 1", m.live.PendingPongs())
	}
	cb := m.live.CallbackAt(0)
	if cb == nil {
		t.Fatal("expected the surviving awaiter to be requeued")
	}
	cb()
	if !awaitedFired {
		t.Fatal("requeued callback was not the original awaiter")
	}
}

func TestOnInfoGossipGrowsPool(t *testing.T) {
	m, obs := newTestMachine([]string{"a:4222"})
	cur, err := m.pool.SelectServer()
	if err != nil {
		t.Fatal(err)
	}
	m.pool.MarkConnected(cur)

	info := serverInfo{ConnectURLs: []string{"b:4222", "c:4222"}}
	body, _ := json.Marshal(info)
	m.OnInfo(body)

	if m.pool.Len() != 3 {
		t.Fatalf("pool.Len() = %d, want 3", m.pool.Len())
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.discovered) != 1 || len(obs.discovered[0]) != 2 {
		t.Fatalf("discovered = %v", obs.discovered)
	}
}

func TestOnMsgDeliversToRegistry(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	var got []byte
	sid, err := m.Subscribe("foo", "", func(data any, reply, subject string, sid uint64) {
		got = data.([]byte)
	})
	if err != nil {
		t.Fatal(err)
	}

	m.OnMsg("foo", sid, "", []byte("hello"))

	if string(got) != "hello" {
		t.Fatalf("got = %q", got)
	}
}

func TestOnPingEnqueuesPongAndFiresEvent(t *testing.T) {
	m, obs := newTestMachine([]string{"a:4222"})
	m.OnPing()

	chunks := m.sendBuf.Drain()
	if len(chunks) != 1 || string(chunks[0].Data) != "PONG\r\n" {
		t.Fatalf("chunks = %+v", chunks)
	}
	if obs.pingTimers != 1 {
		t.Fatalf("pingTimers = %d, want 1", obs.pingTimers)
	}
}

func TestOnPongInvokesAwaiter(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	fired := make(chan struct{})
	m.live.AwaitPong(func() { close(fired) })
	m.sendBuf.Drain() // discard the PING the awaiter's SendPing enqueued

	m.OnPong()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("pong awaiter never fired")
	}
}

func TestOnErrPermissionsViolationDoesNotClose(t *testing.T) {
	m, obs := newTestMachine([]string{"a:4222"})
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	m.setConn(client)

	m.OnErr("Permissions Violation for Subscription to \"foo\"")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.permErrors) != 1 {
		t.Fatalf("permErrors = %v", obs.permErrors)
	}
	if len(obs.errors) != 0 {
		t.Fatalf("errors = %v, want none", obs.errors)
	}
}

func TestOnErrStaleConnectionClosesSilently(t *testing.T) {
	m, obs := newTestMachine([]string{"a:4222"})
	client, server := net.Pipe()
	defer server.Close()
	m.setConn(client)

	m.OnErr("Stale Connection")

	obs.mu.Lock()
	if len(obs.errors) != 0 {
		obs.mu.Unlock()
		t.Fatalf("errors = %v, want none surfaced for a stale connection", obs.errors)
	}
	obs.mu.Unlock()

	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected the client side to observe the socket closed")
	}
}

func TestOnErrGenericProtocolErrorSurfacesAndCloses(t *testing.T) {
	m, obs := newTestMachine([]string{"a:4222"})
	client, server := net.Pipe()
	defer server.Close()
	m.setConn(client)

	m.OnErr("Unknown Protocol Operation")

	obs.mu.Lock()
	if len(obs.errors) != 1 {
		obs.mu.Unlock()
		t.Fatal("expected a generic protocol error to be surfaced")
	}
	obs.mu.Unlock()

	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected the socket to be closed")
	}
}

func TestPublishRejectsEmptySubject(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	if err := m.Publish("", "", nil); err == nil {
		t.Fatal("expected an error for an empty subject")
	}
}

func TestPublishAfterCloseIsRejected(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	m.Close()
	err := m.Publish("foo", "", nil)
	ae, ok := err.(*natserr.Error)
	if !ok || ae.Code != natserr.CodeConnClosed {
		t.Fatalf("err = %v, want CONN_CLOSED", err)
	}
}

func TestSubscribeAssignsIncreasingSidsAndEmitsEvent(t *testing.T) {
	m, obs := newTestMachine([]string{"a:4222"})
	sid1, _ := m.Subscribe("a", "", nil)
	sid2, _ := m.Subscribe("b", "", nil)
	if sid2 <= sid1 {
		t.Fatalf("sids not increasing: %d, %d", sid1, sid2)
	}
	if len(obs.subs) != 2 {
		t.Fatalf("subs events = %v", obs.subs)
	}
}

func TestUnsubscribeImmediateRemovesSubscription(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	sid, _ := m.Subscribe("a", "", nil)
	if err := m.Unsubscribe(sid, 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.registry.Get(sid); ok {
		t.Fatal("subscription should have been removed")
	}
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	replies := make(chan mux.Reply, 1)

	id, err := m.Request("foo", []byte("x"), 20*time.Millisecond, 1, func(r mux.Reply) {
		replies <- r
	})
	if err != nil {
		t.Fatal(err)
	}
	if id >= 0 {
		t.Fatalf("request id = %d, want negative", id)
	}

	select {
	case r := <-replies:
		ae, ok := r.Err.(*natserr.Error)
		if !ok || ae.Code != natserr.CodeReqTimeout {
			t.Fatalf("reply = %+v, want REQ_TIMEOUT", r)
		}
	case <-time.After(time.Second):
		t.Fatal("request never timed out")
	}
}

func TestEnsureMuxRegistersWildcardInboxOnce(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	first := m.ensureMux()
	second := m.ensureMux()
	if first != second {
		t.Fatal("ensureMux should create the wildcard root exactly once")
	}
	if _, ok := m.registry.Get(first.WildcardSid); !ok {
		t.Fatal("expected the wildcard inbox subscription to be registered")
	}
}

func TestWildcardSubscriptionDropsReplyForUnknownToken(t *testing.T) {
	m, _ := newTestMachine([]string{"a:4222"})
	replies := make(chan mux.Reply, 1)

	_, err := m.Request("foo", []byte("x"), 200*time.Millisecond, 1, func(r mux.Reply) {
		replies <- r
	})
	if err != nil {
		t.Fatal(err)
	}

	root := m.ensureMux()
	if root.Len() != 1 {
		t.Fatalf("outstanding requests = %d, want 1", root.Len())
	}

	sub, ok := m.registry.Get(root.WildcardSid)
	if !ok {
		t.Fatal("expected the wildcard inbox subscription to be registered")
	}

	// A reply addressed to a token nobody is waiting on must be dropped
	// rather than satisfying the pending request.
	sub.Callback([]byte("unmatched"), "", root.RootInbox+".unknown", root.WildcardSid)

	select {
	case r := <-replies:
		t.Fatalf("an unmatched token must not satisfy the pending request: %+v", r)
	case <-time.After(30 * time.Millisecond):
	}
}

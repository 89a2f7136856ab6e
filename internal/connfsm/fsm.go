// Package connfsm implements the connection state machine of spec.md
// §4.H: dialing, the INFO/CONNECT handshake, TLS reconciliation, gossip
// reconciliation, and reconnect scheduling. It wires together
// serverpool, wire, sendbuf, subs, mux, liveness, and auth into the
// single public Machine type. Grounded on the teacher's
// connection.Upstream (dial/bufio/pending-map ownership,
// core/internal/connection/connection.go) and its UpstreamLoop failover
// cycling (core/internal/proxy/proxy.go), generalized from a fixed
// primary/backup pair into the rotating pool driven by serverpool.
package connfsm

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coreclient/natscore/internal/auth"
	"github.com/coreclient/natscore/internal/liveness"
	"github.com/coreclient/natscore/internal/metrics"
	"github.com/coreclient/natscore/internal/mux"
	"github.com/coreclient/natscore/internal/nuid"
	"github.com/coreclient/natscore/internal/sendbuf"
	"github.com/coreclient/natscore/internal/serverpool"
	"github.com/coreclient/natscore/internal/subs"
	"github.com/coreclient/natscore/internal/wire"
	"github.com/coreclient/natscore/pkg/natserr"
)

// State is one position in the FSM of spec.md §4.H.
type State int

const (
	StateDisconnected State = iota
	StateDialing
	StateAwaitingInfo
	StateTLSUpgrade
	StateConnecting
	StateConnected
	StateClosing
	StateReconnecting
)

// TLSMode selects the client's TLS posture, per spec.md §6 Connection
// Options.
type TLSMode int

const (
	TLSOff TLSMode = iota
	TLSOn
	TLSOnWithCertConfig
)

// Dialer abstracts net.Dialer so an optional SOCKS5 proxy
// (internal/proxysocks.Dialer) can sit in the dial path.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// Observer receives the events of spec.md §6 "Events emitted to the host
// application". Implementations must not block.
type Observer interface {
	OnConnect()
	OnReconnect()
	OnReconnecting()
	OnDisconnect()
	OnClose()
	OnError(err error)
	OnPermissionError(err error)
	OnSubscribe(sid uint64, subject, queue string)
	OnUnsubscribe(sid uint64, subject string)
	OnServers(urls []string)
	OnServersDiscovered(urls []string)
	OnPingTimer()
	OnPingCount(pout int)
}

// Options mirrors spec.md §6's Connection Options record.
type Options struct {
	Servers               []string
	Randomize             bool
	AllowReconnect        bool
	MaxReconnectAttempts  int // -1 = unbounded
	ReconnectWait         time.Duration
	PingInterval          time.Duration
	MaxPingsOut           int
	Verbose               bool
	Pedantic              bool
	TLSMode               TLSMode
	TLSConfig             *tls.Config
	JSON                  bool
	UseOldRequestStyle    bool
	Name                  string
	Auth                  auth.Options
	YieldAfter            time.Duration
	WaitOnFirstConnect    bool
	ProxyDialer           Dialer
	DialTimeout           time.Duration
	Metrics               *metrics.Collector
}

type serverInfo struct {
	TLSRequired bool     `json:"tls_required"`
	TLSVerify   bool     `json:"tls_verify"`
	Nonce       string   `json:"nonce"`
	ConnectURLs []string `json:"connect_urls"`
}

// Machine is the connection FSM plus every component it drives. Each
// embedded component (registry, sendBuf, muxRoot, live) owns its own
// mutex; mu here only guards the small set of FSM-lifecycle fields
// (state, the active socket, and the connected/closed flags), per
// spec.md §5's "serialise all state via ... a per-client mutex" option.
type Machine struct {
	opts     Options
	observer Observer

	pool     *serverpool.Pool
	sendBuf  *sendbuf.Buffer
	registry *subs.Registry
	live     *liveness.Liveness
	parser   *wire.Parser

	mu           sync.Mutex
	state        State
	conn         net.Conn
	connected    bool
	wasConnected bool
	closed       bool
	infoReceived bool
	reconnects   int
	attempted    bool
	flushCh      chan struct{}

	writeMu sync.Mutex

	muxOnce sync.Once
	muxRoot *mux.Mux
}

// New builds a Machine ready for Start.
func New(opts Options, observer Observer) *Machine {
	m := &Machine{
		opts:     opts,
		observer: observer,
		pool:     serverpool.New(opts.Servers, "", opts.Randomize),
		sendBuf:  sendbuf.New(),
		registry: subs.New(),
		live:     liveness.New(opts.PingInterval, opts.MaxPingsOut),
	}
	m.registry.JSONMode = opts.JSON
	m.registry.OnUnsubscribe = func(sid uint64, subject string) { m.observer.OnUnsubscribe(sid, subject) }
	m.registry.OnCallbackPanic = func(err error) { m.observer.OnError(err) }

	m.live.SendPing = m.sendPing
	m.live.OnStale = m.onStale
	m.live.OnPingCount = func(pout int) {
		if m.opts.Metrics != nil {
			m.opts.Metrics.SetPingsOutstanding(pout)
		}
		observer.OnPingCount(pout)
	}
	m.live.IsConnecting = func() bool { return !m.isConnected() }
	m.live.IsClosed = m.isClosed

	m.parser = wire.New(m)
	m.parser.YieldAfter = opts.YieldAfter
	return m
}

// Start launches the dial loop in its own goroutine.
func (m *Machine) Start() { go m.runDial() }

// Close is idempotent and immediate, per spec.md §5.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.live.Stop()
	if conn != nil {
		_ = conn.Close()
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.Reset()
	}
}

func (m *Machine) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Machine) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setConn(c net.Conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

func (m *Machine) getConn() net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Machine) emitError(err error) {
	if !m.isClosed() {
		m.observer.OnError(err)
	}
}

// ---- dial loop -------------------------------------------------------

func (m *Machine) runDial() {
	for {
		if m.isClosed() {
			return
		}
		if m.pool.Len() == 0 {
			m.observer.OnClose()
			return
		}

		if m.attempted {
			wait := m.opts.ReconnectWait
			if next, ok := m.pool.PeekNext(); ok && next.DidConnect {
				if wait <= 0 {
					wait = serverpool.Backoff(200*time.Millisecond, 3*time.Second)
				}
				time.Sleep(wait)
			}
			m.mu.Lock()
			m.reconnects++
			m.mu.Unlock()
			if m.opts.Metrics != nil {
				m.opts.Metrics.IncrementReconnects()
			}
		}
		m.attempted = true

		ep, err := m.pool.SelectServer()
		if err != nil {
			m.observer.OnClose()
			return
		}

		m.setState(StateDialing)
		m.mu.Lock()
		m.infoReceived = false
		m.mu.Unlock()
		m.rebuildPendingBeforeDial()

		conn, pu, err := m.dialEndpoint(ep)
		if err != nil {
			m.handleDialFailure(ep, err)
			if m.isClosed() {
				m.observer.OnClose()
				return
			}
			continue
		}

		conn, err = m.handshake(conn, pu)
		if err != nil {
			_ = conn.Close()
			m.emitError(natserr.Wrap(natserr.CodeConnErr, "handshake failed", err))
			m.handleDialFailure(ep, err)
			if m.isClosed() {
				m.observer.OnClose()
				return
			}
			continue
		}

		m.pool.MarkConnected(ep)
		m.runConnectedSession(conn)

		if m.isClosed() {
			return
		}
	}
}

func (m *Machine) dialEndpoint(ep *serverpool.Endpoint) (net.Conn, *serverpool.ParsedURL, error) {
	pu, err := serverpool.ParseURL(ep.URL)
	if err != nil {
		return nil, nil, err
	}

	var conn net.Conn
	if m.opts.ProxyDialer != nil {
		conn, err = m.opts.ProxyDialer.Dial("tcp", pu.Host)
	} else {
		timeout := m.opts.DialTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		d := &net.Dialer{Timeout: timeout}
		conn, err = d.Dial("tcp", pu.Host)
	}
	if err != nil {
		return nil, pu, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, pu, nil
}

func (m *Machine) handleDialFailure(ep *serverpool.Endpoint, err error) {
	m.mu.Lock()
	everConnected := m.wasConnected
	m.mu.Unlock()

	if everConnected {
		return
	}
	if m.opts.WaitOnFirstConnect {
		m.pool.MarkConnected(ep)
	} else if !ep.DidConnect {
		m.pool.RemoveInitialFailure(ep)
	}
	if m.pool.Len() == 0 && !everConnected {
		m.emitError(natserr.Wrap(natserr.CodeConnErr, "unable to connect to any configured server", err))
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	}
}

// rebuildPendingBeforeDial applies spec.md §4.H's pending-buffer filter:
// keep PUB chunks and PING chunks with a real pong-queue awaiter, discard
// everything else (CONNECT/SUB/UNSUB/no-op PING), then reset liveness for
// the new session, preserving only the surviving awaiters in order.
func (m *Machine) rebuildPendingBeforeDial() {
	chunks := m.sendBuf.Drain()
	var kept []sendbuf.Chunk
	var survivors []liveness.PongCallback
	pingsSeen := 0

	for _, c := range chunks {
		switch c.Kind {
		case sendbuf.KindPub:
			kept = append(kept, c)
		case sendbuf.KindPing:
			idx := pingsSeen
			pingsSeen++
			if cb := m.live.CallbackAt(idx); cb != nil {
				kept = append(kept, c)
				survivors = append(survivors, cb)
			}
		}
	}
	m.sendBuf.Rebuild(kept)
	m.live.Requeue(survivors)
}

// ---- handshake ---------------------------------------------------------

func (m *Machine) handshake(conn net.Conn, pu *serverpool.ParsedURL) (net.Conn, error) {
	m.setState(StateAwaitingInfo)

	br := bufio.NewReaderSize(conn, 4096)
	line, err := br.ReadString('\n')
	if err != nil {
		return conn, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "INFO") {
		return conn, fmt.Errorf("connfsm: expected INFO, got %q", line)
	}
	raw := strings.TrimSpace(strings.TrimPrefix(line, "INFO"))

	var info serverInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return conn, fmt.Errorf("connfsm: malformed INFO payload: %w", err)
	}

	switch {
	case info.TLSRequired && m.opts.TLSMode == TLSOff:
		return conn, natserr.New(natserr.CodeSecureConnReq, "server requires a TLS connection")
	case !info.TLSRequired && m.opts.TLSMode != TLSOff:
		return conn, natserr.New(natserr.CodeNonSecureConnReq, "server does not support TLS")
	}
	if info.TLSVerify && (m.opts.TLSConfig == nil || len(m.opts.TLSConfig.Certificates) == 0) {
		return conn, natserr.New(natserr.CodeClientCertReq, "server requires a client certificate")
	}

	if info.TLSRequired {
		m.setState(StateTLSUpgrade)
		conf := m.opts.TLSConfig
		if conf == nil {
			conf = &tls.Config{}
		}
		conf = conf.Clone()
		if conf.ServerName == "" {
			host, _, _ := net.SplitHostPort(pu.Host)
			conf.ServerName = host
		}
		tlsConn := tls.Client(conn, conf)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return conn, fmt.Errorf("connfsm: tls handshake failed: %w", err)
		}
		conn = tlsConn
	} else if br.Buffered() > 0 {
		leftover := make([]byte, br.Buffered())
		if _, err := io.ReadFull(br, leftover); err != nil {
			return conn, err
		}
		if _, err := m.parser.Feed(leftover); err != nil {
			return conn, err
		}
	}

	m.setState(StateConnecting)

	authOpts, err := m.mergeAuthOptions(pu)
	if err != nil {
		return conn, err
	}
	hs, err := auth.NewHandshake(authOpts)
	if err != nil {
		return conn, err
	}
	payload, err := hs.Build(info.Nonce)
	if err != nil {
		return conn, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return conn, err
	}

	m.setConn(conn)
	m.enqueue(sendbuf.KindConnect, wire.Connect(body))
	for _, sub := range m.registry.All() {
		m.enqueue(sendbuf.KindSub, wire.Sub(sub.Subject, sub.Queue, sub.Sid))
	}

	m.mu.Lock()
	wasConnected := m.wasConnected
	m.mu.Unlock()

	m.live.AwaitPong(func() {
		m.mu.Lock()
		m.connected = true
		m.wasConnected = true
		m.mu.Unlock()
		if m.opts.Metrics != nil {
			m.opts.Metrics.SetConnected(true)
		}
		if wasConnected {
			m.observer.OnReconnect()
		} else {
			m.observer.OnConnect()
		}
	})

	m.mu.Lock()
	m.infoReceived = true
	m.mu.Unlock()

	if err := m.flushNow(conn); err != nil {
		return conn, err
	}
	m.setState(StateConnected)
	return conn, nil
}

// mergeAuthOptions fills in auth fields the caller left unset from the
// URL's embedded userinfo, per spec.md §4.G.
func (m *Machine) mergeAuthOptions(pu *serverpool.ParsedURL) (auth.Options, error) {
	opts := m.opts.Auth
	if opts.User == "" && opts.Token == "" {
		switch {
		case pu.User != "":
			opts.User = pu.User
			opts.Pass = pu.Pass
		case pu.Token != "":
			opts.Token = pu.Token
		}
	}
	if opts.User != "" && opts.Token != "" {
		return opts, natserr.New(natserr.CodeBadAuthentication, "user/pass and token authentication are mutually exclusive")
	}
	return opts, nil
}

// ---- connected session -------------------------------------------------

func (m *Machine) runConnectedSession(conn net.Conn) {
	m.live.Start()
	flushCh := make(chan struct{}, 1)
	done := make(chan struct{})
	m.mu.Lock()
	m.flushCh = flushCh
	m.mu.Unlock()

	go m.flusherLoop(conn, flushCh, done)
	m.readLoop(conn)

	close(done)
	m.mu.Lock()
	m.flushCh = nil
	m.mu.Unlock()
	m.live.Stop()
	m.onSessionEnded()
}

func (m *Machine) readLoop(conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, perr := m.parser.Feed(buf[:n]); perr != nil {
				m.emitError(natserr.Wrap(natserr.CodeNatsProtocolErr, "parser error", perr))
				_ = conn.Close()
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *Machine) flusherLoop(conn net.Conn, flushCh <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-flushCh:
			if err := m.flushNow(conn); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (m *Machine) onSessionEnded() {
	m.mu.Lock()
	m.connected = false
	m.conn = nil
	wasConnected := m.wasConnected
	giveUp := m.closed || !m.opts.AllowReconnect ||
		(m.opts.MaxReconnectAttempts >= 0 && m.reconnects >= m.opts.MaxReconnectAttempts)
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.SetConnected(false)
	}
	m.observer.OnDisconnect()

	if giveUp {
		m.observer.OnClose()
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		return
	}
	if wasConnected {
		m.observer.OnReconnecting()
	}
}

// ---- outbound commands ---------------------------------------------------

func (m *Machine) enqueue(kind sendbuf.Kind, data string) {
	size, _ := m.sendBuf.Enqueue(sendbuf.Chunk{Kind: kind, Data: []byte(data)})
	m.kickFlusher()
	if size > sendbuf.FlushThreshold {
		if conn := m.getConn(); conn != nil {
			_ = m.flushNow(conn)
		}
	}
}

func (m *Machine) kickFlusher() {
	m.mu.Lock()
	ch := m.flushCh
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Machine) flushNow(conn net.Conn) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	chunks := m.sendBuf.Drain()
	if len(chunks) == 0 {
		return nil
	}
	if err := sendbuf.Flush(conn, chunks); err != nil {
		pending := m.sendBuf.Drain()
		m.sendBuf.Rebuild(append(append([]sendbuf.Chunk{}, chunks...), pending...))
		return err
	}
	return nil
}

func (m *Machine) sendPing() {
	m.enqueue(sendbuf.KindPing, wire.Ping())
}

func (m *Machine) onStale() {
	m.emitSilentReconnect()
}

// emitSilentReconnect closes the socket without surfacing an error event,
// per spec.md §7: a stale-connection condition "maps to reconnect, not
// surfaced".
func (m *Machine) emitSilentReconnect() {
	if conn := m.getConn(); conn != nil {
		_ = conn.Close()
	}
}

// Flush pushes an awaiter onto the pong-wait queue and enqueues a PING,
// invoking cb once the matching PONG arrives, i.e. once the server has
// ACKed everything enqueued so far (spec.md §5).
func (m *Machine) Flush(cb func(error)) {
	if m.isClosed() {
		if cb != nil {
			cb(natserr.New(natserr.CodeConnClosed, "connection is closed"))
		}
		return
	}
	m.live.AwaitPong(func() {
		if cb != nil {
			cb(nil)
		}
	})
}

// ---- public operations ---------------------------------------------------

// Publish enqueues a PUB command plus its payload chunk.
func (m *Machine) Publish(subject, reply string, payload []byte) error {
	if m.isClosed() {
		return natserr.New(natserr.CodeConnClosed, "connection is closed")
	}
	if subject == "" {
		return natserr.New(natserr.CodeBadSubject, "subject must not be empty")
	}
	header := wire.Pub(subject, reply, len(payload))
	m.enqueue(sendbuf.KindPub, header)

	body := make([]byte, 0, len(payload)+2)
	body = append(body, payload...)
	body = append(body, '\r', '\n')
	size, _ := m.sendBuf.Enqueue(sendbuf.Chunk{Kind: sendbuf.KindPub, Data: body, Binary: true})
	m.kickFlusher()
	if size > sendbuf.FlushThreshold {
		if conn := m.getConn(); conn != nil {
			_ = m.flushNow(conn)
		}
	}

	if m.opts.Metrics != nil {
		m.opts.Metrics.AddOutMsg(len(payload))
	}
	return nil
}

// Subscribe registers a new subscription and sends SUB.
func (m *Machine) Subscribe(subject, queue string, cb subs.Callback) (uint64, error) {
	if m.isClosed() {
		return 0, natserr.New(natserr.CodeConnClosed, "connection is closed")
	}
	if subject == "" {
		return 0, natserr.New(natserr.CodeBadSubject, "subject must not be empty")
	}
	sid := m.registry.NextSid()
	m.registry.Add(&subs.Subscription{Sid: sid, Subject: subject, Queue: queue, Callback: cb})
	m.enqueue(sendbuf.KindSub, wire.Sub(subject, queue, sid))
	if m.opts.Metrics != nil {
		m.opts.Metrics.IncrementSubscriptions()
	}
	m.observer.OnSubscribe(sid, subject, queue)
	return sid, nil
}

// Unsubscribe removes a subscription. max > 0 defers removal to the
// server-enforced auto-unsubscribe count, per spec.md §6 "UNSUB <sid>
// [<max>]".
func (m *Machine) Unsubscribe(sid uint64, max int) error {
	if m.isClosed() {
		return natserr.New(natserr.CodeConnClosed, "connection is closed")
	}
	if max > 0 {
		m.registry.SetMax(sid, uint64(max))
	} else {
		m.registry.Remove(sid)
		if m.opts.Metrics != nil {
			m.opts.Metrics.DecrementSubscriptions()
		}
	}
	m.enqueue(sendbuf.KindUnsub, wire.Unsub(sid, max))
	return nil
}

// SetSubTimeout arms a per-subscription timeout, per spec.md §5.
func (m *Machine) SetSubTimeout(sid uint64, d time.Duration, expected uint64, cb func()) {
	m.registry.SetTimeout(sid, d, expected, cb)
}

// ensureMux lazily creates the shared wildcard-inbox mux root, per
// spec.md §4.E createResponseMux.
func (m *Machine) ensureMux() *mux.Mux {
	m.muxOnce.Do(func() {
		root := "_INBOX." + nuid.Next()
		sid := m.registry.NextSid()
		m.muxRoot = mux.New(root, sid)
		m.registry.Add(&subs.Subscription{
			Sid:     sid,
			Subject: root + ".*",
			Callback: func(data any, reply, subject string, _ uint64) {
				m.muxRoot.Deliver(subject, data)
			},
		})
		m.enqueue(sendbuf.KindSub, wire.Sub(root+".*", "", sid))
	})
	return m.muxRoot
}

// Request publishes payload with a fresh mux reply inbox and returns the
// request's negative id, per spec.md §4.E.
func (m *Machine) Request(subject string, payload []byte, timeout time.Duration, expected uint64, cb mux.Callback) (int64, error) {
	if m.isClosed() {
		return 0, natserr.New(natserr.CodeConnClosed, "connection is closed")
	}
	root := m.ensureMux()
	token := nuid.Next()
	req := root.AddRequest(token, expected, cb)

	if timeout > 0 {
		root.ArmTimeout(req, timeout, func(r *mux.Request) {
			if cb != nil {
				cb(mux.Reply{Err: natserr.New(natserr.CodeReqTimeout, "request timed out")})
			}
		})
	}
	if err := m.Publish(subject, req.Inbox, payload); err != nil {
		root.Cancel(req.ID)
		return 0, err
	}
	return req.ID, nil
}

// CancelRequest maps to mux Cancel, per spec.md §4.E
// "unsubscribe(negativeId)".
func (m *Machine) CancelRequest(id int64) {
	if m.muxRoot != nil {
		m.muxRoot.Cancel(id)
	}
}

// ---- wire.Sink implementation -------------------------------------------

func (m *Machine) OnInfo(payload []byte) {
	if m.isClosed() {
		return
	}
	var info serverInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		m.emitError(natserr.Wrap(natserr.CodeBadJSON, "malformed gossip INFO", err))
		return
	}
	added := m.pool.ProcessServerUpdate(info.ConnectURLs)
	if len(added) > 0 {
		m.observer.OnServersDiscovered(added)
		m.observer.OnServers(added)
	}
}

func (m *Machine) OnMsg(subject string, sid uint64, reply string, payload []byte) {
	if m.isClosed() {
		return
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.AddInMsg(len(payload))
	}
	m.registry.Deliver(sid, reply, subject, payload)
}

func (m *Machine) OnPing() {
	if m.isClosed() {
		return
	}
	m.observer.OnPingTimer()
	m.enqueue(sendbuf.KindPong, wire.Pong())
}

func (m *Machine) OnPong() {
	if m.isClosed() {
		return
	}
	m.live.OnPong()
}

func (m *Machine) OnErr(text string) {
	if m.isClosed() {
		return
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "stale connection"):
		m.emitSilentReconnect()
	case strings.Contains(lower, "permissions violation"):
		m.observer.OnPermissionError(natserr.New(natserr.CodeNatsProtocolErr, text))
	default:
		m.observer.OnError(natserr.New(natserr.CodeNatsProtocolErr, text))
		m.emitSilentReconnect()
	}
}

// Package natscore is a client library for the NATS core publish/subscribe
// protocol: connection lifecycle, subject-based pub/sub, and request/reply
// messaging over a rotating pool of candidate servers. It is the public
// surface over internal/connfsm's connection state machine, matching the
// teacher's habit of keeping a thin, typed front door (karoo/internal/proxy.Proxy)
// over its internal machinery.
package natscore

import (
	"crypto/tls"
	"time"

	"github.com/coreclient/natscore/internal/auth"
	"github.com/coreclient/natscore/internal/connfsm"
	"github.com/coreclient/natscore/internal/metrics"
	"github.com/coreclient/natscore/internal/mux"
	"github.com/coreclient/natscore/pkg/logger"
	"github.com/coreclient/natscore/pkg/natserr"
)

// TLSMode re-exports connfsm.TLSMode so callers never import an internal
// package directly.
type TLSMode = connfsm.TLSMode

const (
	TLSOff              = connfsm.TLSOff
	TLSOn               = connfsm.TLSOn
	TLSOnWithCertConfig = connfsm.TLSOnWithCertConfig
)

// MsgHandler is the callback invoked for each delivered subscription
// message, per spec.md §4.D.
type MsgHandler func(msg *Msg)

// Msg is a delivered message, wrapping the registry callback's loose
// tuple into a typed record.
type Msg struct {
	Subject string
	Reply   string
	Sid     uint64
	Data    []byte
	// JSON holds the decoded value (or the decode error itself) when the
	// connection was built with WithJSON(true); nil otherwise.
	JSON any
}

// RequestReply is what a Request's callback receives.
type RequestReply struct {
	Data []byte
	JSON any
	Err  error
}

// Subscription is the caller-facing handle returned by Subscribe.
type Subscription struct {
	Sid     uint64
	Subject string
	Queue   string
	conn    *Conn
}

// Unsubscribe removes the subscription immediately.
func (s *Subscription) Unsubscribe() error {
	return s.conn.machine.Unsubscribe(s.Sid, 0)
}

// AutoUnsubscribe defers removal until max messages have been delivered,
// per spec.md §6 "UNSUB <sid> [<max>]".
func (s *Subscription) AutoUnsubscribe(max int) error {
	return s.conn.machine.Unsubscribe(s.Sid, max)
}

// SetTimeout arms a per-subscription timeout: if fewer than expected
// messages arrive within d, onTimeout fires once and the subscription is
// removed, per spec.md §5.
func (s *Subscription) SetTimeout(d time.Duration, expected uint64, onTimeout func()) {
	s.conn.machine.SetSubTimeout(s.Sid, d, expected, onTimeout)
}

// Observer receives connection lifecycle and protocol events, per
// spec.md §6 "Events emitted to the host application". Every method is
// optional to implement meaningfully; NoopObserver supplies harmless
// defaults callers can embed and override selectively.
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

// NoopObserver implements Observer with no-op methods; embed it to avoid
// writing out events a caller does not care about.
type NoopObserver struct{}

func (NoopObserver) OnConnect()                              {}
func (NoopObserver) OnReconnect()                            {}
func (NoopObserver) OnReconnecting()                         {}
func (NoopObserver) OnDisconnect()                           {}
func (NoopObserver) OnClose()                                {}
func (NoopObserver) OnError(err error)                       {}
func (NoopObserver) OnPermissionError(err error)             {}
func (NoopObserver) OnSubscribe(sid uint64, subject, q string) {}
func (NoopObserver) OnUnsubscribe(sid uint64, subject string) {}
func (NoopObserver) OnServers(urls []string)                 {}
func (NoopObserver) OnServersDiscovered(urls []string)       {}
func (NoopObserver) OnPingTimer()                            {}
func (NoopObserver) OnPingCount(pout int)                    {}

// Options configures a Conn, per spec.md §6 Connection Options / §4.H.
// Build it with Connect's functional options rather than populating the
// struct directly.
type Options struct {
	Servers              []string
	Randomize            bool
	AllowReconnect       bool
	MaxReconnectAttempts int
	ReconnectWait        time.Duration
	PingInterval         time.Duration
	MaxPingsOut          int
	Verbose              bool
	Pedantic             bool
	TLSMode              TLSMode
	TLSConfig            *tls.Config
	JSON                 bool
	Name                 string
	Auth                 auth.Options
	WaitOnFirstConnect   bool
	ProxyDialer          connfsm.Dialer
	DialTimeout          time.Duration
	Metrics              *metrics.Collector
	Logger               *logger.Logger
}

// Option mutates an Options record, per the REDESIGN FLAGS' replacement
// of the source's dynamic options object with a typed functional builder.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		AllowReconnect:       true,
		MaxReconnectAttempts: -1,
		ReconnectWait:        2 * time.Second,
		PingInterval:         2 * time.Minute,
		MaxPingsOut:          2,
		DialTimeout:          10 * time.Second,
		Logger:               logger.Default,
	}
}

func WithRandomize(v bool) Option            { return func(o *Options) { o.Randomize = v } }
func WithAllowReconnect(v bool) Option       { return func(o *Options) { o.AllowReconnect = v } }
func WithMaxReconnectAttempts(n int) Option  { return func(o *Options) { o.MaxReconnectAttempts = n } }
func WithReconnectWait(d time.Duration) Option { return func(o *Options) { o.ReconnectWait = d } }
func WithPingInterval(d time.Duration) Option  { return func(o *Options) { o.PingInterval = d } }
func WithMaxPingsOut(n int) Option           { return func(o *Options) { o.MaxPingsOut = n } }
func WithVerbose(v bool) Option              { return func(o *Options) { o.Verbose = v } }
func WithPedantic(v bool) Option             { return func(o *Options) { o.Pedantic = v } }
func WithTLSMode(m TLSMode) Option           { return func(o *Options) { o.TLSMode = m } }
func WithTLSConfig(c *tls.Config) Option     { return func(o *Options) { o.TLSConfig = c } }
func WithJSON(v bool) Option                 { return func(o *Options) { o.JSON = v } }
func WithName(name string) Option            { return func(o *Options) { o.Name = name } }
func WithUserPass(user, pass string) Option {
	return func(o *Options) { o.Auth.User = user; o.Auth.Pass = pass }
}
func WithToken(token string) Option { return func(o *Options) { o.Auth.Token = token } }
func WithNKey(nkey string, sig auth.Signer) Option {
	return func(o *Options) { o.Auth.NKey = nkey; o.Auth.SignatureCB = sig }
}
func WithUserJWT(jwt string) Option { return func(o *Options) { o.Auth.UserJWT = jwt } }
func WithJWTCallback(cb auth.JWTProvider) Option {
	return func(o *Options) { o.Auth.JWTCallback = cb }
}
func WithCredentials(data []byte) Option { return func(o *Options) { o.Auth.CredsData = data } }
func WithWaitOnFirstConnect(v bool) Option {
	return func(o *Options) { o.WaitOnFirstConnect = v }
}
func WithProxyDialer(d connfsm.Dialer) Option { return func(o *Options) { o.ProxyDialer = d } }
func WithDialTimeout(d time.Duration) Option  { return func(o *Options) { o.DialTimeout = d } }
func WithMetrics(m *metrics.Collector) Option { return func(o *Options) { o.Metrics = m } }
func WithLogger(l *logger.Logger) Option      { return func(o *Options) { o.Logger = l } }

// Conn is a connected (or connecting) NATS client. Build one with
// Connect.
type Conn struct {
	machine  *connfsm.Machine
	observer Observer
}

// observerAdapter bridges Observer to connfsm.Observer, and also pipes
// connectivity events through the configured logger, per the teacher's
// habit of logging every lifecycle transition (UpstreamManager's
// connect/disconnect log lines).
type observerAdapter struct {
	Observer
	log *logger.Logger
}

func (a observerAdapter) OnConnect() {
	a.log.Info("connected")
	a.Observer.OnConnect()
}
func (a observerAdapter) OnReconnect() {
	a.log.Info("reconnected")
	a.Observer.OnReconnect()
}
func (a observerAdapter) OnReconnecting() {
	a.log.Warn("reconnecting")
	a.Observer.OnReconnecting()
}
func (a observerAdapter) OnDisconnect() {
	a.log.Warn("disconnected")
	a.Observer.OnDisconnect()
}
func (a observerAdapter) OnClose() {
	a.log.Info("closed")
	a.Observer.OnClose()
}
func (a observerAdapter) OnError(err error) {
	a.log.Error("%v", err)
	a.Observer.OnError(err)
}
func (a observerAdapter) OnPermissionError(err error) {
	a.log.Error("%v", err)
	a.Observer.OnPermissionError(err)
}

// Connect builds a Conn over the given server URLs and starts dialing in
// the background. observer may be nil, in which case events are only
// logged. Connect never blocks on the network; use WithWaitOnFirstConnect
// plus an Observer.OnConnect to know when the first dial succeeds.
func Connect(servers []string, observer Observer, opts ...Option) (*Conn, error) {
	if len(servers) == 0 {
		return nil, natserr.New(natserr.CodeBadOptions, "at least one server URL is required")
	}
	o := defaultOptions()
	o.Servers = servers
	for _, apply := range opts {
		apply(&o)
	}
	if observer == nil {
		observer = NoopObserver{}
	}

	fsmOpts := connfsm.Options{
		Servers:              o.Servers,
		Randomize:            o.Randomize,
		AllowReconnect:       o.AllowReconnect,
		MaxReconnectAttempts: o.MaxReconnectAttempts,
		ReconnectWait:        o.ReconnectWait,
		PingInterval:         o.PingInterval,
		MaxPingsOut:          o.MaxPingsOut,
		Verbose:              o.Verbose,
		Pedantic:             o.Pedantic,
		TLSMode:              o.TLSMode,
		TLSConfig:            o.TLSConfig,
		JSON:                 o.JSON,
		Name:                 o.Name,
		Auth:                 o.Auth,
		WaitOnFirstConnect:   o.WaitOnFirstConnect,
		ProxyDialer:          o.ProxyDialer,
		DialTimeout:          o.DialTimeout,
		Metrics:              o.Metrics,
	}

	c := &Conn{observer: observer}
	c.machine = connfsm.New(fsmOpts, observerAdapter{Observer: observer, log: o.Logger})
	c.machine.Start()
	return c, nil
}

// Publish sends payload on subject with no reply-to address.
func (c *Conn) Publish(subject string, payload []byte) error {
	return c.machine.Publish(subject, "", payload)
}

// PublishRequest sends payload on subject with reply as the reply-to
// address, for callers implementing their own reply correlation instead
// of using Request.
func (c *Conn) PublishRequest(subject, reply string, payload []byte) error {
	return c.machine.Publish(subject, reply, payload)
}

// Subscribe registers cb to be invoked for every message delivered on
// subject.
func (c *Conn) Subscribe(subject string, cb MsgHandler) (*Subscription, error) {
	return c.subscribe(subject, "", cb)
}

// QueueSubscribe registers cb on subject within the given queue group, so
// only one queue member receives each message, per spec.md §3.
func (c *Conn) QueueSubscribe(subject, queue string, cb MsgHandler) (*Subscription, error) {
	return c.subscribe(subject, queue, cb)
}

func (c *Conn) subscribe(subject, queue string, cb MsgHandler) (*Subscription, error) {
	sub := &Subscription{Subject: subject, Queue: queue, conn: c}
	sid, err := c.machine.Subscribe(subject, queue, func(data any, reply, subj string, sid uint64) {
		if cb == nil {
			return
		}
		msg := &Msg{Subject: subj, Reply: reply, Sid: sid}
		if b, ok := data.([]byte); ok {
			msg.Data = b
		} else {
			msg.JSON = data
		}
		cb(msg)
	})
	if err != nil {
		return nil, err
	}
	sub.Sid = sid
	return sub, nil
}

// Request publishes payload and waits up to timeout for a single reply,
// per spec.md §4.E. It is a thin, idiomatic wrapper over the callback-
// based Mux machinery (§9 REDESIGN FLAGS: the concurrency primitive is a
// skin over the same token->callback mux).
func (c *Conn) Request(subject string, payload []byte, timeout time.Duration) (*RequestReply, error) {
	replyCh := make(chan RequestReply, 1)
	_, err := c.machine.Request(subject, payload, timeout, 1, func(r mux.Reply) {
		reply := RequestReply{Err: r.Err}
		if r.Data != nil {
			if b, ok := r.Data.([]byte); ok {
				reply.Data = b
			} else {
				reply.JSON = r.Data
			}
		}
		replyCh <- reply
	})
	if err != nil {
		return nil, err
	}
	reply := <-replyCh
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &reply, nil
}

// RequestMany publishes payload and streams up to expected replies (0 =
// unbounded until timeout) to cb, supporting the scatter-gather pattern
// of spec.md §4.E's Expected counter.
func (c *Conn) RequestMany(subject string, payload []byte, timeout time.Duration, expected uint64, cb func(RequestReply)) error {
	_, err := c.machine.Request(subject, payload, timeout, expected, func(r mux.Reply) {
		reply := RequestReply{Err: r.Err}
		if r.Data != nil {
			if b, ok := r.Data.([]byte); ok {
				reply.Data = b
			} else {
				reply.JSON = r.Data
			}
		}
		cb(reply)
	})
	return err
}

// Flush round-trips a PING/PONG so the caller knows every command
// enqueued before this call has reached the server, per spec.md §5.
func (c *Conn) Flush(timeout time.Duration) error {
	done := make(chan error, 1)
	c.machine.Flush(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return natserr.New(natserr.CodeConnErr, "flush timed out waiting for PONG")
	}
}

// Close tears the connection down immediately and permanently, per
// spec.md §5.
func (c *Conn) Close() { c.machine.Close() }

// State reports the connection FSM's current state, for diagnostics.
func (c *Conn) State() connfsm.State { return c.machine.State() }

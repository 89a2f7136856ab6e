// Package serverpool implements the ordered, rotating pool of candidate
// NATS endpoints described in spec.md §4.A. It is grounded on the
// teacher's internal/connection.Backoff helper and its UpstreamLoop
// failover-index cycling (core/internal/proxy/proxy.go), generalized from
// a two-slot primary/backups list into an arbitrary rotating pool with
// gossip-driven growth.
package serverpool

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Endpoint is one candidate server, per spec.md §3.
type Endpoint struct {
	URL         string
	DidConnect  bool
	Reconnects  int
	Implicit    bool
}

// Pool is the ordered, mutex-protected rotating list of Endpoints.
type Pool struct {
	mu      sync.Mutex
	servers []*Endpoint
	current *Endpoint
}

// New builds a Pool from the configured URL list. If randomize is true a
// Fisher-Yates shuffle is applied; explicitURL (if non-empty and not
// already present) is then prepended so it is always tried first.
func New(urls []string, explicitURL string, randomize bool) *Pool {
	p := &Pool{}
	for _, u := range urls {
		p.servers = append(p.servers, &Endpoint{URL: u})
	}
	if randomize {
		shuffle(p.servers)
	}
	if explicitURL != "" && !p.contains(explicitURL) {
		p.servers = append([]*Endpoint{{URL: explicitURL}}, p.servers...)
	}
	return p
}

func shuffle(s []*Endpoint) {
	for i := len(s) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

func (p *Pool) contains(u string) bool {
	for _, e := range p.servers {
		if e.URL == u {
			return true
		}
	}
	return false
}

// Len returns the number of known endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.servers)
}

// SelectServer pops the head of the list, marks it current, and pushes it
// to the tail for round-robin retry on a later reconnect.
func (p *Pool) SelectServer() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.servers) == 0 {
		return nil, fmt.Errorf("serverpool: no servers available")
	}
	e := p.servers[0]
	p.servers = append(p.servers[1:], e)
	p.current = e
	return e, nil
}

// PeekNext reports the endpoint the next SelectServer call would return,
// without rotating the list, so a reconnect scheduler can decide whether
// the candidate is cold (skip the reconnect wait) or previously connected
// (per spec.md §4.H scheduleReconnect).
func (p *Pool) PeekNext() (*Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.servers) == 0 {
		return nil, false
	}
	return p.servers[0], true
}

// Current returns the endpoint currently selected, or nil.
func (p *Pool) Current() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// MarkConnected records that the current endpoint completed a TCP dial at
// least once, per spec.md §3 Endpoint lifecycle.
func (p *Pool) MarkConnected(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.DidConnect = true
}

// RemoveInitialFailure purges an endpoint that never connected, per
// spec.md §4.H's socket-error handling: "if we had never connected and
// the current endpoint had never connected, remove it from the list".
func (p *Pool) RemoveInitialFailure(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.servers {
		if s == e {
			p.servers = append(p.servers[:i], p.servers[i+1:]...)
			return
		}
	}
}

// ProcessServerUpdate reconciles gossip-learned peers from an INFO frame's
// connect_urls, per spec.md §4.H processServerUpdate. It returns the URLs
// that were newly added, or nil if the set did not grow.
func (p *Pool) ProcessServerUpdate(connectURLs []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	incoming := make(map[string]bool, len(connectURLs))
	for _, u := range connectURLs {
		incoming[u] = true
	}

	// Drop implicit endpoints that are not current and are no longer
	// advertised.
	kept := p.servers[:0]
	for _, e := range p.servers {
		if e.Implicit && e != p.current && !incoming[e.URL] {
			continue
		}
		kept = append(kept, e)
	}
	p.servers = kept

	var added []string
	for u := range incoming {
		if p.contains(u) {
			continue
		}
		p.servers = append(p.servers, &Endpoint{URL: u, Implicit: true})
		added = append(added, u)
	}
	return added
}

// ParsedURL is a normalized view of a server URL: scheme, host:port, and
// any userinfo-embedded credentials, per spec.md §6 URL scheme.
type ParsedURL struct {
	Scheme string
	Host   string
	User   string
	Pass   string
	Token  string
	TLS    bool
}

// ParseURL applies the default scheme (nats://) and port (4222) and
// extracts userinfo credentials (user:pass@ or token@).
func ParseURL(raw string) (*ParsedURL, error) {
	if !strings.Contains(raw, "://") {
		raw = "nats://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("serverpool: invalid url %q: %w", raw, err)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host = host + ":4222"
	}
	pu := &ParsedURL{
		Scheme: u.Scheme,
		Host:   host,
		TLS:    u.Scheme == "tls",
	}
	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			pu.User = u.User.Username()
			pu.Pass = pass
		} else {
			pu.Token = u.User.Username()
		}
	}
	return pu, nil
}

// Backoff calculates a reconnect delay with jitter, grounded on the
// teacher's connection.Backoff.
func Backoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	mul := int64(1) << uint(rand.Intn(4)) // 1, 2, 4, 8
	d := time.Duration(int64(min) * mul)
	if d > max {
		d = max
	}
	return d + time.Duration(rand.Intn(250))*time.Millisecond
}

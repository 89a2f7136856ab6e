// Package proxysocks dials the connection FSM's server pool through an
// optional SOCKS5 proxy, satisfying connfsm.Dialer.
package proxysocks

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Config describes how to reach the configured NATS servers through a
// SOCKS5 proxy, loaded from the demo CLI's JSON config.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"` // optional authentication
	Password string `json:"password"` // optional authentication
}

// Dialer satisfies connfsm.Dialer, routing every dial through the
// configured SOCKS5 proxy, or straight to the network when disabled.
type Dialer struct {
	cfg    Config
	dialer proxy.Dialer
}

// New builds a Dialer from cfg. A disabled config falls back to a plain
// net.Dialer, so callers can always pass the result to
// natscore.WithProxyDialer without a conditional.
func New(cfg Config) (*Dialer, error) {
	if !cfg.Enabled {
		return &Dialer{cfg: cfg, dialer: &net.Dialer{Timeout: 10 * time.Second}}, nil
	}
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("proxysocks: host and port are required when the proxy is enabled")
	}

	addr := &url.URL{Scheme: "socks5", Host: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
	if cfg.Username != "" {
		addr.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	d, err := proxy.FromURL(addr, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxysocks: building SOCKS5 dialer: %w", err)
	}
	return &Dialer{cfg: cfg, dialer: d}, nil
}

// Dial implements connfsm.Dialer.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.dialer.Dial(network, address)
}

// Enabled reports whether this Dialer actually routes through a proxy.
func (d *Dialer) Enabled() bool { return d.cfg.Enabled }

// Address returns "host:port" of the configured proxy, or "" when disabled.
func (d *Dialer) Address() string {
	if !d.cfg.Enabled {
		return ""
	}
	return fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
}

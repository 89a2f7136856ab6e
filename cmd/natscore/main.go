// natscore demo client - connects, subscribes, and periodically publishes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	natscore "github.com/coreclient/natscore"
	"github.com/coreclient/natscore/internal/metrics"
	"github.com/coreclient/natscore/internal/proxysocks"
	"github.com/coreclient/natscore/pkg/logger"
)

type config struct {
	Servers []string `json:"servers"`
	Subject string   `json:"subject"`
	Name    string   `json:"name"`
	Auth    struct {
		User  string `json:"user"`
		Pass  string `json:"pass"`
		Token string `json:"token"`
	} `json:"auth"`
	PingIntervalMs  int64             `json:"ping_interval_ms"`
	MaxPingsOut     int               `json:"max_pings_out"`
	ReconnectWaitMs int64             `json:"reconnect_wait_ms"`
	MetricsListen   string            `json:"metrics_listen"`
	Proxy           proxysocks.Config `json:"socks_proxy"`
}

func main() {
	cfgFile := flag.String("config", "config.json", "Path to configuration file")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println("natscore v1.0.0")
		os.Exit(0)
	}

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		logger.Error("failed to load config: %v", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	if cfg.MetricsListen != "" {
		collector.EnablePrometheus("natscore")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving prometheus metrics on %s/metrics", cfg.MetricsListen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &demoObserver{subject: cfg.Subject}

	opts := []natscore.Option{
		natscore.WithName(cfg.Name),
		natscore.WithPingInterval(time.Duration(cfg.PingIntervalMs) * time.Millisecond),
		natscore.WithMaxPingsOut(cfg.MaxPingsOut),
		natscore.WithReconnectWait(time.Duration(cfg.ReconnectWaitMs) * time.Millisecond),
		natscore.WithMetrics(collector),
	}
	if cfg.Auth.Token != "" {
		opts = append(opts, natscore.WithToken(cfg.Auth.Token))
	} else if cfg.Auth.User != "" {
		opts = append(opts, natscore.WithUserPass(cfg.Auth.User, cfg.Auth.Pass))
	}
	if cfg.Proxy.Enabled {
		dialer, err := proxysocks.New(cfg.Proxy)
		if err != nil {
			logger.Error("failed to configure socks proxy: %v", err)
			os.Exit(1)
		}
		logger.Info("dialing servers through socks5 proxy at %s", dialer.Address())
		opts = append(opts, natscore.WithProxyDialer(dialer))
	}

	conn, err := natscore.Connect(cfg.Servers, obs, opts...)
	if err != nil {
		logger.Error("failed to start connection: %v", err)
		os.Exit(1)
	}

	if _, err := conn.Subscribe(cfg.Subject, func(msg *natscore.Msg) {
		logger.Info("received on %s: %s", msg.Subject, string(msg.Data))
	}); err != nil {
		logger.Error("subscribe failed: %v", err)
	}

	go publishLoop(ctx, conn, cfg.Subject)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")

	cancel()
	conn.Close()
	time.Sleep(200 * time.Millisecond)
	logger.Info("shutdown complete")
}

func publishLoop(ctx context.Context, conn *natscore.Conn, subject string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Publish(subject, []byte("heartbeat")); err != nil {
				logger.Error("publish failed: %v", err)
			}
		}
	}
}

type demoObserver struct {
	natscore.NoopObserver
	subject string
}

func (d *demoObserver) OnConnect()    { logger.Info("connected") }
func (d *demoObserver) OnReconnect()  { logger.Info("reconnected") }
func (d *demoObserver) OnDisconnect() { logger.Warn("disconnected") }
func (d *demoObserver) OnError(err error) {
	logger.Error("connection error: %v", err)
}
func (d *demoObserver) OnServersDiscovered(urls []string) {
	logger.Info("discovered new servers via gossip: %v", urls)
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{"nats://127.0.0.1:4222"}
	}
	if cfg.Subject == "" {
		cfg.Subject = "natscore.demo"
	}
	if cfg.Name == "" {
		cfg.Name = "natscore-demo"
	}
	if cfg.PingIntervalMs == 0 {
		cfg.PingIntervalMs = 120000
	}
	if cfg.MaxPingsOut == 0 {
		cfg.MaxPingsOut = 2
	}
	if cfg.ReconnectWaitMs == 0 {
		cfg.ReconnectWaitMs = 2000
	}

	if cfg.Auth.User != "" && cfg.Auth.Token != "" {
		return nil, fmt.Errorf("auth.user and auth.token are mutually exclusive")
	}

	return &cfg, nil
}

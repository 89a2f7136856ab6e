package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{})
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0] != "nats://127.0.0.1:4222" {
		t.Fatalf("Servers = %v", cfg.Servers)
	}
	if cfg.Subject != "natscore.demo" {
		t.Fatalf("Subject = %q", cfg.Subject)
	}
	if cfg.PingIntervalMs != 120000 || cfg.MaxPingsOut != 2 || cfg.ReconnectWaitMs != 2000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigRejectsUserAndTokenTogether(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"auth": map[string]any{"user": "alice", "token": "tok"},
	})
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected an error when both user and token auth are configured")
	}
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadConfigPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"servers": []string{"nats://a:4222", "nats://b:4222"},
		"subject": "orders.>",
		"name":    "order-service",
	})
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Servers) != 2 || cfg.Subject != "orders.>" || cfg.Name != "order-service" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

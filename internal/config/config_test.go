package config

import (
	"testing"
	"time"
)

func TestDeriveSocketURL(t *testing.T) {
	cases := []struct{ base, want string }{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"http://localhost:8080/", "ws://localhost:8080/ws"},
		{"https://seats.example.com", "wss://seats.example.com/ws"},
	}
	for _, c := range cases {
		if got := deriveSocketURL(c.base); got != c.want {
			t.Errorf("deriveSocketURL(%q) = %q, want %q", c.base, got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SEAT_SERVER_URL", "http://localhost:8080")
	cfg := Load()
	if cfg.SocketURL != "ws://localhost:8080/ws" {
		t.Errorf("SocketURL = %q", cfg.SocketURL)
	}
	if cfg.Heartbeat != 10*time.Second {
		t.Errorf("Heartbeat = %s", cfg.Heartbeat)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffMax != 30*time.Second {
		t.Errorf("backoff = %s..%s", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.MaxReconnects != 10 {
		t.Errorf("MaxReconnects = %d", cfg.MaxReconnects)
	}
	if cfg.CommandTries != 3 || cfg.CommandRetry != 500*time.Millisecond {
		t.Errorf("commands = %d x %s", cfg.CommandTries, cfg.CommandRetry)
	}
	if cfg.RefreshEvery != 5*time.Second || cfg.DeepSyncEvery != 15*time.Second {
		t.Errorf("cadence = %s / %s", cfg.RefreshEvery, cfg.DeepSyncEvery)
	}
	if cfg.StaleAfter != 2*time.Minute {
		t.Errorf("StaleAfter = %s", cfg.StaleAfter)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SEAT_SERVER_URL", "http://localhost:8080")
	t.Setenv("SEAT_SOCKET_URL", "ws://other:9090/socket")
	t.Setenv("RECONNECT_ATTEMPTS", "4")
	t.Setenv("COMMAND_RETRY_MS", "250")
	t.Setenv("HEARTBEAT_SEC", "not-a-number") // falls back to the default
	cfg := Load()
	if cfg.SocketURL != "ws://other:9090/socket" {
		t.Errorf("SocketURL = %q", cfg.SocketURL)
	}
	if cfg.MaxReconnects != 4 {
		t.Errorf("MaxReconnects = %d", cfg.MaxReconnects)
	}
	if cfg.CommandRetry != 250*time.Millisecond {
		t.Errorf("CommandRetry = %s", cfg.CommandRetry)
	}
	if cfg.Heartbeat != 10*time.Second {
		t.Errorf("malformed override not defaulted: %s", cfg.Heartbeat)
	}
}

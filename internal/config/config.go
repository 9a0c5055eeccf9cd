package config // package config loads engine configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the sync engine.  Each field
// corresponds to an environment variable.  Only the seat-server base URL is
// required; everything else has a default tuned to the server's hold and
// push cadence.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	ServerBaseURL string        // HTTP base of the seat server, e.g. http://localhost:8080
	SocketURL     string        // websocket endpoint; derived from ServerBaseURL when unset
	AccessToken   string        // optional JWT access token identifying the user
	Heartbeat     time.Duration // interval for ping frames in both directions
	BackoffBase   time.Duration // first reconnect delay
	BackoffMax    time.Duration // reconnect delay cap
	MaxReconnects int           // reconnect attempts before giving up
	CommandRetry  time.Duration // delay between command send attempts
	CommandTries  int           // total command send attempts
	RefreshEvery  time.Duration // full-refresh cadence
	VerifyMinGap  time.Duration // selection-verification throttle window
	DeepSyncEvery time.Duration // deep-sync cadence
	StaleAfter    time.Duration // connection age that forces a reconnect
}

// Load reads configuration from the environment.  SEAT_SERVER_URL is
// required and enforced by must(); missing it exits with a fatal log
// message, the same contract the rest of the project uses for mandatory
// settings.
func Load() Config {
	base := must("SEAT_SERVER_URL")
	return Config{
		Env:           getenv("APP_ENV", "dev"),
		ServerBaseURL: base,
		SocketURL:     getenv("SEAT_SOCKET_URL", deriveSocketURL(base)),
		AccessToken:   os.Getenv("ACCESS_TOKEN"),
		Heartbeat:     seconds("HEARTBEAT_SEC", 10),
		BackoffBase:   seconds("RECONNECT_BASE_SEC", 1),
		BackoffMax:    seconds("RECONNECT_MAX_SEC", 30),
		MaxReconnects: getint("RECONNECT_ATTEMPTS", 10),
		CommandRetry:  millis("COMMAND_RETRY_MS", 500),
		CommandTries:  getint("COMMAND_ATTEMPTS", 3),
		RefreshEvery:  seconds("REFRESH_SEC", 5),
		VerifyMinGap:  seconds("VERIFY_MIN_GAP_SEC", 2),
		DeepSyncEvery: seconds("DEEP_SYNC_SEC", 15),
		StaleAfter:    seconds("STALE_CONN_SEC", 120),
	}
}

// deriveSocketURL turns an http(s) base URL into the matching ws(s)
// endpoint at /ws.
func deriveSocketURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// must retrieves a required environment variable.  If the variable is unset
// or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// getenv returns the variable's value or the given default when unset.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getint parses an integer variable, falling back to the default on absence
// or a malformed value.
func getint(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("config: invalid int for %s: %q, using %d", key, s, def)
		return def
	}
	return n
}

func seconds(key string, def int) time.Duration {
	return time.Duration(getint(key, def)) * time.Second
}

func millis(key string, def int) time.Duration {
	return time.Duration(getint(key, def)) * time.Millisecond
}

package feast

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries the tunables every component reads. Values come from the
// environment with defaults matching the original deployment.
type Config struct {
	// BaseURL is the API host, e.g. http://127.0.0.1:8000. REST calls are
	// served under <BaseURL>/api, websocket routes at the root.
	BaseURL string

	HTTPTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PollInterval      time.Duration

	// TokenPath is the directory for the persisted token blob. Empty means
	// in-memory only (no survival across restarts).
	TokenPath string
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() Config {
	cfg := Config{
		BaseURL:           "http://127.0.0.1:8000",
		HTTPTimeout:       10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    2 * time.Second,
		PollInterval:      15 * time.Second,
		TokenPath:         os.Getenv("FEAST_TOKEN_PATH"),
	}

	if v := os.Getenv("FEAST_API_BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("FEAST_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = d
		}
	}
	if v := os.Getenv("FEAST_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectAttempts = n
		}
	}
	if v := os.Getenv("FEAST_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectDelay = d
		}
	}
	if v := os.Getenv("FEAST_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}

	return cfg
}

// APIBaseURL returns the REST prefix (the /api mount of the original server).
func (c Config) APIBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api"
}

// WebSocketBaseURL rewrites the API host scheme for websocket dialing:
// http -> ws, https -> wss. Channel routes are served at the root, no /api.
func (c Config) WebSocketBaseURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Browser backends.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config holds all tunables for the session service.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// Backend selects how Chrome is provisioned: "local" launches a
	// process on this host, "docker" runs it in a container.
	Backend string

	// ChromePath overrides the Chrome executable for the local backend.
	// Empty means let the launcher resolve it.
	ChromePath string

	// DockerImage is the headless Chrome image for the docker backend.
	DockerImage string

	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string

	// LoginURL is where freshly created sessions navigate first.
	LoginURL string

	// NavigationTimeout bounds the initial login-page navigation.
	NavigationTimeout time.Duration

	// ActionTimeout bounds a single relayed DOM action.
	ActionTimeout time.Duration

	// ManualActionTimeout replaces ActionTimeout while manual mode is on.
	ManualActionTimeout time.Duration

	// IdleTimeout is how long a session may sit without activity before
	// the registry closes it.
	IdleTimeout time.Duration

	// MaxSessions caps concurrent browser processes across all users.
	MaxSessions int64
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() (Config, error) {
	cfg := Config{
		Addr:                envStr("LINKPILOT_ADDR", ":8080"),
		Backend:             envStr("LINKPILOT_BROWSER_BACKEND", BackendLocal),
		ChromePath:          os.Getenv("LINKPILOT_CHROME_PATH"),
		DockerImage:         envStr("LINKPILOT_CHROME_IMAGE", "browserless/chrome:latest"),
		Headless:            envBool("LINKPILOT_HEADLESS", true),
		ViewportWidth:       envInt("LINKPILOT_VIEWPORT_WIDTH", 1366),
		ViewportHeight:      envInt("LINKPILOT_VIEWPORT_HEIGHT", 768),
		UserAgent:           envStr("LINKPILOT_USER_AGENT", defaultUserAgent),
		LoginURL:            envStr("LINKPILOT_LOGIN_URL", "https://www.linkedin.com/login"),
		NavigationTimeout:   envDuration("LINKPILOT_NAV_TIMEOUT", 60*time.Second),
		ActionTimeout:       envDuration("LINKPILOT_ACTION_TIMEOUT", 30*time.Second),
		ManualActionTimeout: envDuration("LINKPILOT_MANUAL_TIMEOUT", 5*time.Minute),
		IdleTimeout:         envDuration("LINKPILOT_IDLE_TIMEOUT", 20*time.Minute),
		MaxSessions:         int64(envInt("LINKPILOT_MAX_SESSIONS", 25)),
	}

	if cfg.Backend != BackendLocal && cfg.Backend != BackendDocker {
		return Config{}, fmt.Errorf("config: unknown browser backend %q", cfg.Backend)
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		return Config{}, fmt.Errorf("config: invalid viewport %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("config: max sessions must be positive")
	}
	return cfg, nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Agent     AgentConfig
	Executor  ExecutorConfig
	Recovery  RecoveryConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the per-session Rod browser processes.
type BrowserConfig struct {
	// Headless controls the default browser visibility.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// DefaultProxy is the proxy URL applied to every session.
	DefaultProxy string

	// MaxSessions caps the number of concurrently open sessions. The cap is
	// advisory for callers batching parallel runs; the runner itself does
	// not enforce it.
	MaxSessions int // default: 10
}

// AgentConfig controls the LLM reasoning backend.
type AgentConfig struct {
	// BaseURL of the OpenAI-compatible chat completions API.
	BaseURL string // default: "https://api.openai.com/v1"

	// APIKey authenticates against the backend.
	APIKey string

	// Model is the chat model identifier.
	Model string // default: "gpt-4o-mini"

	// RequestsPerSecond throttles calls to the backend.
	RequestsPerSecond float64 // default: 2

	// Burst is the backend call burst size.
	Burst int // default: 4
}

// ExecutorConfig controls task execution bounds.
type ExecutorConfig struct {
	// DefaultTimeout is the per-task timeout applied when a request omits one.
	DefaultTimeout time.Duration // default: 180s

	// MaxTimeout is the maximum per-task timeout a request may ask for.
	MaxTimeout time.Duration // default: 600s
}

// RecoveryConfig controls challenge detection and the one-shot retry.
type RecoveryConfig struct {
	// Keyword is the case-insensitive substring matched against visited URLs.
	Keyword string // default: "captcha"

	// Wait is the countdown before the single retry.
	Wait time.Duration // default: 60s

	// NotifyInterval is how often remaining wait time is reported.
	NotifyInterval time.Duration // default: 10s

	// WebhookURL, when set, receives challenge_wait notifications.
	WebhookURL string

	// WebhookSecret signs webhook payloads when non-empty.
	WebhookSecret string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("BRAIN_HOST", "0.0.0.0"),
			Port: envIntOr("BRAIN_PORT", 8080),
			Mode: envOr("BRAIN_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("BRAIN_HEADLESS", true),
			NoSandbox:    envBoolOr("BRAIN_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("BRAIN_BROWSER_BIN"),
			DefaultProxy: os.Getenv("BRAIN_PROXY"),
			MaxSessions:  envIntOr("BRAIN_MAX_SESSIONS", 10),
		},
		Agent: AgentConfig{
			BaseURL:           envOr("BRAIN_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:            os.Getenv("BRAIN_LLM_API_KEY"),
			Model:             envOr("BRAIN_LLM_MODEL", "gpt-4o-mini"),
			RequestsPerSecond: envFloatOr("BRAIN_LLM_RPS", 2.0),
			Burst:             envIntOr("BRAIN_LLM_BURST", 4),
		},
		Executor: ExecutorConfig{
			DefaultTimeout: envDurationOr("BRAIN_DEFAULT_TIMEOUT", 180*time.Second),
			MaxTimeout:     envDurationOr("BRAIN_MAX_TIMEOUT", 600*time.Second),
		},
		Recovery: RecoveryConfig{
			Keyword:        envOr("BRAIN_CHALLENGE_KEYWORD", "captcha"),
			Wait:           envDurationOr("BRAIN_CHALLENGE_WAIT", 60*time.Second),
			NotifyInterval: envDurationOr("BRAIN_CHALLENGE_NOTIFY_INTERVAL", 10*time.Second),
			WebhookURL:     os.Getenv("BRAIN_RECOVERY_WEBHOOK_URL"),
			WebhookSecret:  os.Getenv("BRAIN_RECOVERY_WEBHOOK_SECRET"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("BRAIN_AUTH_ENABLED", true),
			APIKeys: envSliceOr("BRAIN_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("BRAIN_RATE_RPS", 5.0),
			Burst:             envIntOr("BRAIN_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("BRAIN_LOG_LEVEL", "info"),
			Format: envOr("BRAIN_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

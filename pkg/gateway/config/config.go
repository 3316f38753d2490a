package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2025-06-03"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// OpenAIAPIKey may be empty at startup; /api/session reports it per request.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	RealtimeModel string

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	// LimitSessionsPerMinute caps ephemeral realtime keys minted per principal.
	LimitSessionsPerMinute     int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
	UpstreamTimeout               time.Duration

	MetricsNamespace string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("VAI_AGENTS_ADDR", ":3000"),
		AuthMode:                      AuthMode(envOr("VAI_AGENTS_AUTH_MODE", string(AuthModeOptional))),
		APIKeys:                       make(map[string]struct{}),
		OpenAIAPIKey:                  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:                 strings.TrimRight(envOr("VAI_AGENTS_OPENAI_BASE_URL", DefaultOpenAIBaseURL), "/"),
		RealtimeModel:                 envOr("VAI_AGENTS_REALTIME_MODEL", DefaultRealtimeModel),
		MaxBodyBytes:                  envInt64Or("VAI_AGENTS_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:            make(map[string]struct{}),
		LimitRPS:                      envFloat64Or("VAI_AGENTS_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                    envIntOr("VAI_AGENTS_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests:    envIntOr("VAI_AGENTS_MAX_CONCURRENT_REQUESTS", 20),
		LimitSessionsPerMinute:        envIntOr("VAI_AGENTS_SESSIONS_PER_MINUTE", 10),
		ReadHeaderTimeout:             envDurationOr("VAI_AGENTS_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("VAI_AGENTS_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("VAI_AGENTS_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:           envDurationOr("VAI_AGENTS_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("VAI_AGENTS_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("VAI_AGENTS_RESPONSE_HEADER_TIMEOUT", 60*time.Second),
		UpstreamTimeout:               envDurationOr("VAI_AGENTS_UPSTREAM_TIMEOUT", 90*time.Second),
		MetricsNamespace:              envOr("VAI_AGENTS_METRICS_NAMESPACE", "vai_agents"),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_AGENTS_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VAI_AGENTS_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("VAI_AGENTS_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if u, err := url.Parse(cfg.OpenAIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_OPENAI_BASE_URL must be an absolute URL")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("VAI_AGENTS_REALTIME_MODEL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_UPSTREAM_TIMEOUT must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitSessionsPerMinute < 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_SESSIONS_PER_MINUTE must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_AGENTS_API_KEYS must be set when VAI_AGENTS_AUTH_MODE=required")
	}

	return cfg, nil
}

// LimitsEnabled reports whether any per-principal limit is active.
func (c Config) LimitsEnabled() bool {
	return (c.LimitRPS > 0 && c.LimitBurst > 0) || c.LimitMaxConcurrentRequests > 0 || c.LimitSessionsPerMinute > 0
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

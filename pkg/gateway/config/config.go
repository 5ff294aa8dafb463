// Package config loads gateway configuration from the environment and
// validates it up front so a misconfigured process fails at startup, not on
// the first request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AdminAuthMode string

const (
	AdminAuthRequired AdminAuthMode = "required"
	AdminAuthDisabled AdminAuthMode = "disabled"
)

type Config struct {
	Addr string

	// Admin surface: a single shared secret exchanged for a session token.
	// Deliberately not an identity system; the admin API is a back office
	// for one studio.
	AdminAuthMode AdminAuthMode
	AdminSecret   string

	// Postgres connection string for the CRM store.
	DatabaseURL string

	// Gemini upstream.
	GeminiAPIKey string
	ChatModel    string
	LiveModel    string

	// Stripe invoice sending; empty disables the send flow.
	StripeAPIKey string

	MaxBodyBytes int64

	// Chat request-shape limits.
	ChatMaxHistoryMessages int
	ChatMaxMessageBytes    int64
	ChatTimeout            time.Duration

	// CORS: empty means disabled.
	CORSAllowedOrigins map[string]struct{}

	// Live WebSocket mode (/v1/live).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveHandshakeTimeout    time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSPingInterval      time.Duration
	LiveMaxSessionDuration  time.Duration
	LiveMaxSessions         int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("STUDIO_ADDR", ":8080"),
		AdminAuthMode:           AdminAuthMode(envOr("STUDIO_ADMIN_AUTH_MODE", string(AdminAuthRequired))),
		AdminSecret:             strings.TrimSpace(os.Getenv("STUDIO_ADMIN_SECRET")),
		DatabaseURL:             strings.TrimSpace(os.Getenv("STUDIO_DATABASE_URL")),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("STUDIO_GEMINI_API_KEY")),
		ChatModel:               envOr("STUDIO_CHAT_MODEL", "gemini-2.5-flash"),
		LiveModel:               envOr("STUDIO_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		StripeAPIKey:            strings.TrimSpace(os.Getenv("STUDIO_STRIPE_API_KEY")),
		MaxBodyBytes:            envInt64Or("STUDIO_MAX_BODY_BYTES", 1<<20), // 1 MiB
		ChatMaxHistoryMessages:  envIntOr("STUDIO_CHAT_MAX_HISTORY", 64),
		ChatMaxMessageBytes:     envInt64Or("STUDIO_CHAT_MAX_MESSAGE_BYTES", 16<<10),
		ChatTimeout:             envDurationOr("STUDIO_CHAT_TIMEOUT", 2*time.Minute),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxAudioFrameBytes:  envIntOr("STUDIO_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes: envInt64Or("STUDIO_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveHandshakeTimeout:    envDurationOr("STUDIO_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveWSWriteTimeout:      envDurationOr("STUDIO_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:      envDurationOr("STUDIO_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveMaxSessionDuration:  envDurationOr("STUDIO_LIVE_MAX_DURATION", 30*time.Minute),
		LiveMaxSessions:         envIntOr("STUDIO_LIVE_MAX_SESSIONS", 16),
		ReadHeaderTimeout:       envDurationOr("STUDIO_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("STUDIO_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("STUDIO_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AdminAuthMode {
	case AdminAuthRequired, AdminAuthDisabled:
	default:
		return Config{}, fmt.Errorf("STUDIO_ADMIN_AUTH_MODE must be one of required|disabled")
	}
	if cfg.AdminAuthMode == AdminAuthRequired && cfg.AdminSecret == "" {
		return Config{}, fmt.Errorf("STUDIO_ADMIN_SECRET must be set when STUDIO_ADMIN_AUTH_MODE=required")
	}

	for _, origin := range splitCSV(os.Getenv("STUDIO_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("STUDIO_DATABASE_URL must be set")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("STUDIO_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return Config{}, fmt.Errorf("STUDIO_CHAT_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("STUDIO_LIVE_MODEL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("STUDIO_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ChatMaxHistoryMessages <= 0 {
		return Config{}, fmt.Errorf("STUDIO_CHAT_MAX_HISTORY must be > 0")
	}
	if cfg.ChatMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("STUDIO_CHAT_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ChatTimeout <= 0 {
		return Config{}, fmt.Errorf("STUDIO_CHAT_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.LiveMaxSessions <= 0 {
		return Config{}, fmt.Errorf("STUDIO_LIVE_MAX_SESSIONS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("STUDIO_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("STUDIO_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("STUDIO_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
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

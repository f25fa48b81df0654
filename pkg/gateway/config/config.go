package config

import (
	"fmt"
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

// AnonymousUserID is the tenant used when a request carries no API key and
// auth is not required.
const AnonymousUserID = "anonymous"

type Config struct {
	Addr string

	AuthMode AuthMode
	// APIKeys maps bearer keys to the user id they act as.
	APIKeys map[string]string

	// If true, client identity may be derived from proxy headers like
	// X-Forwarded-For. Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// Postgres DSN; empty means the in-memory store.
	DatabaseURL string

	// Upstream providers.
	GeminiAPIKey    string
	GeminiModel     string
	CartesiaAPIKey  string
	CartesiaVoiceID string

	// Live WebSocket mode (/v1/voice).
	MaxBufferBytes     int64
	MaxMessageBytes    int64
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	WSReadTimeout      time.Duration
	TurnTimeout        time.Duration
	ToolTimeout        time.Duration
	MaxToolCalls       int
	MaxSessionsPerUser int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Logging and telemetry.
	LogPath         string // empty => stdout only
	LogMaxSizeMB    int
	LogMaxBackups   int
	LogMaxAgeDays   int
	TelemetryStdout bool
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("JOBTRACK_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("JOBTRACK_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:             make(map[string]string),
		TrustProxyHeaders:   envBoolOr("JOBTRACK_TRUST_PROXY_HEADERS", false),
		DatabaseURL:         strings.TrimSpace(os.Getenv("JOBTRACK_DATABASE_URL")),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("JOBTRACK_GEMINI_API_KEY")),
		GeminiModel:         envOr("JOBTRACK_GEMINI_MODEL", "gemini-2.0-flash"),
		CartesiaAPIKey:      strings.TrimSpace(os.Getenv("JOBTRACK_CARTESIA_API_KEY")),
		CartesiaVoiceID:     strings.TrimSpace(os.Getenv("JOBTRACK_CARTESIA_VOICE_ID")),
		MaxBufferBytes:      envInt64Or("JOBTRACK_MAX_BUFFER_BYTES", 10<<20), // ~3.5 min at 24kHz 16-bit mono
		MaxMessageBytes:     envInt64Or("JOBTRACK_MAX_MESSAGE_BYTES", 1<<20),
		WSPingInterval:      envDurationOr("JOBTRACK_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("JOBTRACK_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("JOBTRACK_WS_READ_TIMEOUT", 90*time.Second),
		TurnTimeout:         envDurationOr("JOBTRACK_TURN_TIMEOUT", 60*time.Second),
		ToolTimeout:         envDurationOr("JOBTRACK_TOOL_TIMEOUT", 10*time.Second),
		MaxToolCalls:        envIntOr("JOBTRACK_MAX_TOOL_CALLS", 8),
		MaxSessionsPerUser:  envIntOr("JOBTRACK_MAX_SESSIONS_PER_USER", 2),
		CORSAllowedOrigins:  make(map[string]struct{}),
		ReadHeaderTimeout:   envDurationOr("JOBTRACK_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("JOBTRACK_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("JOBTRACK_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogPath:             strings.TrimSpace(os.Getenv("JOBTRACK_LOG_PATH")),
		LogMaxSizeMB:        envIntOr("JOBTRACK_LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:       envIntOr("JOBTRACK_LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:       envIntOr("JOBTRACK_LOG_MAX_AGE_DAYS", 14),
		TelemetryStdout:     envBoolOr("JOBTRACK_TELEMETRY_STDOUT", false),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("JOBTRACK_AUTH_MODE must be one of required|optional|disabled")
	}

	// JOBTRACK_API_KEYS is "key=user" pairs; a bare key acts as its own user.
	for _, pair := range splitCSV(os.Getenv("JOBTRACK_API_KEYS")) {
		key, user, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		user = strings.TrimSpace(user)
		if key == "" {
			continue
		}
		if !found || user == "" {
			user = key
		}
		cfg.APIKeys[key] = user
	}

	for _, origin := range splitCSV(os.Getenv("JOBTRACK_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBufferBytes <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_MAX_BUFFER_BYTES must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("JOBTRACK_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_TURN_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_TOOL_TIMEOUT must be > 0")
	}
	if cfg.MaxToolCalls <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_MAX_TOOL_CALLS must be > 0")
	}
	if cfg.MaxSessionsPerUser <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_MAX_SESSIONS_PER_USER must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.LogMaxSizeMB <= 0 {
		return Config{}, fmt.Errorf("JOBTRACK_LOG_MAX_SIZE_MB must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("JOBTRACK_API_KEYS must be set when JOBTRACK_AUTH_MODE=required")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("JOBTRACK_GEMINI_API_KEY must be set")
	}
	if cfg.CartesiaAPIKey == "" {
		return Config{}, fmt.Errorf("JOBTRACK_CARTESIA_API_KEY must be set")
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

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
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

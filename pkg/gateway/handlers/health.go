package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jobtrack-ai/jobtrack/pkg/gateway/config"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		AuthMode string   `json:"auth_mode"`
		Draining bool     `json:"draining"`
		Store    string   `json:"store"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if h.Config.CartesiaAPIKey == "" {
		issues = append(issues, "cartesia api key is not configured")
	}
	if h.Config.MaxBufferBytes <= 0 {
		issues = append(issues, "max buffer bytes must be > 0")
	}
	if h.Config.MaxMessageBytes <= 0 {
		issues = append(issues, "max message bytes must be > 0")
	}
	if h.Config.MaxToolCalls <= 0 {
		issues = append(issues, "max tool calls must be > 0")
	}
	if h.Config.MaxSessionsPerUser <= 0 {
		issues = append(issues, "max sessions per user must be > 0")
	}
	if h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 || h.Config.WSReadTimeout <= 0 {
		issues = append(issues, "websocket timeouts must be > 0")
	}
	if h.Config.TurnTimeout <= 0 || h.Config.ToolTimeout <= 0 {
		issues = append(issues, "turn and tool timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "server timeouts must be > 0")
	}

	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	store := "memory"
	if h.Config.DatabaseURL != "" {
		store = "postgres"
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		AuthMode: string(h.Config.AuthMode),
		Draining: draining,
		Store:    store,
		Issues:   issues,
	})
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/auth"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/config"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/lifecycle"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/protocol"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/session"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/sessions"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/tools/trackertools"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
)

// VoiceHandler upgrades /v1/voice to a websocket and runs one live session
// per connection.
type VoiceHandler struct {
	Config      config.Config
	Agents      []pipeline.Agent
	Transcriber pipeline.Transcriber
	Synthesizer pipeline.Synthesizer
	Tools       *trackertools.Registry
	Logger      *slog.Logger
	Lifecycle   *lifecycle.Lifecycle
	Sessions    *sessions.Tracker
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrValidation,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAPI,
			Message: "gateway is draining",
			Code:    "draining",
		}, 529)
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "origin is not allowed",
			Param:   "Origin",
		}, http.StatusForbidden)
		return
	}

	userID := auth.UserIDFrom(r.Context())
	if userID == "" {
		writeErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "missing credentials",
		}, http.StatusUnauthorized)
		return
	}
	if h.Sessions != nil && h.Config.MaxSessionsPerUser > 0 &&
		h.Sessions.CountForUser(userID) >= h.Config.MaxSessionsPerUser {
		writeErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAPI,
			Message: "too many active voice sessions",
			Code:    "too_many_sessions",
		}, http.StatusTooManyRequests)
		return
	}

	// Origin was validated above against the configured allowlist.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		UserID:      userID,
		Transcriber: h.Transcriber,
		Synthesizer: h.Synthesizer,
		Agents:      h.Agents,
		Tools:       h.Tools,
		Logger:      h.Logger,
		Config: session.Config{
			MaxBufferBytes:  int(h.Config.MaxBufferBytes),
			MaxMessageBytes: h.Config.MaxMessageBytes,
			ReadTimeout:     h.Config.WSReadTimeout,
			WriteTimeout:    h.Config.WSWriteTimeout,
			PingInterval:    h.Config.WSPingInterval,
			TurnTimeout:     h.Config.TurnTimeout,
			ToolTimeout:     h.Config.ToolTimeout,
			MaxToolCalls:    h.Config.MaxToolCalls,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("voice session init failed", "request_id", reqID, "error", err)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session init failed"),
			time.Now().Add(2*time.Second))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := func() {}
	if h.Sessions != nil {
		var ok bool
		unregister, ok = h.Sessions.RegisterWithCap(s.ID(), sessions.Handle{
			UserID: userID,
			Cancel: cancel,
			Warn:   s.SendWarning,
		}, h.Config.MaxSessionsPerUser)
		if !ok {
			// Another upgrade for the same user won the race since the
			// pre-upgrade count check.
			_ = conn.WriteJSON(protocol.NewError("too_many_sessions",
				"too many active voice sessions", ""))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many sessions"),
				time.Now().Add(2*time.Second))
			return
		}
	}
	defer unregister()

	if err := s.Run(ctx); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("voice session ended with error",
				"session_id", s.ID(), "request_id", reqID, "error", err)
		}
	}
}

func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

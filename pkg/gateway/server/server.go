// Package server assembles the gateway mux and middleware chain.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jobtrack-ai/jobtrack/pkg/gateway/config"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/handlers"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/lifecycle"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/sessions"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/mw"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/tools/trackertools"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

// Dependencies carries everything the route handlers need. Engine, Tools,
// Agents, and the voice providers are required.
type Dependencies struct {
	Config      config.Config
	Logger      *slog.Logger
	Engine      *tracker.Engine
	Tools       *trackertools.Registry
	Agents      []pipeline.Agent
	Transcriber pipeline.Transcriber
	Synthesizer pipeline.Synthesizer
	Lifecycle   *lifecycle.Lifecycle
	Sessions    *sessions.Tracker
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("server: tool registry is required")
	}
	if len(deps.Agents) == 0 {
		return nil, fmt.Errorf("server: at least one agent is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("server: transcriber is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("server: synthesizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		cfg:    deps.Config,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes(deps)
	return s, nil
}

func (s *Server) routes(deps Dependencies) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: deps.Lifecycle})

	s.mux.Handle("/v1/voice", handlers.VoiceHandler{
		Config:      s.cfg,
		Agents:      deps.Agents,
		Transcriber: deps.Transcriber,
		Synthesizer: deps.Synthesizer,
		Tools:       deps.Tools,
		Logger:      s.logger,
		Lifecycle:   deps.Lifecycle,
		Sessions:    deps.Sessions,
	})
	s.mux.Handle("/v1/applications", handlers.ApplicationsHandler{Engine: deps.Engine})
	s.mux.Handle("/v1/applications/summary", handlers.SummaryHandler{Engine: deps.Engine})
	s.mux.Handle("/v1/followups/due", handlers.DueFollowupsHandler{Engine: deps.Engine})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.APIVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

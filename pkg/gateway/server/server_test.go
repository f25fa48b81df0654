package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobtrack-ai/jobtrack/pkg/gateway/config"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/sessions"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/tools/trackertools"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

type noopTranscriber struct{}

func (noopTranscriber) Name() string { return "noop-stt" }

func (noopTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return "", nil
}

type noopSynthesizer struct{}

func (noopSynthesizer) Name() string { return "noop-tts" }

func (noopSynthesizer) Synthesize(ctx context.Context, text string) (*pipeline.SpeechStream, error) {
	stream := pipeline.NewSpeechStream()
	stream.FinishSending()
	return stream, nil
}

type noopAgent struct{}

func (noopAgent) Name() string                     { return "Job Tracker" }
func (noopAgent) Instructions() string             { return "track applications" }
func (noopAgent) Tools() []pipeline.ToolDefinition { return nil }

func (noopAgent) StreamTurn(ctx context.Context, req pipeline.TurnRequest) (pipeline.EventStream, error) {
	return nil, context.Canceled
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:           config.AuthModeDisabled,
		GeminiAPIKey:       "g",
		CartesiaAPIKey:     "c",
		MaxBufferBytes:     1 << 20,
		MaxMessageBytes:    1 << 20,
		MaxToolCalls:       8,
		MaxSessionsPerUser: 2,
		WSPingInterval:     20 * time.Second,
		WSWriteTimeout:     5 * time.Second,
		WSReadTimeout:      90 * time.Second,
		TurnTimeout:        60 * time.Second,
		ToolTimeout:        10 * time.Second,
		ReadHeaderTimeout:  10 * time.Second,
		ReadTimeout:        30 * time.Second,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := tracker.NewEngine(tracker.NewMemoryStore(), logger)
	s, err := New(Dependencies{
		Config:      testConfig(),
		Logger:      logger,
		Engine:      engine,
		Tools:       trackertools.NewDefaultRegistry(engine, logger),
		Agents:      []pipeline.Agent{noopAgent{}},
		Transcriber: noopTranscriber{},
		Synthesizer: noopSynthesizer{},
		Sessions:    sessions.NewTracker(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := tracker.NewEngine(tracker.NewMemoryStore(), logger)

	if _, err := New(Dependencies{Config: testConfig(), Logger: logger}); err == nil {
		t.Fatal("expected error without engine")
	}
	if _, err := New(Dependencies{
		Config: testConfig(),
		Logger: logger,
		Engine: engine,
		Tools:  trackertools.NewDefaultRegistry(engine, logger),
		Agents: []pipeline.Agent{noopAgent{}},
	}); err == nil {
		t.Fatal("expected error without voice providers")
	}
}

func TestHandler_RoutesAndEnvelope(t *testing.T) {
	h := newTestServer(t).Handler()

	for _, tc := range []struct {
		path   string
		status int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/v1/applications", http.StatusOK},
		{"/v1/applications/summary", http.StatusOK},
		{"/v1/followups/due", http.StatusOK},
		{"/v1/unknown", http.StatusNotFound},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s: status=%d, want %d (body=%q)", tc.path, rr.Code, tc.status, rr.Body.String())
		}
		if got := rr.Header().Get("X-Request-ID"); got == "" {
			t.Fatalf("%s: missing X-Request-ID", tc.path)
		}
	}
}

func TestHandler_AuthRequiredBlocksAPI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := tracker.NewEngine(tracker.NewMemoryStore(), logger)
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.APIKeys = map[string]string{"sk-a": "u_alice"}

	s, err := New(Dependencies{
		Config:      cfg,
		Logger:      logger,
		Engine:      engine,
		Tools:       trackertools.NewDefaultRegistry(engine, logger),
		Agents:      []pipeline.Agent{noopAgent{}},
		Transcriber: noopTranscriber{},
		Synthesizer: noopSynthesizer{},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/applications", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/applications", nil)
	req.Header.Set("Authorization", "Bearer sk-a")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestHandler_UnsupportedVersionRejected(t *testing.T) {
	h := newTestServer(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/applications", nil)
	req.Header.Set("X-JobTrack-Version", "2")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"code":"unsupported_version"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestHandler_PanicRecovered(t *testing.T) {
	s := newTestServer(t)
	s.mux.Handle("/v1/panic", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/panic", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"type":"api_error"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

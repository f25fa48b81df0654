package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobtrack-ai/jobtrack/pkg/gateway/auth"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/config"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/mw"
	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *tracker.Engine {
	t.Helper()
	return tracker.NewEngine(tracker.NewMemoryStore(), testLogger())
}

func requestAs(method, target, userID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := mw.WithRequestID(req.Context(), "req_test")
	ctx = auth.WithPrincipal(ctx, &auth.Principal{UserID: userID})
	return req.WithContext(ctx)
}

func seedApplications(t *testing.T, engine *tracker.Engine, userID string) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := engine.CreateOrMerge(ctx, userID, tracker.ApplicationInput{
		Company: "Acme Corp", RoleTitle: "Go Engineer",
	}); err != nil {
		t.Fatalf("seed acme: %v", err)
	}
	if _, _, err := engine.CreateOrMerge(ctx, userID, tracker.ApplicationInput{
		Company: "Globex", RoleTitle: "Platform Engineer", Status: tracker.StageOffer,
	}); err != nil {
		t.Fatalf("seed globex: %v", err)
	}
}

func TestApplications_ListAll(t *testing.T) {
	engine := newTestEngine(t)
	seedApplications(t, engine, "u1")

	rr := httptest.NewRecorder()
	ApplicationsHandler{Engine: engine}.ServeHTTP(rr, requestAs(http.MethodGet, "/v1/applications", "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		Applications []*tracker.Application `json:"applications"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Applications) != 2 {
		t.Fatalf("len=%d, want 2", len(resp.Applications))
	}
}

func TestApplications_StageFilterAndIsolation(t *testing.T) {
	engine := newTestEngine(t)
	seedApplications(t, engine, "u1")
	seedApplications(t, engine, "u2")

	rr := httptest.NewRecorder()
	ApplicationsHandler{Engine: engine}.ServeHTTP(rr, requestAs(http.MethodGet, "/v1/applications?stage=offer", "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		Applications []*tracker.Application `json:"applications"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Applications) != 1 {
		t.Fatalf("len=%d, want 1", len(resp.Applications))
	}
	if resp.Applications[0].Company != "Globex" {
		t.Fatalf("company=%q", resp.Applications[0].Company)
	}
	if resp.Applications[0].UserID != "u1" {
		t.Fatalf("user_id=%q leaked across tenants", resp.Applications[0].UserID)
	}
}

func TestApplications_InvalidQueryRejected(t *testing.T) {
	engine := newTestEngine(t)

	for _, target := range []string{
		"/v1/applications?stage=bogus",
		"/v1/applications?remote=maybe",
		"/v1/applications?from=yesterday",
		"/v1/applications?limit=-1",
	} {
		rr := httptest.NewRecorder()
		ApplicationsHandler{Engine: engine}.ServeHTTP(rr, requestAs(http.MethodGet, target, "u1"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%q", target, rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), `"type":"validation_error"`) {
			t.Fatalf("%s: body=%q", target, rr.Body.String())
		}
	}
}

func TestApplications_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	ApplicationsHandler{Engine: newTestEngine(t)}.ServeHTTP(rr, requestAs(http.MethodPost, "/v1/applications", "u1"))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestSummary_ReturnsRollup(t *testing.T) {
	engine := newTestEngine(t)
	seedApplications(t, engine, "u1")

	rr := httptest.NewRecorder()
	SummaryHandler{Engine: engine}.ServeHTTP(rr, requestAs(http.MethodGet, "/v1/applications/summary", "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var summary tracker.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if summary.Total != 2 {
		t.Fatalf("total=%d, want 2", summary.Total)
	}
	if summary.SuccessRate != 1 {
		t.Fatalf("success_rate=%v, want 1", summary.SuccessRate)
	}
}

func TestDueFollowups_BeforeParam(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	if _, _, err := engine.CreateOrMerge(ctx, "u1", tracker.ApplicationInput{
		Company: "Acme", RoleTitle: "SRE",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	due := time.Now().Add(24 * time.Hour)
	if _, err := engine.ScheduleFollowup(ctx, "u1", "acme", due, "email", "ping recruiter"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	rr := httptest.NewRecorder()
	DueFollowupsHandler{Engine: engine}.ServeHTTP(rr, requestAs(http.MethodGet, "/v1/followups/due", "u1"))
	var resp struct {
		Followups []tracker.DueFollowup `json:"followups"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Followups) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(resp.Followups))
	}

	before := due.Add(time.Hour).Format(time.RFC3339)
	rr = httptest.NewRecorder()
	DueFollowupsHandler{Engine: engine}.ServeHTTP(rr, requestAs(http.MethodGet, "/v1/followups/due?before="+before, "u1"))
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Followups) != 1 {
		t.Fatalf("len=%d, want 1", len(resp.Followups))
	}
	if resp.Followups[0].Application.Company != "Acme" {
		t.Fatalf("company=%q", resp.Followups[0].Application.Company)
	}
}

func TestDueFollowups_InvalidBeforeRejected(t *testing.T) {
	rr := httptest.NewRecorder()
	DueFollowupsHandler{Engine: newTestEngine(t)}.ServeHTTP(rr, requestAs(http.MethodGet, "/v1/followups/due?before=tomorrow", "u1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestHealth_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func validReadyConfig() config.Config {
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

func TestReady_ValidConfig(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: validReadyConfig()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestReady_MissingProviderKeysReported(t *testing.T) {
	cfg := validReadyConfig()
	cfg.GeminiAPIKey = ""

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "gemini api key") {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestNotFound_JSONEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil).
		WithContext(mw.WithRequestID(context.Background(), "req_nf"))
	NotFoundHandler{}.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"request_id":"req_nf"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

package trackertools

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := tracker.NewEngine(tracker.NewMemoryStore(), logger)
	return NewDefaultRegistry(engine, logger)
}

func TestRegistry_UnknownToolNeverPanics(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Dispatch(context.Background(), "u1", "launch_rockets", map[string]any{"target": "moon"})
	if result["success"] != false {
		t.Fatalf("success = %v, want false", result["success"])
	}
	if result["error"] != "unknown_tool" {
		t.Fatalf("error = %v, want unknown_tool", result["error"])
	}
}

func TestRegistry_AddAndUpdate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	result := r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{
		"company":    "Acme Corp",
		"role_title": "Go Engineer",
		"remote_ok":  true,
		"salary_min": float64(90000),
	})
	if result["success"] != true {
		t.Fatalf("add failed: %+v", result)
	}
	if result["merged"] != false {
		t.Fatalf("merged = %v, want false", result["merged"])
	}

	result = r.Dispatch(ctx, "u1", ToolUpdateStatus, map[string]any{
		"reference":    "acme",
		"status_stage": "hr_screen",
	})
	if result["success"] != true {
		t.Fatalf("update failed: %+v", result)
	}
	app := result["application"].(map[string]any)
	if app["status"] != "hr_screen" {
		t.Fatalf("status = %v, want hr_screen", app["status"])
	}
}

func TestRegistry_AddDuplicateMerges(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "Acme", "role_title": "SRE"})
	result := r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "ACME", "role_title": " sre ", "location": "Berlin"})
	if result["merged"] != true {
		t.Fatalf("merged = %v, want true: %+v", result["merged"], result)
	}
}

func TestRegistry_NotFoundIsStructuredFailure(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Dispatch(context.Background(), "u1", ToolUpdateStatus, map[string]any{
		"reference":    "nowhere",
		"status_stage": "applied",
	})
	if result["success"] != false {
		t.Fatalf("success = %v, want false", result["success"])
	}
	if result["error"] != "application_not_found" {
		t.Fatalf("error = %v, want application_not_found", result["error"])
	}
}

func TestRegistry_ScheduleFollowup(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "Acme", "role_title": "SRE"})
	due := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	result := r.Dispatch(ctx, "u1", ToolScheduleFollowup, map[string]any{
		"reference": "acme",
		"due_at":    due,
		"channel":   "email",
	})
	if result["success"] != true {
		t.Fatalf("schedule failed: %+v", result)
	}
	if result["followup_id"] == "" {
		t.Fatalf("missing followup id: %+v", result)
	}

	result = r.Dispatch(ctx, "u1", ToolScheduleFollowup, map[string]any{
		"reference": "acme",
		"due_at":    "sometime soon",
	})
	if result["success"] != false || result["error"] != "validation_error" {
		t.Fatalf("expected validation failure: %+v", result)
	}
}

func TestRegistry_RelativeDueTimesUseEngineClock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := tracker.NewEngine(tracker.NewMemoryStore(), logger)
	fixed := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return fixed })
	r := NewDefaultRegistry(engine, logger)
	ctx := context.Background()

	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "Acme", "role_title": "SRE"})
	result := r.Dispatch(ctx, "u1", ToolScheduleFollowup, map[string]any{
		"reference": "acme",
		"due_at":    "tomorrow",
		"channel":   "call",
	})
	if result["success"] != true {
		t.Fatalf("schedule failed: %+v", result)
	}
	app := result["application"].(map[string]any)
	followups := app["followups"].([]map[string]any)
	if len(followups) != 1 {
		t.Fatalf("len(followups) = %d, want 1", len(followups))
	}
	want := time.Date(2026, 3, 11, 23, 59, 59, 0, time.UTC).Format(time.RFC3339)
	if followups[0]["due_at"] != want {
		t.Fatalf("due_at = %v, want %v", followups[0]["due_at"], want)
	}
}

func TestRegistry_SearchAndSummary(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "Acme", "role_title": "SRE", "status_stage": "offer"})
	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "Globex", "role_title": "Go Engineer", "status_stage": "rejected"})

	result := r.Dispatch(ctx, "u1", ToolSearchApplications, map[string]any{
		"status_stages": []any{"offer"},
	})
	if result["count"] != 1 {
		t.Fatalf("count = %v, want 1: %+v", result["count"], result)
	}

	result = r.Dispatch(ctx, "u1", ToolPipelineSummary, map[string]any{})
	if result["total"] != 2 {
		t.Fatalf("total = %v, want 2", result["total"])
	}
	if result["success_rate"] != 0.5 {
		t.Fatalf("success_rate = %v, want 0.5", result["success_rate"])
	}
}

func TestRegistry_GetAllOrdering(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "First", "role_title": "SRE"})
	r.Dispatch(ctx, "u1", ToolAddApplication, map[string]any{"company": "Second", "role_title": "SRE"})
	r.Dispatch(ctx, "u1", ToolUpdateStatus, map[string]any{"reference": "first", "status_stage": "onsite"})

	result := r.Dispatch(ctx, "u1", ToolGetAllApplications, map[string]any{})
	apps := result["applications"].([]map[string]any)
	if len(apps) != 2 {
		t.Fatalf("len(apps) = %d, want 2", len(apps))
	}
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	r := newTestRegistry(t)
	defs := r.Definitions()
	if len(defs) != 8 {
		t.Fatalf("len(defs) = %d, want 8", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Fatalf("definitions not sorted: %s before %s", defs[i-1].Name, defs[i].Name)
		}
	}
	if !r.Has(ToolAddApplication) || r.Has("nope") {
		t.Fatalf("Has misbehaves")
	}
}

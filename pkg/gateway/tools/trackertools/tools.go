package trackertools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

// Tool names.
const (
	ToolAddApplication     = "add_job_application"
	ToolUpdateStatus       = "update_application_status"
	ToolAddNote            = "add_application_note"
	ToolScheduleFollowup   = "schedule_followup"
	ToolCompleteFollowup   = "complete_followup"
	ToolSearchApplications = "search_applications"
	ToolGetAllApplications = "get_all_applications"
	ToolPipelineSummary    = "get_pipeline_summary"
)

// NewDefaultRegistry registers every engine-backed tool.
func NewDefaultRegistry(engine *tracker.Engine, logger *slog.Logger) *Registry {
	return NewRegistry(logger,
		&addApplicationTool{engine: engine},
		&updateStatusTool{engine: engine},
		&addNoteTool{engine: engine},
		&scheduleFollowupTool{engine: engine},
		&completeFollowupTool{engine: engine},
		&searchTool{engine: engine},
		&getAllTool{engine: engine},
		&summaryTool{engine: engine},
	)
}

// Argument helpers. The model sends loosely typed JSON; absent and empty
// values are treated the same.

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func floatArg(args map[string]any, key string) *float64 {
	switch v := args[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

func boolArg(args map[string]any, key string) *bool {
	if v, ok := args[key].(bool); ok {
		return &v
	}
	return nil
}

func intArg(args map[string]any, key string) int {
	if v := floatArg(args, key); v != nil {
		return int(*v)
	}
	return 0
}

func strSliceArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

// timeArg resolves a spoken or formatted due time. Date-only values resolve
// to end of that day UTC so "today" stays schedulable all day.
func timeArg(args map[string]any, key string, now time.Time) (*time.Time, *core.Error) {
	raw := strArg(args, key)
	if raw == "" {
		return nil, nil
	}
	now = now.UTC()
	switch strings.ToLower(raw) {
	case "today":
		t := endOfDay(now)
		return &t, nil
	case "tomorrow":
		t := endOfDay(now.AddDate(0, 0, 1))
		return &t, nil
	case "next week":
		t := endOfDay(now.AddDate(0, 0, 7))
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		u := t.UTC()
		return &u, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		u := endOfDay(t)
		return &u, nil
	}
	return nil, core.NewValidationError(fmt.Sprintf("could not parse time %q", raw), key)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

func appPayload(app *tracker.Application) map[string]any {
	payload := map[string]any{
		"id":         app.ID,
		"company":    app.Company,
		"role_title": app.RoleTitle,
		"status":     string(app.Status),
		"created_at": app.CreatedAt.Format(time.RFC3339),
		"updated_at": app.UpdatedAt.Format(time.RFC3339),
	}
	if app.Location != "" {
		payload["location"] = app.Location
	}
	if app.RemoteOK != nil {
		payload["remote_ok"] = *app.RemoteOK
	}
	if len(app.Notes) > 0 {
		payload["notes"] = len(app.Notes)
	}
	if len(app.Followups) > 0 {
		followups := make([]map[string]any, 0, len(app.Followups))
		for _, f := range app.Followups {
			followups = append(followups, map[string]any{
				"id":      f.ID,
				"due_at":  f.DueAt.Format(time.RFC3339),
				"channel": string(f.Channel),
				"status":  string(f.Status),
			})
		}
		payload["followups"] = followups
	}
	return payload
}

func stageEnum() []string {
	out := make([]string, 0, len(tracker.Stages))
	for _, s := range tracker.Stages {
		out = append(out, string(s))
	}
	return out
}

type addApplicationTool struct{ engine *tracker.Engine }

func (t *addApplicationTool) Name() string { return ToolAddApplication }

func (t *addApplicationTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolAddApplication,
		Description: "Record a new job application. Duplicates of a recent application to the same company and role are merged.",
		Parameters: &pipeline.Schema{
			Type: "object",
			Properties: map[string]*pipeline.Schema{
				"company":         {Type: "string", Description: "Company name"},
				"role_title":      {Type: "string", Description: "Role or position title"},
				"location":        {Type: "string"},
				"source":          {Type: "string", Description: "Where the posting was found"},
				"job_post_url":    {Type: "string"},
				"status_stage":    {Type: "string", Enum: stageEnum()},
				"salary_min":      {Type: "number"},
				"salary_max":      {Type: "number"},
				"currency":        {Type: "string"},
				"remote_ok":       {Type: "boolean"},
				"skills_required": {Type: "array", Items: &pipeline.Schema{Type: "string"}},
				"job_posted_date": {Type: "string", Description: "Date the job was posted, YYYY-MM-DD"},
				"due_at":          {Type: "string", Description: "Optional followup due time"},
				"channel":         {Type: "string", Enum: []string{"email", "call", "linkedin", "other"}},
				"note":            {Type: "string", Description: "Optional initial note"},
			},
			Required: []string{"company", "role_title"},
		},
	}
}

func (t *addApplicationTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	dueAt, terr := timeArg(args, "due_at", t.engine.Now())
	if terr != nil {
		return nil, terr
	}
	in := tracker.ApplicationInput{
		Company:       strArg(args, "company"),
		RoleTitle:     strArg(args, "role_title"),
		Location:      strArg(args, "location"),
		Source:        strArg(args, "source"),
		JobPostURL:    strArg(args, "job_post_url"),
		Status:        tracker.Stage(strArg(args, "status_stage")),
		SalaryMin:     floatArg(args, "salary_min"),
		SalaryMax:     floatArg(args, "salary_max"),
		Currency:      strArg(args, "currency"),
		RemoteOK:      boolArg(args, "remote_ok"),
		SkillsReq:     strSliceArg(args, "skills_required"),
		JobPostedDate: strArg(args, "job_posted_date"),
		Note:          strArg(args, "note"),
		FollowupDueAt: dueAt,
		Channel:       tracker.Channel(strArg(args, "channel")),
	}
	app, merged, err := t.engine.CreateOrMerge(ctx, userID, in)
	if err != nil {
		return nil, core.AsError(err)
	}
	message := fmt.Sprintf("Added application to %s for %s.", app.Company, app.RoleTitle)
	if merged {
		message = fmt.Sprintf("Updated your recent application to %s for %s.", app.Company, app.RoleTitle)
	}
	return Result{
		"success":     true,
		"message":     message,
		"merged":      merged,
		"application": appPayload(app),
	}, nil
}

type updateStatusTool struct{ engine *tracker.Engine }

func (t *updateStatusTool) Name() string { return ToolUpdateStatus }

func (t *updateStatusTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolUpdateStatus,
		Description: "Move an application to a new pipeline stage. Reference by company name, role, or id.",
		Parameters: &pipeline.Schema{
			Type: "object",
			Properties: map[string]*pipeline.Schema{
				"reference":    {Type: "string", Description: "Company name, role title, or application id"},
				"status_stage": {Type: "string", Enum: stageEnum()},
			},
			Required: []string{"reference", "status_stage"},
		},
	}
}

func (t *updateStatusTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	app, err := t.engine.UpdateStatus(ctx, userID, strArg(args, "reference"), strArg(args, "status_stage"))
	if err != nil {
		return nil, core.AsError(err)
	}
	return Result{
		"success":     true,
		"message":     fmt.Sprintf("Moved %s (%s) to %s.", app.Company, app.RoleTitle, app.Status),
		"application": appPayload(app),
	}, nil
}

type addNoteTool struct{ engine *tracker.Engine }

func (t *addNoteTool) Name() string { return ToolAddNote }

func (t *addNoteTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolAddNote,
		Description: "Attach a note to an application.",
		Parameters: &pipeline.Schema{
			Type: "object",
			Properties: map[string]*pipeline.Schema{
				"reference": {Type: "string"},
				"note":      {Type: "string"},
			},
			Required: []string{"reference", "note"},
		},
	}
}

func (t *addNoteTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	app, err := t.engine.AddNote(ctx, userID, strArg(args, "reference"), strArg(args, "note"))
	if err != nil {
		return nil, core.AsError(err)
	}
	return Result{
		"success":     true,
		"message":     fmt.Sprintf("Noted on %s (%s).", app.Company, app.RoleTitle),
		"application": appPayload(app),
	}, nil
}

type scheduleFollowupTool struct{ engine *tracker.Engine }

func (t *scheduleFollowupTool) Name() string { return ToolScheduleFollowup }

func (t *scheduleFollowupTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolScheduleFollowup,
		Description: "Schedule a followup for an application.",
		Parameters: &pipeline.Schema{
			Type: "object",
			Properties: map[string]*pipeline.Schema{
				"reference": {Type: "string"},
				"due_at":    {Type: "string", Description: "When to follow up: RFC3339, YYYY-MM-DD, today, tomorrow, or next week"},
				"channel":   {Type: "string", Enum: []string{"email", "call", "linkedin", "other"}},
				"note":      {Type: "string"},
			},
			Required: []string{"reference", "due_at"},
		},
	}
}

func (t *scheduleFollowupTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	dueAt, terr := timeArg(args, "due_at", t.engine.Now())
	if terr != nil {
		return nil, terr
	}
	if dueAt == nil {
		return nil, core.NewValidationError("due_at is required", "due_at")
	}
	app, err := t.engine.ScheduleFollowup(ctx, userID, strArg(args, "reference"), *dueAt, strArg(args, "channel"), strArg(args, "note"))
	if err != nil {
		return nil, core.AsError(err)
	}
	f := app.Followups[len(app.Followups)-1]
	return Result{
		"success":     true,
		"message":     fmt.Sprintf("Followup on %s scheduled for %s via %s.", app.Company, f.DueAt.Format("Jan 2"), f.Channel),
		"followup_id": f.ID,
		"application": appPayload(app),
	}, nil
}

type completeFollowupTool struct{ engine *tracker.Engine }

func (t *completeFollowupTool) Name() string { return ToolCompleteFollowup }

func (t *completeFollowupTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolCompleteFollowup,
		Description: "Mark a scheduled followup as done.",
		Parameters: &pipeline.Schema{
			Type: "object",
			Properties: map[string]*pipeline.Schema{
				"reference":   {Type: "string"},
				"followup_id": {Type: "string"},
			},
			Required: []string{"reference", "followup_id"},
		},
	}
}

func (t *completeFollowupTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	app, err := t.engine.CompleteFollowup(ctx, userID, strArg(args, "reference"), strArg(args, "followup_id"))
	if err != nil {
		return nil, core.AsError(err)
	}
	return Result{
		"success":     true,
		"message":     fmt.Sprintf("Followup on %s marked done.", app.Company),
		"application": appPayload(app),
	}, nil
}

type searchTool struct{ engine *tracker.Engine }

func (t *searchTool) Name() string { return ToolSearchApplications }

func (t *searchTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolSearchApplications,
		Description: "Search applications by stage, company, remote flag, or a named time range.",
		Parameters: &pipeline.Schema{
			Type: "object",
			Properties: map[string]*pipeline.Schema{
				"status_stages": {Type: "array", Items: &pipeline.Schema{Type: "string", Enum: stageEnum()}},
				"company":       {Type: "string"},
				"remote_ok":     {Type: "boolean"},
				"time_range":    {Type: "string", Enum: []string{"last_week", "this_week", "last_month", "this_month"}},
				"time_field":    {Type: "string", Enum: []string{"created_at", "updated_at"}},
				"limit":         {Type: "integer"},
			},
		},
	}
}

func (t *searchTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	filter := tracker.SearchFilter{
		Company:   strArg(args, "company"),
		RemoteOK:  boolArg(args, "remote_ok"),
		TimeRange: strArg(args, "time_range"),
		TimeField: strArg(args, "time_field"),
		Limit:     intArg(args, "limit"),
	}
	for _, s := range strSliceArg(args, "status_stages") {
		filter.Stages = append(filter.Stages, tracker.Stage(s))
	}
	apps, err := t.engine.Search(ctx, userID, filter)
	if err != nil {
		return nil, core.AsError(err)
	}
	return searchResult(apps), nil
}

type getAllTool struct{ engine *tracker.Engine }

func (t *getAllTool) Name() string { return ToolGetAllApplications }

func (t *getAllTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolGetAllApplications,
		Description: "List every tracked application, most recently updated first.",
		Parameters:  &pipeline.Schema{Type: "object"},
	}
}

func (t *getAllTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	apps, err := t.engine.Search(ctx, userID, tracker.SearchFilter{})
	if err != nil {
		return nil, core.AsError(err)
	}
	return searchResult(apps), nil
}

func searchResult(apps []*tracker.Application) Result {
	payloads := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		payloads = append(payloads, appPayload(app))
	}
	return Result{
		"success":      true,
		"message":      fmt.Sprintf("Found %d applications.", len(apps)),
		"count":        len(apps),
		"applications": payloads,
	}
}

type summaryTool struct{ engine *tracker.Engine }

func (t *summaryTool) Name() string { return ToolPipelineSummary }

func (t *summaryTool) Definition() pipeline.ToolDefinition {
	return pipeline.ToolDefinition{
		Name:        ToolPipelineSummary,
		Description: "Summarize the pipeline: counts per stage, active applications, and success rate.",
		Parameters:  &pipeline.Schema{Type: "object"},
	}
}

func (t *summaryTool) Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error) {
	sum, err := t.engine.Summarize(ctx, userID)
	if err != nil {
		return nil, core.AsError(err)
	}
	byStage := make(map[string]int, len(sum.ByStage))
	for stage, n := range sum.ByStage {
		byStage[string(stage)] = n
	}
	return Result{
		"success":      true,
		"message":      fmt.Sprintf("%d applications tracked, %d active.", sum.Total, sum.Active),
		"total":        sum.Total,
		"active":       sum.Active,
		"by_stage":     byStage,
		"success_rate": sum.SuccessRate,
	}, nil
}

package tracker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

// Engine validates and orchestrates application state operations on top of
// a Store. It owns id generation, timestamps, and normalization; the store
// owns persistence and dedup serialization.
type Engine struct {
	store  Store
	logger *slog.Logger
	ops    metric.Int64Counter

	now func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("github.com/jobtrack-ai/jobtrack/pkg/tracker")
	ops, err := meter.Int64Counter("tracker.operations",
		metric.WithDescription("application state engine operations"))
	if err != nil {
		logger.Warn("tracker metrics disabled", "error", err)
	}
	return &Engine{
		store:  store,
		logger: logger,
		ops:    ops,
		now:    time.Now,
	}
}

// Now reports the engine's clock. Callers resolving relative times like
// "tomorrow" use it so their arithmetic matches the engine's validation.
func (e *Engine) Now() time.Time {
	return e.now()
}

// SetClock overrides the engine's time source. Tests pin it to make
// relative-time arithmetic deterministic.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) count(ctx context.Context, op string) {
	if e.ops != nil {
		e.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// CreateOrMerge records a new application, or merges into a recent duplicate
// with the same normalized (company, role). Reports whether it merged.
func (e *Engine) CreateOrMerge(ctx context.Context, userID string, in ApplicationInput) (*Application, bool, error) {
	e.count(ctx, "create_or_merge")

	if strings.TrimSpace(userID) == "" {
		return nil, false, core.NewValidationError("user id is required", "user_id")
	}
	companyNorm := Normalize(in.Company)
	roleNorm := Normalize(in.RoleTitle)
	if companyNorm == "" {
		return nil, false, core.NewValidationError("company is required", "company")
	}
	if roleNorm == "" {
		return nil, false, core.NewValidationError("role title is required", "role_title")
	}
	// An absent status stays empty here: merges must not clobber the
	// existing stage, and the stores default new records to draft.
	status := in.Status
	if status != "" {
		if _, ok := ParseStage(string(status)); !ok {
			return nil, false, core.NewValidationError("unknown status stage", "status")
		}
	}

	now := e.now().UTC()
	candidate := &Application{
		ID:            uuid.NewString(),
		UserID:        userID,
		Company:       strings.TrimSpace(in.Company),
		RoleTitle:     strings.TrimSpace(in.RoleTitle),
		CompanyNorm:   companyNorm,
		RoleNorm:      roleNorm,
		Location:      strings.TrimSpace(in.Location),
		Source:        strings.TrimSpace(in.Source),
		JobPostURL:    strings.TrimSpace(in.JobPostURL),
		Status:        status,
		SalaryMin:     in.SalaryMin,
		SalaryMax:     in.SalaryMax,
		Currency:      strings.TrimSpace(in.Currency),
		RemoteOK:      in.RemoteOK,
		SkillsReq:     in.SkillsReq,
		JobPostedDate: strings.TrimSpace(in.JobPostedDate),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if text := strings.TrimSpace(in.Note); text != "" {
		candidate.Notes = append(candidate.Notes, Note{ID: uuid.NewString(), Text: text, CreatedAt: now})
	}
	if in.FollowupDueAt != nil {
		channel := in.Channel
		if channel == "" {
			channel = ChannelOther
		} else if _, ok := ParseChannel(string(channel)); !ok {
			return nil, false, core.NewValidationError("unknown followup channel", "channel")
		}
		candidate.Followups = append(candidate.Followups, Followup{
			ID:        uuid.NewString(),
			DueAt:     in.FollowupDueAt.UTC(),
			Channel:   channel,
			Status:    FollowupPending,
			CreatedAt: now,
		})
	}

	app, merged, err := e.store.CreateOrMerge(ctx, candidate, DedupWindow)
	if err != nil {
		return nil, false, err
	}
	e.logger.Info("application recorded",
		"user_id", userID,
		"application_id", app.ID,
		"company", app.Company,
		"merged", merged,
	)
	return app, merged, nil
}

// Resolve finds an application by id or fuzzy company/role reference.
func (e *Engine) Resolve(ctx context.Context, userID, ref string) (*Application, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, core.NewValidationError("application reference is required", "ref")
	}
	return e.store.FindByReference(ctx, userID, ref)
}

// UpdateStatus moves an application to a new stage. Any stage may follow any
// other.
func (e *Engine) UpdateStatus(ctx context.Context, userID, ref, stage string) (*Application, error) {
	e.count(ctx, "update_status")

	parsed, ok := ParseStage(stage)
	if !ok {
		return nil, core.NewValidationError("unknown status stage", "status")
	}
	app, err := e.Resolve(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	updated, err := e.store.SetStatus(ctx, userID, app.ID, parsed, e.now().UTC())
	if err != nil {
		return nil, err
	}
	e.logger.Info("status updated",
		"user_id", userID,
		"application_id", app.ID,
		"from", app.Status,
		"to", parsed,
	)
	return updated, nil
}

// AddNote appends a note to the referenced application.
func (e *Engine) AddNote(ctx context.Context, userID, ref, text string) (*Application, error) {
	e.count(ctx, "add_note")

	if strings.TrimSpace(text) == "" {
		return nil, core.NewValidationError("note text is required", "note")
	}
	app, err := e.Resolve(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	note := Note{ID: uuid.NewString(), Text: strings.TrimSpace(text), CreatedAt: now}
	return e.store.AddNote(ctx, userID, app.ID, note, now)
}

// ScheduleFollowup attaches a pending followup. The due time must not be in
// the past.
func (e *Engine) ScheduleFollowup(ctx context.Context, userID, ref string, dueAt time.Time, channel, note string) (*Application, error) {
	e.count(ctx, "schedule_followup")

	now := e.now().UTC()
	if dueAt.Before(now.Truncate(time.Minute)) {
		return nil, core.NewValidationError("followup due time is in the past", "due_at")
	}
	ch := ChannelOther
	if strings.TrimSpace(channel) != "" {
		parsed, ok := ParseChannel(channel)
		if !ok {
			return nil, core.NewValidationError("unknown followup channel", "channel")
		}
		ch = parsed
	}
	app, err := e.Resolve(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	f := Followup{
		ID:        uuid.NewString(),
		DueAt:     dueAt.UTC(),
		Channel:   ch,
		Note:      strings.TrimSpace(note),
		Status:    FollowupPending,
		CreatedAt: now,
	}
	return e.store.AddFollowup(ctx, userID, app.ID, f, now)
}

// CompleteFollowup marks a followup done.
func (e *Engine) CompleteFollowup(ctx context.Context, userID, ref, followupID string) (*Application, error) {
	e.count(ctx, "complete_followup")
	return e.setFollowup(ctx, userID, ref, followupID, FollowupCompleted, nil)
}

// CancelFollowup marks a followup cancelled.
func (e *Engine) CancelFollowup(ctx context.Context, userID, ref, followupID string) (*Application, error) {
	e.count(ctx, "cancel_followup")
	return e.setFollowup(ctx, userID, ref, followupID, FollowupCancelled, nil)
}

// RescheduleFollowup moves a followup's due time and resets it to pending.
func (e *Engine) RescheduleFollowup(ctx context.Context, userID, ref, followupID string, dueAt time.Time) (*Application, error) {
	e.count(ctx, "reschedule_followup")
	if dueAt.Before(e.now().UTC().Truncate(time.Minute)) {
		return nil, core.NewValidationError("followup due time is in the past", "due_at")
	}
	due := dueAt.UTC()
	return e.setFollowup(ctx, userID, ref, followupID, FollowupPending, &due)
}

func (e *Engine) setFollowup(ctx context.Context, userID, ref, followupID string, status FollowupStatus, dueAt *time.Time) (*Application, error) {
	app, err := e.Resolve(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	return e.store.SetFollowup(ctx, userID, app.ID, followupID, status, dueAt, e.now().UTC())
}

// ListDueFollowups returns pending followups due at or before the deadline.
func (e *Engine) ListDueFollowups(ctx context.Context, userID string, before time.Time) ([]DueFollowup, error) {
	e.count(ctx, "due_followups")
	if before.IsZero() {
		before = e.now().UTC()
	}
	return e.store.DueFollowups(ctx, userID, before.UTC())
}

// Search lists applications matching the filter, most recently updated
// first.
func (e *Engine) Search(ctx context.Context, userID string, filter SearchFilter) ([]*Application, error) {
	e.count(ctx, "search")

	if filter.TimeRange != "" {
		from, to, ok := TimeRangeBounds(filter.TimeRange, e.now())
		if !ok {
			return nil, core.NewValidationError("unknown time range", "time_range")
		}
		filter.From, filter.To = &from, &to
	}
	if filter.TimeField != "" && filter.TimeField != "created_at" && filter.TimeField != "updated_at" {
		return nil, core.NewValidationError("time field must be created_at or updated_at", "time_field")
	}
	for i, stage := range filter.Stages {
		parsed, ok := ParseStage(string(stage))
		if !ok {
			return nil, core.NewValidationError("unknown status stage", "stages")
		}
		filter.Stages[i] = parsed
	}
	return e.store.Search(ctx, userID, filter)
}

// Summarize rolls up the user's pipeline.
func (e *Engine) Summarize(ctx context.Context, userID string) (*Summary, error) {
	e.count(ctx, "summarize")
	return e.store.Summarize(ctx, userID)
}

package tracker

import (
	"context"
	"time"
)

// DedupWindow is how far back a matching (user, company, role) application
// is merged into instead of creating a duplicate.
const DedupWindow = 14 * 24 * time.Hour

// Store persists applications for the engine. Implementations must make
// CreateOrMerge race-safe: two concurrent calls with the same dedup key
// yield one application.
type Store interface {
	// CreateOrMerge inserts candidate, or merges it into an existing
	// application with the same (user_id, company_norm, role_norm) created
	// within window. Returns the stored application and whether it merged.
	CreateOrMerge(ctx context.Context, candidate *Application, window time.Duration) (*Application, bool, error)

	// GetByID returns the user's application with the given id.
	GetByID(ctx context.Context, userID, id string) (*Application, error)

	// FindByReference resolves a spoken reference: exact id, then
	// case-insensitive substring on company, then on role title, most
	// recently updated first.
	FindByReference(ctx context.Context, userID, ref string) (*Application, error)

	SetStatus(ctx context.Context, userID, id string, stage Stage, now time.Time) (*Application, error)
	AddNote(ctx context.Context, userID, id string, note Note, now time.Time) (*Application, error)
	AddFollowup(ctx context.Context, userID, id string, f Followup, now time.Time) (*Application, error)

	// SetFollowup updates a followup's status and, when dueAt is non-nil,
	// its due time.
	SetFollowup(ctx context.Context, userID, appID, followupID string, status FollowupStatus, dueAt *time.Time, now time.Time) (*Application, error)

	Search(ctx context.Context, userID string, filter SearchFilter) ([]*Application, error)
	Summarize(ctx context.Context, userID string) (*Summary, error)
	DueFollowups(ctx context.Context, userID string, before time.Time) ([]DueFollowup, error)

	Close() error
}

// mergeInto folds the candidate's provided fields into an existing
// application. Non-empty incoming fields win; notes and followups append.
func mergeInto(existing, candidate *Application, now time.Time) {
	if candidate.Location != "" {
		existing.Location = candidate.Location
	}
	if candidate.Source != "" {
		existing.Source = candidate.Source
	}
	if candidate.JobPostURL != "" {
		existing.JobPostURL = candidate.JobPostURL
	}
	if candidate.Status != "" {
		existing.Status = candidate.Status
	}
	if candidate.SalaryMin != nil {
		existing.SalaryMin = candidate.SalaryMin
	}
	if candidate.SalaryMax != nil {
		existing.SalaryMax = candidate.SalaryMax
	}
	if candidate.Currency != "" {
		existing.Currency = candidate.Currency
	}
	if candidate.RemoteOK != nil {
		existing.RemoteOK = candidate.RemoteOK
	}
	if len(candidate.SkillsReq) > 0 {
		existing.SkillsReq = candidate.SkillsReq
	}
	if candidate.JobPostedDate != "" {
		existing.JobPostedDate = candidate.JobPostedDate
	}
	existing.Notes = append(existing.Notes, candidate.Notes...)
	existing.Followups = append(existing.Followups, candidate.Followups...)
	existing.UpdatedAt = now
}

// summarize computes the pipeline roll-up over a user's applications.
// Success rate is offers over terminal outcomes; 0 when there are none.
func summarize(apps []*Application) *Summary {
	s := &Summary{ByStage: make(map[Stage]int, len(Stages))}
	for _, stage := range Stages {
		s.ByStage[stage] = 0
	}
	for _, app := range apps {
		s.Total++
		s.ByStage[app.Status]++
		if app.Status.IsActive() {
			s.Active++
		}
	}
	offers := s.ByStage[StageOffer]
	terminal := offers + s.ByStage[StageRejected] + s.ByStage[StageWithdrawn]
	if terminal > 0 {
		s.SuccessRate = float64(offers) / float64(terminal)
	}
	return s
}

// Package tracker implements the application state engine: job applications,
// their notes and followups, deduplicated creation, search, and pipeline
// summaries. All operations are scoped to a single user.
package tracker

import (
	"strings"
	"time"
)

// Stage is the pipeline stage of an application. Transitions between any two
// stages are allowed.
type Stage string

const (
	StageDraft      Stage = "draft"
	StageApplied    Stage = "applied"
	StageHRScreen   Stage = "hr_screen"
	StageTechScreen Stage = "tech_screen"
	StageOnsite     Stage = "onsite"
	StageOffer      Stage = "offer"
	StageRejected   Stage = "rejected"
	StageWithdrawn  Stage = "withdrawn"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageDraft, StageApplied, StageHRScreen, StageTechScreen,
	StageOnsite, StageOffer, StageRejected, StageWithdrawn,
}

// ActiveStages are the stages counted as an in-flight application.
var ActiveStages = []Stage{StageApplied, StageHRScreen, StageTechScreen, StageOnsite}

// ParseStage validates and canonicalizes a stage string.
func ParseStage(s string) (Stage, bool) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Stages {
		if stage == known {
			return stage, true
		}
	}
	return "", false
}

// IsActive reports whether the stage counts toward the active pipeline.
func (s Stage) IsActive() bool {
	for _, active := range ActiveStages {
		if s == active {
			return true
		}
	}
	return false
}

// Channel is how a followup reaches out.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelCall     Channel = "call"
	ChannelLinkedIn Channel = "linkedin"
	ChannelOther    Channel = "other"
)

// ParseChannel validates and canonicalizes a followup channel.
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelCall, ChannelLinkedIn, ChannelOther:
		return c, true
	default:
		return "", false
	}
}

// FollowupStatus is the lifecycle state of a followup. It changes only
// through the explicit complete, cancel, and reschedule operations.
type FollowupStatus string

const (
	FollowupPending   FollowupStatus = "pending"
	FollowupCompleted FollowupStatus = "completed"
	FollowupCancelled FollowupStatus = "cancelled"
)

// Note is a free-form annotation on an application.
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Followup is a scheduled outreach attached to an application.
type Followup struct {
	ID        string         `json:"id"`
	DueAt     time.Time      `json:"due_at"`
	Channel   Channel        `json:"channel"`
	Note      string         `json:"note,omitempty"`
	Status    FollowupStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Application is one tracked job application.
type Application struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Company       string     `json:"company"`
	RoleTitle     string     `json:"role_title"`
	CompanyNorm   string     `json:"-"`
	RoleNorm      string     `json:"-"`
	Location      string     `json:"location,omitempty"`
	Source        string     `json:"source,omitempty"`
	JobPostURL    string     `json:"job_post_url,omitempty"`
	Status        Stage      `json:"status"`
	SalaryMin     *float64   `json:"salary_min,omitempty"`
	SalaryMax     *float64   `json:"salary_max,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	RemoteOK      *bool      `json:"remote_ok,omitempty"`
	SkillsReq     []string   `json:"skills_required,omitempty"`
	JobPostedDate string     `json:"job_posted_date,omitempty"`
	Notes         []Note     `json:"notes,omitempty"`
	Followups     []Followup `json:"followups,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate store state.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	cp := *a
	if a.SalaryMin != nil {
		v := *a.SalaryMin
		cp.SalaryMin = &v
	}
	if a.SalaryMax != nil {
		v := *a.SalaryMax
		cp.SalaryMax = &v
	}
	if a.RemoteOK != nil {
		v := *a.RemoteOK
		cp.RemoteOK = &v
	}
	cp.SkillsReq = append([]string(nil), a.SkillsReq...)
	cp.Notes = append([]Note(nil), a.Notes...)
	cp.Followups = append([]Followup(nil), a.Followups...)
	return &cp
}

// ApplicationInput carries the fields a create-or-merge may set. Empty
// strings and nil pointers mean "not provided" and never clobber existing
// values on merge.
type ApplicationInput struct {
	Company       string
	RoleTitle     string
	Location      string
	Source        string
	JobPostURL    string
	Status        Stage
	SalaryMin     *float64
	SalaryMax     *float64
	Currency      string
	RemoteOK      *bool
	SkillsReq     []string
	JobPostedDate string
	Note          string
	FollowupDueAt *time.Time
	Channel       Channel
}

// SearchFilter narrows a search. Zero values match everything. The engine
// resolves TimeRange into the From/To bounds stores filter on.
type SearchFilter struct {
	Stages    []Stage
	Company   string
	RemoteOK  *bool
	TimeRange string // last_week, this_week, last_month, this_month
	TimeField string // created_at (default) or updated_at
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Summary is the pipeline roll-up for one user.
type Summary struct {
	Total       int           `json:"total"`
	ByStage     map[Stage]int `json:"by_stage"`
	Active      int           `json:"active"`
	SuccessRate float64       `json:"success_rate"`
}

// DueFollowup pairs a pending followup with its application for reminder
// listings.
type DueFollowup struct {
	Application *Application `json:"application"`
	Followup    Followup     `json:"followup"`
}

package tracker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

// MemoryStore is the in-process Store. A single mutex serializes all
// mutations, which makes the dedup window race-safe by construction.
type MemoryStore struct {
	mu   sync.Mutex
	apps map[string][]*Application // keyed by user id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{apps: make(map[string][]*Application)}
}

func (m *MemoryStore) CreateOrMerge(ctx context.Context, candidate *Application, window time.Duration) (*Application, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := candidate.CreatedAt.Add(-window)
	for _, app := range m.apps[candidate.UserID] {
		if app.CompanyNorm == candidate.CompanyNorm &&
			app.RoleNorm == candidate.RoleNorm &&
			!app.CreatedAt.Before(cutoff) {
			mergeInto(app, candidate, candidate.CreatedAt)
			return app.Clone(), true, nil
		}
	}
	created := candidate.Clone()
	if created.Status == "" {
		created.Status = StageDraft
	}
	m.apps[candidate.UserID] = append(m.apps[candidate.UserID], created)
	return created.Clone(), false, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, userID, id string) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app := m.findByID(userID, id)
	if app == nil {
		return nil, core.NewApplicationNotFoundError(id)
	}
	return app.Clone(), nil
}

func (m *MemoryStore) FindByReference(ctx context.Context, userID, ref string) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if app := m.findByID(userID, ref); app != nil {
		return app.Clone(), nil
	}

	needle := Normalize(ref)
	if needle == "" {
		return nil, core.NewApplicationNotFoundError(ref)
	}
	if app := m.latestMatch(userID, func(a *Application) bool {
		return strings.Contains(a.CompanyNorm, needle)
	}); app != nil {
		return app.Clone(), nil
	}
	if app := m.latestMatch(userID, func(a *Application) bool {
		return strings.Contains(a.RoleNorm, needle)
	}); app != nil {
		return app.Clone(), nil
	}
	return nil, core.NewApplicationNotFoundError(ref)
}

func (m *MemoryStore) SetStatus(ctx context.Context, userID, id string, stage Stage, now time.Time) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app := m.findByID(userID, id)
	if app == nil {
		return nil, core.NewApplicationNotFoundError(id)
	}
	app.Status = stage
	app.UpdatedAt = now
	return app.Clone(), nil
}

func (m *MemoryStore) AddNote(ctx context.Context, userID, id string, note Note, now time.Time) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app := m.findByID(userID, id)
	if app == nil {
		return nil, core.NewApplicationNotFoundError(id)
	}
	app.Notes = append(app.Notes, note)
	app.UpdatedAt = now
	return app.Clone(), nil
}

func (m *MemoryStore) AddFollowup(ctx context.Context, userID, id string, f Followup, now time.Time) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app := m.findByID(userID, id)
	if app == nil {
		return nil, core.NewApplicationNotFoundError(id)
	}
	app.Followups = append(app.Followups, f)
	app.UpdatedAt = now
	return app.Clone(), nil
}

func (m *MemoryStore) SetFollowup(ctx context.Context, userID, appID, followupID string, status FollowupStatus, dueAt *time.Time, now time.Time) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app := m.findByID(userID, appID)
	if app == nil {
		return nil, core.NewApplicationNotFoundError(appID)
	}
	for i := range app.Followups {
		if app.Followups[i].ID != followupID {
			continue
		}
		app.Followups[i].Status = status
		if dueAt != nil {
			app.Followups[i].DueAt = *dueAt
		}
		app.UpdatedAt = now
		return app.Clone(), nil
	}
	return nil, core.NewApplicationNotFoundError(followupID)
}

func (m *MemoryStore) Search(ctx context.Context, userID string, filter SearchFilter) ([]*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Application
	for _, app := range m.apps[userID] {
		if matchesFilter(app, filter) {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Summarize(ctx context.Context, userID string) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return summarize(m.apps[userID]), nil
}

func (m *MemoryStore) DueFollowups(ctx context.Context, userID string, before time.Time) ([]DueFollowup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []DueFollowup
	for _, app := range m.apps[userID] {
		for _, f := range app.Followups {
			if f.Status == FollowupPending && !f.DueAt.After(before) {
				out = append(out, DueFollowup{Application: app.Clone(), Followup: f})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Followup.DueAt.Before(out[j].Followup.DueAt)
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) findByID(userID, id string) *Application {
	for _, app := range m.apps[userID] {
		if app.ID == id {
			return app
		}
	}
	return nil
}

func (m *MemoryStore) latestMatch(userID string, match func(*Application) bool) *Application {
	var best *Application
	for _, app := range m.apps[userID] {
		if !match(app) {
			continue
		}
		if best == nil || app.UpdatedAt.After(best.UpdatedAt) {
			best = app
		}
	}
	return best
}

func matchesFilter(app *Application, filter SearchFilter) bool {
	if len(filter.Stages) > 0 {
		found := false
		for _, stage := range filter.Stages {
			if app.Status == stage {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Company != "" && !strings.Contains(app.CompanyNorm, Normalize(filter.Company)) {
		return false
	}
	if filter.RemoteOK != nil && (app.RemoteOK == nil || *app.RemoteOK != *filter.RemoteOK) {
		return false
	}
	if filter.From != nil || filter.To != nil {
		ts := app.CreatedAt
		if filter.TimeField == "updated_at" {
			ts = app.UpdatedAt
		}
		if filter.From != nil && ts.Before(*filter.From) {
			return false
		}
		if filter.To != nil && !ts.Before(*filter.To) {
			return false
		}
	}
	return true
}

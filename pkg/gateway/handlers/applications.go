package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/auth"
	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

// ApplicationsHandler serves GET /v1/applications, the read-only search
// surface over the same engine the voice tools mutate.
type ApplicationsHandler struct {
	Engine *tracker.Engine
}

func (h ApplicationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, requestIDFromContext(r.Context()), &core.Error{
			Type:    core.ErrValidation,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}

	filter, ce := filterFromQuery(r)
	if ce != nil {
		writeError(w, r, ce)
		return
	}

	apps, err := h.Engine.Search(r.Context(), auth.UserIDFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applications []*tracker.Application `json:"applications"`
	}{Applications: apps})
}

func filterFromQuery(r *http.Request) (tracker.SearchFilter, *core.Error) {
	q := r.URL.Query()
	var filter tracker.SearchFilter

	for _, raw := range q["stage"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			stage, ok := tracker.ParseStage(part)
			if !ok {
				return filter, core.NewValidationError("unknown stage "+strconv.Quote(part), "stage")
			}
			filter.Stages = append(filter.Stages, stage)
		}
	}
	filter.Company = strings.TrimSpace(q.Get("company"))
	if raw := strings.TrimSpace(q.Get("remote")); raw != "" {
		remote, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, core.NewValidationError("remote must be a boolean", "remote")
		}
		filter.RemoteOK = &remote
	}
	filter.TimeRange = strings.TrimSpace(q.Get("range"))
	filter.TimeField = strings.TrimSpace(q.Get("time_field"))
	for param, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := strings.TrimSpace(q.Get(param))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, core.NewValidationError(param+" must be RFC 3339", param)
		}
		*dst = &ts
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, core.NewValidationError("limit must be a positive integer", "limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// SummaryHandler serves GET /v1/applications/summary.
type SummaryHandler struct {
	Engine *tracker.Engine
}

func (h SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, requestIDFromContext(r.Context()), &core.Error{
			Type:    core.ErrValidation,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.Engine.Summarize(r.Context(), auth.UserIDFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DueFollowupsHandler serves GET /v1/followups/due. The optional before
// query bounds the window; it defaults to now.
type DueFollowupsHandler struct {
	Engine *tracker.Engine
	Now    func() time.Time
}

func (h DueFollowupsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, requestIDFromContext(r.Context()), &core.Error{
			Type:    core.ErrValidation,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	before := now()
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, core.NewValidationError("before must be RFC 3339", "before"))
			return
		}
		before = ts
	}

	due, err := h.Engine.ListDueFollowups(r.Context(), auth.UserIDFrom(r.Context()), before)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Followups []tracker.DueFollowup `json:"followups"`
	}{Followups: due})
}

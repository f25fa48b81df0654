package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/mw"
)

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func writeErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps the error taxonomy onto HTTP status codes for the
// REST surface.
func statusForError(ce *core.Error) int {
	switch ce.Type {
	case core.ErrValidation, core.ErrUnknownTool, core.ErrEmptyBuffer, core.ErrSessionNotReady:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrApplicationNotFound:
		return http.StatusNotFound
	case core.ErrUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestIDFromContext(r.Context())
	ce := core.AsError(err)
	writeErrorJSON(w, reqID, ce, statusForError(ce))
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}

// NotFoundHandler answers unknown routes with the JSON error envelope.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	writeErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrAPI,
		Message: "not found",
		Code:    "not_found",
	}, http.StatusNotFound)
}

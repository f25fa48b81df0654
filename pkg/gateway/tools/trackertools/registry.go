// Package trackertools exposes the application state engine to the agent as
// function tools and dispatches model-issued calls.
package trackertools

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
)

// Result is the JSON object returned to the model for every dispatch.
// Failures are reported inside the object; Dispatch never panics and an
// unknown tool name never aborts the turn.
type Result map[string]any

func failure(err *core.Error) Result {
	return Result{
		"success": false,
		"error":   string(err.Type),
		"message": err.Message,
	}
}

// Executor is one function tool bound to the engine.
type Executor interface {
	Name() string
	Definition() pipeline.ToolDefinition
	Execute(ctx context.Context, userID string, args map[string]any) (Result, *core.Error)
}

// Registry dispatches tool calls by name.
type Registry struct {
	byName     map[string]Executor
	logger     *slog.Logger
	dispatches metric.Int64Counter
}

// NewRegistry builds a registry over the given executors.
func NewRegistry(logger *slog.Logger, executors ...Executor) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("github.com/jobtrack-ai/jobtrack/pkg/gateway/tools/trackertools")
	dispatches, err := meter.Int64Counter("tools.dispatches",
		metric.WithDescription("function tool dispatches"))
	if err != nil {
		logger.Warn("tool metrics disabled", "error", err)
	}

	registry := &Registry{
		byName:     make(map[string]Executor, len(executors)),
		logger:     logger,
		dispatches: dispatches,
	}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		registry.byName[ex.Name()] = ex
	}
	return registry
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions lists tool declarations in name order for the model.
func (r *Registry) Definitions() []pipeline.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]pipeline.ToolDefinition, 0, len(r.byName))
	for _, name := range r.Names() {
		defs = append(defs, r.byName[name].Definition())
	}
	return defs
}

// Dispatch executes a tool call for a user. Every outcome, including an
// unknown tool, comes back as a Result the model can read.
func (r *Registry) Dispatch(ctx context.Context, userID, name string, args map[string]any) Result {
	name = strings.TrimSpace(name)
	outcome := "ok"
	defer func() {
		if r.dispatches != nil {
			r.dispatches.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", name),
				attribute.String("outcome", outcome),
			))
		}
	}()

	if r == nil {
		outcome = "error"
		return failure(core.NewAPIError("tool registry is not configured"))
	}
	ex, ok := r.byName[name]
	if !ok {
		outcome = "unknown_tool"
		r.logger.Warn("unknown tool dispatched", "tool", name, "user_id", userID)
		return failure(core.NewUnknownToolError(name))
	}

	result, toolErr := ex.Execute(ctx, userID, args)
	if toolErr != nil {
		outcome = string(toolErr.Type)
		r.logger.Info("tool failed", "tool", name, "user_id", userID, "error", toolErr.Message)
		return failure(toolErr)
	}
	return result
}

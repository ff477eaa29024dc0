package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/providers"
	"github.com/vitacare/concierge/internal/tracing"
)

// Turn is the accumulator threaded through every tool execution of one
// agent turn. Tools record their side intentions here instead of
// mutating shared state; the pipeline reads it once after the loop.
type Turn struct {
	Conversation *model.Conversation
	Patient      *model.Patient

	// Interactive is the staged rich payload; the last staging tool
	// wins, and delivery consumes it with the final reply.
	Interactive *model.Interactive

	// Escalation requested explicitly via tool.
	Escalated        bool
	EscalationReason string

	// Appointment booked during this turn, if any.
	Booked *model.Appointment

	// Names of tools that ran, in order, for message metadata.
	ToolsUsed []string
}

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result
}

// Registry holds the tools and dispatches model tool calls.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t Tool) {
	if _, dup := r.tools[t.Name()]; dup {
		panic(fmt.Sprintf("tool registered twice: %s", t.Name()))
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Definitions renders the registered tools in the provider wire shape,
// in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs one tool call. Unknown tools and execution panics come
// back as error results for the model, never as process failures.
func (r *Registry) Execute(ctx context.Context, turn *Turn, call providers.ToolCall) (res *Result) {
	t, ok := r.tools[call.Name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	ctx, span := tracing.StartSpan(ctx, "tool."+call.Name,
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer func() {
		if res != nil && res.IsError {
			span.SetStatus(codes.Error, res.ForLLM)
		}
		span.End()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", call.Name, "panic", rec)
			res = ErrorResult(fmt.Sprintf("%s failed unexpectedly", call.Name))
		}
	}()

	res = t.Execute(ctx, turn, call.Arguments)
	if res == nil {
		res = ErrorResult(fmt.Sprintf("%s returned no result", call.Name))
	}
	if res.Err != nil {
		r.logger.Error("tool error", "tool", call.Name, "error", res.Err)
	}
	turn.ToolsUsed = append(turn.ToolsUsed, call.Name)
	return res
}

// jsonResult marshals v for the model; marshal failures degrade to an
// error result rather than a panic.
func jsonResult(v interface{}) *Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("internal encoding error").WithError(err)
	}
	return NewResult(string(raw))
}

package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-kernel/agentkernel/internal/backoff"
	"github.com/nexus-kernel/agentkernel/internal/memory"
	"github.com/nexus-kernel/agentkernel/internal/observability"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// DefaultTimeout is the per-tool execution deadline applied when a
// Descriptor doesn't override it (§4.2).
const DefaultTimeout = 60 * time.Second

// MaxTimeout is the largest timeout override a tool may request.
const MaxTimeout = 10 * time.Minute

// MaxAttempts is the number of attempts (including the first) the
// invoker makes for a retriable error (§4.2).
const MaxAttempts = 3

// retryPolicy encodes the spec's 1s/2s/4s ±20% jitter backoff ladder.
var retryPolicy = backoff.BackoffPolicy{
	InitialMs: 1000,
	MaxMs:     4000,
	Factor:    2,
	Jitter:    0.2,
}

// Result is the outcome of a tool invocation.
type Result struct {
	OK            bool
	Value         json.RawMessage
	Err           *Error
	Attempts      int
	IndexingStats *IndexingStats
}

// IndexingStats reports the outcome of the invoker's best-effort
// auto-indexing of an index-worthy tool's result (§4.2).
type IndexingStats struct {
	Attempted bool
	Indexed   bool
	Err       string
}

// Invoker executes registered tools with schema validation, timeout
// enforcement, retry, and best-effort auto-indexing.
type Invoker struct {
	registry *Registry
	memory   *memory.Manager
	logger   *observability.Logger
	events   *observability.EventRecorder
}

// NewInvoker constructs an Invoker. memory may be nil to disable
// auto-indexing (e.g. in tests).
func NewInvoker(registry *Registry, mem *memory.Manager, logger *observability.Logger) *Invoker {
	return &Invoker{registry: registry, memory: mem, logger: logger}
}

// WithEventRecorder attaches a replay timeline recorder (§4.2's tool
// lifecycle events, recorded for later debugging rather than just
// logged). Returns inv for chaining at construction time.
func (inv *Invoker) WithEventRecorder(events *observability.EventRecorder) *Invoker {
	inv.events = events
	return inv
}

// Invoke validates args against the tool's schema, then runs its
// handler under a per-call timeout, retrying retriable errors up to
// MaxAttempts times (§4.2).
func (inv *Invoker) Invoke(ctx context.Context, toolName string, args json.RawMessage, tenantID, userID, sessionID string) Result {
	t, ok := inv.registry.Get(toolName)
	if !ok {
		return Result{Err: NewError(ErrorKindBadArgs, "unknown tool: "+toolName)}
	}

	if _, err := validateArgs(t, args); err != nil {
		if toolErr, ok := err.(*Error); ok {
			return Result{Err: toolErr}
		}
		return Result{Err: NewError(ErrorKindBadArgs, err.Error())}
	}

	timeout := t.descriptor.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	var result Result
	var value json.RawMessage

	start := time.Now()
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		result.Attempts = attempt
		inv.logEvent(ctx, models.NewToolEvent(models.EventToolStarted, toolName, "").WithIteration(attempt))
		if inv.events != nil {
			_ = inv.events.RecordToolStart(ctx, toolName, args)
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		v, err := t.handler(callCtx, args)
		cancel()

		if err == nil {
			value = v
			result.Err = nil
			inv.logEvent(ctx, models.NewToolEvent(models.EventToolCompleted, toolName, "").WithIteration(attempt))
			if inv.events != nil {
				_ = inv.events.RecordToolEnd(ctx, toolName, time.Since(start), v, nil)
			}
			break
		}

		toolErr := asToolError(err, callCtx)
		result.Err = toolErr

		eventType := models.EventToolFailed
		if toolErr.Kind == ErrorKindTransportTimeout {
			eventType = models.EventToolTimeout
		}
		inv.logEvent(ctx, models.NewToolEvent(eventType, toolName, "").WithIteration(attempt).WithMessage(toolErr.Error()))
		if inv.events != nil {
			_ = inv.events.RecordToolEnd(ctx, toolName, time.Since(start), nil, toolErr)
		}

		if !toolErr.Retriable || attempt == MaxAttempts {
			break
		}
		if sleepErr := backoff.SleepWithBackoff(ctx, retryPolicy, attempt); sleepErr != nil {
			result.Err = NewError(ErrorKindTransportTimeout, "cancelled during retry backoff")
			break
		}
	}

	if result.Err != nil {
		return result
	}

	result.OK = true
	result.Value = value

	if t.descriptor.Indexable && inv.memory != nil {
		result.IndexingStats = inv.autoIndex(ctx, tenantID, userID, sessionID, toolName, value)
	}
	return result
}

// logEvent surfaces a tool lifecycle event (§4.2) through the shared
// structured logger. Failures are logged at Warn, everything else at
// Debug, since a single tool call retrying is normal operation, not an
// incident.
func (inv *Invoker) logEvent(ctx context.Context, ev *models.RuntimeEvent) {
	if inv.logger == nil {
		return
	}
	fields := []any{"event", ev.Type, "tool", ev.ToolName, "attempt", ev.Iteration}
	switch ev.Type {
	case models.EventToolFailed, models.EventToolTimeout:
		inv.logger.Warn(ctx, "tool invocation event", append(fields, "message", ev.Message)...)
	default:
		inv.logger.Debug(ctx, "tool invocation event", fields...)
	}
}

func asToolError(err error, ctx context.Context) *Error {
	if toolErr, ok := err.(*Error); ok {
		return toolErr
	}
	if ctx.Err() == context.DeadlineExceeded {
		return NewError(ErrorKindTransportTimeout, "tool call exceeded its deadline")
	}
	return NewError(ErrorKindUpstreamUnavailable, err.Error())
}

// autoIndexImportance is the importance score given to a tool result
// indexed without any human judgment behind it — below anything the
// Knowledge Agent commits from an explicit user statement, but still
// above the default query floor so it surfaces in later searches.
const autoIndexImportance = 0.4

func (inv *Invoker) autoIndex(ctx context.Context, tenantID, userID, sessionID, toolName string, value json.RawMessage) *IndexingStats {
	stats := &IndexingStats{Attempted: true}
	content := summarizeForIndex(toolName, value)
	if content == "" {
		return stats
	}
	if _, err := inv.memory.AddLong(ctx, tenantID, userID, content, autoIndexImportance, []string{sessionID}); err != nil {
		stats.Err = err.Error()
		if inv.logger != nil {
			inv.logger.Warn(ctx, "tool result auto-index failed", "tool", toolName, "error", err)
		}
		return stats
	}
	stats.Indexed = true
	return stats
}

func summarizeForIndex(toolName string, value json.RawMessage) string {
	if len(value) == 0 {
		return ""
	}
	const maxLen = 2000
	s := string(value)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return toolName + ": " + s
}

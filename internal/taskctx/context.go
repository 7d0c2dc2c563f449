// Package taskctx is the execution contract between the dispatch engine and
// handler code. taskctx.Context is a capability-scoped handle for a single
// job invocation: it is the only sanctioned way a handler reports progress,
// writes a log line, or checks whether it has been cancelled.
//
// Handlers never touch the task-log sink or the scheduler callback directly.
// They go through this object, which is why it exists: without it, "thread
// local" state (the currently-running job's id, its log sink, its deadline)
// would have nowhere idiomatic to live in Go.
package taskctx

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogWriter is the narrow capability a Context needs from the task-log sink.
// Defined here rather than imported from internal/tasklog so this package
// never depends on a storage backend; internal/tasklog.Sink satisfies it.
type LogWriter interface {
	WriteLog(ctx context.Context, logID int64, line string) error
}

// Context carries everything a handler needs for one invocation.
//
//   - Ctx: request-scoped context.Context; Done() fires on cancel or timeout
//     and is the single mechanism both async and blocking handlers use to
//     notice cancellation.
//   - JobID/LogID/HandlerName/Params: the RunData fields a handler actually
//     cares about.
//   - log: where Progress-style messages are appended.
type Context struct {
	Ctx context.Context

	JobID       int64
	LogID       int64
	HandlerName string
	Params      string

	// Result is the handler's return message, reported as the success
	// callback's msg. Left empty, the engine reports a generic "success".
	Result string

	log LogWriter
}

type jobCtxKey struct{}

// New builds a taskctx.Context for a claimed invocation, using ctx as-is as
// its Ctx. No trace id is added to log lines or callbacks; SpanTraceID reads
// whatever span ctx already carries.
func New(ctx context.Context, jobID, logID int64, handlerName, params string, log LogWriter) *Context {
	c := &Context{
		Ctx:         ctx,
		JobID:       jobID,
		LogID:       logID,
		HandlerName: handlerName,
		Params:      params,
		log:         log,
	}
	return c
}

// WithContext stashes c on a context.Context so helpers deep in a call
// stack can recover it via FromContext without a parameter threaded through
// every function signature — the idiomatic Go substitute for the dynamic
// scoping a thread-local would provide elsewhere.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, jobCtxKey{}, c)
}

// FromContext recovers the Context stashed by WithContext, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(jobCtxKey{}).(*Context)
	return c, ok
}

// Done reports whether the invocation has been cancelled or has timed out.
// Blocking handlers poll this; async handlers select on it alongside
// c.Ctx.Done() directly.
func (c *Context) Done() <-chan struct{} {
	if c == nil || c.Ctx == nil {
		return nil
	}
	return c.Ctx.Done()
}

// Err returns the reason Done() is closed, or nil if it isn't.
func (c *Context) Err() error {
	if c == nil || c.Ctx == nil {
		return nil
	}
	return c.Ctx.Err()
}

// Cancelled is a convenience check equivalent to c.Err() != nil.
func (c *Context) Cancelled() bool {
	return c.Err() != nil
}

// Progress appends a human-readable progress line to this invocation's log.
// Failures to write are swallowed: a logging hiccup must never fail the job
// itself.
func (c *Context) Progress(format string, args ...interface{}) {
	c.writeLine(fmt.Sprintf(format, args...))
}

// Logf is an alias for Progress kept for handlers that think in terms of
// "write a log line" rather than "report progress".
func (c *Context) Logf(format string, args ...interface{}) {
	c.writeLine(fmt.Sprintf(format, args...))
}

func (c *Context) writeLine(msg string) {
	if c == nil || c.log == nil {
		return
	}
	line := fmt.Sprintf("%s %s", time.Now().Format("2006-01-02 15:04:05.000"), msg)
	_ = c.log.WriteLog(c.Ctx, c.LogID, line)
}

// SetResult records the message the success callback should report. Call it
// from within Run before returning nil; ignored on a failing return.
func (c *Context) SetResult(msg string) {
	if c == nil {
		return
	}
	c.Result = msg
}

// SpanTraceID returns the trace id of the span carried on c.Ctx, if the
// caller attached one (e.g. the server adapter instrumented /run), empty
// otherwise. Used to correlate task log lines with distributed traces
// without forcing every handler to import the tracing API directly.
func (c *Context) SpanTraceID() string {
	if c == nil || c.Ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(c.Ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

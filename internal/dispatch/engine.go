// Package dispatch is the core: the per-jobId block-strategy state machine,
// invocation execution (async cooperative or bounded blocking pool),
// cancellation/timeout, and the finish protocol that serializes callbacks
// and promotes queued work. Everything else in this module exists to feed
// this package a RunData or to expose its results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xxljob/executor-go/internal/adminclient"
	"github.com/xxljob/executor-go/internal/logging"
	"github.com/xxljob/executor-go/internal/registry"
	"github.com/xxljob/executor-go/internal/taskctx"
	"github.com/xxljob/executor-go/internal/tasklog"
	"github.com/xxljob/executor-go/internal/xxlerr"
	"github.com/xxljob/executor-go/internal/xxltypes"
)

// Options configures the engine's resource limits, sourced from
// internal/config.Config at wiring time.
type Options struct {
	MaxWorkers         int
	TaskTimeoutSeconds int
	TaskQueueLength    int
}

// pendingItem is a queued RunData together with the handler resolved for it
// at submit time, so the finish protocol never has to re-resolve (and
// potentially fail to resolve) a handler name out of the registry.
type pendingItem struct {
	rd   xxltypes.RunData
	h    registry.Handler
	kind xxltypes.HandlerKind
}

// Engine is the Dispatch Engine (C4). One instance serves the whole
// process; cmd/executor builds it and hands the same *Engine to
// internal/server and internal/runner.
type Engine struct {
	reg    *registry.Registry
	sink   tasklog.Sink
	admin  adminclient.Client
	logger *logging.Logger
	opts   Options

	mu     sync.Mutex
	states map[int64]*jobState

	sem chan struct{} // bounded blocking-handler worker pool
	wg  sync.WaitGroup
}

// New wires an Engine. sink and admin are used for every invocation's
// logging and completion callback respectively.
func New(reg *registry.Registry, sink tasklog.Sink, admin adminclient.Client, logger *logging.Logger, opts Options) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 30
	}
	return &Engine{
		reg:    reg,
		sink:   sink,
		admin:  admin,
		logger: logger,
		opts:   opts,
		states: make(map[int64]*jobState),
		sem:    make(chan struct{}, opts.MaxWorkers),
	}
}

// Submit is the entry point for the scheduler's POST /run. It applies the
// per-job block-strategy state machine (spec §4.4.2) and returns a short
// status string, or an error of kind xxlerr.ErrHandlerNotFound /
// xxlerr.ErrJobDuplicate / xxlerr.ErrJobParams. A RunData with jobId or
// logId <= 0 is rejected with a plain validation error of none of these
// kinds.
func (e *Engine) Submit(rd xxltypes.RunData) (string, error) {
	if err := rd.Validate(); err != nil {
		return "", err
	}
	h, kind, ok := e.reg.Lookup(rd.HandlerName)
	if !ok {
		return "", fmt.Errorf("%w: %s", xxlerr.ErrHandlerNotFound, rd.HandlerName)
	}

	st := e.getOrCreateState(rd.JobID)
	st.mu.Lock()

	if st.running == nil && len(st.pending) == 0 {
		st.running = e.spawn(rd, h, kind, st)
		st.mu.Unlock()
		return "Running", nil
	}

	switch rd.BlockStrategy {
	case xxltypes.DiscardLater:
		st.mu.Unlock()
		return "", fmt.Errorf("%w: jobId %d is already running", xxlerr.ErrJobDuplicate, rd.JobID)

	case xxltypes.CoverEarly:
		// Enqueue unconditionally — COVER_EARLY's priority is "I must run",
		// so it bypasses the SERIAL_EXECUTION capacity check even if the
		// pending queue is already at taskQueueLength.
		st.pending = append(st.pending, pendingItem{rd: rd, h: h, kind: kind})
		running := st.running
		st.mu.Unlock()
		if running != nil {
			go e.cancelInvocation(st, running)
		}
		return "replaced", nil

	case xxltypes.SerialExecution:
		if len(st.pending) >= e.opts.TaskQueueLength {
			st.mu.Unlock()
			return "", fmt.Errorf("%w: jobId %d pending queue is full", xxlerr.ErrJobDuplicate, rd.JobID)
		}
		st.pending = append(st.pending, pendingItem{rd: rd, h: h, kind: kind})
		pos := len(st.pending)
		st.mu.Unlock()
		return fmt.Sprintf("queued at position %d", pos), nil

	default:
		st.mu.Unlock()
		return "", fmt.Errorf("%w: unknown blockStrategy %q", xxlerr.ErrJobParams, rd.BlockStrategy)
	}
}

// spawn starts an invocation's goroutine and returns its handle. Called
// with st.mu held, per the finish-protocol requirement that no concurrent
// Submit observes a gap between a slot freeing up and its replacement
// taking it.
func (e *Engine) spawn(rd xxltypes.RunData, h registry.Handler, kind xxltypes.HandlerKind, st *jobState) *invocation {
	timeoutSec := rd.TimeoutSecond
	if timeoutSec <= 0 {
		timeoutSec = e.opts.TaskTimeoutSeconds
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if timeoutSec > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	inv := &invocation{id: newInvocationID(), runData: rd, startMs: nowMs(), cancel: cancel, done: make(chan struct{})}
	e.wg.Add(1)
	go e.run(ctx, inv, h, kind, st)
	return inv
}

// run drives one invocation from start to its finish-protocol transition.
// It always closes the scoped log and runs finish(), on every exit path —
// success, cooperative cancel, timeout, handler error, or handler panic.
func (e *Engine) run(ctx context.Context, inv *invocation, h registry.Handler, kind xxltypes.HandlerKind, st *jobState) {
	defer e.wg.Done()
	defer close(inv.done)
	defer inv.cancel()

	if e.logger != nil {
		e.logger.Debug("invocation started", "invocationId", inv.id, "jobId", inv.runData.JobID, "logId", inv.runData.LogID, "handler", inv.runData.HandlerName)
	}

	tc := taskctx.New(ctx, inv.runData.JobID, inv.runData.LogID, inv.runData.HandlerName, inv.runData.Params, e.sink)

	var handlerErr error
	if kind == xxltypes.KindBlocking {
		handlerErr = e.runBlocking(tc, h)
	} else {
		handlerErr = e.runAsync(tc, h)
	}

	_ = e.sink.MarkDone(context.Background(), inv.runData.LogID)

	code, msg := outcomeFor(handlerErr)
	if handlerErr == nil && tc.Result != "" {
		msg = tc.Result
	}
	e.sendCallback(inv.runData, code, msg)

	e.finish(inv.runData.JobID, st, inv)
}

// runAsync executes a cooperative handler, racing its completion against
// the invocation's context. Handlers are expected to select on
// taskctx.Context.Done() at their own suspension points; this race is what
// makes cancellation/timeout observable to the engine even if they don't.
func (e *Engine) runAsync(tc *taskctx.Context, h registry.Handler) error {
	resCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- fmt.Errorf("%w: panic: %v", xxlerr.ErrHandlerFailure, r)
			}
		}()
		resCh <- h.Run(tc)
	}()
	select {
	case err := <-resCh:
		return err
	case <-tc.Done():
		return tc.Err()
	}
}

// runBlocking executes a handler on the bounded worker pool. Because an OS
// thread cannot be safely preempted, the pool slot (e.sem) is held by the
// handler's own goroutine and released only when that goroutine actually
// returns — if the handler never polls tc.Cancelled() after timeout/cancel,
// the slot is lost until it finishes naturally (documented in spec §4.4.3
// as a known resource leak, exercised by scenario S5).
func (e *Engine) runBlocking(tc *taskctx.Context, h registry.Handler) error {
	select {
	case e.sem <- struct{}{}:
	case <-tc.Done():
		return tc.Err()
	}

	resCh := make(chan error, 1)
	go func() {
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				resCh <- fmt.Errorf("%w: panic: %v", xxlerr.ErrHandlerFailure, r)
			}
		}()
		resCh <- h.Run(tc)
	}()

	select {
	case err := <-resCh:
		return err
	case <-tc.Done():
		return tc.Err()
	}
}

func outcomeFor(err error) (code int, msg string) {
	if err == nil {
		return adminclient.HandleCodeSuccess, "success"
	}
	switch {
	case errors.Is(err, context.Canceled):
		return adminclient.HandleCodeFail, xxlerr.ErrHandlerCancelled.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return adminclient.HandleCodeFail, xxlerr.ErrHandlerTimeout.Error()
	default:
		return adminclient.HandleCodeFail, err.Error()
	}
}

// sendCallback reports an invocation's outcome to the scheduler. Called
// synchronously from run(), before finish() pops the next pending item, so
// that within a jobId callbacks are emitted in submit order (spec §8
// invariant 4) even though callback delivery is otherwise best-effort.
func (e *Engine) sendCallback(rd xxltypes.RunData, code int, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	cb := adminclient.Callback{
		LogID:         rd.LogID,
		LogDateTime:   rd.LogDateTime,
		HandleCode:    code,
		HandleMsg:     msg,
		ExecuteResult: adminclient.ExecuteResult{Code: code, Msg: msg},
	}
	if err := e.admin.Callback(ctx, cb); err != nil && e.logger != nil {
		e.logger.Warn("task callback failed", "jobId", rd.JobID, "logId", rd.LogID, "error", err)
	}
	if e.logger != nil {
		e.logger.Debug("invocation finished", "jobId", rd.JobID, "logId", rd.LogID, "code", code)
	}
}

// finish is the finish protocol (spec §4.4.4): under st.mu, clear the
// completed invocation from running, promote the pending head if any, and
// reap the jobState if it is now fully empty.
func (e *Engine) finish(jobID int64, st *jobState, inv *invocation) {
	st.mu.Lock()
	if st.running == inv {
		st.running = nil
	}
	if len(st.pending) > 0 {
		item := st.pending[0]
		st.pending = st.pending[1:]
		st.running = e.spawn(item.rd, item.h, item.kind, st)
	}
	empty := st.running == nil && len(st.pending) == 0
	st.mu.Unlock()

	if empty {
		e.reap(jobID, st)
	}
}

func (e *Engine) getOrCreateState(jobID int64) *jobState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[jobID]
	if !ok {
		st = &jobState{}
		e.states[jobID] = st
	}
	return st
}

// reap drops a jobId's bookkeeping once both running and pending are empty,
// bounding memory for jobIds that stop recurring.
func (e *Engine) reap(jobID int64, st *jobState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.states[jobID] != st {
		return
	}
	st.mu.Lock()
	empty := st.running == nil && len(st.pending) == 0
	st.mu.Unlock()
	if empty {
		delete(e.states, jobID)
	}
}

// cancelInvocation cancels inv only if it is still st.running, identified by
// pointer identity rather than by re-reading jobId state. This matters for
// COVER_EARLY: between Submit's unlock (after enqueueing the covering item)
// and this goroutine acquiring st.mu, the original invocation may finish
// naturally and finish() may already have promoted the covering item into
// st.running — cancelling by identity instead of "whatever is running now"
// avoids cancelling that freshly-started invocation by mistake.
func (e *Engine) cancelInvocation(st *jobState, inv *invocation) {
	st.mu.Lock()
	stillRunning := st.running == inv
	st.mu.Unlock()
	if !stillRunning {
		return
	}
	inv.cancel()
	<-inv.done
}

// Cancel cancels the running invocation for jobId. If includeQueue is true,
// every pending RunData for that job is discarded first — each is logged
// but produces no callback, since it never started (spec §4.4.5).
func (e *Engine) Cancel(jobID int64, includeQueue bool) {
	e.mu.Lock()
	st, ok := e.states[jobID]
	e.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	var discarded []pendingItem
	if includeQueue {
		discarded = st.pending
		st.pending = nil
	}
	running := st.running
	st.mu.Unlock()

	for _, item := range discarded {
		if e.logger != nil {
			e.logger.Info("discarded pending invocation", "jobId", jobID, "logId", item.rd.LogID)
		}
	}

	if running != nil {
		running.cancel()
		<-running.done
	}
}

// IsRunning reports whether jobId currently has an in-flight invocation.
// Pending queue content does not count.
func (e *Engine) IsRunning(jobID int64) bool {
	e.mu.Lock()
	st, ok := e.states[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.running != nil
}

// ShutdownNow cancels every running invocation and drops every pending
// queue immediately.
func (e *Engine) ShutdownNow() {
	e.mu.Lock()
	jobIDs := make([]int64, 0, len(e.states))
	for id := range e.states {
		jobIDs = append(jobIDs, id)
	}
	e.mu.Unlock()
	for _, id := range jobIDs {
		e.Cancel(id, true)
	}
}

// ShutdownGraceful lets running invocations and queued items drain on their
// own; once timeout elapses with work still outstanding, it escalates to
// ShutdownNow.
func (e *Engine) ShutdownGraceful(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for e.anyActive() {
		if time.Now().After(deadline) {
			if e.logger != nil {
				e.logger.Warn("graceful shutdown deadline exceeded, forcing shutdown")
			}
			e.ShutdownNow()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (e *Engine) anyActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		st.mu.Lock()
		active := st.running != nil || len(st.pending) > 0
		st.mu.Unlock()
		if active {
			return true
		}
	}
	return false
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xxljob/executor-go/internal/adminclient"
	"github.com/xxljob/executor-go/internal/registry"
	"github.com/xxljob/executor-go/internal/taskctx"
	"github.com/xxljob/executor-go/internal/xxlerr"
	"github.com/xxljob/executor-go/internal/xxltypes"
)

// fakeAdmin records every callback in arrival order.
type fakeAdmin struct {
	mu        sync.Mutex
	callbacks []adminclient.Callback
}

func (f *fakeAdmin) Register(context.Context, string, string) error       { return nil }
func (f *fakeAdmin) RegistryRemove(context.Context, string, string) error { return nil }
func (f *fakeAdmin) Callback(_ context.Context, cb adminclient.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
	return nil
}

func (f *fakeAdmin) snapshot() []adminclient.Callback {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]adminclient.Callback, len(f.callbacks))
	copy(out, f.callbacks)
	return out
}

type memSink struct{}

func (memSink) WriteLog(context.Context, int64, string) error            { return nil }
func (memSink) Read(context.Context, int64, int) ([]string, bool, error) { return nil, true, nil }
func (memSink) MarkDone(context.Context, int64) error                    { return nil }
func (memSink) Expire(context.Context) (int, error)                      { return 0, nil }
func (memSink) Close() error                                             { return nil }

func newTestEngine(t *testing.T, maxWorkers, queueLen int) (*Engine, *registry.Registry, *fakeAdmin) {
	t.Helper()
	reg := registry.New()
	admin := &fakeAdmin{}
	eng := New(reg, memSink{}, admin, nil, Options{MaxWorkers: maxWorkers, TaskTimeoutSeconds: 0, TaskQueueLength: queueLen})
	return eng, reg, admin
}

func sleepHandler(d time.Duration) registry.HandlerFunc {
	return func(ctx *taskctx.Context) error {
		select {
		case <-time.After(d):
			ctx.SetResult("ok")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func rd(jobID, logID int64, strategy xxltypes.BlockStrategy) xxltypes.RunData {
	return xxltypes.RunData{JobID: jobID, LogID: logID, HandlerName: "H", BlockStrategy: strategy}
}

func TestSubmit_SerialExecutionRunsInOrder(t *testing.T) {
	eng, reg, admin := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(50*time.Millisecond))

	if _, err := eng.Submit(rd(1, 11, xxltypes.SerialExecution)); err != nil {
		t.Fatalf("submit 11: %v", err)
	}
	if _, err := eng.Submit(rd(1, 12, xxltypes.SerialExecution)); err != nil {
		t.Fatalf("submit 12: %v", err)
	}
	if _, err := eng.Submit(rd(1, 13, xxltypes.SerialExecution)); err != nil {
		t.Fatalf("submit 13: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(admin.snapshot()) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cbs := admin.snapshot()
	if len(cbs) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(cbs))
	}
	wantOrder := []int64{11, 12, 13}
	for i, want := range wantOrder {
		if cbs[i].LogID != want {
			t.Fatalf("callback order mismatch: got %v, want logId order %v", cbs, wantOrder)
		}
		if cbs[i].HandleCode != adminclient.HandleCodeSuccess {
			t.Fatalf("expected success callback for logId=%d, got %+v", want, cbs[i])
		}
	}
}

func TestSubmit_DiscardLaterRejectsWhileRunning(t *testing.T) {
	eng, reg, admin := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(200*time.Millisecond))

	if _, err := eng.Submit(rd(2, 21, xxltypes.DiscardLater)); err != nil {
		t.Fatalf("submit 21: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_, err := eng.Submit(rd(2, 22, xxltypes.DiscardLater))
	if !errors.Is(err, xxlerr.ErrJobDuplicate) {
		t.Fatalf("expected ErrJobDuplicate for logId=22, got %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	cbs := admin.snapshot()
	if len(cbs) != 1 || cbs[0].LogID != 21 {
		t.Fatalf("expected exactly one callback for logId=21, got %+v", cbs)
	}
}

func TestSubmit_CoverEarlyCancelsRunningThenRunsNew(t *testing.T) {
	eng, reg, admin := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(2*time.Second))

	if _, err := eng.Submit(rd(3, 31, xxltypes.CoverEarly)); err != nil {
		t.Fatalf("submit 31: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	status, err := eng.Submit(rd(3, 32, xxltypes.CoverEarly))
	if err != nil {
		t.Fatalf("submit 32: %v", err)
	}
	if status != "replaced" {
		t.Fatalf("expected status=replaced, got %q", status)
	}

	// 32 only starts once 31's cancellation has finished, then sleeps 2s
	// itself, so the wait must leave room beyond that 2s.
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if len(admin.snapshot()) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cbs := admin.snapshot()
	if len(cbs) != 2 {
		t.Fatalf("expected 2 callbacks, got %d: %+v", len(cbs), cbs)
	}
	if cbs[0].LogID != 31 || cbs[0].HandleCode != adminclient.HandleCodeFail || cbs[0].HandleMsg != xxlerr.ErrHandlerCancelled.Error() {
		t.Fatalf("expected 31 to be cancelled first, got %+v", cbs[0])
	}
	if cbs[1].LogID != 32 || cbs[1].HandleCode != adminclient.HandleCodeSuccess {
		t.Fatalf("expected 32 to succeed second, got %+v", cbs[1])
	}
}

func TestSubmit_SerialQueueFullRejects(t *testing.T) {
	eng, reg, _ := newTestEngine(t, 5, 1)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(300*time.Millisecond))

	if _, err := eng.Submit(rd(9, 91, xxltypes.SerialExecution)); err != nil {
		t.Fatalf("submit 91: %v", err)
	}
	if _, err := eng.Submit(rd(9, 92, xxltypes.SerialExecution)); err != nil {
		t.Fatalf("submit 92 (fills queue): %v", err)
	}
	_, err := eng.Submit(rd(9, 93, xxltypes.SerialExecution))
	if !errors.Is(err, xxlerr.ErrJobDuplicate) {
		t.Fatalf("expected ErrJobDuplicate for full queue, got %v", err)
	}
}

func TestSubmit_UnknownHandlerFails(t *testing.T) {
	eng, _, _ := newTestEngine(t, 5, 5)
	_, err := eng.Submit(rd(1, 1, xxltypes.SerialExecution))
	if !errors.Is(err, xxlerr.ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestCancel_IncludeQueueDrainsWithoutCallbacks(t *testing.T) {
	eng, reg, admin := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(2*time.Second))

	_, _ = eng.Submit(rd(4, 41, xxltypes.SerialExecution))
	_, _ = eng.Submit(rd(4, 42, xxltypes.SerialExecution))
	_, _ = eng.Submit(rd(4, 43, xxltypes.SerialExecution))

	time.Sleep(20 * time.Millisecond)
	eng.Cancel(4, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && eng.IsRunning(4) {
		time.Sleep(10 * time.Millisecond)
	}
	if eng.IsRunning(4) {
		t.Fatalf("expected jobId=4 to stop running after cancel")
	}

	cbs := admin.snapshot()
	if len(cbs) != 1 || cbs[0].LogID != 41 || cbs[0].HandleMsg != xxlerr.ErrHandlerCancelled.Error() {
		t.Fatalf("expected exactly one cancelled callback for logId=41, got %+v", cbs)
	}
}

func TestBlockingHandler_TimeoutIgnoringCancelStillCallsBack(t *testing.T) {
	eng, reg, admin := newTestEngine(t, 2, 5)
	started := make(chan struct{})
	_ = reg.RegisterFunc("B", xxltypes.KindBlocking, false, func(ctx *taskctx.Context) error {
		close(started)
		for i := 0; i < 100; i++ {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})

	rdItem := xxltypes.RunData{JobID: 5, LogID: 51, HandlerName: "B", BlockStrategy: xxltypes.SerialExecution, TimeoutSecond: 1}
	if _, err := eng.Submit(rdItem); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(admin.snapshot()) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cbs := admin.snapshot()
	if len(cbs) != 1 || cbs[0].HandleMsg != xxlerr.ErrHandlerTimeout.Error() {
		t.Fatalf("expected timeout callback, got %+v", cbs)
	}
}

func TestRegisterReplace_LookupReturnsNewHandler(t *testing.T) {
	reg := registry.New()
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, func(ctx *taskctx.Context) error { return nil })
	marker := errors.New("marker")
	_ = reg.RegisterFunc("H", xxltypes.KindBlocking, true, func(ctx *taskctx.Context) error { return marker })

	h, kind, ok := reg.Lookup("H")
	if !ok || kind != xxltypes.KindBlocking {
		t.Fatalf("expected replaced handler with KindBlocking, got ok=%v kind=%v", ok, kind)
	}
	if err := h.Run(nil); !errors.Is(err, marker) {
		t.Fatalf("expected replaced handler to run, got %v", err)
	}
}

func TestIsRunning_FalseForUnknownJob(t *testing.T) {
	eng, _, _ := newTestEngine(t, 5, 5)
	if eng.IsRunning(12345) {
		t.Fatalf("expected false for unknown jobId")
	}
}

func TestShutdownGraceful_DrainsThenReturns(t *testing.T) {
	eng, reg, _ := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(50*time.Millisecond))
	_, _ = eng.Submit(rd(6, 61, xxltypes.SerialExecution))

	start := time.Now()
	eng.ShutdownGraceful(2 * time.Second)
	if time.Since(start) > time.Second {
		t.Fatalf("expected graceful shutdown to return promptly once work drains")
	}
	if eng.IsRunning(6) {
		t.Fatalf("expected no running invocation after graceful shutdown")
	}
}

func TestShutdownNow_CancelsEverything(t *testing.T) {
	eng, reg, _ := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(5*time.Second))
	_, _ = eng.Submit(rd(7, 71, xxltypes.SerialExecution))
	time.Sleep(20 * time.Millisecond)

	eng.ShutdownNow()
	if eng.IsRunning(7) {
		t.Fatalf("expected no running invocation after ShutdownNow")
	}
}

func TestSubmit_JobParamsForUnknownBlockStrategy(t *testing.T) {
	eng, reg, _ := newTestEngine(t, 5, 5)
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, sleepHandler(time.Millisecond))
	raw := []byte(fmt.Sprintf(`{"jobId":1,"logId":1,"executorHandler":"H","executorBlockStrategy":"NOT_REAL"}`))
	parsed, err := xxltypes.ParseRunData(raw)
	if !errors.Is(err, xxlerr.ErrJobParams) {
		t.Fatalf("expected ErrJobParams at parse time, got %v", err)
	}
	if _, err := eng.Submit(parsed); err == nil {
		t.Fatalf("expected Submit to also reject invalid RunData")
	}
}

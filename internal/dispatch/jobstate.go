package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xxljob/executor-go/internal/xxltypes"
)

// invocation is the ephemeral handle for one running RunData. id is an
// internal handle with no wire meaning (the scheduler only knows jobId/
// logId) used to tell invocations of the same jobId apart in logs. cancel
// fires both the timeout path and the explicit cancel path; done closes once
// the engine's run() for this invocation returns (after its callback and
// finish protocol), letting cancel() wait outside the lock without a second
// synchronization primitive. A blocking handler that ignores cancellation
// may still be running on its worker when done closes.
type invocation struct {
	id      string
	runData xxltypes.RunData
	startMs int64
	cancel  context.CancelFunc
	done    chan struct{}
}

func newInvocationID() string { return uuid.NewString() }

// jobState is the per-jobId bookkeeping: at most one running invocation,
// an ordered pending queue, and the lock that guards transitions between
// them. One jobState exists per jobId with either a running invocation or
// pending items; engine.reap removes it once both are empty.
type jobState struct {
	mu      sync.Mutex
	running *invocation
	pending []pendingItem
}

func nowMs() int64 { return time.Now().UnixMilli() }

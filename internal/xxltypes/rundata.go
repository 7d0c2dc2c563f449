// Package xxltypes holds the wire-level value types shared by the server
// adapter and the dispatch engine: RunData, the block-strategy enum, and the
// handler-kind tag. These are plain data; behavior lives in internal/dispatch
// and internal/registry.
package xxltypes

import (
	"encoding/json"
	"fmt"

	"github.com/xxljob/executor-go/internal/xxlerr"
)

// BlockStrategy is the per-job concurrency policy selected by the scheduler.
type BlockStrategy string

const (
	SerialExecution BlockStrategy = "SERIAL_EXECUTION"
	DiscardLater    BlockStrategy = "DISCARD_LATER"
	CoverEarly      BlockStrategy = "COVER_EARLY"
)

// Valid reports whether s is one of the three known strategies.
func (s BlockStrategy) Valid() bool {
	switch s {
	case SerialExecution, DiscardLater, CoverEarly:
		return true
	default:
		return false
	}
}

// HandlerKind tags a registered handler as cooperatively async or as
// requiring a dedicated worker-pool slot.
type HandlerKind int

const (
	KindAsync HandlerKind = iota
	KindBlocking
)

func (k HandlerKind) String() string {
	if k == KindBlocking {
		return "blocking"
	}
	return "async"
}

// RunData is the immutable per-invocation payload delivered by the
// scheduler's POST /run. Field names follow the XXL-JOB wire contract
// (see original_source/pyxxl/schema.py). The glue/broadcast fields below are
// carried as-is; any other unknown wire field is tolerated on decode and
// dropped, not preserved.
type RunData struct {
	JobID         int64         `json:"jobId"`
	LogID         int64         `json:"logId"`
	HandlerName   string        `json:"executorHandler"`
	Params        string        `json:"executorParams"`
	BlockStrategy BlockStrategy `json:"executorBlockStrategy"`
	TimeoutSecond int           `json:"executorTimeout"`
	LogDateTime   int64         `json:"logDateTime"`

	// Glue/broadcast fields: carried through but never interpreted by the
	// core (glue-script execution and cross-executor coordination are
	// explicit Non-goals).
	GlueType       string `json:"glueType,omitempty"`
	GlueSource     string `json:"glueSource,omitempty"`
	GlueUpdateTime int64  `json:"glueUpdatetime,omitempty"`
	BroadcastIndex int    `json:"broadcastIndex,omitempty"`
	BroadcastTotal int    `json:"broadcastTotal,omitempty"`
}

// Validate enforces the invariants from spec.md §3: jobId>0, logId>0 and
// blockStrategy is one of the three known variants. Callers parse the wire
// JSON first and call Validate before the strategy is ever dispatched on, so
// JobParams is raised at parse time rather than mid-dispatch (per spec.md §9).
func (r RunData) Validate() error {
	if r.JobID <= 0 {
		return fmt.Errorf("jobId must be > 0, got %d", r.JobID)
	}
	if r.LogID <= 0 {
		return fmt.Errorf("logId must be > 0, got %d", r.LogID)
	}
	if !r.BlockStrategy.Valid() {
		return fmt.Errorf("%w: unknown blockStrategy %q", xxlerr.ErrJobParams, r.BlockStrategy)
	}
	return nil
}

// ParseRunData decodes a wire-format RunData and validates it.
func ParseRunData(raw []byte) (RunData, error) {
	var rd RunData
	if err := json.Unmarshal(raw, &rd); err != nil {
		return RunData{}, fmt.Errorf("decode RunData: %w", err)
	}
	return rd, rd.Validate()
}

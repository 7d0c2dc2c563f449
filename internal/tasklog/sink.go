// Package tasklog implements the pluggable task-log sink: the storage
// backend behind the scheduler's POST /log paging endpoint. Three
// backends are provided — disk, redis, sqlite — selected by
// internal/config.Config.LogBackend. Every backend satisfies the same
// narrow Sink contract so the dispatch engine and server adapter never
// know which one is in use.
package tasklog

import (
	"context"
	"errors"
)

// ErrLogNotFound is returned by Read when no log has ever been written for
// logID.
var ErrLogNotFound = errors.New("tasklog: log not found")

// Sink is the storage contract every task-log backend implements.
//
// WriteLog appends one line to logID's log, creating it if necessary.
// Read returns up to the sink's tail-lines cap of lines from fromLineNum
// (1-indexed, inclusive) onward, plus whether that page reaches the log's
// currently stored end (isEnd=true) — not whether the invocation has
// finished writing. A fromLineNum past the stored end yields no lines and
// isEnd=true.
// Expire deletes every log older than the sink's configured retention.
type Sink interface {
	WriteLog(ctx context.Context, logID int64, line string) error
	Read(ctx context.Context, logID int64, fromLineNum int) (lines []string, isEnd bool, err error)
	MarkDone(ctx context.Context, logID int64) error
	Expire(ctx context.Context) (removed int, err error)
	Close() error
}

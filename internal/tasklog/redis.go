package tasklog

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisSink stores each invocation's log as a Redis list at key
// "xxljob:log:<logID>", with TTL-based expiry in place of a sweep loop —
// Expire is a no-op here since Redis already reaps expired keys natively.
// "done" is a sibling string key kept for diagnostics, but Read derives
// isEnd from the page boundary against LLEN, not from this key.
type RedisSink struct {
	rdb       *goredis.Client
	retain    time.Duration
	tailLines int
}

// NewRedisSink connects to addr/db and verifies reachability with PING.
// tailLines caps how many lines a single Read call returns (0 falls back to
// defaultTailLines).
func NewRedisSink(addr string, db int, retain time.Duration, tailLines int) (*RedisSink, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DB: db, DialTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("tasklog: redis ping: %w", err)
	}
	if tailLines <= 0 {
		tailLines = defaultTailLines
	}
	return &RedisSink{rdb: rdb, retain: retain, tailLines: tailLines}, nil
}

func logKey(logID int64) string  { return fmt.Sprintf("xxljob:log:%d", logID) }
func doneKey(logID int64) string { return fmt.Sprintf("xxljob:log:%d:done", logID) }

func (s *RedisSink) WriteLog(ctx context.Context, logID int64, line string) error {
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, logKey(logID), line)
	pipe.Expire(ctx, logKey(logID), s.retain)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tasklog: redis rpush %d: %w", logID, err)
	}
	return nil
}

// Read returns up to s.tailLines consecutive lines starting at fromLineNum
// (1-based). isEnd reports whether the returned page reaches the list's
// current length (LLEN), not whether MarkDone has been called.
func (s *RedisSink) Read(ctx context.Context, logID int64, fromLineNum int) ([]string, bool, error) {
	if fromLineNum < 1 {
		fromLineNum = 1
	}
	exists, err := s.rdb.Exists(ctx, logKey(logID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("tasklog: redis exists %d: %w", logID, err)
	}
	if exists == 0 {
		return nil, false, ErrLogNotFound
	}
	total, err := s.rdb.LLen(ctx, logKey(logID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("tasklog: redis llen %d: %w", logID, err)
	}
	if int64(fromLineNum) > total {
		return nil, true, nil
	}
	toLine := int64(fromLineNum) + int64(s.tailLines) - 1
	if toLine > total {
		toLine = total
	}
	lines, err := s.rdb.LRange(ctx, logKey(logID), int64(fromLineNum-1), toLine-1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("tasklog: redis lrange %d: %w", logID, err)
	}
	isEnd := toLine >= total
	return lines, isEnd, nil
}

func (s *RedisSink) MarkDone(ctx context.Context, logID int64) error {
	if err := s.rdb.Set(ctx, doneKey(logID), "1", s.retain).Err(); err != nil {
		return fmt.Errorf("tasklog: redis mark done %d: %w", logID, err)
	}
	return nil
}

// Expire is a no-op: every key carries its own TTL (the log list's is reset
// on each WriteLog, the done key's is set by MarkDone), so Redis itself
// sweeps expired logs.
func (s *RedisSink) Expire(context.Context) (int, error) { return 0, nil }

func (s *RedisSink) Close() error { return s.rdb.Close() }

// Package logging provides the structured logger used by every executor
// component. It wraps zap's SugaredLogger with a small field-redaction pass
// so access tokens and similar secrets never reach the executor's own logs.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Logger is the process-wide structured logger. Component constructors take
// one and call With to attach a component name, mirroring how every
// component in this codebase is handed a pre-scoped logger rather than
// reaching for a global.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger. mode selects zap's production or development preset;
// anything other than "prod"/"production" gets the development preset
// (console encoding, debug level, readable timestamps).
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar()}, nil
}

// Sync flushes any buffered log entries. Call once at shutdown.
func (l *Logger) Sync() {
	if l == nil || l.sugar == nil {
		return
	}
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, sanitize(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, sanitize(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, sanitize(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, sanitize(kv)...) }

// With returns a child Logger that prepends kv to every subsequent record.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(sanitize(kv)...)}
}

var (
	redactOnce    sync.Once
	redactEnabled bool
)

func sanitize(kv []interface{}) []interface{} {
	if len(kv) == 0 || !redactionOn() {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := strings.ToLower(strings.TrimSpace(toString(kv[i])))
		out = append(out, kv[i], redactIfSecret(key, kv[i+1]))
	}
	return out
}

func redactIfSecret(key string, val interface{}) interface{} {
	switch {
	case strings.Contains(key, "token"),
		strings.Contains(key, "authorization"),
		strings.Contains(key, "secret"),
		strings.Contains(key, "password"):
		return "[REDACTED]"
	default:
		return val
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func redactionOn() bool {
	redactOnce.Do(func() { redactEnabled = true })
	return redactEnabled
}

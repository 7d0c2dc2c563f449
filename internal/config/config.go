// Package config loads the executor's runtime configuration from the
// environment, with an optional YAML file overlay applied first so
// deployments can check a config file into source control and still
// override individual values with env vars at the container level.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xxljob/executor-go/internal/logging"
)

// LogBackend selects which internal/tasklog implementation the runner wires
// up.
type LogBackend string

const (
	LogBackendDisk   LogBackend = "disk"
	LogBackendRedis  LogBackend = "redis"
	LogBackendSQLite LogBackend = "sqlite"
)

// Config is every knob the executor reads at startup. Field names mirror
// the env vars (with an XXL_ prefix) and the equivalent YAML keys.
type Config struct {
	AdminBaseURL    string `yaml:"adminBaseUrl"`
	AccessToken     string `yaml:"accessToken"`
	AppName         string `yaml:"appName"`
	AdvertiseURL    string `yaml:"advertiseUrl"`
	ListenHost      string `yaml:"listenHost"`
	ListenPort      int    `yaml:"listenPort"`
	MaxWorkers      int    `yaml:"maxWorkers"`
	TaskTimeout     int    `yaml:"taskTimeout"`     // seconds; 0 = no default timeout
	TaskQueueLength int    `yaml:"taskQueueLength"` // per-job SERIAL_EXECUTION pending queue depth

	GracefulClose   bool `yaml:"gracefulClose"`
	GracefulTimeout int  `yaml:"gracefulTimeout"` // seconds

	LogBackend     LogBackend `yaml:"logBackend"`
	LogRetainHours int        `yaml:"logRetainHours"`
	LogTailLines   int        `yaml:"logTailLines"` // max lines a single /log page returns
	LogDiskDir     string     `yaml:"logDiskDir"`
	LogRedisAddr   string     `yaml:"logRedisAddr"`
	LogRedisDB     int        `yaml:"logRedisDb"`
	LogSQLitePath  string     `yaml:"logSqlitePath"`

	Debug bool `yaml:"debug"`
}

// Defaults mirrors pyxxl's ExecutorConfig defaults (see
// original_source/pyxxl/setting.py), adapted to this module's field names.
func Defaults() Config {
	return Config{
		AppName:         "executor-go",
		ListenHost:      "0.0.0.0",
		ListenPort:      9999,
		MaxWorkers:      30,
		TaskTimeout:     600,
		TaskQueueLength: 30,
		GracefulClose:   true,
		GracefulTimeout: 20,
		LogBackend:      LogBackendDisk,
		LogRetainHours:  24 * 7,
		LogTailLines:    1000,
		LogDiskDir:      "./xxl-job-logs",
	}
}

// Load builds a Config starting from Defaults, optionally overlaying a YAML
// file at path (skipped if path is empty or the file does not exist), then
// applying every recognized XXL_* environment variable on top. log may be
// nil; when non-nil each string-valued variable's resolved value (or its
// default) is recorded at debug level, while int and bool variables are only
// logged when their value fails to parse.
func Load(path string, log *logging.Logger) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.AdminBaseURL = getEnv("XXL_ADMIN_BASE_URL", cfg.AdminBaseURL, log)
	cfg.AccessToken = getEnv("XXL_ACCESS_TOKEN", cfg.AccessToken, log)
	cfg.AppName = getEnv("XXL_APP_NAME", cfg.AppName, log)
	cfg.AdvertiseURL = getEnv("XXL_ADVERTISE_URL", cfg.AdvertiseURL, log)
	cfg.ListenHost = getEnv("XXL_LISTEN_HOST", cfg.ListenHost, log)
	cfg.ListenPort = getEnvAsInt("XXL_LISTEN_PORT", cfg.ListenPort, log)
	cfg.MaxWorkers = getEnvAsInt("XXL_MAX_WORKERS", cfg.MaxWorkers, log)
	cfg.TaskTimeout = getEnvAsInt("XXL_TASK_TIMEOUT", cfg.TaskTimeout, log)
	cfg.TaskQueueLength = getEnvAsInt("XXL_TASK_QUEUE_LENGTH", cfg.TaskQueueLength, log)
	cfg.GracefulClose = getEnvAsBool("XXL_GRACEFUL_CLOSE", cfg.GracefulClose, log)
	cfg.GracefulTimeout = getEnvAsInt("XXL_GRACEFUL_TIMEOUT", cfg.GracefulTimeout, log)
	cfg.LogBackend = LogBackend(getEnv("XXL_LOG_BACKEND", string(cfg.LogBackend), log))
	cfg.LogRetainHours = getEnvAsInt("XXL_LOG_RETAIN_HOURS", cfg.LogRetainHours, log)
	cfg.LogTailLines = getEnvAsInt("XXL_LOG_TAIL_LINES", cfg.LogTailLines, log)
	cfg.LogDiskDir = getEnv("XXL_LOG_DISK_DIR", cfg.LogDiskDir, log)
	cfg.LogRedisAddr = getEnv("XXL_LOG_REDIS_ADDR", cfg.LogRedisAddr, log)
	cfg.LogRedisDB = getEnvAsInt("XXL_LOG_REDIS_DB", cfg.LogRedisDB, log)
	cfg.LogSQLitePath = getEnv("XXL_LOG_SQLITE_PATH", cfg.LogSQLitePath, log)
	cfg.Debug = getEnvAsBool("XXL_DEBUG", cfg.Debug, log)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the constraints the runner and dispatch engine assume
// hold at startup.
func (c Config) Validate() error {
	if c.AdminBaseURL == "" {
		return fmt.Errorf("config: adminBaseUrl is required")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("config: maxWorkers must be > 0, got %d", c.MaxWorkers)
	}
	if c.TaskQueueLength < 0 {
		return fmt.Errorf("config: taskQueueLength must be >= 0, got %d", c.TaskQueueLength)
	}
	switch c.LogBackend {
	case LogBackendDisk, LogBackendRedis, LogBackendSQLite:
	default:
		return fmt.Errorf("config: unknown logBackend %q", c.LogBackend)
	}
	return nil
}

// GracefulTimeoutDuration converts GracefulTimeout to a time.Duration for
// callers that need it (internal/runner's shutdown sequence).
func (c Config) GracefulTimeoutDuration() time.Duration {
	return time.Duration(c.GracefulTimeout) * time.Second
}

func getEnv(key, defaultVal string, log *logging.Logger) string {
	val, ok := os.LookupEnv(key)
	// The value is logged under the variable's own name so the logger's
	// key-based redaction hides secret-bearing ones such as XXL_ACCESS_TOKEN.
	if !ok {
		if log != nil {
			log.Debug("env var not found, using default", "env_var", key, key, defaultVal)
		}
		return defaultVal
	}
	if log != nil {
		log.Debug("env var found", "env_var", key, key, val)
	}
	return val
}

func getEnvAsInt(key string, defaultVal int, log *logging.Logger) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		if log != nil {
			log.Debug("env var not parseable as int, using default", "env_var", key, "value", val, "default", defaultVal)
		}
		return defaultVal
	}
	return i
}

func getEnvAsBool(key string, defaultVal bool, log *logging.Logger) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		if log != nil {
			log.Debug("env var not parseable as bool, using default", "env_var", key, "value", val, "default", defaultVal)
		}
		return defaultVal
	}
	return b
}

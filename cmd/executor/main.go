// Command executor is the process entrypoint: it loads configuration, wires
// the Handler Registry, Task Log Sink, Admin Client, Dispatch Engine, and
// Server Adapter together, and drives the Runner through the executor's
// lifetime until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xxljob/executor-go/internal/adminclient"
	"github.com/xxljob/executor-go/internal/config"
	"github.com/xxljob/executor-go/internal/dispatch"
	"github.com/xxljob/executor-go/internal/logging"
	"github.com/xxljob/executor-go/internal/registry"
	"github.com/xxljob/executor-go/internal/runner"
	"github.com/xxljob/executor-go/internal/server"
	"github.com/xxljob/executor-go/internal/tasklog"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file overlaying defaults/env")
	flag.Parse()

	bootLog, err := logging.New("development")
	if err != nil {
		fmt.Printf("failed to initialize boot logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, bootLog)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	mode := "development"
	if !cfg.Debug {
		mode = "production"
	}
	log, err := logging.New(mode)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("executor exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logging.Logger) error {
	reg := registry.New()
	registerSampleHandlers(reg, log)

	sink, err := newSink(cfg, log)
	if err != nil {
		return fmt.Errorf("build task log sink: %w", err)
	}
	defer sink.Close()

	admin, err := adminclient.New(log.With("component", "adminclient"), cfg.AdminBaseURL, cfg.AccessToken)
	if err != nil {
		return fmt.Errorf("build admin client: %w", err)
	}

	engine := dispatch.New(reg, sink, admin, log.With("component", "dispatch"), dispatch.Options{
		MaxWorkers:         cfg.MaxWorkers,
		TaskTimeoutSeconds: cfg.TaskTimeout,
		TaskQueueLength:    cfg.TaskQueueLength,
	})

	handlers := server.NewHandlers(log.With("component", "server"), engine, sink)
	router := server.NewRouter(log.With("component", "server"), handlers, cfg.AccessToken, cfg.Debug)
	httpServer := server.New(log.With("component", "httpserver"), cfg.ListenHost, cfg.ListenPort, router)

	r := runner.New(cfg, log.With("component", "runner"), admin, sink, engine, httpServer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("executor starting",
		"appName", cfg.AppName,
		"advertiseUrl", cfg.AdvertiseURL,
		"listen", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		"logBackend", string(cfg.LogBackend),
		"handlers", reg.Names(),
	)

	return r.Run(ctx)
}

func newSink(cfg config.Config, log *logging.Logger) (tasklog.Sink, error) {
	retain := time.Duration(cfg.LogRetainHours) * time.Hour
	switch cfg.LogBackend {
	case config.LogBackendRedis:
		return tasklog.NewRedisSink(cfg.LogRedisAddr, cfg.LogRedisDB, retain, cfg.LogTailLines)
	case config.LogBackendSQLite:
		return tasklog.NewSQLiteSink(cfg.LogSQLitePath, retain, cfg.LogTailLines)
	case config.LogBackendDisk:
		return tasklog.NewDiskSink(cfg.LogDiskDir, retain, cfg.LogTailLines)
	default:
		log.Warn("unrecognized log backend, falling back to disk", "logBackend", string(cfg.LogBackend))
		return tasklog.NewDiskSink(cfg.LogDiskDir, retain, cfg.LogTailLines)
	}
}

// Package runner owns the executor's top-level lifecycle: the orderly
// startup sequence, the periodic registration and log-expiry loops, and
// orderly shutdown. It supervises them as one cancelable group via
// golang.org/x/sync/errgroup.
package runner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xxljob/executor-go/internal/adminclient"
	"github.com/xxljob/executor-go/internal/config"
	"github.com/xxljob/executor-go/internal/dispatch"
	"github.com/xxljob/executor-go/internal/logging"
	"github.com/xxljob/executor-go/internal/tasklog"
)

const (
	registerInterval = 10 * time.Second
	expireInterval   = time.Hour
)

// Server is the narrow contract internal/server's HTTP adapter satisfies,
// kept here so this package doesn't import net/http directly.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Runner wires together the Handler Registry (populated by caller code
// before New), Task Log Sink, Admin Client, Dispatch Engine, and Server
// Adapter, then drives their startup/shutdown sequence (spec §4.5).
type Runner struct {
	cfg    config.Config
	log    *logging.Logger
	admin  adminclient.Client
	sink   tasklog.Sink
	engine *dispatch.Engine
	server Server
}

// New constructs a Runner. Callers build the registry, sink, admin client,
// engine and server beforehand (internal/server needs the engine; the
// engine needs the registry/sink/admin) and hand the finished pieces here.
func New(cfg config.Config, log *logging.Logger, admin adminclient.Client, sink tasklog.Sink, engine *dispatch.Engine, server Server) *Runner {
	return &Runner{cfg: cfg, log: log, admin: admin, sink: sink, engine: engine, server: server}
}

// Run starts the registration loop, the log-expiry loop, and the HTTP
// server, and blocks until ctx is cancelled or one of them fails. On
// return, it performs the orderly shutdown sequence from spec §4.5.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.admin.Register(ctx, r.cfg.AppName, r.cfg.AdvertiseURL); err != nil {
		r.log.Warn("initial registration failed, will retry on the periodic loop", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { r.registrationLoop(gctx); return nil })
	g.Go(func() error { r.expiryLoop(gctx); return nil })
	g.Go(func() error {
		if err := r.server.Start(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	<-gctx.Done()
	r.shutdown()
	return g.Wait()
}

func (r *Runner) registrationLoop(ctx context.Context) {
	ticker := time.NewTicker(registerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.admin.Register(ctx, r.cfg.AppName, r.cfg.AdvertiseURL); err != nil {
				r.log.Warn("periodic registration failed", "error", err)
			}
		}
	}
}

func (r *Runner) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := r.sink.Expire(ctx)
			if err != nil {
				r.log.Warn("log expiry sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				r.log.Info("expired old task logs", "removed", removed)
			}
		}
	}
}

// shutdown runs the orderly shutdown sequence: stop accepting inbound
// requests, unregister from the scheduler, drain or force-cancel running
// invocations, then close the log sink. The admin client has no Close and
// is left as it is.
func (r *Runner) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.GracefulTimeoutDuration()+5*time.Second)
	defer cancel()

	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.log.Warn("server shutdown error", "error", err)
	}
	if err := r.admin.RegistryRemove(shutdownCtx, r.cfg.AppName, r.cfg.AdvertiseURL); err != nil {
		r.log.Warn("registry removal failed", "error", err)
	}

	if r.cfg.GracefulClose {
		r.engine.ShutdownGraceful(r.cfg.GracefulTimeoutDuration())
	} else {
		r.engine.ShutdownNow()
	}

	if err := r.sink.Close(); err != nil {
		r.log.Warn("log sink close error", "error", err)
	}
}

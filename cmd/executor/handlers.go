package main

import (
	"fmt"
	"time"

	"github.com/xxljob/executor-go/internal/logging"
	"github.com/xxljob/executor-go/internal/registry"
	"github.com/xxljob/executor-go/internal/taskctx"
	"github.com/xxljob/executor-go/internal/xxltypes"
)

// registerSampleHandlers wires a couple of reference handlers so the
// executor has something to dispatch out of the box. Real deployments
// replace this with their own handler package imported for side effects.
func registerSampleHandlers(reg *registry.Registry, log *logging.Logger) {
	must(reg.RegisterFunc("demoEcho", xxltypes.KindAsync, false, func(ctx *taskctx.Context) error {
		ctx.Logf("demoEcho received params: %s", ctx.Params)
		ctx.SetResult(fmt.Sprintf("echoed %d bytes", len(ctx.Params)))
		return nil
	}))

	must(reg.RegisterFunc("demoPollingSleep", xxltypes.KindAsync, false, func(ctx *taskctx.Context) error {
		for i := 0; i < 600; i++ {
			if ctx.Cancelled() {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				ctx.Progress("slept %ds", i+1)
			}
		}
		return nil
	}))

	must(reg.RegisterFunc("demoBlockingCompute", xxltypes.KindBlocking, false, func(ctx *taskctx.Context) error {
		ctx.Logf("running blocking handler for job %d", ctx.JobID)
		sum := 0
		for i := 0; i < 1_000_000; i++ {
			sum += i
		}
		ctx.SetResult(fmt.Sprintf("sum=%d", sum))
		return nil
	}))

	log.Debug("sample handlers registered", "names", reg.Names())
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

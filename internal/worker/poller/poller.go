package poller

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"botarena/internal/worker/backend"
	"botarena/internal/worker/health"
	"botarena/internal/worker/runner"
	"botarena/pkg/utils/logger"
)

const (
	idleSleepMin = 1 * time.Second
	idleSleepMax = 4 * time.Second
)

// Poller drives the worker's main loop: beat the watchdog, ask the
// coordinator for a task, run it, repeat. One task failing never stops the
// loop; the coordinator's retry accounting handles the rest.
type Poller struct {
	Backend  *backend.Client
	Runner   *runner.Runner
	Watchdog *health.Watchdog

	sleep func(context.Context, time.Duration)
}

// NewPoller wires the worker loop.
func NewPoller(client *backend.Client, r *runner.Runner, watchdog *health.Watchdog) *Poller {
	return &Poller{
		Backend:  client,
		Runner:   r,
		Watchdog: watchdog,
		sleep:    sleepContext,
	}
}

// Run loops until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "worker loop stopping")
			return
		}
		p.Watchdog.Beat()
		if !p.runOnce(ctx) {
			p.sleep(ctx, idleSleep())
		}
	}
}

// runOnce polls and runs one task. Returns false when there was nothing to
// do, so the caller knows to back off. Panics from task execution are
// contained here; a wedged engine must not take the loop down with it.
func (p *Poller) runOnce(ctx context.Context) (worked bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "task execution panicked", zap.Any("panic", r))
			worked = true
		}
	}()

	task, err := p.Backend.GetTask(ctx)
	if err != nil {
		logger.Warn(ctx, "task poll failed", zap.Error(err))
		return false
	}
	if task == nil {
		return false
	}

	switch t := task.(type) {
	case backend.CompileTask:
		err = p.Runner.RunCompile(ctx, t)
	case backend.GameTask:
		err = p.Runner.RunGame(ctx, t)
	case backend.OndemandTask:
		err = p.Runner.RunOndemand(ctx, t)
	default:
		logger.Error(ctx, "unhandled task type", zap.Any("task", task))
		return true
	}
	if err != nil {
		logger.Error(ctx, "task execution failed", zap.Error(err))
	}
	return true
}

// idleSleep jitters the poll interval so a fleet of idle workers does not
// hammer the coordinator in lockstep.
func idleSleep() time.Duration {
	spread := int64(idleSleepMax - idleSleepMin)
	return idleSleepMin + time.Duration(rand.Int63n(spread+1))
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

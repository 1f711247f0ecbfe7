package sandbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/metrics"
)

// enforceTimeout kills the sandbox once budget has elapsed. It is started
// right after the sandbox starts and is never joined; ctx is cancelled when
// the output stream closes, which lets an early finisher skip the kill. A
// kill that loses the race against a natural exit is expected and only
// logged.
func (e *Executor) enforceTimeout(ctx context.Context, log *zap.Logger, name string, budget time.Duration) {
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		metrics.WatchdogTotal.WithLabelValues("cancelled").Inc()
		return
	}

	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.cleanupTimeout())
	defer cancel()

	err := e.runtime.Kill(killCtx, name)
	switch {
	case err == nil:
		metrics.WatchdogTotal.WithLabelValues("killed").Inc()
		log.Info("killed sandbox after time budget", zap.Duration("budget", budget))
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotRunning):
		metrics.WatchdogTotal.WithLabelValues("race").Inc()
		log.Info("kill attempt failed, sandbox already stopped or removed", zap.Error(err))
	default:
		metrics.WatchdogTotal.WithLabelValues("error").Inc()
		log.Warn("kill attempt failed", zap.Error(err))
	}
}

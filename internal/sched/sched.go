// Package sched runs a broadcast on a recurring cron schedule.
//
// Each tick is an independent job with its own record; a tick that fails or
// is still running does not affect the next one beyond cron's own skip
// policy. This is the daemon counterpart to the one-shot CLI run.
package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	logx "tgblast/pkg/logx"
)

// Run blocks, invoking fn per the 5-field cron spec until ctx is cancelled.
// In-flight ticks are allowed to settle before Run returns.
func Run(ctx context.Context, spec string, log logx.Logger, fn func(context.Context)) error {
	if log.IsZero() {
		log = logx.Nop()
	}

	// Serialize ticks: a slow broadcast must not overlap the next one.
	var mu sync.Mutex
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if !mu.TryLock() {
			log.Warn("previous scheduled broadcast still running; tick skipped")
			return
		}
		defer mu.Unlock()
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	c.Start()
	log.Info("scheduled broadcast started", logx.String("spec", spec))
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	log.Info("scheduled broadcast stopped")
	return nil
}

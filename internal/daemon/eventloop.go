package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mprather/kicker/internal/clock"
)

// tickCeiling bounds how long the loop can go without re-checking its
// wake-up conditions.
const tickCeiling = time.Second

// eventLoop is the single-threaded cooperative loop: it has exactly one
// suspension point of its own (the select below); the other suspension
// point is inside runPass, blocking on the child process.
//
// The returned error is non-nil only when the loop exited because Refresh
// failed; callers should check errors.Is(err, lease.ErrSplitBrain) before
// releasing the lease, since a split-brain exit means another host already
// holds it and Release would delete that host's live lock directory.
func (d *Daemon) eventLoop(ctx context.Context, sigs *clock.Signals) (int, error) {
	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		if err := watcher.Add(filepath.Dir(d.cfg.ConfigPath)); err != nil {
			d.logger.Warn("could not watch rule store directory for hot reload", "error", err)
		}
		defer watcher.Close()
	} else {
		d.logger.Warn("fsnotify unavailable, falling back to mtime polling only", "error", watchErr)
	}

	nextRefresh := d.clock.Now().Add(d.lease.RefreshInterval())

	for {
		wait := d.waitDuration(nextRefresh)

		var watcherEvents <-chan fsnotify.Event
		var watcherErrors <-chan error
		if watcher != nil {
			watcherEvents = watcher.Events
			watcherErrors = watcher.Errors
		}

		select {
		case sig := <-sigs.C():
			if clock.IsShutdown(sig) {
				d.logger.Info("shutdown signal received, finishing in-flight work")
				return ExitOK, nil
			}
			if clock.IsReload(sig) {
				d.logger.Info("reload signal received")
				if err := d.loadRules(); err != nil {
					d.logger.Error("reload failed", "error", err)
				}
			}

		case <-watcherEvents:
			if d.ruleStoreChanged() {
				if err := d.loadRules(); err != nil {
					d.logger.Error("hot reload failed", "error", err)
				}
			}

		case err := <-watcherErrors:
			d.logger.Warn("rule store watcher error", "error", err)

		case <-ctx.Done():
			d.logger.Info("context cancelled, shutting down")
			return ExitOK, nil

		case <-d.clock.After(wait):
			now := d.clock.Now()

			if !now.Before(nextRefresh) {
				if err := d.lease.Refresh(now); err != nil {
					d.logger.Error("lease refresh failed, abdicating", "error", err)
					return ExitDuplicateOrFatal, err
				}
				nextRefresh = now.Add(d.lease.RefreshInterval())
			}

			if d.ruleStoreChanged() {
				if err := d.loadRules(); err != nil {
					d.logger.Error("mtime-triggered reload failed", "error", err)
				}
			}

			if due, ok := d.sched.PeekDue(); ok && !due.After(now) {
				ruleID, _ := d.sched.PopDue()
				d.runPass(ctx, ruleID)
			}
		}
	}
}

// waitDuration computes the event loop's next wake-up: the minimum of
// (next rule due − now, next lease refresh − now, a fixed tick ceiling).
func (d *Daemon) waitDuration(nextRefresh time.Time) time.Duration {
	now := d.clock.Now()
	wait := tickCeiling

	if due, ok := d.sched.PeekDue(); ok {
		if delta := due.Sub(now); delta < wait {
			wait = delta
		}
	}
	if delta := nextRefresh.Sub(now); delta < wait {
		wait = delta
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

package daemon

import (
	"fmt"
	"os"

	"github.com/mprather/kicker/internal/config"
	"github.com/mprather/kicker/internal/ratelimit"
	"github.com/mprather/kicker/internal/security"
	"github.com/mprather/kicker/internal/state"
)

// loadRules reads the rule store and reconciles the scheduler/runtime maps
// against it: new rules get fresh runtime state and an immediate due time,
// removed rules are dropped, surviving rules keep their runtime state.
func (d *Daemon) loadRules() error {
	info, err := os.Stat(d.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("statting rule store: %w", err)
	}

	if err := security.ValidateFilePermissions(d.cfg.ConfigPath); err != nil {
		d.logger.Warn("rule store permissions", "error", err)
	}

	rs, err := config.Load(d.cfg.ConfigPath)
	if err != nil {
		// A parse error keeps the previous ruleset rather than crashing or
		// running with nothing loaded.
		if d.ruleSet != nil {
			d.logger.Error("rule store reload failed, keeping previous ruleset", "error", err)
			return nil
		}
		return err
	}

	if d.cfg.PollIntervalOverride > 0 {
		rs.DefaultPollInterval = d.cfg.PollIntervalOverride
	}

	d.reconcile(rs)
	d.ruleSet = rs
	d.ruleStoreAt = info.ModTime()
	return nil
}

// reconcile updates d.runtimes and d.sched to match the newly loaded
// ruleset, without disturbing runtime state for rules that survive.
func (d *Daemon) reconcile(rs *config.RuleSet) {
	seen := make(map[int]bool, len(rs.Rules))
	now := d.clock.Now()

	for _, rule := range rs.Rules {
		seen[rule.ID] = true

		if rt, ok := d.runtimes[rule.ID]; ok {
			// Apply the (possibly edited) rate limit in place so the
			// limiter's recorded recent fires survive the reload.
			rl := rule.EffectiveRateLimit(rs.DefaultPollInterval)
			rt.RateLimiter.Count = rl.Count
			rt.RateLimiter.Window = durationFromSeconds(rl.Window)
			continue
		}

		rt := state.NewRuntime(rule.ID, newLimiterFor(rule, rs.DefaultPollInterval), now)
		d.runtimes[rule.ID] = rt
		d.sched.Upsert(rule.ID, rt.NextDueAt)
	}

	for id := range d.runtimes {
		if !seen[id] {
			delete(d.runtimes, id)
			d.sched.Remove(id)
		}
	}

	if d.history != nil {
		if err := d.history.Prune(seen); err != nil {
			d.logger.Warn("failed to prune stale execution history", "error", err)
		}
	}
}

func newLimiterFor(rule *config.Rule, defaultInterval float64) *ratelimit.Limiter {
	rl := rule.EffectiveRateLimit(defaultInterval)
	return ratelimit.New(rl.Count, durationFromSeconds(rl.Window))
}

// ruleStoreChanged reports whether the rule store's mtime has moved since
// the last load, a hot-reload trigger alongside SIGHUP.
func (d *Daemon) ruleStoreChanged() bool {
	info, err := os.Stat(d.cfg.ConfigPath)
	if err != nil {
		return false
	}
	return info.ModTime().After(d.ruleStoreAt)
}

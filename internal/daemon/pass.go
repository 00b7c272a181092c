package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mprather/kicker/internal/config"
	"github.com/mprather/kicker/internal/executor"
	"github.com/mprather/kicker/internal/logging"
	"github.com/mprather/kicker/internal/security"
	"github.com/mprather/kicker/internal/state"
	"github.com/mprather/kicker/internal/trigger"
)

// runPass executes one evaluation pass for ruleID: check, trigger
// evaluation, and (if it fires) a rate-limited action dispatch. It is the
// daemon's second suspension point: while a check or action script runs,
// no other rule advances.
func (d *Daemon) runPass(ctx context.Context, ruleID int) {
	rule := d.findRule(ruleID)
	rt := d.runtimes[ruleID]
	if rule == nil || rt == nil {
		// Rule was removed between being popped and now (e.g. a hot reload
		// raced the pop); nothing to reschedule.
		return
	}

	log := logging.WithRuleID(d.logger, ruleID)

	t0 := d.clock.Now()
	timeout := rule.EffectiveTimeout(d.ruleSet.DefaultPollInterval)
	pollInterval := rule.EffectivePollInterval(d.ruleSet.DefaultPollInterval)

	checkResult, err := executor.Run(ctx, rule.CheckScript, timeout, d.cfg.HomeDir)
	if err != nil {
		log.Error("check execution error", "error", err)
	}
	d.logRecord(log, "check", rule, checkResult, t0)

	rt.RecordCheck(checkResult.ExitCode)

	fires := trigger.Evaluate(rt.PrevExit, *rt.CurrExit, trigger.Mode(rule.Trigger.Mode), rule.Trigger.N)
	if !fires {
		d.reschedule(rt, t0, pollInterval, ruleID)
		return
	}

	if !rt.RateLimiter.Allow(d.clock.Now()) {
		log.Info("rule throttled")
		d.logRecord(log, "throttled", rule, executor.Result{StartedAt: t0, FinishedAt: d.clock.Now()}, t0)
		d.reschedule(rt, t0, pollInterval, ruleID)
		return
	}

	actionResult, err := executor.Run(ctx, rule.ActionScript, timeout, d.cfg.HomeDir)
	if err != nil {
		log.Error("action execution error", "error", err)
	}
	d.logRecord(log, "action", rule, actionResult, t0)
	rt.RecordAction()

	if rule.Once {
		d.retireOnceRule(ruleID)
		return
	}

	d.reschedule(rt, t0, pollInterval, ruleID)
}

func (d *Daemon) findRule(id int) *config.Rule {
	if d.ruleSet == nil {
		return nil
	}
	for _, r := range d.ruleSet.Rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (d *Daemon) reschedule(rt *state.Runtime, t0 time.Time, interval time.Duration, ruleID int) {
	rt.Reschedule(t0, interval, d.clock.Now())
	d.sched.Upsert(ruleID, rt.NextDueAt)
}

// retireOnceRule removes a `once` rule from the store after its first
// action dispatch, and drops its runtime state and schedule entry — it is
// not re-upserted.
func (d *Daemon) retireOnceRule(ruleID int) {
	if config.RemoveRule(d.ruleSet, ruleID) {
		if err := config.Save(d.cfg.ConfigPath, d.ruleSet); err != nil {
			logging.WithRuleID(d.logger, ruleID).Error("failed to persist once-rule removal", "error", err)
		}
	}
	delete(d.runtimes, ruleID)
}

// logRecord writes one check/action/throttled record to the appropriate
// stream and, if history is enabled, to the execution history store.
// "throttled" marks a fire that was suppressed by the rule's rate limit:
// no action script ran, so its exit code and output are empty.
func (d *Daemon) logRecord(log *slog.Logger, phase string, rule *config.Rule, res executor.Result, t0 time.Time) {
	script := rule.CheckScript
	if phase == "action" || phase == "throttled" {
		script = rule.ActionScript
	}

	rec := logging.Record{
		Timestamp:  res.StartedAt,
		RuleID:     rule.ID,
		Script:     filepath.Base(script),
		Phase:      phase,
		ExitCode:   res.ExitCode,
		DurationMS: res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		Stdout:     security.ScrubOutput(res.Stdout),
		Stderr:     security.ScrubOutput(res.Stderr),
		TimedOut:   res.TimedOut,
	}

	writer := d.checksLog
	if phase == "action" || phase == "throttled" {
		writer = d.actionsLog
	}
	if err := writer.WriteRecord(rec); err != nil {
		// Retry once, then drop the record rather than ever crashing the
		// loop over a log write failure.
		if err2 := writer.WriteRecord(rec); err2 != nil {
			log.Error("dropped log record after retry", "phase", phase, "error", err2)
		}
	}

	if d.history != nil {
		if _, err := d.history.RecordExecution(state.ExecutionRecord{
			RuleID:     rule.ID,
			Phase:      phase,
			ExitCode:   res.ExitCode,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			DurationMS: res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
			TimedOut:   res.TimedOut,
		}); err != nil {
			log.Warn("failed to record execution history", "error", err)
		}
	}
}

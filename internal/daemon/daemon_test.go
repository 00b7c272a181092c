package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mprather/kicker/internal/config"
	"github.com/mprather/kicker/internal/logging"
	"github.com/mprather/kicker/internal/ratelimit"
	"github.com/mprather/kicker/internal/scheduler"
	"github.com/mprather/kicker/internal/state"
)

// fakeClock gives tests a deterministic, manually-advanced time source.
type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now.Add(d)
	return ch
}

func newTestDaemon(t *testing.T, configPath string) (*Daemon, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var checksBuf, actionsBuf bytes.Buffer

	return &Daemon{
		cfg: Config{
			HomeDir:    t.TempDir(),
			ConfigPath: configPath,
			LogFormat:  "json",
		},
		clock:      &fakeClock{now: time.Now()},
		logger:     logging.NewLogger("text", "error", os.Stderr),
		sched:      scheduler.New(),
		runtimes:   make(map[int]*state.Runtime),
		checksLog:  logging.NewWriter("json", &checksBuf),
		actionsLog: logging.NewWriter("json", &actionsBuf),
	}, &checksBuf, &actionsBuf
}

func writeRuleStore(t *testing.T, path string, rs *config.RuleSet) {
	t.Helper()
	if err := config.Save(path, rs); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func writeExecutableScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

func TestReconcileAddsNewRuleWithImmediateDueTime(t *testing.T) {
	d, _, _ := newTestDaemon(t, filepath.Join(t.TempDir(), "config.yaml"))

	rs := &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: "/bin/true", ActionScript: "/bin/true", Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	d.reconcile(rs)

	if _, ok := d.runtimes[1]; !ok {
		t.Fatal("expected runtime state for rule 1")
	}
	if d.sched.Len() != 1 {
		t.Fatalf("sched.Len() = %d, want 1", d.sched.Len())
	}
}

func TestReconcilePreservesRuntimeStateAcrossReload(t *testing.T) {
	d, _, _ := newTestDaemon(t, filepath.Join(t.TempDir(), "config.yaml"))

	rs := &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: "/bin/true", ActionScript: "/bin/true", Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	d.reconcile(rs)
	rt := d.runtimes[1]
	rt.RecordCheck(0)

	// Reload with the same rule present: runtime must survive untouched.
	d.reconcile(rs)
	if d.runtimes[1] != rt {
		t.Fatal("expected the same runtime instance to survive a reconcile with the rule still present")
	}
	if d.runtimes[1].CurrExit == nil || *d.runtimes[1].CurrExit != 0 {
		t.Fatal("expected prior check state to survive reconcile")
	}
}

func TestReconcileDropsRemovedRule(t *testing.T) {
	d, _, _ := newTestDaemon(t, filepath.Join(t.TempDir(), "config.yaml"))

	rs := &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: "/bin/true", ActionScript: "/bin/true", Trigger: config.TriggerSpec{Mode: "on_zero"}},
			{ID: 2, CheckScript: "/bin/true", ActionScript: "/bin/true", Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	d.reconcile(rs)

	rs2 := &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: "/bin/true", ActionScript: "/bin/true", Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	d.reconcile(rs2)

	if _, ok := d.runtimes[2]; ok {
		t.Fatal("expected rule 2's runtime state to be dropped")
	}
	if d.sched.Len() != 1 {
		t.Fatalf("sched.Len() = %d, want 1", d.sched.Len())
	}
}

func TestLoadRulesKeepsPreviousRulesetOnParseError(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	d, _, _ := newTestDaemon(t, configPath)

	good := &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: "/bin/true", ActionScript: "/bin/true", Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	writeRuleStore(t, configPath, good)
	if err := d.loadRules(); err != nil {
		t.Fatalf("loadRules: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("not: valid: yaml: :::"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := d.loadRules(); err != nil {
		t.Fatalf("loadRules should swallow the parse error and keep the previous ruleset, got: %v", err)
	}
	if len(d.ruleSet.Rules) != 1 {
		t.Fatalf("expected previous ruleset to survive parse error, got %d rules", len(d.ruleSet.Rules))
	}
}

func TestRunPassFiresActionOnZeroExit(t *testing.T) {
	scriptDir := t.TempDir()
	checkScript := writeExecutableScript(t, scriptDir, "check.sh", "exit 0\n")
	actionScript := writeExecutableScript(t, scriptDir, "action.sh", "echo fired\n")

	d, checksBuf, actionsBuf := newTestDaemon(t, filepath.Join(t.TempDir(), "config.yaml"))
	d.ruleSet = &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: checkScript, ActionScript: actionScript, Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	d.runtimes[1] = state.NewRuntime(1, ratelimit.New(10, time.Minute), d.clock.Now())
	d.sched.Upsert(1, d.clock.Now())

	d.runPass(context.Background(), 1)

	if !bytes.Contains(checksBuf.Bytes(), []byte(`"phase":"check"`)) {
		t.Errorf("expected a check record, got: %s", checksBuf.String())
	}
	if !bytes.Contains(actionsBuf.Bytes(), []byte(`"phase":"action"`)) {
		t.Errorf("expected an action record to be logged when the check exits zero, got: %s", actionsBuf.String())
	}
	if d.sched.Len() != 1 {
		t.Fatalf("expected rule to be rescheduled, sched.Len() = %d", d.sched.Len())
	}
}

func TestRunPassDoesNotFireOnNonZeroForOnZeroMode(t *testing.T) {
	scriptDir := t.TempDir()
	checkScript := writeExecutableScript(t, scriptDir, "check.sh", "exit 1\n")
	actionScript := writeExecutableScript(t, scriptDir, "action.sh", "echo fired\n")

	d, _, actionsBuf := newTestDaemon(t, filepath.Join(t.TempDir(), "config.yaml"))
	d.ruleSet = &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: checkScript, ActionScript: actionScript, Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	d.runtimes[1] = state.NewRuntime(1, ratelimit.New(10, time.Minute), d.clock.Now())

	d.runPass(context.Background(), 1)

	if actionsBuf.Len() != 0 {
		t.Errorf("expected no action record for a non-firing check, got: %s", actionsBuf.String())
	}
}

func TestRunPassRetiresOnceRuleAfterFiring(t *testing.T) {
	scriptDir := t.TempDir()
	checkScript := writeExecutableScript(t, scriptDir, "check.sh", "exit 0\n")
	actionScript := writeExecutableScript(t, scriptDir, "action.sh", "exit 0\n")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	d, _, _ := newTestDaemon(t, configPath)
	d.ruleSet = &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: checkScript, ActionScript: actionScript, Trigger: config.TriggerSpec{Mode: "on_zero"}, Once: true},
		},
	}
	writeRuleStore(t, configPath, d.ruleSet)
	d.runtimes[1] = state.NewRuntime(1, ratelimit.New(10, time.Minute), d.clock.Now())

	d.runPass(context.Background(), 1)

	if len(d.ruleSet.Rules) != 0 {
		t.Fatalf("expected the once-rule to be removed from the ruleset, got %d rules", len(d.ruleSet.Rules))
	}
	if _, ok := d.runtimes[1]; ok {
		t.Fatal("expected runtime state to be dropped for a retired once-rule")
	}
	if d.sched.Len() != 0 {
		t.Fatalf("expected a once-rule not to be rescheduled, sched.Len() = %d", d.sched.Len())
	}

	persisted, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(persisted.Rules) != 0 {
		t.Fatal("expected once-rule removal to be persisted to the rule store")
	}
}

func TestRunPassRespectsRateLimit(t *testing.T) {
	scriptDir := t.TempDir()
	checkScript := writeExecutableScript(t, scriptDir, "check.sh", "exit 0\n")
	actionScript := writeExecutableScript(t, scriptDir, "action.sh", "echo fired\n")

	d, _, actionsBuf := newTestDaemon(t, filepath.Join(t.TempDir(), "config.yaml"))
	d.ruleSet = &config.RuleSet{
		DefaultPollInterval: 60,
		Rules: []*config.Rule{
			{ID: 1, CheckScript: checkScript, ActionScript: actionScript, Trigger: config.TriggerSpec{Mode: "on_zero"}},
		},
	}
	limiter := ratelimit.New(1, time.Hour)
	d.runtimes[1] = state.NewRuntime(1, limiter, d.clock.Now())

	d.runPass(context.Background(), 1) // first fire permitted
	firstLen := actionsBuf.Len()
	if firstLen == 0 {
		t.Fatal("expected the first fire to be permitted")
	}
	if strings.Contains(actionsBuf.String(), `"phase":"throttled"`) {
		t.Error("did not expect a throttled record for the first, permitted fire")
	}

	d.runPass(context.Background(), 1) // second fire within the window: denied
	if actionsBuf.Len() == firstLen {
		t.Error("expected a throttled record to be appended for the denied second fire")
	}
	if !strings.Contains(actionsBuf.String(), `"phase":"throttled"`) {
		t.Errorf("expected a throttled record in the actions log, got: %s", actionsBuf.String())
	}
}

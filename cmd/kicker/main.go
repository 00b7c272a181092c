// cmd/kicker/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mprather/kicker/internal/config"
	"github.com/mprather/kicker/internal/lease"
	"github.com/mprather/kicker/internal/state"
)

var errNoDaemon = errors.New("daemon is not running")

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kicker", "config.yaml")
}

func defaultStateDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "kicker")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "add":
		err = cmdAdd(args)
	case "list":
		err = cmdList(args)
	case "remove":
		err = cmdRemove(args)
	case "stats":
		err = cmdStats(args)
	case "stop":
		err = cmdStop(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kicker - manage kickerd rules

Usage: kicker <command> [options]

Commands:
  add      Add a rule
  list     List configured rules
  remove   Remove a rule by id
  stats    Show a rule's execution history
  stop     Stop a running daemon`)
}

// --- Helpers ---

func loadOrCreateRuleSet(path string) (*config.RuleSet, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &config.RuleSet{Version: 1, DefaultPollInterval: 60}, nil
	}
	return config.Load(path)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func boolYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printTable(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Repeat("─", 60))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// --- Commands ---

func cmdAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the rule store")
	checkScript := fs.String("check", "", "path to the check script (required)")
	actionScript := fs.String("action", "", "path to the action script (required)")
	ifZero := fs.Bool("if-zero", false, "fire when the check exits 0")
	ifNonzero := fs.Bool("if-nonzero", false, "fire when the check exits nonzero")
	ifFailToPass := fs.Bool("if-fail-to-pass", false, "fire on a nonzero-to-zero transition")
	ifPassToFail := fs.Bool("if-pass-to-fail", false, "fire on a zero-to-nonzero transition")
	ifCode := fs.Int("if-code", -1, "fire when the check exits with this code")
	pollInterval := fs.Float64("poll-interval", 0, "seconds between checks (default: global default)")
	timeout := fs.Float64("timeout", 0, "script timeout in seconds (default: 90% of poll interval)")
	rateLimitCount := fs.Int("rate-limit-count", 0, "max actions per rate-limit-window")
	rateLimitWindow := fs.Float64("rate-limit-window", 0, "rate limit window, in seconds")
	once := fs.Bool("once", false, "remove the rule after its first action dispatch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *checkScript == "" || *actionScript == "" {
		return fmt.Errorf("both --check and --action are required")
	}

	var trigger config.TriggerSpec
	switch {
	case *ifCode >= 0:
		trigger = config.TriggerSpec{Mode: "on_code_n", N: *ifCode}
	case *ifZero:
		trigger = config.TriggerSpec{Mode: "on_zero"}
	case *ifNonzero:
		trigger = config.TriggerSpec{Mode: "on_nonzero"}
	case *ifFailToPass:
		trigger = config.TriggerSpec{Mode: "on_transition_fail_to_pass"}
	case *ifPassToFail:
		trigger = config.TriggerSpec{Mode: "on_transition_pass_to_fail"}
	default:
		return fmt.Errorf("specify exactly one of --if-zero, --if-nonzero, --if-fail-to-pass, --if-pass-to-fail, --if-code")
	}

	rs, err := loadOrCreateRuleSet(*configPath)
	if err != nil {
		return fmt.Errorf("loading rule store: %w", err)
	}

	rule := &config.Rule{
		ID:           config.NextID(rs),
		CheckScript:  *checkScript,
		ActionScript: *actionScript,
		Trigger:      trigger,
		PollInterval: *pollInterval,
		Timeout:      *timeout,
		Once:         *once,
	}
	if *rateLimitCount > 0 && *rateLimitWindow > 0 {
		rule.RateLimit = &config.RateLimit{Count: *rateLimitCount, Window: *rateLimitWindow}
	}
	rule.OriginalSpec = config.ReconstructSpec(trigger)

	if err := config.Validate(rule); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	rs.Rules = append(rs.Rules, rule)
	if err := config.Save(*configPath, rs); err != nil {
		return fmt.Errorf("saving rule store: %w", err)
	}

	fmt.Printf("Added rule %d (%s)\n", rule.ID, rule.OriginalSpec)
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the rule store")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rs, err := loadOrCreateRuleSet(*configPath)
	if err != nil {
		return fmt.Errorf("loading rule store: %w", err)
	}
	if len(rs.Rules) == 0 {
		fmt.Println("No rules configured")
		return nil
	}

	rules := append([]*config.Rule(nil), rs.Rules...)
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	var rows [][]string
	for _, r := range rules {
		poll := "default"
		if r.PollInterval > 0 {
			poll = fmt.Sprintf("%gs", r.PollInterval)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ID),
			config.ReconstructSpec(r.Trigger),
			truncate(filepath.Base(r.CheckScript), 24),
			truncate(filepath.Base(r.ActionScript), 24),
			poll,
			boolYesNo(r.Once),
		})
	}
	printTable([]string{"ID", "TRIGGER", "CHECK", "ACTION", "POLL", "ONCE"}, rows)
	return nil
}

func cmdRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the rule store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: kicker remove <id>")
	}

	var id int
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &id); err != nil {
		return fmt.Errorf("invalid rule id %q", fs.Arg(0))
	}

	rs, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading rule store: %w", err)
	}
	if !config.RemoveRule(rs, id) {
		return fmt.Errorf("no rule with id %d", id)
	}
	if err := config.Save(*configPath, rs); err != nil {
		return fmt.Errorf("saving rule store: %w", err)
	}

	fmt.Printf("Removed rule %d\n", id)
	return nil
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the rule store")
	stateDir := fs.String("state-dir", defaultStateDir(), "path to the state directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := state.Open(filepath.Join(*stateDir, "kicker_history.db"))
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	var ids []int
	if fs.NArg() > 0 {
		var id int
		if _, err := fmt.Sscanf(fs.Arg(0), "%d", &id); err != nil {
			return fmt.Errorf("invalid rule id %q", fs.Arg(0))
		}
		ids = []int{id}
	} else {
		rs, err := loadOrCreateRuleSet(*configPath)
		if err != nil {
			return fmt.Errorf("loading rule store: %w", err)
		}
		for _, r := range rs.Rules {
			ids = append(ids, r.ID)
		}
	}

	if len(ids) == 0 {
		fmt.Println("No rules to report on")
		return nil
	}

	now := time.Now()
	var rows [][]string
	for _, id := range ids {
		stats, err := store.Stats(id, now)
		if err != nil {
			return fmt.Errorf("querying stats for rule %d: %w", id, err)
		}
		lastCheck := "-"
		if !stats.LastCheckAt.IsZero() {
			lastCheck = stats.LastCheckAt.Format("2006-01-02 15:04")
		}
		lastAction := "-"
		if !stats.LastActionAt.IsZero() {
			lastAction = stats.LastActionAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", id),
			fmt.Sprintf("%d", stats.Checks),
			fmt.Sprintf("%d", stats.Actions),
			fmt.Sprintf("%d", stats.ActionsLast24h),
			lastCheck,
			lastAction,
		})
	}
	printTable([]string{"ID", "CHECKS", "ACTIONS", "ACTIONS(24H)", "LAST CHECK", "LAST ACTION"}, rows)
	return nil
}

// cmdStop targets the pid named in leader.json only when that metadata's
// hostname matches the current host, sends SIGTERM, waits up to 5s,
// optionally escalates to SIGKILL, and clears metadata left behind by a
// holder that is no longer alive. It exits non-zero when no daemon is
// present unless --quiet is set.
func cmdStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	stateDir := fs.String("state-dir", defaultStateDir(), "path to the state directory")
	force := fs.Bool("force", false, "escalate to SIGKILL if the daemon doesn't stop within 5s")
	quiet := fs.Bool("quiet", false, "exit 0 even if no daemon is running")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ls, err := lease.New(*stateDir, 0, 0)
	if err != nil {
		return fmt.Errorf("constructing lease store: %w", err)
	}

	meta, err := ls.Read()
	if err != nil {
		fmt.Println("Daemon is not running")
		if *quiet {
			return nil
		}
		return errNoDaemon
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("determining hostname: %w", err)
	}
	if meta.Hostname != hostname {
		return fmt.Errorf("lease is held by %s on %s, not this host", formatPID(meta.PID), meta.Hostname)
	}

	if !processAlive(meta.PID) {
		fmt.Println("Daemon was not running (clearing stale lease)")
		if err := ls.Release(); err != nil {
			return fmt.Errorf("clearing stale lease: %w", err)
		}
		if *quiet {
			return nil
		}
		return errNoDaemon
	}

	if err := syscall.Kill(meta.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", meta.PID, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(meta.PID) {
			fmt.Println("Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !*force {
		return fmt.Errorf("daemon did not stop within 5s (use --force to escalate)")
	}

	if err := syscall.Kill(meta.PID, syscall.SIGKILL); err != nil {
		return fmt.Errorf("sending SIGKILL to pid %d: %w", meta.PID, err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := ls.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to clear lease after SIGKILL: %v\n", err)
	}
	fmt.Println("Daemon killed")
	return nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func formatPID(pid int) string {
	return fmt.Sprintf("pid %d", pid)
}

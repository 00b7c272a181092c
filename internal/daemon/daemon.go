// Package daemon wires the lease, config, executor, logging, trigger,
// ratelimit, and scheduler packages into a single-threaded event loop: one
// goroutine advances at a time, with the scheduler folding every rule's
// polling loop into one heap rather than running a goroutine per rule.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mprather/kicker/internal/clock"
	"github.com/mprather/kicker/internal/config"
	"github.com/mprather/kicker/internal/lease"
	"github.com/mprather/kicker/internal/logging"
	"github.com/mprather/kicker/internal/scheduler"
	"github.com/mprather/kicker/internal/security"
	"github.com/mprather/kicker/internal/state"
)

// Config carries the supervisor-owned startup flags.
type Config struct {
	HomeDir              string
	ConfigPath           string // rule store YAML, e.g. ~/.config/kicker/config.yaml
	StateDir             string // e.g. ~/.local/state/kicker
	LogFormat            string // "plain-text" or "json"
	PollIntervalOverride float64
	LeaseSeconds         float64
	LeaseGraceSeconds    float64
	Quiet                bool
	Verbose              bool
}

// Exit codes returned by Run.
const (
	ExitOK               = 0
	ExitDuplicateOrFatal = 1
	ExitBadArgs          = 2
)

// Daemon is one running instance of the supervisor.
type Daemon struct {
	cfg    Config
	clock  clock.Clock
	lease  *lease.Store
	logger *slog.Logger

	ruleSet     *config.RuleSet
	ruleStoreAt time.Time // mtime of cfg.ConfigPath as of the last load
	sched       *scheduler.Scheduler
	runtimes    map[int]*state.Runtime

	checksWriter  *logging.TrimmingWriter
	actionsWriter *logging.TrimmingWriter
	checksLog     logging.Writer
	actionsLog    logging.Writer
	history       *state.Store
}

// New constructs a Daemon. It does not touch the filesystem beyond what's
// needed to open log files and the history database; lease acquisition and
// rule loading happen in Run.
func New(cfg Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	leaseStore, err := lease.New(cfg.StateDir, cfg.LeaseSeconds, cfg.LeaseGraceSeconds)
	if err != nil {
		return nil, fmt.Errorf("constructing lease store: %w", err)
	}

	logLevel := "info"
	if cfg.Verbose {
		logLevel = "debug"
	}
	logger := logging.NewLogger(cfg.LogFormat, logLevel, os.Stdout)

	checksWriter, err := logging.NewTrimmingWriter(filepath.Join(cfg.StateDir, "kicker_checks.log"), cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("opening checks log: %w", err)
	}
	actionsWriter, err := logging.NewTrimmingWriter(filepath.Join(cfg.StateDir, "kicker_actions.log"), cfg.LogFormat)
	if err != nil {
		checksWriter.Close()
		return nil, fmt.Errorf("opening actions log: %w", err)
	}

	history, err := state.Open(filepath.Join(cfg.StateDir, "kicker_history.db"))
	if err != nil {
		checksWriter.Close()
		actionsWriter.Close()
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	return &Daemon{
		cfg:           cfg,
		clock:         clock.System{},
		lease:         leaseStore,
		logger:        logger,
		sched:         scheduler.New(),
		runtimes:      make(map[int]*state.Runtime),
		checksWriter:  checksWriter,
		actionsWriter: actionsWriter,
		checksLog:     logging.NewWriter(cfg.LogFormat, checksWriter),
		actionsLog:    logging.NewWriter(cfg.LogFormat, actionsWriter),
		history:       history,
	}, nil
}

// Close releases file and database handles. Safe to call after Run returns.
func (d *Daemon) Close() {
	d.checksWriter.Close()
	d.actionsWriter.Close()
	d.history.Close()
}

// Run executes the full startup/event-loop/shutdown lifecycle and returns
// the process exit code.
func (d *Daemon) Run(ctx context.Context) int {
	if err := security.ValidateDirectoryPermissions(d.cfg.StateDir); err != nil {
		d.logger.Warn("state directory permissions", "error", err)
	}

	result, meta, err := d.lease.TryAcquire(d.clock.Now())
	if err != nil {
		d.logger.Error("lease acquisition failed", "error", err)
		return ExitDuplicateOrFatal
	}

	switch result {
	case lease.HeldBy:
		d.logger.Info("another daemon holds the lease", "holder_pid", meta.PID, "holder_host", meta.Hostname)
		if d.cfg.Quiet {
			return ExitOK
		}
		return ExitDuplicateOrFatal
	case lease.Stale:
		d.logger.Info("reclaimed stale lease", "previous_pid", meta.PID)
	case lease.Acquired:
		d.logger.Info("acquired lease", "pid", meta.PID)
	}

	if err := d.loadRules(); err != nil {
		d.logger.Error("failed to load rule store", "error", err)
		d.lease.Release()
		return ExitDuplicateOrFatal
	}

	sigs := clock.NewSignals()
	defer sigs.Stop()

	exitCode, err := d.eventLoop(ctx, sigs)

	// A split-brain exit means another host already holds the lease and
	// wrote its own leader.json; releasing here would delete that host's
	// live lock directory instead of this process's own.
	if !errors.Is(err, lease.ErrSplitBrain) {
		d.lease.Release()
	}
	return exitCode
}

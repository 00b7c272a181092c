// cmd/kickerd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mprather/kicker/internal/daemon"
)

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting home directory: %v\n", err)
		os.Exit(daemon.ExitBadArgs)
	}

	defaultConfigPath := filepath.Join(homeDir, ".config", "kicker", "config.yaml")
	defaultStateDir := filepath.Join(homeDir, ".local", "state", "kicker")

	logFormat := flag.String("log-format", "plain-text", "log format: plain-text or json")
	pollInterval := flag.Float64("poll-interval", 0, "override the global default poll interval, in seconds")
	leaseSeconds := flag.Float64("lease-seconds", 30, "leader lease duration, in seconds")
	leaseGraceSeconds := flag.Float64("lease-grace-seconds", 10, "grace period past lease expiry before reclaiming, in seconds")
	quiet := flag.Bool("quiet", false, "suppress duplicate-instance noise; exit 0 instead of 1 when another daemon holds the lease")
	verbose := flag.Bool("verbose", false, "emit lifecycle and per-rule debug logging")
	configPath := flag.String("config", defaultConfigPath, "path to the rule store")
	stateDir := flag.String("state-dir", defaultStateDir, "path to the state directory")
	flag.Parse()

	if *logFormat != "plain-text" && *logFormat != "json" {
		fmt.Fprintf(os.Stderr, "invalid --log-format %q: must be plain-text or json\n", *logFormat)
		os.Exit(daemon.ExitBadArgs)
	}

	d, err := daemon.New(daemon.Config{
		HomeDir:              homeDir,
		ConfigPath:           *configPath,
		StateDir:             *stateDir,
		LogFormat:            *logFormat,
		PollIntervalOverride: *pollInterval,
		LeaseSeconds:         *leaseSeconds,
		LeaseGraceSeconds:    *leaseGraceSeconds,
		Quiet:                *quiet,
		Verbose:              *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting daemon: %v\n", err)
		os.Exit(daemon.ExitDuplicateOrFatal)
	}
	defer d.Close()

	// Shutdown is driven solely by internal/clock.Signals inside the event
	// loop, which lets an in-flight check or action run to its own
	// per-rule timeout instead of being cut short by the signal that
	// requested shutdown.
	os.Exit(d.Run(context.Background()))
}

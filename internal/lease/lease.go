// Package lease implements the leader lease store: a single-instance claim,
// safe across multiple hosts mounting the same home directory over NFS,
// built on atomic directory creation rather than file-level exclusive
// locking — directory creation is the one primitive that stays atomic on
// NFSv3+ clients.
package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Metadata is the content of leader.json.
type Metadata struct {
	Hostname       string `json:"hostname"`
	PID            int    `json:"pid"`
	Token          string `json:"token"`
	StartTime      int64  `json:"start_time"`
	LeaseExpiresAt int64  `json:"lease_expires_at"`
}

// sameHolder reports whether m was written by the same process instance
// that currently holds this Store (hostname, pid, and the random token
// minted at acquisition all match — the token additionally guards against a
// pid being reused by an unrelated process after a crash and restart within
// one lease window, a case hostname:pid alone can't distinguish).
func (m Metadata) sameHolder(hostname string, pid int, token string) bool {
	return m.Hostname == hostname && m.PID == pid && m.Token == token
}

// Result is the outcome of TryAcquire.
type Result int

const (
	Acquired Result = iota
	HeldBy
	Stale
)

// Store manages the leader lease under a state directory.
type Store struct {
	dir          string // state directory
	lockDir      string // dir/leader.lock
	metaPath     string // dir/leader.lock/leader.json
	leaseSeconds float64
	graceSeconds float64

	hostname string
	pid      int
	token    string
}

// New returns a Store rooted at stateDir, with the given lease duration and
// staleness grace period.
func New(stateDir string, leaseSeconds, graceSeconds float64) (*Store, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("determining hostname: %w", err)
	}

	lockDir := filepath.Join(stateDir, "leader.lock")
	return &Store{
		dir:          stateDir,
		lockDir:      lockDir,
		metaPath:     filepath.Join(lockDir, "leader.json"),
		leaseSeconds: leaseSeconds,
		graceSeconds: graceSeconds,
		hostname:     hostname,
		pid:          os.Getpid(),
		token:        uuid.NewString(),
	}, nil
}

// TryAcquire attempts to claim leadership. It retries exactly once after
// reclaiming a stale lease, to bound thrash against a concurrent claimant.
// A fresh claim (no prior lock
// directory) reports Acquired; reclaiming an expired-plus-grace lease
// reports Stale instead, so the caller can log the distinction even though
// both leave this process holding the lease.
func (s *Store) TryAcquire(now time.Time) (Result, *Metadata, error) {
	reclaimed := false

	for attempt := 0; attempt < 2; attempt++ {
		if err := os.MkdirAll(s.dir, 0o750); err != nil {
			return 0, nil, fmt.Errorf("creating state directory: %w", err)
		}

		err := os.Mkdir(s.lockDir, 0o750)
		switch {
		case err == nil:
			meta := Metadata{
				Hostname:       s.hostname,
				PID:            s.pid,
				Token:          s.token,
				StartTime:      now.Unix(),
				LeaseExpiresAt: now.Add(s.leaseDuration()).Unix(),
			}
			if werr := s.writeMeta(meta); werr != nil {
				os.Remove(s.metaPath)
				os.Remove(s.lockDir)
				return 0, nil, fmt.Errorf("writing lease metadata: %w", werr)
			}
			if reclaimed {
				return Stale, &meta, nil
			}
			return Acquired, &meta, nil

		case errors.Is(err, os.ErrExist):
			existing, rerr := s.Read()
			if rerr != nil {
				// Lock directory exists but metadata is unreadable (e.g. a
				// holder that crashed mid-write). Treat as stale: nothing
				// to safely compare against, and a holder that can't even
				// produce readable metadata can't be contending in good
				// faith.
				if rmErr := os.RemoveAll(s.lockDir); rmErr != nil {
					return 0, nil, fmt.Errorf("removing unreadable stale lock: %w", rmErr)
				}
				reclaimed = true
				continue
			}

			if s.isStale(*existing, now) {
				if rmErr := os.RemoveAll(s.lockDir); rmErr != nil {
					return 0, nil, fmt.Errorf("removing stale lock: %w", rmErr)
				}
				reclaimed = true
				continue
			}

			return HeldBy, existing, nil

		default:
			return 0, nil, fmt.Errorf("creating lock directory: %w", err)
		}
	}

	// Lost the race to reclaim a stale lock twice in a row; report who
	// currently holds it rather than retrying indefinitely.
	existing, err := s.Read()
	if err != nil {
		return 0, nil, fmt.Errorf("reading lease after contended reclaim: %w", err)
	}
	return HeldBy, existing, nil
}

func (s *Store) isStale(m Metadata, now time.Time) bool {
	expiry := time.Unix(m.LeaseExpiresAt, 0).Add(s.graceDuration())
	return now.After(expiry)
}

// Refresh rewrites leader.json with an extended expiry. If the metadata on
// disk no longer names this process as the holder, another daemon has
// stolen the lease during a clock anomaly ("split-brain") and Refresh
// returns ErrSplitBrain so the caller can shut down immediately.
func (s *Store) Refresh(now time.Time) error {
	existing, err := s.Read()
	if err != nil {
		return fmt.Errorf("reading lease metadata: %w", err)
	}
	if !existing.sameHolder(s.hostname, s.pid, s.token) {
		return ErrSplitBrain
	}

	meta := Metadata{
		Hostname:       s.hostname,
		PID:            s.pid,
		Token:          s.token,
		StartTime:      existing.StartTime,
		LeaseExpiresAt: now.Add(s.leaseDuration()).Unix(),
	}
	return s.writeMeta(meta)
}

// Release removes the lock directory. Safe to call even if the lease was
// never acquired.
func (s *Store) Release() error {
	if err := os.RemoveAll(s.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock directory: %w", err)
	}
	return nil
}

// Read loads the current lease metadata. It returns an error if no lease
// file exists or the file cannot be parsed.
func (s *Store) Read() (*Metadata, error) {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		return nil, fmt.Errorf("reading lease file: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing lease file: %w", err)
	}
	return &m, nil
}

// RefreshInterval is the recommended refresh period: lease_seconds / 3.
func (s *Store) RefreshInterval() time.Duration {
	return s.leaseDuration() / 3
}

func (s *Store) leaseDuration() time.Duration {
	return time.Duration(s.leaseSeconds * float64(time.Second))
}

func (s *Store) graceDuration() time.Duration {
	return time.Duration(s.graceSeconds * float64(time.Second))
}

func (s *Store) writeMeta(m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := s.metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, s.metaPath)
}

// ErrSplitBrain is returned by Refresh when another daemon has claimed the
// lease this process believed it still held.
var ErrSplitBrain = errors.New("lease: foreign metadata observed on refresh (split-brain)")

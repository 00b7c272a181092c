// Package security hardens the daemon against an insecure filesystem
// environment: directories and files it reads rule definitions and scripts
// from must not be writable by other users, and anything a check or action
// script prints gets scrubbed of secret-shaped substrings before it reaches
// a log file.
package security

import (
	"fmt"
	"os"
)

// worldWritableBit is set in a mode's permission bits when any user other
// than the owner/group can write to the entry.
const worldWritableBit = 0o002

// ValidateDirectoryPermissions returns an error if path is not a directory,
// is world-writable, or grants group permissions broader than 0750. The
// daemon checks the state directory against this at startup.
func ValidateDirectoryPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking directory permissions: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	mode := info.Mode().Perm()
	if mode&worldWritableBit != 0 {
		return fmt.Errorf("directory %s is world-writable (mode %04o), expected 0700 or 0750", path, mode)
	}
	if mode&0o020 != 0 {
		return fmt.Errorf("directory %s is group-writable (mode %04o), expected 0700 or 0750", path, mode)
	}
	return nil
}

// ValidateFilePermissions returns an error if path does not exist or is
// world-writable; group write permission is not checked. It is used on the rule store
// itself: a world-writable config would let another account on the host
// rewrite which scripts the daemon runs as this user.
func ValidateFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	if mode := info.Mode().Perm(); mode&worldWritableBit != 0 {
		return fmt.Errorf("file %s is world-writable (mode %04o)", path, mode)
	}
	return nil
}

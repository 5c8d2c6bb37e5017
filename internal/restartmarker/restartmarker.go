// Package restartmarker implements the restart marker (C7): a durable,
// single-use handoff file that lets a command which kills or replaces the
// agent still produce exactly one reply once the agent comes back up.
package restartmarker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	markerFileName     = "serclient.restart"
	updateLogFileName  = "updateSoftware.log"
	versionFileName    = "serclient.version"
)

// Store locates the marker and companion files under an install root.
type Store struct {
	root string
}

// New constructs a Store rooted at installRoot.
func New(installRoot string) *Store {
	return &Store{root: installRoot}
}

func (s *Store) markerPath() string     { return filepath.Join(s.root, markerFileName) }
func (s *Store) updateLogPath() string  { return filepath.Join(s.root, updateLogFileName) }
func (s *Store) versionPath() string    { return filepath.Join(s.root, versionFileName) }

// Write persists correlationID as the pending restart marker, before the
// dispatcher spawns a self-mutating command (§4.4).
func (s *Store) Write(correlationID string) error {
	if err := os.WriteFile(s.markerPath(), []byte(correlationID), 0o644); err != nil {
		return fmt.Errorf("restartmarker: write: %w", err)
	}
	return nil
}

// ConsumeOnStartup reads and deletes the marker file exactly once. ok is
// false if no restart was pending, satisfying P7 (consumed at most once).
func (s *Store) ConsumeOnStartup() (correlationID string, ok bool, err error) {
	data, err := os.ReadFile(s.markerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("restartmarker: read: %w", err)
	}
	if rmErr := os.Remove(s.markerPath()); rmErr != nil && !os.IsNotExist(rmErr) {
		return "", false, fmt.Errorf("restartmarker: remove: %w", rmErr)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Peek reports the pending marker's correlation id, if any, without
// consuming it. Unlike ConsumeOnStartup this is safe to call while the
// agent is running; serclientctl uses it for read-only inspection.
func (s *Store) Peek() (correlationID string, ok bool, err error) {
	data, err := os.ReadFile(s.markerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("restartmarker: peek: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Clear removes the marker if it still exists. Called by the supervisor
// after every command's child process exits: after a self-mutating
// command, the marker's continued presence at that point means the
// restart/update failed to replace the agent (§4.7 step 6).
func (s *Store) Clear() error {
	if err := os.Remove(s.markerPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("restartmarker: clear: %w", err)
	}
	return nil
}

// ReadAndTruncateUpdateLog returns the contents of the update-log file and
// truncates it to empty, so the next updateSoftware attempt starts clean.
// A missing file reads as an empty string, not an error.
func (s *Store) ReadAndTruncateUpdateLog() (string, error) {
	data, err := os.ReadFile(s.updateLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("restartmarker: read update log: %w", err)
	}
	if err := os.WriteFile(s.updateLogPath(), nil, 0o644); err != nil {
		return "", fmt.Errorf("restartmarker: truncate update log: %w", err)
	}
	return string(data), nil
}

// Version reads the agent's own current version from serclient.version,
// defaulting to "0" if absent.
func (s *Store) Version() string {
	data, err := os.ReadFile(s.versionPath())
	if err != nil {
		return "0"
	}
	return strings.TrimSpace(string(data))
}

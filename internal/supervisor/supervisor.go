// Package supervisor implements the command supervisor (C5): it spawns a
// resolved Command as a child process, enforces its timeout, captures its
// merged output, and produces the RESPONSE that reports the outcome.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/pmcloud/serclient/internal/command"
	"github.com/pmcloud/serclient/internal/response"
	"github.com/pmcloud/serclient/internal/restartmarker"
)

// defaultCommandTimeout is used when neither a per-alias override nor an
// explicit default has been configured (§4.7, §6).
const defaultCommandTimeout = 40 * time.Second

// updateSoftwareTimeout is the built-in override for the updateSoftware
// family of self-mutating commands (§4.7).
const updateSoftwareTimeout = 90 * time.Second

// Timeouts resolves the per-command execution deadline.
type Timeouts struct {
	Default  time.Duration
	PerAlias map[string]time.Duration
}

// For returns the configured timeout for alias, falling back to the
// updateSoftware built-in override and then the configured/default
// timeout, per §4.7 step 2.
func (t Timeouts) For(alias string) time.Duration {
	if d, ok := t.PerAlias[alias]; ok && d > 0 {
		return d
	}
	if command.IsSelfMutating(alias) && strings.HasPrefix(alias, "updateSoftware") {
		return updateSoftwareTimeout
	}
	if t.Default > 0 {
		return t.Default
	}
	return defaultCommandTimeout
}

// Supervisor runs accepted Commands to completion.
type Supervisor struct {
	timeouts Timeouts
	marker   *restartmarker.Store
	log      *slog.Logger
}

// New constructs a Supervisor. marker is consulted after every child exits
// (§4.7 step 6) and log receives structured diagnostics.
func New(timeouts Timeouts, marker *restartmarker.Store, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{timeouts: timeouts, marker: marker, log: log}
}

func buildArgv(cmd *command.Command) []string {
	tokens := command.Tokenize(cmd.CommandLine)
	args := tokens
	if len(tokens) > 0 {
		args = tokens[1:]
	}
	argv := make([]string, 0, 1+len(args)+1)
	argv = append(argv, cmd.Module.ExecutablePath)
	argv = append(argv, args...)
	if cmd.BinaryBlobPath != "" {
		argv = append(argv, cmd.BinaryBlobPath)
	}
	return argv
}

// Run executes cmd to completion (or timeout) and returns the RESPONSE to
// send for it. Run never returns an error: every outcome, including a
// spawn failure, is reported as a Response, per §7's "surfaced as a
// RESPONSE" policy.
func (s *Supervisor) Run(ctx context.Context, cmd *command.Command) response.Response {
	if cmd.Module == nil {
		return response.CommandNotFound(command.ModuleNameFromCommandLine(cmd.CommandLine))
	}

	// attemptID is an off-wire bookkeeping id for this run's log lines; it
	// never appears on the link, unlike cmd.CorrelationID (§3's GUID).
	attemptID := xid.New().String()

	timeout := s.timeouts.For(cmd.Module.Alias)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := buildArgv(cmd)
	child := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	applyDetachAttr(child, cmd.SelfMutating)

	var output bytes.Buffer
	child.Stdout = &output
	child.Stderr = &output

	s.log.Debug("spawning command", "attempt_id", attemptID, "alias", cmd.Module.Alias, "correlation_id", cmd.CorrelationID, "timeout", timeout)

	startErr := child.Start()
	var waitErr error
	if startErr == nil {
		waitErr = child.Wait()
	} else {
		waitErr = startErr
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	if err := s.marker.Clear(); err != nil {
		s.log.Warn("restart marker clear failed", "error", err)
	}

	captured := output.String()
	if strings.HasPrefix(cmd.Module.Alias, "updateSoftware") {
		if logContents, err := s.marker.ReadAndTruncateUpdateLog(); err != nil {
			s.log.Warn("update log read failed", "error", err)
		} else if logContents != "" {
			captured = logContents
		}
	}

	switch {
	case timedOut:
		s.log.Info("command timed out", "alias", cmd.Module.Alias, "correlation_id", cmd.CorrelationID, "timeout", timeout)
		return response.TimedOut(cmd.Module.Alias)
	case startErr != nil:
		return response.Error(cmd.Module.Alias, fmt.Sprintf("spawn failed: %v", startErr), 1)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return response.Error(cmd.Module.Alias, captured, exitErr.ExitCode())
		}
		return response.Error(cmd.Module.Alias, waitErr.Error(), 1)
	default:
		return response.Success(cmd.Module.Alias, captured)
	}
}

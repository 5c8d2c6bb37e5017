package supervisor

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmcloud/serclient/internal/command"
	"github.com/pmcloud/serclient/internal/registry"
	"github.com/pmcloud/serclient/internal/response"
	"github.com/pmcloud/serclient/internal/restartmarker"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, writeExecutable(path, body))
	return path
}

func TestForFallsBackToUpdateSoftwareOverride(t *testing.T) {
	tm := Timeouts{Default: 40 * time.Second}
	assert.Equal(t, updateSoftwareTimeout, tm.For("updateSoftware"))
	assert.Equal(t, updateSoftwareTimeout, tm.For("updateSoftwareForce"))
	assert.Equal(t, 40*time.Second, tm.For("osinfo"))
}

func TestForPrefersPerAliasOverride(t *testing.T) {
	tm := Timeouts{Default: 40 * time.Second, PerAlias: map[string]time.Duration{"slowthing": 5 * time.Minute}}
	assert.Equal(t, 5*time.Minute, tm.For("slowthing"))
}

func TestForDefaultsWhenUnconfigured(t *testing.T) {
	var tm Timeouts
	assert.Equal(t, defaultCommandTimeout, tm.For("osinfo"))
}

func TestRunReportsSuccessAndCapturesOutput(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "osinfo", "#!/bin/sh\necho hello-from-osinfo\n")

	s := New(Timeouts{Default: time.Second}, restartmarker.New(dir), nil)
	cmd := &command.Command{
		CorrelationID: "abc",
		CommandLine:   "osinfo",
		Module:        &registry.Module{Alias: "osinfo", ExecutablePath: script},
	}

	resp := s.Run(context.Background(), cmd)
	assert.Equal(t, response.TypeSuccess, resp.Type)
	assert.Equal(t, 0, resp.ResultCode)
	assert.Contains(t, resp.OutputString, "hello-from-osinfo")
}

func TestRunReportsNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "failer", "#!/bin/sh\necho boom 1>&2\nexit 7\n")

	s := New(Timeouts{Default: time.Second}, restartmarker.New(dir), nil)
	cmd := &command.Command{
		CommandLine: "failer",
		Module:      &registry.Module{Alias: "failer", ExecutablePath: script},
	}

	resp := s.Run(context.Background(), cmd)
	assert.Equal(t, response.TypeError, resp.Type)
	assert.Equal(t, 7, resp.ResultCode)
	assert.Contains(t, resp.ResultMessage, "boom")
}

func TestRunReportsTimeout(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "slow", "#!/bin/sh\nsleep 5\n")

	s := New(Timeouts{Default: 50 * time.Millisecond}, restartmarker.New(dir), nil)
	cmd := &command.Command{
		CommandLine: "slow",
		Module:      &registry.Module{Alias: "slow", ExecutablePath: script},
	}

	resp := s.Run(context.Background(), cmd)
	assert.Equal(t, response.TypeTimeOut, resp.Type)
}

func TestRunReportsCommandNotFoundWhenModuleNil(t *testing.T) {
	s := New(Timeouts{}, restartmarker.New(t.TempDir()), nil)
	resp := s.Run(context.Background(), &command.Command{CommandLine: "nosuch arg"})
	assert.Equal(t, response.TypeError, resp.Type)
	assert.Contains(t, resp.ResultMessage, "not found")
}

func TestRunClearsRestartMarkerAfterExit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "restart", "#!/bin/sh\nexit 0\n")
	marker := restartmarker.New(dir)
	require.NoError(t, marker.Write("cid-1"))

	s := New(Timeouts{Default: time.Second}, marker, nil)
	cmd := &command.Command{
		CommandLine:  "restart",
		Module:       &registry.Module{Alias: "restart", ExecutablePath: script},
		SelfMutating: true,
	}
	s.Run(context.Background(), cmd)

	_, ok, err := marker.ConsumeOnStartup()
	require.NoError(t, err)
	assert.False(t, ok, "marker should have been cleared by Run")
}

func TestRunPrefersUpdateLogOverCapturedStdoutForUpdateSoftware(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "updateSoftware", "#!/bin/sh\necho stdout-noise\n")
	marker := restartmarker.New(dir)
	require.NoError(t, writeUpdateLog(dir, "real install log\n"))

	s := New(Timeouts{Default: time.Second}, marker, nil)
	cmd := &command.Command{
		CommandLine: "updateSoftware",
		Module:      &registry.Module{Alias: "updateSoftware", ExecutablePath: script},
	}
	resp := s.Run(context.Background(), cmd)
	assert.Equal(t, "real install log\n", resp.OutputString)
}

func TestBuildArgvAppendsBinaryBlobPath(t *testing.T) {
	cmd := &command.Command{
		CommandLine:    "updateModule foo",
		BinaryBlobPath: "/tmp/blob123",
		Module:         &registry.Module{Alias: "updateModule", ExecutablePath: "/opt/agent/plugins/updateModule"},
	}
	argv := buildArgv(cmd)
	assert.Equal(t, []string{"/opt/agent/plugins/updateModule", "foo", "/tmp/blob123"}, argv)
}

// Command serclient is the guest-side agent daemon: it owns the serial
// link and runs the dispatcher event loop until signaled to stop, in the
// same flag-driven, defer-cleanup shape as cc-helper's own entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pmcloud/serclient/internal/agentlog"
	"github.com/pmcloud/serclient/internal/config"
	"github.com/pmcloud/serclient/internal/dispatcher"
	"github.com/pmcloud/serclient/internal/link"
	"github.com/pmcloud/serclient/internal/metrics"
	"github.com/pmcloud/serclient/internal/registry"
	"github.com/pmcloud/serclient/internal/restartmarker"
	"github.com/pmcloud/serclient/internal/serial"
	"github.com/pmcloud/serclient/internal/supervisor"
)

const linkReadChunk = 4096

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to the XDG config location)")
	installRoot := flag.String("install-root", "", "Overrides the configured plug-in install root")
	serialPort := flag.String("serial-port", "", "Overrides the configured serial device path")
	tmpDir := flag.String("tmp-dir", "", "Directory for staging command binary blobs (defaults to os.TempDir())")
	flag.Parse()

	if err := run(*configPath, *installRoot, *serialPort, *tmpDir); err != nil {
		fmt.Fprintf(os.Stderr, "serclient: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, installRootOverride, serialPortOverride, tmpDirOverride string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	overrides := map[string]any{}
	if installRootOverride != "" {
		overrides["install_root"] = installRootOverride
	}
	if serialPortOverride != "" {
		overrides["serial.port"] = serialPortOverride
	}

	rec, err := config.Load(path, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := agentlog.New(agentlog.Config{Level: rec.Logging.Level, Sink: rec.Logging.Sink})

	port, err := serial.Open(rec.Serial)
	if err != nil {
		return fmt.Errorf("open serial device: %w", err)
	}
	defer port.Close()

	tmpDir := tmpDirOverride
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	marker := restartmarker.New(rec.InstallRoot)
	reg := registry.New(rec.InstallRoot)
	timeouts := supervisor.Timeouts{Default: rec.DefaultDuration(), PerAlias: rec.PerCommandDurations()}
	sup := supervisor.New(timeouts, marker, log)

	var m *metrics.Metrics
	if rec.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		m = metrics.New(promReg)
		server, lerr := metrics.Listen(fmt.Sprintf(":%d", rec.Metrics.Port), promReg)
		if lerr != nil {
			return fmt.Errorf("start metrics listener: %w", lerr)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(ctx, server)
		}()
	}

	d := dispatcher.New(dispatcher.Config{
		Reader:     link.NewReader(port, linkReadChunk),
		Writer:     port,
		Registry:   reg,
		Marker:     marker,
		Supervisor: sup,
		TempDir:    tmpDir,
		Logger:     log,
		Metrics:    m,
	})

	// Run installs its own SIGINT/SIGTERM handling (signal_unix.go,
	// signal_windows.go); no separate signal plumbing is needed here.
	return d.Run(context.Background())
}

// Package dispatcher implements the single-threaded event loop (C6) that
// owns the serial link and all shared agent state, per §4.4. It wires the
// link reader, the fragment reassembler, the module registry, and the
// command supervisor together, and is the only place that writes to the
// link or touches the command queue.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pmcloud/serclient/internal/command"
	"github.com/pmcloud/serclient/internal/link"
	"github.com/pmcloud/serclient/internal/metrics"
	"github.com/pmcloud/serclient/internal/reassembly"
	"github.com/pmcloud/serclient/internal/registry"
	"github.com/pmcloud/serclient/internal/response"
	"github.com/pmcloud/serclient/internal/restartmarker"
	"github.com/pmcloud/serclient/internal/supervisor"
	"github.com/pmcloud/serclient/internal/wire"
)

// idleKeepalive is how long the link may sit silent before the dispatcher
// emits an unsolicited ACK, per §4.4 step 4.
const idleKeepalive = 15 * time.Minute

// writeChunkSize bounds a single link write, per §4.4 step 3.
const writeChunkSize = 8192

// Writer is the outbound half of the link device.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// Dispatcher is the event loop described in §4.4.
type Dispatcher struct {
	reader      *link.Reader
	writer      Writer
	mailbox     *Mailbox
	inflight    *InFlight
	reassembler *reassembly.Table
	registry    *registry.Registry
	marker      *restartmarker.Store
	sup         *supervisor.Supervisor
	tmpDir      string
	log         *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	lastIO time.Time

	mu                 sync.Mutex
	queue              []*command.Command
	blockingMode       bool
	activeSupervisors  int

	group    *errgroup.Group
	groupCtx context.Context
}

// Config bundles the collaborators a Dispatcher needs.
type Config struct {
	Reader      *link.Reader
	Writer      Writer
	Registry    *registry.Registry
	Marker      *restartmarker.Store
	Supervisor  *supervisor.Supervisor
	TempDir     string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// New constructs a Dispatcher ready to Run.
func New(cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	group, groupCtx := errgroup.WithContext(context.Background())
	return &Dispatcher{
		reader:      cfg.Reader,
		writer:      cfg.Writer,
		mailbox:     NewMailbox(),
		inflight:    NewInFlight(),
		reassembler: reassembly.NewTable(),
		registry:    cfg.Registry,
		marker:      cfg.Marker,
		sup:         cfg.Supervisor,
		tmpDir:      cfg.TempDir,
		log:         log,
		metrics:     cfg.Metrics,
		now:         time.Now,
		lastIO:      time.Now(),
		group:       group,
		groupCtx:    groupCtx,
	}
}

// ReplayPendingRestart implements the startup half of §4.4's self-mutating
// commands note and P7: it consumes the restart marker at most once and, if
// one was pending, queues the synthetic AUTHRESPONSE/RESPONSE pair the host
// is still waiting on for the command that killed the previous process.
// Run calls this once before it starts draining the link.
func (d *Dispatcher) ReplayPendingRestart() {
	correlationID, ok, err := d.marker.ConsumeOnStartup()
	if err != nil {
		d.log.Error("failed to consume restart marker", "error", err)
		return
	}
	if !ok {
		return
	}

	output, err := d.marker.ReadAndTruncateUpdateLog()
	if err != nil {
		d.log.Warn("failed to read update log on restart replay", "error", err)
	}

	d.log.Info("replaying restart reply", "correlation_id", correlationID)
	d.mailbox.Post(wire.NewAuthResponse(correlationID))
	packets, perr := response.BuildPackets(correlationID, response.Success("restart", output))
	if perr != nil {
		d.log.Error("failed to build restart replay response", "error", perr, "correlation_id", correlationID)
		return
	}
	for _, p := range packets {
		d.mailbox.Post(p)
	}
}

// Run loops Tick until ctx is cancelled or a fatal link error occurs, then
// waits for any still-running supervisors to finish (§5's teardown-together
// guarantee via errgroup).
func (d *Dispatcher) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	d.group = group
	d.groupCtx = groupCtx

	d.ReplayPendingRestart()
	d.drainMailbox()

	sigCh := make(chan os.Signal, 1)
	signalNotify(sigCh)
	defer signal.Stop(sigCh)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-sigCh:
			break loop
		default:
		}
		if err := d.Tick(); err != nil {
			runErr = err
			break loop
		}
	}

	if err := d.group.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Tick runs exactly one iteration of the five-step loop in §4.4.
func (d *Dispatcher) Tick() error {
	pkt, pktOK, timedOut, err := d.reader.Next()
	if err != nil {
		return fmt.Errorf("dispatcher: link read: %w", err)
	}
	if timedOut != nil {
		d.handleLogicTimeout(timedOut)
	}
	if pktOK {
		d.lastIO = d.now()
		d.metrics.ObservePacketRead(string(pkt.Kind))
		d.handlePacket(pkt)
	}

	d.drainMailbox()

	if d.now().Sub(d.lastIO) > idleKeepalive {
		d.mailbox.Post(wire.NewAck(wire.ZeroCorrelationID))
		d.drainMailbox()
		d.lastIO = d.now()
	}

	d.stepQueue()
	return nil
}

// handleLogicTimeout implements §4.2 step 4's stuck-fragment handling: the
// link already dropped the wedged header and re-synced, so the only thing
// left is to tell the host the fragment timed out, per §4.3/§7.
func (d *Dispatcher) handleLogicTimeout(evt *link.TimedOut) {
	d.log.Warn("logic timeout waiting for frame to complete",
		"correlation_id", evt.CorrelationID,
		"fragment_index", evt.FragmentIndex,
		"fragment_count", evt.FragmentCount)
	d.mailbox.Post(wire.NewReceivedTimeout(evt.CorrelationID, evt.FragmentIndex, evt.FragmentCount))
}

func (d *Dispatcher) drainMailbox() {
	for _, p := range d.mailbox.drainAll() {
		if err := d.writePacket(p); err != nil {
			d.log.Error("link write failed", "error", err, "kind", p.Kind, "correlation_id", p.CorrelationID)
			return
		}
	}
}

func (d *Dispatcher) writePacket(pkt wire.Packet) error {
	buf, err := wire.Encode(pkt)
	if err != nil {
		return fmt.Errorf("dispatcher: encode: %w", err)
	}
	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > writeChunkSize {
			chunk = chunk[:writeChunkSize]
		}
		n, err := d.writer.Write(chunk)
		if err != nil {
			return fmt.Errorf("dispatcher: write: %w", err)
		}
		buf = buf[n:]
		d.lastIO = d.now()
	}
	d.metrics.ObservePacketWritten(string(pkt.Kind))
	return nil
}

// handlePacket classifies an inbound packet per §4.4 step 2, first routing
// it through the reassembler so multi-fragment COMMANDs/RESPONSEs arrive as
// one synthetic message.
func (d *Dispatcher) handlePacket(pkt wire.Packet) {
	result, rerr := d.reassembler.Accept(pkt)
	if rerr != nil {
		d.log.Warn("reassembly failed", "error", rerr, "correlation_id", pkt.CorrelationID)
	}
	if result.Ack != nil {
		d.mailbox.Post(*result.Ack)
	}

	msg := pkt
	if !pkt.Single() {
		if result.Completed == nil {
			return // still waiting on further fragments
		}
		msg = *result.Completed
	}

	switch msg.Kind {
	case wire.KindAck:
		d.mailbox.Post(wire.NewAck(msg.CorrelationID))
	case wire.KindCommand:
		d.acceptCommand(msg)
	case wire.KindReceived:
		// Flow-control artefact; nothing to do.
	case wire.KindAuthResponse:
		d.handleAuthResponse(msg)
	case wire.KindResponse:
		d.log.Info("ignoring inbound RESPONSE", "correlation_id", msg.CorrelationID)
	}
}

// acceptCommand implements the COMMAND acceptance path, §4.5.
func (d *Dispatcher) acceptCommand(msg wire.Packet) {
	commandLine, blob, perr := command.ParseXML(msg.Body)
	if perr != nil {
		d.inflight.Store(msg.CorrelationID, response.MalformedCommand(perr.Error()))
		d.mailbox.Post(wire.NewAuthResponse(msg.CorrelationID))
		return
	}

	var blobPath string
	if blob != nil {
		blobPath = filepath.Join(d.tmpDir, msg.CorrelationID)
		if werr := os.WriteFile(blobPath, blob, 0o600); werr != nil {
			d.inflight.Store(msg.CorrelationID, response.MalformedCommand(werr.Error()))
			d.mailbox.Post(wire.NewAuthResponse(msg.CorrelationID))
			return
		}
	}

	d.mailbox.Post(wire.NewReceived(msg.CorrelationID, 1, 1))

	moduleName := command.ModuleNameFromCommandLine(commandLine)
	mod := d.registry.Resolve(moduleName)

	cmd := &command.Command{
		CorrelationID:  msg.CorrelationID,
		CommandLine:    commandLine,
		BinaryBlobPath: blobPath,
		Module:         mod,
		SelfMutating:   command.IsSelfMutating(moduleName),
	}
	if mod != nil {
		cmd.Blocking = mod.Blocking
	}

	d.mu.Lock()
	d.queue = append(d.queue, cmd)
	d.mu.Unlock()
}

// handleAuthResponse implements §4.4 step 2's AUTHRESPONSE handling.
func (d *Dispatcher) handleAuthResponse(msg wire.Packet) {
	resp, ok := d.inflight.TakeAndDelete(msg.CorrelationID)
	if !ok {
		packets, err := response.BuildPackets(msg.CorrelationID, response.Response{Type: response.TypeError})
		if err != nil {
			d.log.Error("failed to build fallback error response", "error", err)
			return
		}
		for _, p := range packets {
			d.mailbox.Post(p)
		}
		return
	}

	packets, err := response.BuildPackets(msg.CorrelationID, resp)
	if err != nil {
		d.log.Error("failed to build response", "error", err, "correlation_id", msg.CorrelationID)
		return
	}
	for _, p := range packets {
		d.mailbox.Post(p)
	}
}

// stepQueue implements §4.4 step 5: pop and dispatch Commands while not in
// blocking-mode; a blocking Command, once it can run, puts the dispatcher
// into blocking-mode until its supervisor finishes.
func (d *Dispatcher) stepQueue() {
	d.mu.Lock()
	d.metrics.SetQueueDepth(len(d.queue))
	if d.blockingMode {
		if d.activeSupervisors == 0 {
			d.blockingMode = false
		} else {
			d.mu.Unlock()
			return
		}
	}

	for len(d.queue) > 0 {
		cmd := d.queue[0]
		if cmd.Blocking {
			if d.activeSupervisors > 0 {
				d.blockingMode = true
				d.mu.Unlock()
				return
			}
			d.queue = d.queue[1:]
			d.blockingMode = true
			d.activeSupervisors++
			d.mu.Unlock()
			d.spawn(cmd)
			return
		}

		d.queue = d.queue[1:]
		d.activeSupervisors++
		d.mu.Unlock()
		d.spawn(cmd)
		d.mu.Lock()
	}
	d.mu.Unlock()
}

// spawn writes the restart marker (if the command is self-mutating) and
// hands the Command to the supervisor on its own goroutine, per §4.4's
// "Self-mutating commands" note and §4.7.
func (d *Dispatcher) spawn(cmd *command.Command) {
	if cmd.SelfMutating {
		if err := d.marker.Write(cmd.CorrelationID); err != nil {
			d.log.Error("failed to write restart marker", "error", err, "correlation_id", cmd.CorrelationID)
		}
	}

	d.mu.Lock()
	d.metrics.SetActiveSupervisors(d.activeSupervisors)
	d.mu.Unlock()

	alias := command.ModuleNameFromCommandLine(cmd.CommandLine)
	if cmd.Module != nil {
		alias = cmd.Module.Alias
	}

	d.group.Go(func() error {
		start := d.now()
		defer func() {
			d.mu.Lock()
			d.activeSupervisors--
			d.metrics.SetActiveSupervisors(d.activeSupervisors)
			d.mu.Unlock()
		}()
		resp := d.sup.Run(d.groupCtx, cmd)
		d.metrics.ObserveCommand(alias, strings.ToLower(string(resp.Type)), d.now().Sub(start))
		d.inflight.Store(cmd.CorrelationID, resp)
		d.mailbox.Post(wire.NewAuthResponse(cmd.CorrelationID))
		return nil
	})
}

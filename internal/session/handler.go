// Package session implements the node side of the distributed execution
// protocol: one single use session per accepted connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/gatf-node/internal/archive"
	"github.com/ethpandaops/gatf-node/internal/metrics"
	"github.com/ethpandaops/gatf-node/internal/protocol"
	"github.com/ethpandaops/gatf-node/internal/telemetry"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/ethpandaops/gatf-node/internal/units"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRelayGrace      = 3 * time.Second
	defaultExecutionSettle = 2 * time.Second
	defaultRelayBuffer     = 1024

	scratchPrefix = "gatf-units-"
	outputPrefix  = "gatf-out-"
)

var errNoConfig = errors.New("no configuration negotiated")

// Engine executes test sets and remote units on behalf of a session.
type Engine interface {
	Run(ctx context.Context, cfg *testdef.SharedConfig, set *testdef.TestSet, entries chan<- testdef.LoadTestEntry) (*testdef.DistributedTestStatus, error)
	RunRemoteUnits(ctx context.Context, loaded []units.Unit, env *units.Environment) ([][]map[string]testdef.UnitResult, error)
}

// Options tunes a Handler. Zero values select defaults.
type Options struct {
	// WorkDir is the node's working directory. Base paths are rebound to it
	// and drivers are searched in it.
	WorkDir string
	// ScratchDir is where per session unit bundles are extracted and test
	// set output is staged.
	ScratchDir string
	// RelayGrace bounds how long the telemetry relay may take to stop.
	RelayGrace time.Duration
	// ExecutionSettle bounds how long queued telemetry may take to drain
	// after execution.
	ExecutionSettle time.Duration
	// RelayBuffer is the capacity of the telemetry channel.
	RelayBuffer int
	// Client is handed to remote units.
	Client *http.Client
}

// Handler serves sessions.
type Handler struct {
	log     logrus.FieldLogger
	engine  Engine
	packer  archive.Packer
	loader  units.Loader
	metrics metrics.Collector
	opts    Options
}

// NewHandler creates a session handler. collector may be nil.
func NewHandler(
	log logrus.FieldLogger,
	engine Engine,
	packer archive.Packer,
	loader units.Loader,
	collector metrics.Collector,
	opts Options,
) *Handler {
	if opts.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.WorkDir = wd
		}
	}

	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}

	if opts.RelayGrace <= 0 {
		opts.RelayGrace = defaultRelayGrace
	}

	if opts.ExecutionSettle <= 0 {
		opts.ExecutionSettle = defaultExecutionSettle
	}

	if opts.RelayBuffer <= 0 {
		opts.RelayBuffer = defaultRelayBuffer
	}

	return &Handler{
		log:     log.WithField("component", "session"),
		engine:  engine,
		packer:  packer,
		loader:  loader,
		metrics: collector,
		opts:    opts,
	}
}

// session is the state of one accepted connection. It is never reused.
type session struct {
	id     string
	log    logrus.FieldLogger
	conn   *protocol.Conn
	state  State
	cfg    *testdef.SharedConfig
	set    *testdef.TestSet
	metric *metrics.SessionMetric
}

// Serve runs one session over rw until it completes or fails. A failure
// writes the abort sentinel and is returned so the caller closes the
// connection.
func (h *Handler) Serve(ctx context.Context, rw io.ReadWriter, remote string) (*metrics.SessionMetric, error) {
	id := uuid.NewString()
	start := time.Now()

	s := &session{
		id:    id,
		log:   h.log.WithFields(logrus.Fields{"session": id, "remote": remote}),
		conn:  protocol.NewConn(rw),
		state: StateAwaitConfig,
		metric: &metrics.SessionMetric{
			ID:     id,
			Remote: remote,
			Kind:   metrics.KindInvalid,
		},
	}

	s.log.Info("got a new distributed request")

	err := h.handle(ctx, s)

	s.metric.State = s.state.String()
	s.metric.Duration = time.Since(start)

	if err != nil {
		s.metric.Error = err.Error()

		if abortErr := s.conn.WriteAbort(); abortErr != nil {
			s.log.WithError(abortErr).Debug("failed to write abort sentinel")
		}

		s.log.WithError(err).Error("distributed session failed")
	} else {
		s.log.WithField("state", s.state).Info("distributed session complete")
	}

	if h.metrics != nil {
		h.metrics.RecordSession(s.metric)
	}

	return s.metric, err
}

func (h *Handler) handle(ctx context.Context, s *session) error {
	if err := h.negotiateConfig(s); err != nil {
		return err
	}

	s.state = StateAwaitTestSet

	cmd, err := s.conn.ReadCommand()
	if err != nil {
		return fmt.Errorf("reading test set command: %w", err)
	}

	s.log.WithField("command", cmd).Info("received command")

	switch cmd {
	case protocol.CommandTestsShareReq:
		return h.handleTests(ctx, s)
	case protocol.CommandSeleniumReq:
		return h.handleUnits(ctx, s)
	default:
		if err := s.discard(cmd); err != nil {
			return err
		}

		s.state = StateInvalid
		s.log.Info("invalid command received")

		return s.conn.WriteCommand(protocol.CommandInvalid)
	}
}

// negotiateConfig runs the configuration step. A missing or undecodable
// configuration is answered with INVALID and the session moves on.
func (h *Handler) negotiateConfig(s *session) error {
	cmd, err := s.conn.ReadCommand()
	if err != nil {
		return fmt.Errorf("reading config command: %w", err)
	}

	s.log.WithField("command", cmd).Info("received command")

	if cmd != protocol.CommandConfigShareReq {
		if err := s.discard(cmd); err != nil {
			return err
		}

		s.log.Info("invalid command received")

		return s.conn.WriteCommand(protocol.CommandInvalid)
	}

	cfg := &testdef.SharedConfig{}

	err = s.conn.ReadObject(cfg)
	if err == nil {
		err = cfg.Validate()
	} else if !errors.Is(err, protocol.ErrDecode) {
		return fmt.Errorf("reading config: %w", err)
	}

	if err != nil {
		s.log.WithError(err).Info("invalid configuration received")
		return s.conn.WriteCommand(protocol.CommandInvalid)
	}

	s.cfg = cfg
	s.state = StateConfigAcked
	s.log.Info("fetched configuration")

	return s.conn.WriteCommand(protocol.CommandConfigShareRes)
}

// discard consumes whatever payload follows an unexpected command so the
// stream stays aligned.
func (s *session) discard(cmd protocol.Command) error {
	if cmd == protocol.CommandSeleniumReq {
		if _, err := s.conn.ReadBlob(io.Discard); err != nil {
			return fmt.Errorf("discarding %s bundle: %w", cmd, err)
		}
	}

	if _, err := protocol.NewPayload(cmd); err != nil {
		return nil
	}

	var payload any
	if err := s.conn.ReadObject(&payload); err != nil && !errors.Is(err, protocol.ErrDecode) {
		return fmt.Errorf("discarding %s payload: %w", cmd, err)
	}

	return nil
}

func (h *Handler) handleTests(ctx context.Context, s *session) error {
	set := &testdef.TestSet{}

	err := s.conn.ReadObject(set)
	if err == nil {
		err = set.Validate()
	} else if !errors.Is(err, protocol.ErrDecode) {
		return fmt.Errorf("reading test set: %w", err)
	}

	if err == nil && s.cfg == nil {
		err = errNoConfig
	}

	if err != nil {
		s.state = StateInvalid
		s.log.WithError(err).Info("invalid test set received")

		return s.conn.WriteCommand(protocol.CommandInvalid)
	}

	s.set = set
	s.metric.Kind = metrics.KindTests
	s.metric.Suite = set.SuiteName

	if err := s.conn.WriteCommand(protocol.CommandTestsShareRes); err != nil {
		return err
	}

	s.state = StateExecuting
	s.cfg.RebindBasePaths(h.opts.WorkDir)

	outDir, err := h.stageOutput(s)
	if err != nil {
		return err
	}

	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			s.log.WithError(err).Warn("failed to remove output dir")
		}
	}()

	s.log.WithFields(logrus.Fields{
		"suite":      set.SuiteName,
		"test_cases": len(set.TestCases),
		"work_dir":   h.opts.WorkDir,
		"output_dir": outDir,
	}).Info("started executing tests")

	status, err := h.execute(ctx, s)
	if err != nil {
		return err
	}

	return h.returnResults(ctx, s, status)
}

// stageOutput gives the session an output directory of its own under
// ScratchDir. It is removed once the archive has been streamed.
func (h *Handler) stageOutput(s *session) (string, error) {
	dir := filepath.Join(h.opts.ScratchDir, outputPrefix+s.id)

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing output dir: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	s.cfg.OutFilesDir = dir

	return dir, nil
}

// execute runs the engine while the telemetry relay streams its entries.
func (h *Handler) execute(ctx context.Context, s *session) (*testdef.DistributedTestStatus, error) {
	entries := make(chan testdef.LoadTestEntry, h.opts.RelayBuffer)
	relay := telemetry.NewRelay(s.log, s.conn, entries)

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go relay.Run(relayCtx)

	status, runErr := h.engine.Run(ctx, s.cfg, s.set, entries)

	relay.Settle(h.opts.ExecutionSettle)
	cancel()
	relay.Wait(h.opts.RelayGrace)

	s.metric.EntriesRelayed = relay.Delivered()
	s.metric.EntriesDropped = relay.Dropped()

	if runErr != nil {
		return nil, fmt.Errorf("executing test set: %w", runErr)
	}

	if status == nil {
		status = &testdef.DistributedTestStatus{SuiteName: s.set.SuiteName}
	}

	s.metric.TestCasesTotal = status.Total
	s.metric.TestCasesPassed = status.Passed
	s.metric.TestCasesFailed = status.Failed

	return status, nil
}

// returnResults writes the final status and streams the output archive.
func (h *Handler) returnResults(ctx context.Context, s *session, status *testdef.DistributedTestStatus) error {
	if err := s.conn.WriteCommand(protocol.CommandTestsShareRes); err != nil {
		return err
	}

	status.ZipFileName = uuid.NewString() + ".zip"

	if err := s.conn.WriteObject(status); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}

	s.log.Info("writing results")

	outDir := s.cfg.OutputDir()
	pr, pw := io.Pipe()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := h.packer.Pack(outDir, s.cfg.Extensions(), pw)
		pw.CloseWithError(err)

		return err
	})

	g.Go(func() error {
		n, err := s.conn.WriteBlob(pr)
		s.metric.ArchiveBytes = n

		if err != nil {
			pr.CloseWithError(err)
		}

		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("streaming results archive: %w", err)
	}

	s.state = StateDone
	s.log.WithFields(logrus.Fields{
		"archive": status.ZipFileName,
		"bytes":   s.metric.ArchiveBytes,
	}).Info("done writing results")

	return nil
}

func (h *Handler) handleUnits(ctx context.Context, s *session) error {
	s.state = StateUnits
	s.metric.Kind = metrics.KindUnits

	dir := filepath.Join(h.opts.ScratchDir, scratchPrefix+s.id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing scratch dir: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}

	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.WithError(err).Warn("failed to remove scratch dir")
		}
	}()

	if err := h.receiveBundle(s, dir); err != nil {
		return err
	}

	req := &testdef.UnitRequest{}
	if err := s.conn.ReadObject(req); err != nil {
		if !errors.Is(err, protocol.ErrDecode) {
			return fmt.Errorf("reading unit request: %w", err)
		}

		s.state = StateInvalid
		s.log.WithError(err).Info("invalid unit request received")

		return s.conn.WriteCommand(protocol.CommandInvalid)
	}

	// Any load failure rejects the request.
	loaded, loadErr := h.loader.Load(dir, req.Units)

	if err := s.conn.WriteCommand(protocol.CommandSeleniumRes); err != nil {
		return err
	}

	switch {
	case loadErr != nil:
		s.log.WithError(loadErr).Info("rejecting unit request")
		return h.writeUnitStatus(s, protocol.SeleniumRejected)
	case s.cfg == nil:
		s.log.Info("rejecting unit request without configuration")
		return h.writeUnitStatus(s, protocol.SeleniumRejected)
	case len(req.Units) > 0 && !s.cfg.ValidSeleniumRequest:
		s.log.Info("rejecting unit request not marked valid")
		return h.writeUnitStatus(s, protocol.SeleniumRejected)
	}

	drivers, err := units.ResolveDrivers(s.cfg.DriverConfigs, h.opts.WorkDir)
	if err != nil {
		if !errors.Is(err, units.ErrDriverMissing) {
			return err
		}

		s.log.WithError(err).Info("driver missing")

		return h.writeUnitStatus(s, protocol.SeleniumDriverMissing)
	}

	if err := h.writeUnitStatus(s, protocol.SeleniumExecuting); err != nil {
		return err
	}

	env := &units.Environment{Dir: dir, Drivers: drivers, Config: s.cfg, Client: h.opts.Client}

	results, err := h.engine.RunRemoteUnits(ctx, loaded, env)
	if err != nil {
		return fmt.Errorf("running units: %w", err)
	}

	if results == nil {
		results = [][]map[string]testdef.UnitResult{}
	}

	s.metric.UnitsRun = len(loaded)

	if err := s.conn.WriteObject(results); err != nil {
		return fmt.Errorf("writing unit results: %w", err)
	}

	s.state = StateDone
	s.log.Info("done writing unit results")

	return nil
}

// receiveBundle stores the uploaded archive in dir, extracts it there and
// removes the archive.
func (h *Handler) receiveBundle(s *session, dir string) error {
	bundle := filepath.Join(dir, uuid.NewString()+".zip")

	f, err := os.Create(bundle)
	if err != nil {
		return fmt.Errorf("creating bundle file: %w", err)
	}

	n, err := s.conn.ReadBlob(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("receiving bundle: %w", err)
	}

	if n > 0 {
		if _, err := h.packer.Unpack(bundle, dir); err != nil {
			return fmt.Errorf("unpacking bundle: %w", err)
		}
	}

	if err := os.Remove(bundle); err != nil {
		return fmt.Errorf("removing bundle: %w", err)
	}

	return nil
}

func (h *Handler) writeUnitStatus(s *session, code int32) error {
	s.metric.UnitStatus = code

	if code != protocol.SeleniumExecuting {
		s.state = StateDone
	}

	return s.conn.WriteStatus(code)
}

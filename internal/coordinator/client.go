// Package coordinator implements the coordinator side of the distributed
// execution protocol, used to dispatch work to a node by hand.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/gatf-node/internal/protocol"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/sirupsen/logrus"
)

const defaultDialTimeout = 10 * time.Second

var (
	// ErrRejected is returned when the node answered INVALID.
	ErrRejected = errors.New("node rejected the request")
	// ErrUnexpectedCommand is returned for a command out of protocol order.
	ErrUnexpectedCommand = errors.New("unexpected command from node")
)

// TestsResult is what a node returns for a dispatched test set.
type TestsResult struct {
	Status      *testdef.DistributedTestStatus
	ArchivePath string
	ArchiveSize int64
	Entries     int
}

// UnitsResult is what a node returns for a remote unit request.
type UnitsResult struct {
	Code    int32
	Results [][]map[string]testdef.UnitResult
}

// EntryFunc observes telemetry while a test set executes.
type EntryFunc func(e *testdef.LoadTestEntry)

// Client dispatches work to nodes.
type Client interface {
	DispatchTests(ctx context.Context, addr string, cfg *testdef.SharedConfig, set *testdef.TestSet, onEntry EntryFunc) (*TestsResult, error)
	DispatchUnits(ctx context.Context, addr string, cfg *testdef.SharedConfig, bundle io.Reader, ids []string) (*UnitsResult, error)
}

type client struct {
	log        logrus.FieldLogger
	archiveDir string
	dialer     net.Dialer
}

// NewClient creates a client that stores returned archives in archiveDir.
func NewClient(log logrus.FieldLogger, archiveDir string) Client {
	return &client{
		log:        log.WithField("component", "coordinator"),
		archiveDir: archiveDir,
		dialer:     net.Dialer{Timeout: defaultDialTimeout},
	}
}

func (c *client) dial(ctx context.Context, addr string) (net.Conn, *protocol.Conn, error) {
	nc, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	// Unblock reads once ctx is done.
	context.AfterFunc(ctx, func() {
		_ = nc.Close()
	})

	return nc, protocol.NewConn(nc), nil
}

func shareConfig(conn *protocol.Conn, cfg *testdef.SharedConfig) error {
	if err := conn.WriteMessage(protocol.CommandConfigShareReq, cfg); err != nil {
		return fmt.Errorf("sharing config: %w", err)
	}

	return expect(conn, protocol.CommandConfigShareRes)
}

func expect(conn *protocol.Conn, want protocol.Command) error {
	cmd, err := conn.ReadCommand()
	if err != nil {
		return err
	}

	switch cmd {
	case want:
		return nil
	case protocol.CommandInvalid:
		return ErrRejected
	default:
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedCommand, cmd, want)
	}
}

// DispatchTests runs set on the node at addr and stores the returned archive.
func (c *client) DispatchTests(
	ctx context.Context,
	addr string,
	cfg *testdef.SharedConfig,
	set *testdef.TestSet,
	onEntry EntryFunc,
) (*TestsResult, error) {
	nc, conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	log := c.log.WithFields(logrus.Fields{"node": addr, "suite": set.SuiteName})

	if err := shareConfig(conn, cfg); err != nil {
		return nil, err
	}

	if err := conn.WriteMessage(protocol.CommandTestsShareReq, set); err != nil {
		return nil, fmt.Errorf("sharing test set: %w", err)
	}

	if err := expect(conn, protocol.CommandTestsShareRes); err != nil {
		return nil, err
	}

	log.Info("node accepted test set")

	result := &TestsResult{}

	for {
		cmd, err := conn.ReadCommand()
		if err != nil {
			return nil, fmt.Errorf("awaiting results: %w", err)
		}

		if cmd == protocol.CommandTestsShareRes {
			break
		}

		if cmd != protocol.CommandLoadTestsRes {
			return nil, fmt.Errorf("%w: %s during execution", ErrUnexpectedCommand, cmd)
		}

		var entry testdef.LoadTestEntry
		if err := conn.ReadObject(&entry); err != nil {
			return nil, fmt.Errorf("reading telemetry: %w", err)
		}

		result.Entries++

		if onEntry != nil {
			onEntry(&entry)
		}
	}

	result.Status = &testdef.DistributedTestStatus{}
	if err := conn.ReadObject(result.Status); err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}

	name := filepath.Base(result.Status.ZipFileName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "results.zip"
	}

	if err := os.MkdirAll(c.archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	result.ArchivePath = filepath.Join(c.archiveDir, name)

	f, err := os.Create(result.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	result.ArchiveSize, err = conn.ReadBlob(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, fmt.Errorf("receiving archive: %w", err)
	}

	log.WithFields(logrus.Fields{
		"archive": result.ArchivePath,
		"entries": result.Entries,
	}).Info("received results")

	return result, nil
}

// DispatchUnits uploads bundle and asks the node to run ids from it.
func (c *client) DispatchUnits(
	ctx context.Context,
	addr string,
	cfg *testdef.SharedConfig,
	bundle io.Reader,
	ids []string,
) (*UnitsResult, error) {
	nc, conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	if err := shareConfig(conn, cfg); err != nil {
		return nil, err
	}

	if err := conn.WriteCommand(protocol.CommandSeleniumReq); err != nil {
		return nil, err
	}

	if _, err := conn.WriteBlob(bundle); err != nil {
		return nil, fmt.Errorf("uploading bundle: %w", err)
	}

	if err := conn.WriteObject(&testdef.UnitRequest{Units: ids}); err != nil {
		return nil, fmt.Errorf("sending unit request: %w", err)
	}

	if err := expect(conn, protocol.CommandSeleniumRes); err != nil {
		return nil, err
	}

	code, err := conn.ReadStatus()
	if err != nil {
		return nil, fmt.Errorf("reading unit status: %w", err)
	}

	result := &UnitsResult{Code: code}

	if code != protocol.SeleniumExecuting {
		return result, nil
	}

	if err := conn.ReadObject(&result.Results); err != nil {
		return nil, fmt.Errorf("reading unit results: %w", err)
	}

	return result, nil
}

var _ Client = (*client)(nil)

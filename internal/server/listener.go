// Package server accepts coordinator connections and hands each one to a
// fresh session.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/ethpandaops/gatf-node/internal/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the port a node listens on when none is given.
const DefaultPort = 4567

// ErrAlreadyStarted is returned by Start on a running listener.
var ErrAlreadyStarted = errors.New("listener already started")

// SessionServer serves one session over an accepted connection.
type SessionServer interface {
	Serve(ctx context.Context, rw io.ReadWriter, remote string) (*metrics.SessionMetric, error)
}

// SessionFunc is called after every session with its metric.
type SessionFunc func(m *metrics.SessionMetric, err error)

// Listener is the node's accept loop.
type Listener interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
}

type listener struct {
	log       logrus.FieldLogger
	addr      string
	sessions  SessionServer
	onSession SessionFunc

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener creates a listener bound to addr once started. onSession may
// be nil.
func NewListener(log logrus.FieldLogger, addr string, sessions SessionServer, onSession SessionFunc) Listener {
	return &listener{
		log:       log.WithField("component", "listener"),
		addr:      addr,
		sessions:  sessions,
		onSession: onSession,
	}
}

// Start binds the address and accepts connections in the background.
func (l *listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	l.ln = ln
	l.cancel = cancel

	l.log.WithField("addr", ln.Addr().String()).Info("distributed gatf node listening")

	l.wg.Add(1)

	go l.accept(ctx, ln)

	return nil
}

func (l *listener) accept(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			l.log.WithError(err).Warn("accept failed")

			continue
		}

		l.wg.Add(1)

		go l.serve(ctx, conn)
	}
}

func (l *listener) serve(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()

	defer func() {
		if err := conn.Close(); err != nil {
			l.log.WithError(err).Debug("closing connection")
		}
	}()

	// Closing the connection unblocks any read still in flight on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	m, err := l.sessions.Serve(ctx, conn, conn.RemoteAddr().String())

	if l.onSession != nil {
		l.onSession(m, err)
	}
}

// Stop closes the socket and waits for in-flight sessions.
func (l *listener) Stop() error {
	l.mu.Lock()
	ln, cancel := l.ln, l.cancel
	l.mu.Unlock()

	if ln == nil {
		return nil
	}

	cancel()

	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	l.wg.Wait()

	l.log.Info("listener stopped")

	return err
}

// Addr returns the bound address, or nil before Start.
func (l *listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}

	return l.ln.Addr()
}

// PortFromArgs reads the listening port from the first argument. A missing
// or non-numeric argument selects fallback.
func PortFromArgs(args []string, fallback int, log logrus.FieldLogger) int {
	if len(args) == 0 {
		return fallback
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		log.WithField("arg", args[0]).Infof("invalid port argument, using %d", fallback)
		return fallback
	}

	return port
}

var _ Listener = (*listener)(nil)

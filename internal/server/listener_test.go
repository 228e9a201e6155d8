package server

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/gatf-node/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoSessions struct {
	served atomic.Int32
}

func (e *echoSessions) Serve(_ context.Context, rw io.ReadWriter, remote string) (*metrics.SessionMetric, error) {
	e.served.Add(1)

	buf := make([]byte, 4)
	if _, err := io.ReadFull(rw, buf); err != nil {
		return nil, err
	}

	_, err := rw.Write(buf)

	return &metrics.SessionMetric{Remote: remote}, err
}

func TestListener_ServesEachConnection(t *testing.T) {
	t.Parallel()

	sessions := &echoSessions{}
	recorded := make(chan *metrics.SessionMetric, 2)

	l := NewListener(logrus.New(), "127.0.0.1:0", sessions, func(m *metrics.SessionMetric, err error) {
		assert.NoError(t, err)
		recorded <- m
	})

	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })

	require.ErrorIs(t, l.Start(context.Background()), ErrAlreadyStarted)

	for range 2 {
		conn, err := net.Dial("tcp", l.Addr().String())
		require.NoError(t, err)

		_, err = conn.Write([]byte("ping"))
		require.NoError(t, err)

		buf := make([]byte, 4)
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))

		require.NoError(t, conn.Close())

		select {
		case m := <-recorded:
			assert.Equal(t, conn.LocalAddr().String(), m.Remote)
		case <-time.After(2 * time.Second):
			t.Fatal("session not recorded")
		}
	}

	assert.Equal(t, int32(2), sessions.served.Load())
}

func TestListener_StopUnblocksSessions(t *testing.T) {
	t.Parallel()

	l := NewListener(logrus.New(), "127.0.0.1:0", &echoSessions{}, nil)
	require.NoError(t, l.Start(context.Background()))

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	defer conn.Close()

	stopped := make(chan error, 1)

	go func() { stopped <- l.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked on an idle session")
	}
}

func TestPortFromArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no argument", args: nil, want: DefaultPort},
		{name: "numeric", args: []string{"9100"}, want: 9100},
		{name: "non numeric", args: []string{"abc"}, want: DefaultPort},
		{name: "out of range", args: []string{"70000"}, want: DefaultPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, PortFromArgs(tt.args, DefaultPort, logrus.New()))
		})
	}
}

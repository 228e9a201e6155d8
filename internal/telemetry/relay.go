// Package telemetry streams load test entries to the coordinator while a
// test set executes.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/gatf-node/internal/protocol"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/sirupsen/logrus"
)

const settlePoll = 10 * time.Millisecond

// MessageWriter writes one command and its payload as a single flushed
// message. *protocol.Conn satisfies it.
type MessageWriter interface {
	WriteMessage(cmd protocol.Command, v any) error
}

// Relay forwards entries from a single producer to the session stream in
// production order. Each entry is written at most once.
type Relay struct {
	log     logrus.FieldLogger
	w       MessageWriter
	entries <-chan testdef.LoadTestEntry

	done chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64

	mu      sync.Mutex
	failure error
}

// NewRelay creates a relay over entries.
func NewRelay(log logrus.FieldLogger, w MessageWriter, entries <-chan testdef.LoadTestEntry) *Relay {
	return &Relay{
		log:     log.WithField("component", "telemetry_relay"),
		w:       w,
		entries: entries,
		done:    make(chan struct{}),
	}
}

// Run forwards entries until ctx is cancelled or the channel is closed. On
// cancellation it drains whatever is already queued without blocking.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)

	r.log.Debug("telemetry relay started")

	for {
		select {
		case <-ctx.Done():
			r.drain()

			r.log.WithFields(logrus.Fields{
				"delivered": r.delivered.Load(),
				"dropped":   r.dropped.Load(),
			}).Debug("telemetry relay stopped")

			return
		case entry, ok := <-r.entries:
			if !ok {
				return
			}

			r.forward(entry)
		}
	}
}

func (r *Relay) forward(entry testdef.LoadTestEntry) {
	if r.Err() != nil {
		r.dropped.Add(1)
		return
	}

	if err := r.w.WriteMessage(protocol.CommandLoadTestsRes, &entry); err != nil {
		r.mu.Lock()
		r.failure = err
		r.mu.Unlock()

		r.dropped.Add(1)
		r.log.WithError(err).Warn("telemetry stream failed, discarding further entries")

		return
	}

	r.delivered.Add(1)
}

func (r *Relay) drain() {
	for {
		select {
		case entry, ok := <-r.entries:
			if !ok {
				return
			}

			if r.Err() != nil {
				r.dropped.Add(1)
				continue
			}

			if err := r.w.WriteMessage(protocol.CommandLoadTestsRes, &entry); err != nil {
				r.dropped.Add(1)
				r.log.WithError(err).Debug("dropping telemetry entry during drain")

				continue
			}

			r.delivered.Add(1)
		default:
			return
		}
	}
}

// Settle waits until every queued entry has been taken off the channel, the
// relay has exited, or timeout elapses.
func (r *Relay) Settle(timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	for len(r.entries) > 0 {
		select {
		case <-r.done:
			return
		case <-deadline.C:
			r.log.WithField("queued", len(r.entries)).Debug("telemetry relay did not settle in time")
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Run has returned or grace elapses. It reports whether
// the relay exited.
func (r *Relay) Wait(grace time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(grace):
		r.log.WithField("grace", grace).Warn("telemetry relay did not stop within grace period")
		return false
	}
}

// Err returns the write error that switched the relay to discard mode.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.failure
}

// Delivered returns the number of entries written to the stream.
func (r *Relay) Delivered() int64 {
	return r.delivered.Load()
}

// Dropped returns the number of entries consumed but not written.
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}

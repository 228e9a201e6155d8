// Package metrics collects per-session outcomes for the node's console
// summary.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionKind is what a session ended up doing.
type SessionKind string

const (
	// KindTests is a session that executed a test set.
	KindTests SessionKind = "tests"
	// KindUnits is a session that handled a remote unit request.
	KindUnits SessionKind = "units"
	// KindInvalid is a session abandoned at the test set step.
	KindInvalid SessionKind = "invalid"
)

// SessionMetric captures one session.
type SessionMetric struct {
	ID              string
	Remote          string
	Suite           string
	Kind            SessionKind
	State           string
	TestCasesTotal  int
	TestCasesPassed int
	TestCasesFailed int
	EntriesRelayed  int64
	EntriesDropped  int64
	UnitStatus      int32
	UnitsRun        int
	ArchiveBytes    int64
	Duration        time.Duration
	Error           string // empty unless the session aborted
	Timestamp       time.Time
}

// Passed reports whether the session completed without an abort or a failed
// test case.
func (m *SessionMetric) Passed() bool {
	return m.Error == "" && m.Kind != KindInvalid && m.TestCasesFailed == 0
}

// SummaryMetric aggregates every recorded session.
type SummaryMetric struct {
	Uptime          time.Duration
	TotalSessions   int
	AbortedSessions int
	InvalidSessions int
	TestCasesPassed int
	TestCasesFailed int
	EntriesRelayed  int64
	EntriesDropped  int64
	ArchiveBytes    int64
}

// Collector records session metrics.
type Collector interface {
	Start(ctx context.Context) error
	Stop() error
	RecordSession(metric *SessionMetric)
	GetSessionMetrics() []SessionMetric
	GetSummary() SummaryMetric
}

type collector struct {
	log       logrus.FieldLogger
	mu        sync.RWMutex
	sessions  []SessionMetric
	startTime time.Time
}

// NewCollector creates a metrics collector.
func NewCollector(log logrus.FieldLogger) Collector {
	return &collector{
		log:       log.WithField("component", "metrics_collector"),
		sessions:  make([]SessionMetric, 0, 16),
		startTime: time.Now(),
	}
}

func (c *collector) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()

	c.log.Debug("metrics collector started")

	return nil
}

func (c *collector) Stop() error {
	c.log.Debug("metrics collector stopped")

	return nil
}

func (c *collector) RecordSession(metric *SessionMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	c.sessions = append(c.sessions, *metric)
}

func (c *collector) GetSessionMetrics() []SessionMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]SessionMetric, len(c.sessions))
	copy(result, c.sessions)

	return result
}

func (c *collector) GetSummary() SummaryMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := SummaryMetric{
		Uptime:        time.Since(c.startTime),
		TotalSessions: len(c.sessions),
	}

	for _, s := range c.sessions {
		switch {
		case s.Error != "":
			summary.AbortedSessions++
		case s.Kind == KindInvalid:
			summary.InvalidSessions++
		}

		summary.TestCasesPassed += s.TestCasesPassed
		summary.TestCasesFailed += s.TestCasesFailed
		summary.EntriesRelayed += s.EntriesRelayed
		summary.EntriesDropped += s.EntriesDropped
		summary.ArchiveBytes += s.ArchiveBytes
	}

	return summary
}

var _ Collector = (*collector)(nil)

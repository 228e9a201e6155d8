package executor

import (
	"time"

	"github.com/ethpandaops/gatf-node/internal/testdef"
)

// stats keeps the running totals reported in each telemetry entry.
type stats struct {
	node     string
	suite    string
	start    time.Time
	sequence int64

	total, passed, failed int
	sumLatency            int64
	minLatency            int64
	maxLatency            int64
}

func newStats(node, suite string, start time.Time) *stats {
	return &stats{node: node, suite: suite, start: start}
}

func (s *stats) record(run int, report *testdef.TestCaseReport, now time.Time) testdef.LoadTestEntry {
	s.sequence++
	s.total++

	if report.Passed() {
		s.passed++
	} else {
		s.failed++
	}

	latency := report.ExecutionMs
	s.sumLatency += latency

	if s.total == 1 || latency < s.minLatency {
		s.minLatency = latency
	}

	if latency > s.maxLatency {
		s.maxLatency = latency
	}

	var throughput float64
	if elapsed := now.Sub(s.start).Seconds(); elapsed > 0 {
		throughput = float64(s.total) / elapsed
	}

	return testdef.LoadTestEntry{
		Sequence:      s.sequence,
		Node:          s.node,
		SuiteName:     s.suite,
		Run:           run,
		TestCase:      report.TestCase,
		Total:         s.total,
		Passed:        s.passed,
		Failed:        s.failed,
		LastLatencyMs: latency,
		AvgLatencyMs:  float64(s.sumLatency) / float64(s.total),
		MinLatencyMs:  s.minLatency,
		MaxLatencyMs:  s.maxLatency,
		Throughput:    throughput,
		TimestampMs:   now.UnixMilli(),
	}
}

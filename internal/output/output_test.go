package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/gatf-node/internal/metrics"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColors(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	c := NewColors()

	assert.Equal(t, "✓ PASS", c.Status(true))
	assert.Equal(t, "✗ FAIL", c.Status(false))
	assert.Equal(t, "3/5", c.Ratio(3, 5))
	assert.Equal(t, "driver missing", c.UnitStatus(1))
	assert.Equal(t, "status 9", c.UnitStatus(9))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Microsecond, "500µs"},
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1.5m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestFormatter_PrintStatus(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer

	status := &testdef.DistributedTestStatus{Node: "node-1", SuiteName: "shop", DurationMs: 20}
	status.Add(&testdef.TestCaseReport{TestCase: "login", Status: testdef.StatusSuccess, ResStatusCode: 200, ExecutionMs: 12})
	status.Add(&testdef.TestCaseReport{
		TestCase:      "detail",
		Scenario:      2,
		Status:        testdef.StatusFailed,
		FailureReason: testdef.ReasonNodeValidationFailed,
		Error:         "node validation failed for region,==,eu",
	})

	NewFormatter(&buf, false).PrintStatus(status)

	out := buf.String()
	assert.Contains(t, out, "Results from node-1")
	assert.Contains(t, out, "login")
	assert.Contains(t, out, "NodeValidationFailed")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "node validation failed for region,==,eu")
}

func TestFormatter_PrintSession(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer

	f := NewFormatter(&buf, false)
	f.PrintSession(&metrics.SessionMetric{
		ID:         "abc",
		Remote:     "10.0.0.1:5000",
		Kind:       metrics.KindUnits,
		State:      "DONE",
		UnitStatus: 1,
	})
	f.PrintSummary(metrics.SummaryMetric{TotalSessions: 1, TestCasesPassed: 2, TestCasesFailed: 1})
	f.PrintError("dispatch failed", errors.New("connection refused"))

	out := buf.String()
	assert.Contains(t, out, "driver missing")
	assert.Contains(t, out, "10.0.0.1:5000")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "dispatch failed: connection refused")
}

package testdef

import (
	"net/http"
	"strings"
	"time"
)

// TestStatus is the outcome of a single test case.
type TestStatus string

const (
	// StatusSuccess marks a test case whose validations all passed.
	StatusSuccess TestStatus = "Success"
	// StatusFailed marks a test case that failed.
	StatusFailed TestStatus = "Failed"
)

// FailureReason classifies a failed test case.
type FailureReason string

const (
	// ReasonNodeValidationFailed is an assertion failure against the response.
	ReasonNodeValidationFailed FailureReason = "NodeValidationFailed"
	// ReasonException is any other failure.
	ReasonException FailureReason = "Exception"
)

// TestCaseReport is the per test case outcome. It is finalized exactly once,
// either by Succeed or by Fail.
type TestCaseReport struct {
	TestCase      string              `json:"testCase"`
	Scenario      int                 `json:"scenario,omitempty"`
	URL           string              `json:"url,omitempty"`
	Status        TestStatus          `json:"status,omitempty"`
	FailureReason FailureReason       `json:"failureReason,omitempty"`
	Error         string              `json:"error,omitempty"`
	ErrorText     string              `json:"errorText,omitempty"`
	ResStatusCode int                 `json:"resStatusCode,omitempty"`
	ResHeaders    map[string][]string `json:"resHeaders,omitempty"`
	ResContent    string              `json:"resContent,omitempty"`
	ExecutionMs   int64               `json:"executionMs"`
}

// NewTestCaseReport creates an unfinalized report for tc.
func NewTestCaseReport(tc *TestCase) *TestCaseReport {
	return &TestCaseReport{TestCase: tc.Name, URL: tc.URL}
}

// CaptureResponse records the parts of a response later validation reads.
func (r *TestCaseReport) CaptureResponse(statusCode int, header http.Header, body []byte, elapsed time.Duration) {
	r.ResStatusCode = statusCode
	r.ResHeaders = header.Clone()
	r.ResContent = string(body)
	r.ExecutionMs = elapsed.Milliseconds()
}

// Finalized reports whether the outcome has already been set.
func (r *TestCaseReport) Finalized() bool {
	return r.Status != ""
}

// Succeed finalizes the report as successful. It returns false when the
// report was already finalized.
func (r *TestCaseReport) Succeed() bool {
	if r.Finalized() {
		return false
	}

	r.Status = StatusSuccess

	return true
}

// Fail finalizes the report as failed. An empty message is replaced by the
// first line of the trace.
func (r *TestCaseReport) Fail(reason FailureReason, message, trace string) bool {
	if r.Finalized() {
		return false
	}

	r.Status = StatusFailed
	r.FailureReason = reason
	r.Error = message
	r.ErrorText = trace

	if r.Error == "" && trace != "" {
		r.Error, _, _ = strings.Cut(trace, "\n")
	}

	return true
}

// Passed reports whether the test case succeeded.
func (r *TestCaseReport) Passed() bool {
	return r.Status == StatusSuccess
}

// DistributedTestStatus is the aggregate result a node returns for a test set.
type DistributedTestStatus struct {
	Node        string            `json:"node,omitempty"`
	SuiteName   string            `json:"suiteName"`
	Total       int               `json:"total"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	DurationMs  int64             `json:"durationMs"`
	Reports     []*TestCaseReport `json:"reports,omitempty"`
	ZipFileName string            `json:"zipFileName,omitempty"`
}

// Add folds a finalized report into the totals.
func (s *DistributedTestStatus) Add(r *TestCaseReport) {
	s.Total++
	if r.Passed() {
		s.Passed++
	} else {
		s.Failed++
	}

	s.Reports = append(s.Reports, r)
}

// LoadTestEntry is a single telemetry sample describing in-progress execution.
type LoadTestEntry struct {
	Sequence      int64   `json:"sequence"`
	Node          string  `json:"node,omitempty"`
	SuiteName     string  `json:"suiteName"`
	Run           int     `json:"run"`
	TestCase      string  `json:"testCase"`
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	LastLatencyMs int64   `json:"lastLatencyMs"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	MinLatencyMs  int64   `json:"minLatencyMs"`
	MaxLatencyMs  int64   `json:"maxLatencyMs"`
	Throughput    float64 `json:"throughput"`
	TimestampMs   int64   `json:"timestampMs"`
}

// UnitResult is the outcome of one entry of a remote test unit.
type UnitResult struct {
	Name       string            `json:"name"`
	Passed     bool              `json:"passed"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs"`
	Details    map[string]string `json:"details,omitempty"`
}

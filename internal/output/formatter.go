package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/gatf-node/internal/metrics"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/olekukonko/tablewriter"
)

const errorColumnWidth = 60

// Formatter prints session and test set results.
type Formatter interface {
	PrintSession(m *metrics.SessionMetric)
	PrintSummary(s metrics.SummaryMetric)
	PrintStatus(status *testdef.DistributedTestStatus)
	PrintEntry(e *testdef.LoadTestEntry)
	PrintError(message string, err error)
}

type formatter struct {
	writer   io.Writer
	verbose  bool
	renderer Renderer
	colors   *Colors
}

// NewFormatter creates a formatter writing to w. verbose adds the error
// column to test set tables.
func NewFormatter(w io.Writer, verbose bool) Formatter {
	return &formatter{
		writer:   w,
		verbose:  verbose,
		renderer: NewRenderer(),
		colors:   NewColors(),
	}
}

func (f *formatter) section(title string) {
	fmt.Fprintf(f.writer, "\n%s\n\n", f.colors.Header("▸ "+title))
}

// PrintSession prints a one session summary table.
func (f *formatter) PrintSession(m *metrics.SessionMetric) {
	rows := [][]string{
		{"Session", m.ID},
		{"Remote", m.Remote},
		{"Kind", string(m.Kind)},
		{"State", m.State},
		{"Duration", formatDuration(m.Duration)},
	}

	switch m.Kind {
	case metrics.KindTests:
		rows = append(rows,
			[]string{"Suite", m.Suite},
			[]string{"Test Cases", f.colors.Ratio(m.TestCasesPassed, m.TestCasesTotal)},
			[]string{"Telemetry", fmt.Sprintf("%d relayed, %d dropped", m.EntriesRelayed, m.EntriesDropped)},
			[]string{"Archive", formatBytes(m.ArchiveBytes)},
		)
	case metrics.KindUnits:
		rows = append(rows,
			[]string{"Unit Status", f.colors.UnitStatus(m.UnitStatus)},
			[]string{"Units Run", strconv.Itoa(m.UnitsRun)},
		)
	case metrics.KindInvalid:
	}

	if m.Error != "" {
		rows = append(rows, []string{"Error", f.colors.Failure(m.Error)})
	}

	rows = append(rows, []string{"Result", f.colors.Status(m.Passed())})

	f.section("Session")
	f.renderer.RenderToWriter(f.writer, []string{"Field", "Value"}, rows)
}

// PrintSummary prints the aggregate of every session handled so far.
func (f *formatter) PrintSummary(s metrics.SummaryMetric) {
	total := s.TestCasesPassed + s.TestCasesFailed

	aborted := strconv.Itoa(s.AbortedSessions)
	if s.AbortedSessions > 0 {
		aborted = f.colors.Failure(aborted)
	}

	rows := [][]string{
		{"Sessions", f.colors.Bold(strconv.Itoa(s.TotalSessions))},
		{"Aborted", aborted},
		{"Invalid", strconv.Itoa(s.InvalidSessions)},
		{"Test Cases", f.colors.Ratio(s.TestCasesPassed, total)},
		{"Telemetry Relayed", strconv.FormatInt(s.EntriesRelayed, 10)},
		{"Telemetry Dropped", strconv.FormatInt(s.EntriesDropped, 10)},
		{"Archives Sent", formatBytes(s.ArchiveBytes)},
		{"Uptime", formatDuration(s.Uptime)},
	}

	f.section("Summary")
	f.renderer.RenderToWriter(f.writer, []string{"Metric", "Value"}, rows)
}

// PrintStatus prints one row per test case report.
func (f *formatter) PrintStatus(status *testdef.DistributedTestStatus) {
	headers := []string{"Test Case", "Scenario", "Status", "Code", "Time"}
	if f.verbose {
		headers = append(headers, "Error")
	}

	rows := make([][]string, 0, len(status.Reports))

	for _, r := range status.Reports {
		scenario := "-"
		if r.Scenario > 0 {
			scenario = strconv.Itoa(r.Scenario)
		}

		state := f.colors.Status(r.Passed())
		if !r.Passed() && r.FailureReason != "" {
			state += " " + f.colors.Muted(string(r.FailureReason))
		}

		row := []string{
			r.TestCase,
			scenario,
			state,
			strconv.Itoa(r.ResStatusCode),
			formatDuration(time.Duration(r.ExecutionMs) * time.Millisecond),
		}

		if f.verbose {
			row = append(row, truncate(r.Error, errorColumnWidth))
		}

		rows = append(rows, row)
	}

	footer := make([]string, len(headers))
	footer[0] = status.SuiteName
	footer[2] = f.colors.Ratio(status.Passed, status.Total)
	footer[4] = formatDuration(time.Duration(status.DurationMs) * time.Millisecond)

	title := "Results"
	if status.Node != "" {
		title += " from " + status.Node
	}

	f.section(title)
	f.renderer.RenderToWriter(f.writer, headers, rows,
		WithFooter(footer),
		WithColumnAlignment(
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_RIGHT,
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_RIGHT,
			tablewriter.ALIGN_RIGHT,
			tablewriter.ALIGN_LEFT,
		),
	)

	if !f.verbose && status.Failed > 0 {
		f.printFailures(status)
	}
}

func (f *formatter) printFailures(status *testdef.DistributedTestStatus) {
	failures := make(map[string][]string)

	for _, r := range status.Reports {
		if r.Passed() {
			continue
		}

		failures[r.TestCase] = append(failures[r.TestCase], r.Error)
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(f.writer, "%s %s\n", f.colors.Failure("✗"), f.colors.Bold(name))

		for _, msg := range failures[name] {
			fmt.Fprintf(f.writer, "    %s\n", strings.TrimSpace(msg))
		}
	}
}

// PrintEntry prints a single telemetry line.
func (f *formatter) PrintEntry(e *testdef.LoadTestEntry) {
	fmt.Fprintf(f.writer, "%s run %d %s %s avg %.0fms %.1f/s\n",
		f.colors.Muted(fmt.Sprintf("#%d", e.Sequence)),
		e.Run,
		e.TestCase,
		f.colors.Ratio(e.Passed, e.Total),
		e.AvgLatencyMs,
		e.Throughput,
	)
}

// PrintError prints message and err in red.
func (f *formatter) PrintError(message string, err error) {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}

	fmt.Fprintln(f.writer, f.colors.Failure(message))
}

var _ Formatter = (*formatter)(nil)

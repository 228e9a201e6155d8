// Package executor is the node's default test execution engine. It runs a
// test set over HTTP, validates each response and reports progress as load
// test entries.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/gatf-node/internal/provider"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/ethpandaops/gatf-node/internal/units"
	"github.com/ethpandaops/gatf-node/internal/validator"
	"github.com/ethpandaops/gatf-node/internal/workflow"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// ResultsFile is written to the output directory after every run.
	ResultsFile = "results.json"

	defaultWorkers = 4
	defaultTimeout = 30 * time.Second
)

// Executor runs test sets and remote units.
type Executor interface {
	Run(ctx context.Context, cfg *testdef.SharedConfig, set *testdef.TestSet, entries chan<- testdef.LoadTestEntry) (*testdef.DistributedTestStatus, error)
	RunRemoteUnits(ctx context.Context, loaded []units.Unit, env *units.Environment) ([][]map[string]testdef.UnitResult, error)
}

// Options configures an Executor. Zero values select defaults.
type Options struct {
	Node       string
	Client     *http.Client
	Evaluator  validator.Evaluator
	LiveSource provider.LiveSource
	Hooks      []Hook
	Workers    int
}

type executor struct {
	log  logrus.FieldLogger
	opts Options
}

// NewExecutor creates an executor.
func NewExecutor(log logrus.FieldLogger, opts Options) Executor {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: defaultTimeout}
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	return &executor{
		log:  log.WithField("component", "executor"),
		opts: opts,
	}
}

// suiteRun carries the state shared by every test case of one Run call.
type suiteRun struct {
	cfg       *testdef.SharedConfig
	set       *testdef.TestSet
	providers *provider.Resolver
	engine    *validator.Engine
	wctx      *workflow.Context
	stats     *stats
	entries   chan<- testdef.LoadTestEntry
	status    *testdef.DistributedTestStatus
}

func (e *executor) Run(
	ctx context.Context,
	cfg *testdef.SharedConfig,
	set *testdef.TestSet,
	entries chan<- testdef.LoadTestEntry,
) (*testdef.DistributedTestStatus, error) {
	start := time.Now()
	log := e.log.WithField("suite", set.SuiteName)

	providers := provider.NewResolver(e.log, set.ProviderData, cfg.LiveProviders, e.opts.LiveSource)

	run := &suiteRun{
		cfg:       cfg,
		set:       set,
		providers: providers,
		engine:    validator.NewEngine(e.log, cfg, providers, e.opts.Evaluator, nil),
		wctx:      workflow.NewContext(),
		stats:     newStats(e.opts.Node, set.SuiteName, start),
		entries:   entries,
		status:    &testdef.DistributedTestStatus{Node: e.opts.Node, SuiteName: set.SuiteName},
	}

	runs := max(set.NumberOfRuns, 1)

	var runErr error

	for i := 1; i <= runs && runErr == nil; i++ {
		for _, tc := range set.TestCases {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}

			e.runTestCase(ctx, run, i, tc)
		}
	}

	run.status.DurationMs = time.Since(start).Milliseconds()

	if err := writeResults(cfg.OutputDir(), run.status); err != nil {
		log.WithError(err).Warn("failed to write results file")
	}

	log.WithFields(logrus.Fields{
		"total":    run.status.Total,
		"passed":   run.status.Passed,
		"failed":   run.status.Failed,
		"duration": time.Since(start),
	}).Info("test set complete")

	return run.status, runErr
}

func (e *executor) runTestCase(ctx context.Context, run *suiteRun, iteration int, tc *testdef.TestCase) {
	if !tc.IsScenarioDriven() {
		e.record(ctx, run, iteration, e.execute(ctx, run, tc, nil, 0))
		return
	}

	scenarios, err := e.scenarios(ctx, run, tc)
	if err != nil {
		report := testdef.NewTestCaseReport(tc)
		err = errors.Wrapf(err, "loading scenarios for %s", tc.Name)
		report.Fail(testdef.ReasonException, err.Error(), fmt.Sprintf("%+v", err))
		e.record(ctx, run, iteration, report)

		return
	}

	defer run.wctx.ClearScenario()

	for i, scenario := range scenarios {
		if ctx.Err() != nil {
			return
		}

		e.record(ctx, run, iteration, e.execute(ctx, run, tc, scenario, i+1))
	}
}

// scenarios returns the rows a scenario driven test case runs once per row:
// inline scenarios, rows extracted earlier in the suite, or a provider table.
func (e *executor) scenarios(ctx context.Context, run *suiteRun, tc *testdef.TestCase) ([]map[string]string, error) {
	if tc.RepeatScenarios != nil {
		return tc.RepeatScenarios, nil
	}

	if rows, ok := run.wctx.ScenarioRows(tc.RepeatScenarioProviderName); ok {
		return rows, nil
	}

	table, err := run.providers.Table(ctx, tc.RepeatScenarioProviderName, false)
	if err != nil {
		return nil, err
	}

	return table, nil
}

func (e *executor) record(ctx context.Context, run *suiteRun, iteration int, report *testdef.TestCaseReport) {
	run.status.Add(report)

	if run.entries == nil {
		return
	}

	entry := run.stats.record(iteration, report, time.Now())

	select {
	case run.entries <- entry:
	case <-ctx.Done():
	}
}

func (e *executor) execute(
	ctx context.Context,
	run *suiteRun,
	tc *testdef.TestCase,
	scenario map[string]string,
	index int,
) *testdef.TestCaseReport {
	report := testdef.NewTestCaseReport(tc)
	report.Scenario = index

	if scenario != nil {
		run.wctx.ResetScenario(scenario)
	}

	resp, err := e.send(ctx, run, tc, report)
	if err != nil {
		report.Fail(testdef.ReasonException, err.Error(), fmt.Sprintf("%+v", err))
		return report
	}

	for _, h := range e.opts.Hooks {
		if h.applies(tc.Name) {
			h.Fn(ctx, tc, report)
		}
	}

	resp.Body = []byte(report.ResContent)

	if tc.ExpectedResCode != 0 && resp.StatusCode != tc.ExpectedResCode {
		report.Fail(
			testdef.ReasonNodeValidationFailed,
			fmt.Sprintf("expected response code %d, got %d", tc.ExpectedResCode, resp.StatusCode),
			"",
		)

		return report
	}

	if scenario != nil {
		run.engine.ValidateScenario(ctx, resp, tc, report, run.wctx)
	} else {
		run.engine.Validate(ctx, resp, tc, report, run.wctx)
	}

	return report
}

func (e *executor) send(ctx context.Context, run *suiteRun, tc *testdef.TestCase, report *testdef.TestCaseReport) (*validator.Response, error) {
	req, err := e.buildRequest(ctx, run, tc)
	if err != nil {
		return nil, err
	}

	report.URL = req.URL.String()

	start := time.Now()

	res, err := e.opts.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "sending %s %s", req.Method, req.URL)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	report.CaptureResponse(res.StatusCode, res.Header, body, time.Since(start))

	return &validator.Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Cookies:    res.Cookies(),
		Body:       body,
	}, nil
}

func (e *executor) buildRequest(ctx context.Context, run *suiteRun, tc *testdef.TestCase) (*http.Request, error) {
	target, err := run.wctx.Render(tc.URL)
	if err != nil {
		return nil, errors.Wrap(err, "rendering url")
	}

	content, err := run.wctx.Render(tc.Content)
	if err != nil {
		return nil, errors.Wrap(err, "rendering content")
	}

	target = resolveURL(run.cfg.BaseURL, target)

	method := strings.ToUpper(tc.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if content != "" {
		body = strings.NewReader(content)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}

	for name, value := range tc.Headers {
		rendered, err := run.wctx.Render(value)
		if err != nil {
			return nil, errors.Wrapf(err, "rendering header %s", name)
		}

		req.Header.Set(name, rendered)
	}

	for name, value := range run.wctx.Cookies() {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	if tc.SecureAPI {
		if err := secure(req, run.cfg, run.wctx); err != nil {
			return nil, err
		}
	}

	return req, nil
}

// secure attaches the captured session identifier the same way it was
// issued.
func secure(req *http.Request, cfg *testdef.SharedConfig, wctx *workflow.Context) error {
	id, ok := wctx.SessionIdentifier()
	if !ok {
		return errors.New("secure api called before an authentication token was captured")
	}

	params, err := testdef.ParseAuthParams(cfg.AuthExtractAuthParams)
	if err != nil {
		return errors.Wrap(err, "secure api")
	}

	switch params.Source {
	case testdef.AuthSourceHeader:
		req.Header.Set(params.Name, id)
	case testdef.AuthSourceCookie:
		req.AddCookie(&http.Cookie{Name: params.Name, Value: id})
	default:
		q := req.URL.Query()
		q.Set(params.Name, id)
		req.URL.RawQuery = q.Encode()
	}

	return nil
}

func resolveURL(base, target string) string {
	if base == "" {
		return target
	}

	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return target
	}

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
}

func writeResults(dir string, status *testdef.DistributedTestStatus) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ResultsFile), data, 0o644); err != nil { //nolint:gosec // results are not secret
		return fmt.Errorf("writing results: %w", err)
	}

	return nil
}

var _ Executor = (*executor)(nil)

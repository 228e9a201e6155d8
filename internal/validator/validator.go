// Package validator checks a completed response against a test case's
// expectations and threads extracted values into the workflow context.
package validator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethpandaops/gatf-node/internal/adapter"
	"github.com/ethpandaops/gatf-node/internal/expression"
	"github.com/ethpandaops/gatf-node/internal/provider"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/ethpandaops/gatf-node/internal/workflow"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	fnResponseHeader         = "responseHeader"
	fnResponseCookie         = "responseCookie"
	fnProviderValidation     = "providerValidation"
	fnLiveProviderValidation = "liveProviderValidation"
	fnResponseMappedValue    = "responseMappedValue"
	fnResponseMappedCount    = "responseMappedCount"
)

// Evaluator evaluates boolean logical validations against workflow variables.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, vars map[string]any) (bool, error)
}

// Response is the part of a completed response validation reads.
type Response struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
}

// Engine validates responses. It is safe for concurrent use as long as each
// goroutine uses its own workflow context.
type Engine struct {
	log       logrus.FieldLogger
	cfg       *testdef.SharedConfig
	providers *provider.Resolver
	evaluator Evaluator
	generator *workflow.Generator
}

// NewEngine creates a validation engine. cfg may be nil, which disables
// auth capture; evaluator may be nil when no test case has logical
// validations.
func NewEngine(
	log logrus.FieldLogger,
	cfg *testdef.SharedConfig,
	providers *provider.Resolver,
	evaluator Evaluator,
	generator *workflow.Generator,
) *Engine {
	if generator == nil {
		generator = workflow.NewGenerator()
	}

	return &Engine{
		log:       log.WithField("component", "validator"),
		cfg:       cfg,
		providers: providers,
		evaluator: evaluator,
		generator: generator,
	}
}

// Validate runs the validation pipeline and finalizes report. It returns
// whether the test case passed.
func (e *Engine) Validate(
	ctx context.Context,
	resp *Response,
	tc *testdef.TestCase,
	report *testdef.TestCaseReport,
	wctx *workflow.Context,
) bool {
	err := e.run(ctx, resp, tc, wctx, !tc.IsScenarioDriven())
	e.finalize(tc, report, err)

	return report.Passed()
}

// ValidateScenario validates one scenario of a scenario driven test case.
// Unlike Validate it also evaluates the logical validations, once the
// scenario's variables have been extracted.
func (e *Engine) ValidateScenario(
	ctx context.Context,
	resp *Response,
	tc *testdef.TestCase,
	report *testdef.TestCaseReport,
	wctx *workflow.Context,
) bool {
	err := e.run(ctx, resp, tc, wctx, false)
	if err == nil {
		err = e.ValidateLogical(ctx, tc, wctx)
	}

	e.finalize(tc, report, err)

	return report.Passed()
}

func (e *Engine) run(ctx context.Context, resp *Response, tc *testdef.TestCase, wctx *workflow.Context, logical bool) error {
	a := adapter.ForType(tc.ResponseType)

	doc, err := a.Decode(resp.Body)
	if err != nil {
		return errors.Wrap(err, "decoding response")
	}

	v := &validation{engine: e, resp: resp, tc: tc, wctx: wctx, adapter: a, doc: doc}

	for _, node := range tc.ExpectedNodes {
		if err := v.checkNode(ctx, node); err != nil {
			return err
		}
	}

	if logical {
		if err := e.ValidateLogical(ctx, tc, wctx); err != nil {
			return err
		}
	}

	if err := v.extract(); err != nil {
		return err
	}

	wctx.StoreCookies(resp.Cookies)

	return v.captureAuth()
}

// ValidateLogical evaluates the test case's logical validations against the
// workflow variables.
func (e *Engine) ValidateLogical(ctx context.Context, tc *testdef.TestCase, wctx *workflow.Context) error {
	if len(tc.LogicalValidations) == 0 {
		return nil
	}

	if e.evaluator == nil {
		return errors.New("no evaluator configured for logical validations")
	}

	vars := wctx.Vars()

	for _, cond := range tc.LogicalValidations {
		ok, err := e.evaluator.Evaluate(ctx, cond, vars)
		if err != nil {
			return errors.Wrapf(err, "evaluating logical validation (%s)", cond)
		}

		if !ok {
			return assertf("logical validation failed for (%s)", cond)
		}
	}

	return nil
}

func (e *Engine) finalize(tc *testdef.TestCase, report *testdef.TestCaseReport, err error) {
	if err == nil {
		report.Succeed()
		return
	}

	reason := testdef.ReasonException
	if IsAssertion(err) {
		reason = testdef.ReasonNodeValidationFailed
	} else if _, ok := err.(interface{ StackTrace() errors.StackTrace }); !ok { //nolint:errorlint // only the outermost error needs a stack
		err = errors.WithStack(err)
	}

	report.Fail(reason, err.Error(), fmt.Sprintf("%+v", err))

	e.log.WithFields(logrus.Fields{
		"test_case": tc.Name,
		"reason":    reason,
	}).WithError(err).Debug("test case failed validation")
}

// validation carries the state of one Validate call.
type validation struct {
	engine  *Engine
	resp    *Response
	tc      *testdef.TestCase
	wctx    *workflow.Context
	adapter adapter.ResponseAdapter
	doc     any
}

// splitFunction splits "#name[arg]".
func splitFunction(s string) (name, arg string, ok bool) {
	if !strings.HasPrefix(s, "#") || !strings.HasSuffix(s, "]") {
		return "", "", false
	}

	open := strings.Index(s, "[")
	if open < 0 {
		return "", "", false
	}

	return s[1:open], s[open+1 : len(s)-1], true
}

func (v *validation) lookupPath(path string) (string, bool, error) {
	if v.doc == nil {
		return "", false, nil
	}

	return v.adapter.Lookup(v.doc, path)
}

func (v *validation) header(name string) (string, bool) {
	values := v.resp.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}

	return values[0], true
}

// resolve returns the left hand value of an expression and the message of
// the assertion raised when an absent value is not acceptable.
func (v *validation) resolve(ctx context.Context, target string) (value string, present bool, missing string, err error) {
	name, arg, _ := splitFunction(target)

	switch name {
	case fnResponseHeader:
		value, present = v.header(arg)
		return value, present, "specified header not found - " + arg, nil
	case fnResponseCookie:
		value, present = v.wctx.Cookie(arg)
		return value, present, "specified cookie not found - " + arg, nil
	case fnProviderValidation, fnLiveProviderValidation:
		if v.engine.providers == nil {
			return "", false, "", asAssertion(fmt.Errorf("%w - %s", provider.ErrProviderNotFound, arg))
		}

		value, err = v.engine.providers.Resolve(ctx, arg, name == fnLiveProviderValidation)
		if err != nil {
			return "", false, "", asAssertion(err)
		}

		return value, true, "", nil
	default:
		value, present, err = v.lookupPath(target)
		if err != nil {
			return "", false, "", errors.Wrapf(err, "looking up %s", target)
		}

		return value, present, "expected node value for " + target + " is null", nil
	}
}

func (v *validation) checkNode(ctx context.Context, node string) error {
	ex, err := expression.Parse(node)
	if err != nil {
		return asAssertion(err)
	}

	value, present, missing, err := v.resolve(ctx, ex.Path)
	if err != nil {
		return err
	}

	if ex.Operator.IsUnary() {
		if !expression.CheckPresence(ex.Operator, value, present) {
			return assertf("node validation failed for %s", ex.Raw)
		}

		return nil
	}

	if !present {
		return assertf("%s", missing)
	}

	if ex.Operator == expression.OpNone {
		return nil
	}

	ok, err := expression.Compare(value, ex.Operator, ex.Value)
	if err != nil {
		return errors.Wrapf(err, "validating %s", ex.Raw)
	}

	if ok {
		return nil
	}

	if ex.Operator == expression.OpRegex {
		return assertf("regex validation failed for %s", ex.Raw)
	}

	return assertf("node validation failed for %s", ex.Raw)
}

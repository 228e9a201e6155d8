package validator

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ethpandaops/gatf-node/internal/provider"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/ethpandaops/gatf-node/internal/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const itemsBody = `{
  "token": "abc",
  "blank": " ",
  "status": "active",
  "items": [
    {"name": "pen", "price": "1.50", "sku": "p-1"},
    {"name": "ink", "price": "4.00", "sku": "i-2"},
    {"name": "pad", "price": "2.25", "sku": "d-3"}
  ]
}`

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Evaluate(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	args := m.Called(ctx, expression, vars)
	return args.Bool(0), args.Error(1)
}

func newEngine(cfg *testdef.SharedConfig, evaluator Evaluator) *Engine {
	providers := provider.NewResolver(logrus.New(), map[string][]map[string]string{
		"users": {{"name": "alice"}, {"name": "bob"}},
	}, nil, nil)

	return NewEngine(logrus.New(), cfg, providers, evaluator, nil)
}

func jsonResponse(body string) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}, "X-Request-Id": {"r-1", "r-2"}},
		Body:       []byte(body),
	}
}

func validate(t *testing.T, e *Engine, resp *Response, tc *testdef.TestCase, wctx *workflow.Context) *testdef.TestCaseReport {
	t.Helper()

	if wctx == nil {
		wctx = workflow.NewContext()
	}

	report := testdef.NewTestCaseReport(tc)
	e.Validate(context.Background(), resp, tc, report, wctx)
	require.True(t, report.Finalized())

	return report
}

func TestEngine_ExpectedNodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		node       string
		wantPassed bool
		wantError  string
	}{
		{name: "present path", node: "token", wantPassed: true},
		{name: "isnotnull present", node: "token,isnotnull", wantPassed: true},
		{name: "isnotnull absent", node: "nothing,isnotnull", wantError: "node validation failed for nothing,isnotnull"},
		{name: "isnull absent", node: "nothing,isnull", wantPassed: true},
		{name: "isblank", node: "blank,isblank", wantPassed: true},
		{name: "isnotblank on blank", node: "blank,isnotblank", wantError: "node validation failed for blank,isnotblank"},
		{name: "absent path", node: "nothing", wantError: "expected node value for nothing is null"},
		{name: "equality", node: "status,==,active", wantPassed: true},
		{name: "equality alias", node: "status,=,active", wantPassed: true},
		{name: "equality mismatch", node: "status,==,inactive", wantError: "node validation failed for status,==,inactive"},
		{name: "indexed path", node: "items[1].name,==,ink", wantPassed: true},
		{name: "lexicographic ordering", node: "items[0].price,<,2", wantPassed: true},
		{name: "regex full match", node: "items[0].sku,regex,[a-z]-[0-9]", wantPassed: true},
		{name: "regex partial", node: "status,regex,act", wantError: "regex validation failed for status,regex,act"},
		{name: "contains is case sensitive", node: "status,contains,ACT", wantError: "node validation failed for status,contains,ACT"},
		{name: "startswith", node: "status,startswith,act", wantPassed: true},
		{name: "endswith", node: "status,endswith,ive", wantPassed: true},
		{name: "header first value", node: "#responseHeader[X-Request-Id],==,r-1", wantPassed: true},
		{name: "header lower case", node: "#responseHeader[x-request-id],isnotnull", wantPassed: true},
		{name: "missing header", node: "#responseHeader[X-Missing],==,a", wantError: "specified header not found - X-Missing"},
		{name: "missing cookie", node: "#responseCookie[sid]", wantError: "specified cookie not found - sid"},
		{name: "provider value", node: "#providerValidation[users.1.name],==,bob", wantPassed: true},
		{name: "provider index out of range", node: "#providerValidation[users.2.name],==,bob", wantError: "specified index is outside provider data range - 2"},
		{name: "provider index not numeric", node: "#providerValidation[users.x.name],==,bob", wantError: "provider index has to be a number - x"},
		{name: "provider bad nomenclature", node: "#providerValidation[users.name],==,bob", wantError: "invalid nomenclature for provider validation node, expected table.index.property - users.name"},
		{name: "provider missing property", node: "#providerValidation[users.0.age],==,1", wantError: "specified provider property not found - age"},
		{name: "too many parts", node: "a,==,b,c", wantError: "invalid node properties specified - a,==,b,c"},
		{name: "bad operator", node: "a,~,b", wantError: "invalid comparison operator specified, only one of (<, >, <=, >=, ==, !=, regex, startswith, endswith, contains) allowed - a,~,b"},
	}

	e := newEngine(nil, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := &testdef.TestCase{
				Name:          tt.name,
				URL:           "/items",
				ResponseType:  testdef.ResponseTypeJSON,
				ExpectedNodes: []string{tt.node},
			}

			report := validate(t, e, jsonResponse(itemsBody), tc, nil)

			if tt.wantPassed {
				assert.Equal(t, testdef.StatusSuccess, report.Status, report.Error)
				return
			}

			assert.Equal(t, testdef.StatusFailed, report.Status)
			assert.Equal(t, testdef.ReasonNodeValidationFailed, report.FailureReason)
			assert.Equal(t, tt.wantError, report.Error)
			assert.Contains(t, report.ErrorText, tt.wantError)
		})
	}
}

func TestEngine_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	tc := &testdef.TestCase{
		Name:                        "stop",
		URL:                         "/items",
		ResponseType:                testdef.ResponseTypeJSON,
		ExpectedNodes:               []string{"nothing", "token"},
		WorkflowContextParameterMap: map[string]string{"tok": "token"},
	}

	wctx := workflow.NewContext()
	report := validate(t, newEngine(nil, nil), jsonResponse(itemsBody), tc, wctx)

	assert.Equal(t, testdef.StatusFailed, report.Status)

	_, ok := wctx.Suite("tok")
	assert.False(t, ok, "extraction must not run after a failed expectation")
}

func TestEngine_InvalidBodyIsException(t *testing.T) {
	t.Parallel()

	tc := &testdef.TestCase{Name: "bad", URL: "/x", ResponseType: testdef.ResponseTypeJSON, ExpectedNodes: []string{"a"}}
	report := validate(t, newEngine(nil, nil), jsonResponse("{oops"), tc, nil)

	assert.Equal(t, testdef.StatusFailed, report.Status)
	assert.Equal(t, testdef.ReasonException, report.FailureReason)
	assert.Contains(t, report.Error, "decoding response")
	assert.NotEqual(t, report.Error, report.ErrorText, "trace carries the stack")
}

func TestEngine_BrokenRegexIsException(t *testing.T) {
	t.Parallel()

	tc := &testdef.TestCase{
		Name:          "regex",
		URL:           "/x",
		ResponseType:  testdef.ResponseTypeJSON,
		ExpectedNodes: []string{"name,regex,[a-z"},
	}
	report := validate(t, newEngine(nil, nil), jsonResponse(`{"name":"pen"}`), tc, nil)

	assert.Equal(t, testdef.StatusFailed, report.Status)
	assert.Equal(t, testdef.ReasonException, report.FailureReason)
	assert.Contains(t, report.Error, "compiling regex")
}

func TestEngine_Idempotent(t *testing.T) {
	t.Parallel()

	e := newEngine(nil, nil)
	tc := &testdef.TestCase{
		Name:          "idem",
		URL:           "/items",
		ResponseType:  testdef.ResponseTypeJSON,
		ExpectedNodes: []string{"token,isnotnull", "status,==,other"},
	}

	var reports []*testdef.TestCaseReport
	for range 3 {
		reports = append(reports, validate(t, e, jsonResponse(itemsBody), tc, nil))
	}

	for _, r := range reports[1:] {
		assert.Equal(t, reports[0].Status, r.Status)
		assert.Equal(t, reports[0].FailureReason, r.FailureReason)
		assert.Equal(t, reports[0].Error, r.Error)
		assert.Equal(t, reports[0].ErrorText, r.ErrorText)
	}
}

func TestEngine_LogicalValidations(t *testing.T) {
	t.Parallel()

	ev := &mockEvaluator{}
	ev.On("Evaluate", mock.Anything, `status == "x"`, mock.Anything).Return(false, nil).Once()
	ev.On("Evaluate", mock.Anything, `broken`, mock.Anything).Return(false, errors.New("boom")).Once()

	e := newEngine(nil, ev)
	wctx := workflow.NewContext()
	wctx.SetSuite("status", "y")

	tc := &testdef.TestCase{Name: "logic", URL: "/x", LogicalValidations: []string{`status == "x"`}}
	report := validate(t, e, jsonResponse(itemsBody), tc, wctx)
	assert.Equal(t, testdef.ReasonNodeValidationFailed, report.FailureReason)
	assert.Equal(t, `logical validation failed for (status == "x")`, report.Error)

	tc = &testdef.TestCase{Name: "logic-err", URL: "/x", LogicalValidations: []string{`broken`}}
	report = validate(t, e, jsonResponse(itemsBody), tc, wctx)
	assert.Equal(t, testdef.ReasonException, report.FailureReason)

	// Scenario driven test cases skip logical validation here.
	tc = &testdef.TestCase{Name: "scenario", URL: "/x", LogicalValidations: []string{`never called`}, RepeatScenarioProviderName: "users"}
	report = validate(t, e, jsonResponse(itemsBody), tc, wctx)
	assert.Equal(t, testdef.StatusSuccess, report.Status)

	ev.AssertExpectations(t)
}

func TestEngine_HeaderAuthCapture(t *testing.T) {
	t.Parallel()

	cfg := &testdef.SharedConfig{
		AuthEnabled:           true,
		AuthURL:               "/login",
		AuthExtractAuthParams: []string{"X-Auth", "header", "authToken"},
	}

	resp := jsonResponse(`{}`)
	resp.Header.Set("X-Auth", "tok123")

	wctx := workflow.NewContext()
	tc := &testdef.TestCase{Name: "login", URL: "/login", ResponseType: testdef.ResponseTypeJSON}
	report := validate(t, newEngine(cfg, nil), resp, tc, wctx)
	require.Equal(t, testdef.StatusSuccess, report.Status, report.Error)

	v, ok := wctx.Suite("authToken")
	require.True(t, ok)
	assert.Equal(t, "tok123", v)

	id, ok := wctx.SessionIdentifier()
	require.True(t, ok)
	assert.Equal(t, "tok123", id)
}

func TestEngine_AuthCaptureSources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		params    []string
		resp      func() *Response
		want      string
		wantError string
	}{
		{
			name:   "cookie",
			params: []string{"sid", "cookie", "session"},
			resp: func() *Response {
				r := jsonResponse(`{}`)
				r.Cookies = []*http.Cookie{{Name: "sid", Value: "c-1"}}
				return r
			},
			want: "c-1",
		},
		{
			name:   "response content",
			params: []string{"token", "json", "session"},
			resp:   func() *Response { return jsonResponse(itemsBody) },
			want:   "abc",
		},
		{
			name:      "missing header",
			params:    []string{"X-Auth", "header", "session"},
			resp:      func() *Response { return jsonResponse(`{}`) },
			wantError: "authentication token not found for header (X-Auth)",
		},
		{
			name:      "missing cookie",
			params:    []string{"sid", "cookie", "session"},
			resp:      func() *Response { return jsonResponse(`{}`) },
			wantError: "authentication token not found for cookie (sid)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &testdef.SharedConfig{AuthEnabled: true, AuthURL: "/login", AuthExtractAuthParams: tt.params}
			wctx := workflow.NewContext()
			tc := &testdef.TestCase{Name: tt.name, URL: "/login", ResponseType: testdef.ResponseTypeJSON}

			report := validate(t, newEngine(cfg, nil), tt.resp(), tc, wctx)

			if tt.wantError != "" {
				assert.Equal(t, testdef.ReasonNodeValidationFailed, report.FailureReason)
				assert.Equal(t, tt.wantError, report.Error)

				return
			}

			require.Equal(t, testdef.StatusSuccess, report.Status, report.Error)

			v, _ := wctx.Suite("session")
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestEngine_ServerAPIAuthUsesItsOwnSettings(t *testing.T) {
	t.Parallel()

	cfg := &testdef.SharedConfig{
		AuthEnabled:                    true,
		AuthURL:                        "/login",
		AuthExtractAuthParams:          []string{"X-Auth", "header", "authToken"},
		ServerLogsAPIAuthEnabled:       true,
		ServerAPIAuthExtractAuthParams: []string{"X-Logs", "header", "logsToken"},
	}

	resp := jsonResponse(`{}`)
	resp.Header.Set("X-Logs", "logs-1")

	wctx := workflow.NewContext()
	tc := &testdef.TestCase{Name: "logs", URL: "/logs/auth", ServerAPIAuth: true}
	report := validate(t, newEngine(cfg, nil), resp, tc, wctx)
	require.Equal(t, testdef.StatusSuccess, report.Status, report.Error)

	v, _ := wctx.Suite("logsToken")
	assert.Equal(t, "logs-1", v)

	_, ok := wctx.Suite("authToken")
	assert.False(t, ok)
}

func TestEngine_AuthSkippedForOtherURLs(t *testing.T) {
	t.Parallel()

	cfg := &testdef.SharedConfig{AuthEnabled: true, AuthURL: "/login", AuthExtractAuthParams: []string{"X-Auth", "header", "authToken"}}
	wctx := workflow.NewContext()

	report := validate(t, newEngine(cfg, nil), jsonResponse(`{}`), &testdef.TestCase{Name: "other", URL: "/other"}, wctx)
	assert.Equal(t, testdef.StatusSuccess, report.Status)

	_, ok := wctx.SessionIdentifier()
	assert.False(t, ok)
}

func TestEngine_StoresCookies(t *testing.T) {
	t.Parallel()

	resp := jsonResponse(`{}`)
	resp.Cookies = []*http.Cookie{{Name: "sid", Value: "1"}}

	wctx := workflow.NewContext()
	validate(t, newEngine(nil, nil), resp, &testdef.TestCase{Name: "c", URL: "/c"}, wctx)

	// A later test case can assert on the stored cookie.
	tc := &testdef.TestCase{Name: "d", URL: "/d", ExpectedNodes: []string{"#responseCookie[sid],==,1"}}
	report := validate(t, newEngine(nil, nil), jsonResponse(`{}`), tc, wctx)
	assert.Equal(t, testdef.StatusSuccess, report.Status, report.Error)
}

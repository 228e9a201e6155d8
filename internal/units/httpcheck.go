package units

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/gatf-node/internal/testdef"
)

// KindHTTPCheck requests a URL and checks its status and body.
const KindHTTPCheck = "httpcheck"

var errHTTPCheckMissingURL = errors.New("httpcheck unit requires a url param")

func init() {
	DefaultRegistry.Register(KindHTTPCheck, newHTTPCheck)
}

type httpCheck struct {
	id       string
	runs     int
	method   string
	url      string
	status   int
	contains string
}

func newHTTPCheck(entry ManifestEntry) (Unit, error) {
	u := &httpCheck{
		id:       entry.ID,
		runs:     entry.Runs,
		method:   http.MethodGet,
		url:      entry.Params["url"],
		status:   http.StatusOK,
		contains: entry.Params["contains"],
	}

	if u.url == "" {
		return nil, fmt.Errorf("%w: %s", errHTTPCheckMissingURL, entry.ID)
	}

	if u.runs <= 0 {
		u.runs = 1
	}

	if m := entry.Params["method"]; m != "" {
		u.method = strings.ToUpper(m)
	}

	if s := entry.Params["expect_status"]; s != "" {
		code, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid expect_status %q: %w", s, err)
		}

		u.status = code
	}

	return u, nil
}

func (u *httpCheck) ID() string {
	return u.id
}

func (u *httpCheck) Run(ctx context.Context, env *Environment) ([]map[string]testdef.UnitResult, error) {
	client := env.Client
	if client == nil {
		client = http.DefaultClient
	}

	target := u.url
	if !strings.Contains(target, "://") && env.Config != nil && env.Config.BaseURL != "" {
		target = strings.TrimRight(env.Config.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}

	results := make([]map[string]testdef.UnitResult, 0, u.runs)

	for run := range u.runs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		results = append(results, u.once(ctx, client, target, run+1))
	}

	return results, nil
}

func (u *httpCheck) once(ctx context.Context, client *http.Client, target string, run int) map[string]testdef.UnitResult {
	start := time.Now()
	details := map[string]string{"url": target, "run": strconv.Itoa(run)}

	result := map[string]testdef.UnitResult{}

	fail := func(name string, err error) map[string]testdef.UnitResult {
		result[name] = testdef.UnitResult{
			Name:       name,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
			Details:    details,
		}

		return result
	}

	req, err := http.NewRequestWithContext(ctx, u.method, target, nil)
	if err != nil {
		return fail("request", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fail("request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("request", err)
	}

	elapsed := time.Since(start).Milliseconds()
	details["status"] = strconv.Itoa(resp.StatusCode)

	status := testdef.UnitResult{Name: "status", Passed: resp.StatusCode == u.status, DurationMs: elapsed, Details: details}
	if !status.Passed {
		status.Error = fmt.Sprintf("expected status %d, got %d", u.status, resp.StatusCode)
	}

	result["status"] = status

	if u.contains != "" {
		content := testdef.UnitResult{Name: "contains", Passed: strings.Contains(string(body), u.contains), DurationMs: elapsed, Details: details}
		if !content.Passed {
			content.Error = fmt.Sprintf("body does not contain %q", u.contains)
		}

		result["contains"] = content
	}

	return result
}

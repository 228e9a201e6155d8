// Package testdef holds the data exchanged between a coordinator and a node:
// the shared configuration, the test set and the reports produced while
// executing it.
package testdef

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	errSuiteNameRequired   = errors.New("suite name is required")
	errTestCaseMissingName = errors.New("test case missing name")
	errTestCaseMissingURL  = errors.New("test case missing url")
	errInvalidAuthParams   = errors.New("auth extract params must be (name, source, context key)")
	errDriverMissingName   = errors.New("driver config missing name")
	errDriverMissingPath   = errors.New("driver config missing path")
)

// ResponseType is the declared shape of a test case's response body.
type ResponseType string

const (
	// ResponseTypeJSON selects the JSON adapter.
	ResponseTypeJSON ResponseType = "json"
	// ResponseTypeXML selects the XML adapter.
	ResponseTypeXML ResponseType = "xml"
	// ResponseTypeText selects the raw text adapter.
	ResponseTypeText ResponseType = "text"
)

// AuthSource identifies where an authentication token is captured from.
type AuthSource string

const (
	// AuthSourceCookie captures the token from a response cookie.
	AuthSourceCookie AuthSource = "cookie"
	// AuthSourceHeader captures the token from a response header.
	AuthSourceHeader AuthSource = "header"
	// AuthSourceNode captures the token from a response body node.
	AuthSourceNode AuthSource = "json"
)

// DriverConfig declares a driver binary required by remote test units.
type DriverConfig struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// SharedConfig is the configuration a coordinator shares with a node before
// handing it a test set.
type SharedConfig struct {
	TestCasesBasePath string `json:"testCasesBasePath" yaml:"test_cases_base_path"`
	TestCaseDir       string `json:"testCaseDir" yaml:"test_case_dir"`
	OutFilesBasePath  string `json:"outFilesBasePath" yaml:"out_files_base_path"`
	OutFilesDir       string `json:"outFilesDir" yaml:"out_files_dir"`
	BaseURL           string `json:"baseUrl" yaml:"base_url"`

	AuthEnabled           bool     `json:"authEnabled" yaml:"auth_enabled"`
	AuthURL               string   `json:"authUrl" yaml:"auth_url"`
	AuthExtractAuthParams []string `json:"authExtractAuthParams" yaml:"auth_extract_auth_params"`

	ServerLogsAPIAuthEnabled       bool     `json:"serverLogsApiAuthEnabled" yaml:"server_logs_api_auth_enabled"`
	ServerAPIAuthExtractAuthParams []string `json:"serverApiAuthExtractAuthParams" yaml:"server_api_auth_extract_auth_params"`

	// LiveProviders maps a live provider name to the query (SQL source) or
	// key (redis source) used to fetch it.
	LiveProviders map[string]string `json:"liveProviders,omitempty" yaml:"live_providers,omitempty"`

	DriverConfigs        []DriverConfig `json:"seleniumDriverConfigs,omitempty" yaml:"selenium_driver_configs,omitempty"`
	ValidSeleniumRequest bool           `json:"validSeleniumRequest" yaml:"valid_selenium_request"`

	// ArchiveExtensions selects which output files are returned to the
	// coordinator. Defaults to DefaultArchiveExtensions.
	ArchiveExtensions []string `json:"archiveExtensions,omitempty" yaml:"archive_extensions,omitempty"`
}

// DefaultArchiveExtensions are the output files packed when the config does
// not name any.
var DefaultArchiveExtensions = []string{".html", ".csv", ".json"}

// DefaultOutFilesDir is used when the config leaves OutFilesDir empty.
const DefaultOutFilesDir = "out"

// RebindBasePaths points the test case and output base paths at dir. A node
// calls it once, right after receiving a test set.
func (c *SharedConfig) RebindBasePaths(dir string) {
	c.TestCasesBasePath = dir
	c.OutFilesBasePath = dir
}

// OutputDir returns the directory execution reports are written to.
func (c *SharedConfig) OutputDir() string {
	dir := c.OutFilesDir
	if dir == "" {
		dir = DefaultOutFilesDir
	}

	if filepath.IsAbs(dir) || c.OutFilesBasePath == "" {
		return dir
	}

	return filepath.Join(c.OutFilesBasePath, dir)
}

// Extensions returns the archive extension filter.
func (c *SharedConfig) Extensions() []string {
	if len(c.ArchiveExtensions) == 0 {
		return DefaultArchiveExtensions
	}

	return c.ArchiveExtensions
}

// Validate checks the parts of the config a node depends on.
func (c *SharedConfig) Validate() error {
	if c.AuthEnabled {
		if _, err := ParseAuthParams(c.AuthExtractAuthParams); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if c.ServerLogsAPIAuthEnabled {
		if _, err := ParseAuthParams(c.ServerAPIAuthExtractAuthParams); err != nil {
			return fmt.Errorf("server api auth: %w", err)
		}
	}

	for i, d := range c.DriverConfigs {
		if d.Name == "" {
			return fmt.Errorf("%w at index %d", errDriverMissingName, i)
		}

		if d.Path == "" {
			return fmt.Errorf("%w: %s", errDriverMissingPath, d.Name)
		}
	}

	return nil
}

// AuthParams is the parsed form of an auth extract params triple.
type AuthParams struct {
	Name       string
	Source     AuthSource
	ContextKey string
}

// ParseAuthParams parses a (name, source, context key) triple. Sources other
// than cookie and header read a response node.
func ParseAuthParams(params []string) (AuthParams, error) {
	if len(params) < 3 || params[0] == "" || params[2] == "" {
		return AuthParams{}, fmt.Errorf("%w: got %v", errInvalidAuthParams, params)
	}

	source := AuthSourceNode

	switch AuthSource(strings.ToLower(params[1])) {
	case AuthSourceCookie:
		source = AuthSourceCookie
	case AuthSourceHeader:
		source = AuthSourceHeader
	}

	return AuthParams{Name: params[0], Source: source, ContextKey: params[2]}, nil
}

// TestCase is one request under test.
type TestCase struct {
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	URL          string            `json:"url" yaml:"url"`
	Method       string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Content      string            `json:"content,omitempty" yaml:"content,omitempty"`
	ResponseType ResponseType      `json:"responseType,omitempty" yaml:"response_type,omitempty"`

	ExpectedResCode    int      `json:"expectedResCode,omitempty" yaml:"expected_res_code,omitempty"`
	ExpectedNodes      []string `json:"expectedNodes,omitempty" yaml:"expected_nodes,omitempty"`
	LogicalValidations []string `json:"logicalValidations,omitempty" yaml:"logical_validations,omitempty"`

	// WorkflowContextParameterMap maps a workflow variable to the expression
	// its value is extracted with.
	WorkflowContextParameterMap map[string]string `json:"workflowContextParameterMap,omitempty" yaml:"workflow,omitempty"`

	RepeatScenarios            []map[string]string `json:"repeatScenarios,omitempty" yaml:"repeat_scenarios,omitempty"`
	RepeatScenarioProviderName string              `json:"repeatScenarioProviderName,omitempty" yaml:"repeat_scenario_provider,omitempty"`

	// ServerAPIAuth marks the server-logs API auth request.
	ServerAPIAuth bool `json:"serverApiAuth,omitempty" yaml:"server_api_auth,omitempty"`
	// SecureAPI sends the captured session identifier with the request.
	SecureAPI bool `json:"secureApi,omitempty" yaml:"secure_api,omitempty"`
}

// IsScenarioDriven reports whether the test case runs once per repeat
// scenario or provider row.
func (tc *TestCase) IsScenarioDriven() bool {
	return tc.RepeatScenarios != nil || tc.RepeatScenarioProviderName != ""
}

// TestSet is the ordered collection of test cases a node executes.
type TestSet struct {
	SuiteName string      `json:"suiteName" yaml:"suite"`
	TestCases []*TestCase `json:"testCases" yaml:"test_cases"`
	// ProviderData holds the static provider tables for the suite.
	ProviderData map[string][]map[string]string `json:"providerData,omitempty" yaml:"providers,omitempty"`
	// NumberOfRuns repeats the whole suite; zero or one runs it once.
	NumberOfRuns int `json:"numberOfRuns,omitempty" yaml:"runs,omitempty"`
}

// Validate ensures the test set can be executed.
func (s *TestSet) Validate() error {
	if s.SuiteName == "" {
		return errSuiteNameRequired
	}

	for i, tc := range s.TestCases {
		if tc == nil || tc.Name == "" {
			return fmt.Errorf("%w at index %d", errTestCaseMissingName, i)
		}

		if tc.URL == "" {
			return fmt.Errorf("%w: %s", errTestCaseMissingURL, tc.Name)
		}
	}

	return nil
}

// UnitRequest names the remote units a coordinator wants run from the
// bundle it uploaded.
type UnitRequest struct {
	Units []string `json:"units"`
}

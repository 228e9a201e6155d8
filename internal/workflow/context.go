// Package workflow holds the variables threaded between dependent test
// cases of one suite.
package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ethpandaops/gatf-node/internal/provider"
)

// ErrUnresolvedVariable is returned when a template references an unknown variable.
var ErrUnresolvedVariable = errors.New("unresolved workflow variable")

// placeholder matches {name} and {name.index.prop}. JSON bodies are left
// alone because a quote never follows the brace.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][\w-]*(?:\.\d+\.[\w-]+)?)\}`)

// Context is the two tier variable store of one suite run. The suite tier
// and extracted row lists survive the whole run, the scenario scalars only
// live while a scenario driven test case iterates.
type Context struct {
	mu sync.RWMutex

	suite        map[string]string
	scenario     map[string]string
	scenarioRows map[string][]map[string]string
	cookies      map[string]string

	sessionID    string
	hasSessionID bool
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		suite:        make(map[string]string),
		scenario:     make(map[string]string),
		scenarioRows: make(map[string][]map[string]string),
		cookies:      make(map[string]string),
	}
}

// SetSuite stores a suite tier scalar.
func (c *Context) SetSuite(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.suite[name] = value
}

// Suite returns a suite tier scalar.
func (c *Context) Suite(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.suite[name]

	return v, ok
}

// SetScenario stores a scenario tier scalar.
func (c *Context) SetScenario(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scenario[name] = value
}

// SetScenarioRows stores an extracted row list. It outlives scenario resets.
func (c *Context) SetScenarioRows(name string, rows []map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scenarioRows[name] = rows
}

// ScenarioRows returns an extracted row list.
func (c *Context) ScenarioRows(name string) ([]map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, ok := c.scenarioRows[name]

	return rows, ok
}

// ResetScenario replaces the scenario scalars with values. Row lists are
// kept.
func (c *Context) ResetScenario(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scenario = make(map[string]string, len(values))
	for k, v := range values {
		c.scenario[k] = v
	}
}

// ClearScenario drops the scenario scalars once a scenario driven test case
// is done, so later test cases resolve against the suite tier again.
func (c *Context) ClearScenario() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scenario = make(map[string]string)
}

// StoreCookies adds response cookies to the jar, replacing same named ones.
func (c *Context) StoreCookies(cookies []*http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ck := range cookies {
		c.cookies[ck.Name] = ck.Value
	}
}

// Cookie returns a cookie from the jar.
func (c *Context) Cookie(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.cookies[name]

	return v, ok
}

// Cookies returns a copy of the jar.
func (c *Context) Cookies() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}

	return out
}

// SetSessionIdentifier records the captured authentication token.
func (c *Context) SetSessionIdentifier(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = id
	c.hasSessionID = true
}

// SessionIdentifier returns the captured authentication token.
func (c *Context) SessionIdentifier() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sessionID, c.hasSessionID
}

// Lookup resolves "name" from the scenario then the suite tier, or
// "name.index.prop" from a scenario row list.
func (c *Context) Lookup(ref string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !strings.Contains(ref, ".") {
		if v, ok := c.scenario[ref]; ok {
			return v, true
		}

		v, ok := c.suite[ref]

		return v, ok
	}

	parsed, err := provider.ParseRef(ref)
	if err != nil {
		return "", false
	}

	rows, ok := c.scenarioRows[parsed.Table]
	if !ok {
		return "", false
	}

	v, err := provider.Lookup(rows, parsed)
	if err != nil {
		return "", false
	}

	return v, true
}

// Vars flattens the context for expression evaluation. Scenario scalars
// shadow suite scalars; row lists are exposed as lists of maps.
func (c *Context) Vars() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vars := make(map[string]any, len(c.suite)+len(c.scenario)+len(c.scenarioRows))

	for k, v := range c.suite {
		vars[k] = v
	}

	for k, v := range c.scenario {
		vars[k] = v
	}

	for k, rows := range c.scenarioRows {
		list := make([]any, len(rows))
		for i, row := range rows {
			m := make(map[string]any, len(row))
			for rk, rv := range row {
				m[rk] = rv
			}

			list[i] = m
		}

		vars[k] = list
	}

	return vars
}

// Render substitutes {var} placeholders. Every placeholder must resolve.
func (c *Context) Render(input string) (string, error) {
	var missing []string

	out := placeholder.ReplaceAllStringFunc(input, func(match string) string {
		ref := match[1 : len(match)-1]

		v, ok := c.Lookup(ref)
		if !ok {
			missing = append(missing, ref)
			return match
		}

		return v
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrUnresolvedVariable, strings.Join(missing, ", "))
	}

	return out, nil
}

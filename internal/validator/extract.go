package validator

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ethpandaops/gatf-node/internal/adapter"
	"github.com/pkg/errors"
)

const workflowFunctionHelp = "only one of alpha, alphanum, number, boolean, float, -number, +number, " +
	"date(format) and date(format (-|+) value(unit)) allowed"

// extract captures the test case's workflow variables in variable name order.
func (v *validation) extract() error {
	params := v.tc.WorkflowContextParameterMap
	if len(params) == 0 {
		return nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := v.extractOne(name, strings.TrimSpace(params[name])); err != nil {
			return err
		}
	}

	return nil
}

func (v *validation) extractOne(variable, source string) error {
	fn, arg, isFunction := splitFunction(source)

	switch {
	case isFunction && fn == fnResponseHeader:
		value, ok := v.header(arg)
		if !ok {
			return assertf("specified header not found - %s", arg)
		}

		v.wctx.SetSuite(variable, value)
	case isFunction && fn == fnResponseCookie:
		value, ok := v.cookie(arg)
		if !ok {
			return assertf("specified cookie not found - %s", arg)
		}

		v.wctx.SetSuite(variable, value)
	case isFunction && fn == fnResponseMappedValue:
		path, props := splitMappedArg(arg)

		rows, err := v.mapped(func(doc any) ([]map[string]string, error) {
			return v.adapter.MappedLookup(doc, path, props)
		})
		if err != nil {
			return errors.Wrapf(err, "workflow mapping variable %s", variable)
		}

		v.wctx.SetScenarioRows(variable, rows)
	case isFunction && fn == fnResponseMappedCount:
		rows, err := v.mapped(func(doc any) ([]map[string]string, error) {
			count, err := v.adapter.MappedCount(doc, strings.TrimSpace(arg))
			if err != nil {
				return nil, err
			}

			return indexRows(count), nil
		})
		if err != nil {
			return errors.Wrapf(err, "workflow mapping variable %s", variable)
		}

		v.wctx.SetScenarioRows(variable, rows)
	case strings.HasPrefix(source, "#"):
		value, ok := v.engine.generator.Generate(source[1:])
		if !ok {
			return assertf("workflow function %s for variable %s is not valid, %s", source, variable, workflowFunctionHelp)
		}

		v.wctx.SetSuite(variable, value)
	default:
		value, present, err := v.lookupPath(source)
		if err != nil {
			return assertf("workflow variable %s not found (%s): %v", variable, source, err)
		}

		if !present {
			return assertf("workflow variable %s is null (%s)", variable, source)
		}

		v.wctx.SetSuite(variable, value)
	}

	return nil
}

// mapped runs a mapped adapter operation, treating an empty body as no rows.
func (v *validation) mapped(fn func(doc any) ([]map[string]string, error)) ([]map[string]string, error) {
	if v.doc == nil {
		return []map[string]string{}, nil
	}

	rows, err := fn(v.doc)
	if err != nil {
		return nil, err
	}

	if rows == nil {
		rows = []map[string]string{}
	}

	return rows, nil
}

// cookie prefers cookies set by this response over the jar.
func (v *validation) cookie(name string) (string, bool) {
	for _, c := range v.resp.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}

	return v.wctx.Cookie(name)
}

// splitMappedArg splits "path prop1,prop2" into its path and property
// list. A missing list selects every property.
func splitMappedArg(arg string) (string, []string) {
	path, rest, found := strings.Cut(strings.TrimSpace(arg), " ")
	rest = strings.TrimSpace(rest)

	if !found || rest == "" || strings.HasSuffix(rest, adapter.AllProperties) {
		return path, []string{adapter.AllProperties}
	}

	parts := strings.Split(rest, ",")
	props := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			props = append(props, p)
		}
	}

	return path, props
}

// indexRows builds count rows each holding its 1-based index.
func indexRows(count int) []map[string]string {
	rows := make([]map[string]string, count)
	for i := range rows {
		rows[i] = map[string]string{"index": strconv.Itoa(i + 1)}
	}

	return rows
}

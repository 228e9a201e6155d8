package validator

import (
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/pkg/errors"
)

// captureAuth stores the session identifier when the test case is the
// configured auth request.
func (v *validation) captureAuth() error {
	cfg := v.engine.cfg
	if cfg == nil {
		return nil
	}

	enabled, authURL, params := cfg.AuthEnabled, cfg.AuthURL, cfg.AuthExtractAuthParams
	if v.tc.ServerAPIAuth {
		enabled, authURL, params = cfg.ServerLogsAPIAuthEnabled, v.tc.URL, cfg.ServerAPIAuthExtractAuthParams
	}

	if !enabled || authURL != v.tc.URL {
		return nil
	}

	p, err := testdef.ParseAuthParams(params)
	if err != nil {
		return errors.Wrap(err, "auth capture")
	}

	var (
		identifier string
		found      bool
		label      string
	)

	switch p.Source {
	case testdef.AuthSourceCookie:
		label = "cookie"

		for _, c := range v.resp.Cookies {
			if c.Name == p.Name {
				identifier, found = c.Value, true
				break
			}
		}
	case testdef.AuthSourceHeader:
		label = "header"
		identifier, found = v.header(p.Name)
	default:
		label = "response-content"

		identifier, found, err = v.lookupPath(p.Name)
		if err != nil {
			return errors.Wrapf(err, "auth capture from %s", p.Name)
		}
	}

	if !found {
		return assertf("authentication token not found for %s (%s)", label, p.Name)
	}

	v.wctx.SetSessionIdentifier(identifier)
	v.wctx.SetSuite(p.ContextKey, identifier)

	if _, ok := v.wctx.SessionIdentifier(); !ok {
		return assertf("authentication token is null")
	}

	return nil
}

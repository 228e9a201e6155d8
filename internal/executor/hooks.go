package executor

import (
	"context"

	"github.com/ethpandaops/gatf-node/internal/testdef"
)

// HookAll targets every test case.
const HookAll = "All"

// HookFunc post-processes a report whose response has been captured but not
// yet validated. It may rewrite report.ResContent.
type HookFunc func(ctx context.Context, tc *testdef.TestCase, report *testdef.TestCaseReport)

// Hook runs Fn for the test cases named in Targets. An empty Targets list
// behaves like HookAll.
type Hook struct {
	Targets []string
	Fn      HookFunc
}

func (h Hook) applies(name string) bool {
	if len(h.Targets) == 0 {
		return true
	}

	for _, t := range h.Targets {
		if t == HookAll || t == name {
			return true
		}
	}

	return false
}

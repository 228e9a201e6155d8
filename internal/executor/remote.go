package executor

import (
	"context"
	"time"

	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/ethpandaops/gatf-node/internal/units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// unitErrorKey holds the result of a unit that failed to run at all.
const unitErrorKey = "error"

// RunRemoteUnits runs loaded units on a bounded worker pool. Results keep the
// order of loaded. A unit that fails to run yields a single failed entry
// instead of aborting its siblings.
func (e *executor) RunRemoteUnits(
	ctx context.Context,
	loaded []units.Unit,
	env *units.Environment,
) ([][]map[string]testdef.UnitResult, error) {
	start := time.Now()

	if env.Client == nil {
		env.Client = e.opts.Client
	}

	results := make([][]map[string]testdef.UnitResult, len(loaded))
	g, gCtx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, e.opts.Workers)
	for i, unit := range loaded {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gCtx.Done():
				return gCtx.Err()
			}

			results[i] = e.runUnit(gCtx, unit, env)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"units":    len(loaded),
		"duration": time.Since(start),
	}).Info("remote units complete")

	return results, nil
}

func (e *executor) runUnit(ctx context.Context, unit units.Unit, env *units.Environment) []map[string]testdef.UnitResult {
	start := time.Now()
	log := e.log.WithField("unit", unit.ID())

	res, err := unit.Run(ctx, env)
	if err != nil {
		log.WithError(err).Warn("remote unit failed")

		return append(res, map[string]testdef.UnitResult{
			unitErrorKey: {
				Name:       unit.ID(),
				Error:      err.Error(),
				DurationMs: time.Since(start).Milliseconds(),
			},
		})
	}

	log.WithField("runs", len(res)).Debug("remote unit complete")

	return res
}

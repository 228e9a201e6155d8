package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethpandaops/gatf-node/internal/archive"
	"github.com/ethpandaops/gatf-node/internal/condition"
	"github.com/ethpandaops/gatf-node/internal/config"
	"github.com/ethpandaops/gatf-node/internal/executor"
	"github.com/ethpandaops/gatf-node/internal/metrics"
	"github.com/ethpandaops/gatf-node/internal/output"
	"github.com/ethpandaops/gatf-node/internal/provider"
	"github.com/ethpandaops/gatf-node/internal/server"
	"github.com/ethpandaops/gatf-node/internal/session"
	"github.com/ethpandaops/gatf-node/internal/units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runServe(_ *cobra.Command, args []string) error {
	log := newLogger(verbose)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	port := server.PortFromArgs(args, cfg.Port, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live, err := startLiveSource(ctx, log, cfg)
	if err != nil {
		return err
	}

	if live != nil {
		defer func() {
			if err := live.Stop(); err != nil {
				log.WithError(err).Warn("stopping live provider source")
			}
		}()
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}

	engine := executor.NewExecutor(log, executor.Options{
		Node:       cfg.NodeName,
		Client:     client,
		Evaluator:  condition.NewEvaluator(log),
		LiveSource: live,
		Workers:    cfg.UnitWorkers,
	})

	collector := metrics.NewCollector(log)
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics collector: %w", err)
	}
	defer func() { _ = collector.Stop() }()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	handler := session.NewHandler(
		log,
		engine,
		archive.NewZip(log),
		units.NewLoader(log, units.DefaultRegistry),
		collector,
		session.Options{
			WorkDir:         wd,
			ScratchDir:      cfg.ScratchDir,
			RelayGrace:      cfg.RelayGrace,
			ExecutionSettle: cfg.ExecutionSettle,
			RelayBuffer:     cfg.RelayBuffer,
			Client:          client,
		},
	)

	formatter := output.NewFormatter(os.Stdout, verbose)

	var printMu sync.Mutex

	listener := server.NewListener(log, config.ListenAddr(port), handler, func(m *metrics.SessionMetric, _ error) {
		if m == nil {
			return
		}

		printMu.Lock()
		defer printMu.Unlock()

		formatter.PrintSession(m)
	})

	if err := listener.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	log.Warn("received interrupt signal, shutting down")

	if err := listener.Stop(); err != nil {
		log.WithError(err).Warn("stopping listener")
	}

	printMu.Lock()
	formatter.PrintSummary(collector.GetSummary())
	printMu.Unlock()

	return nil
}

// startLiveSource starts the configured live provider backend, if any.
func startLiveSource(ctx context.Context, log logrus.FieldLogger, cfg *config.Config) (provider.LiveSource, error) {
	var source provider.LiveSource

	switch {
	case cfg.LiveProviderDSN != "":
		source = provider.NewSQLSource(log, cfg.LiveProviderDSN, cfg.ProviderTimeout)
	case cfg.LiveProviderRedis != "":
		source = provider.NewRedisSource(log, cfg.LiveProviderRedis)
	default:
		return nil, nil //nolint:nilnil // no live source configured
	}

	if err := source.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting live provider source: %w", err)
	}

	return source, nil
}

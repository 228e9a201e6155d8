package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ethpandaops/gatf-node/internal/archive"
	"github.com/ethpandaops/gatf-node/internal/coordinator"
	"github.com/ethpandaops/gatf-node/internal/output"
	"github.com/ethpandaops/gatf-node/internal/protocol"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/spf13/cobra"
)

var (
	dispatchTimeout    time.Duration
	dispatchArchiveDir string
	dispatchBundleDir  string
	dispatchUnits      string
	dispatchTelemetry  bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <addr> <dispatch.yaml>",
	Short: "Dispatch a test set to a node",
	Long: `Act as a coordinator: share the configuration and test set from a dispatch
file with the node at addr, print telemetry and results and store the returned
report archive.

With --bundle the node is instead sent a remote unit bundle (a directory holding
manifest.yaml) and asked to run the units named by --units.

Example:
  gatf-node dispatch localhost:4567 suites/shop.yaml
  gatf-node dispatch localhost:4567 suites/shop.yaml --bundle ./units --units home,checkout`,
	Args: cobra.ExactArgs(2),
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)

	dispatchCmd.Flags().DurationVar(&dispatchTimeout, "timeout", 30*time.Minute, "Dispatch timeout")
	dispatchCmd.Flags().StringVar(&dispatchArchiveDir, "archive-dir", "results", "Directory returned archives are stored in")
	dispatchCmd.Flags().StringVar(&dispatchBundleDir, "bundle", "", "Remote unit bundle directory")
	dispatchCmd.Flags().StringVar(&dispatchUnits, "units", "", "Comma-separated remote unit identifiers")
	dispatchCmd.Flags().BoolVar(&dispatchTelemetry, "telemetry", false, "Print every telemetry entry")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	log := newLogger(verbose)

	ctx, cancel := context.WithTimeout(cmd.Context(), dispatchTimeout)
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := testdef.NewLoader(log).Load(args[1])
	if err != nil {
		return fmt.Errorf("loading dispatch file: %w", err)
	}

	client := coordinator.NewClient(log, dispatchArchiveDir)
	formatter := output.NewFormatter(cmd.OutOrStdout(), verbose)

	if dispatchBundleDir != "" {
		return dispatchBundle(ctx, client, formatter, args[0], &file.Config)
	}

	var onEntry coordinator.EntryFunc
	if dispatchTelemetry {
		onEntry = formatter.PrintEntry
	}

	result, err := client.DispatchTests(ctx, args[0], &file.Config, &file.TestSet, onEntry)
	if err != nil {
		formatter.PrintError("dispatch failed", err)
		return err
	}

	formatter.PrintStatus(result.Status)

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d telemetry entries, archive stored at %s\n", result.Entries, result.ArchivePath)

	if result.Status.Failed > 0 {
		return fmt.Errorf("%d of %d test cases failed", result.Status.Failed, result.Status.Total)
	}

	return nil
}

func dispatchBundle(
	ctx context.Context,
	client coordinator.Client,
	formatter output.Formatter,
	addr string,
	cfg *testdef.SharedConfig,
) error {
	var bundle bytes.Buffer

	if _, err := archive.NewZip(newLogger(verbose)).Pack(dispatchBundleDir, nil, &bundle); err != nil {
		return fmt.Errorf("packing bundle: %w", err)
	}

	var ids []string

	for _, id := range strings.Split(dispatchUnits, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	result, err := client.DispatchUnits(ctx, addr, cfg, &bundle, ids)
	if err != nil {
		formatter.PrintError("dispatch failed", err)
		return err
	}

	if result.Code != protocol.SeleniumExecuting {
		err := fmt.Errorf("node answered status %d", result.Code)
		formatter.PrintError("units not executed", err)

		return err
	}

	status := &testdef.DistributedTestStatus{Node: addr, SuiteName: "units"}

	for i, runs := range result.Results {
		for run, entries := range runs {
			names := make([]string, 0, len(entries))
			for name := range entries {
				names = append(names, name)
			}

			sort.Strings(names)

			for _, name := range names {
				r := entries[name]
				report := &testdef.TestCaseReport{
					TestCase:    fmt.Sprintf("%s/%s", ids[i], name),
					Scenario:    run + 1,
					Status:      testdef.StatusSuccess,
					ExecutionMs: r.DurationMs,
					Error:       r.Error,
				}

				if !r.Passed {
					report.Status = testdef.StatusFailed
				}

				status.Add(report)
			}
		}
	}

	formatter.PrintStatus(status)

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/internal/emitter"
	itelemetry "github.com/yairfalse/surface/internal/telemetry"
	"github.com/yairfalse/surface/orchestrator"
	"github.com/yairfalse/surface/types"
)

var scanOutput string

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Evaluate every rule against every resource once",
	Long: `Run one scan pass: load all resources and rules, evaluate each rule
against each resource in scope, and store one finding per match.

Findings from earlier scans are kept; each carries the scan_id of the
pass that produced it.`,
	Example: `  surface scan
  surface scan -o json
  SURFACE_STORAGE_DRIVER=bolt surface scan`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", outputTable, "Output format: table, json")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(scanOutput); err != nil {
		return err
	}
	ctx := cmd.Context()

	provider, err := itelemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownProvider(provider)

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	emitters := emitter.NewMultiEmitter()
	archive, err := newArchiveEmitter(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if archive != nil {
		emitters.Add(archive)
	}
	defer func() { _ = emitters.Close() }()

	orch := a.orchestrator(orchestrator.Options{
		Tracer:  provider.Tracer(),
		Metrics: provider.ScanMetrics(),
		Emitter: emitters,
	})

	result, err := orch.RunScan(ctx)
	var partial *orchestrator.PartialPersistError
	if errors.As(err, &partial) {
		result = partial.Result
	} else if err != nil {
		return err
	}

	if scanOutput == outputJSON {
		if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
			return perr
		}
	} else if perr := printScanResult(cmd.OutOrStdout(), result); perr != nil {
		return perr
	}
	return err
}

func printScanResult(w io.Writer, r *types.ScanResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Scan ID:\t%s\n", r.ScanID)
	fmt.Fprintf(tw, "Resources scanned:\t%d\n", r.ResourcesScanned)
	if r.ResourcesSkipped > 0 {
		fmt.Fprintf(tw, "Resources skipped:\t%d\n", r.ResourcesSkipped)
	}
	fmt.Fprintf(tw, "Rules loaded:\t%d\n", r.RulesLoaded)
	if r.RulesSkipped > 0 {
		fmt.Fprintf(tw, "Rules skipped:\t%d\n", r.RulesSkipped)
	}
	fmt.Fprintf(tw, "Evaluations:\t%d\n", r.RulesEvaluated)
	if r.EvaluationErrors > 0 {
		fmt.Fprintf(tw, "Evaluation errors:\t%d\n", r.EvaluationErrors)
	}
	fmt.Fprintf(tw, "Findings created:\t%d\n", r.FindingsCreated)
	fmt.Fprintf(tw, "Duration:\t%s\n", r.Duration.Round(time.Millisecond))
	return tw.Flush()
}

func shutdownProvider(p *itelemetry.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown")
	}
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/internal/api"
	"github.com/yairfalse/surface/internal/daemon"
	"github.com/yairfalse/surface/internal/emitter"
	itelemetry "github.com/yairfalse/surface/internal/telemetry"
	"github.com/yairfalse/surface/orchestrator"
)

var (
	serveAddr        string
	serveMetricsAddr string
	serveInterval    time.Duration
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanner API",
	Long: `Serve the scanner HTTP API under /api/scanner/.

Scans run when a client calls scanResources. With --interval the daemon
also scans on a schedule. Prometheus metrics are served on the metrics
address and scan events are pushed to websocket clients on
/api/scanner/events.`,
	Example: `  surface serve
  surface serve --addr :8080 --interval 15m
  surface serve --metrics-addr ""`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "API listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Metrics listen address (overrides server.metrics_addr)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Scheduled scan interval (overrides scanner.interval)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	applyServeFlags(cmd)

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

	hub := api.NewHub(logger)
	emitters := emitter.NewMultiEmitter(hub)
	defer func() { _ = emitters.Close() }()

	prom, err := emitter.NewPrometheusEmitter(provider.Meter(), logger)
	if err != nil {
		return fmt.Errorf("init metrics emitter: %w", err)
	}
	emitters.Add(prom)

	archive, err := newArchiveEmitter(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if archive != nil {
		emitters.Add(archive)
	}

	orch := a.orchestrator(orchestrator.Options{
		Tracer:  provider.Tracer(),
		Metrics: provider.ScanMetrics(),
		Emitter: emitters,
	})

	server := api.NewServer(a.inventory, orch, a.summaries, api.Options{
		BodyLimit: cfg.Server.BodyLimitBytes,
		Logger:    logger,
		Hub:       hub,
	})

	daemonMetrics, err := daemon.NewDaemonMetrics()
	if err != nil {
		return fmt.Errorf("init daemon metrics: %w", err)
	}

	d, err := daemon.NewDaemon(daemon.Config{
		APIAddr:     cfg.Server.Addr,
		MetricsAddr: cfg.Server.MetricsAddr,
		Interval:    cfg.Scanner.Interval,
	}, daemon.Deps{
		API:           server.Handler(),
		Metrics:       provider.MetricsHandler(),
		Scanner:       orch,
		DaemonMetrics: daemonMetrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Str("storage", cfg.Storage.Driver).
		Dur("interval", cfg.Scanner.Interval).
		Msg("starting scanner service")

	return d.Run(ctx)
}

// applyServeFlags lets explicitly set flags win over file and env config
func applyServeFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = serveAddr
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = serveMetricsAddr
	}
	if cmd.Flags().Changed("interval") {
		cfg.Scanner.Interval = serveInterval
	}
}

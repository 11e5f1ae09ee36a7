// Package daemon hosts the long-running scanner service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/surface/orchestrator"
	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

const defaultShutdownTimeout = 10 * time.Second

// Config holds daemon configuration
type Config struct {
	// APIAddr is where the scanner API listens
	APIAddr string

	// MetricsAddr serves /metrics; empty disables it
	MetricsAddr string

	// Interval between scheduled scans; zero disables scheduling
	Interval time.Duration

	ShutdownTimeout time.Duration
}

// Scanner runs one scan pass
type Scanner interface {
	RunScan(ctx context.Context) (*types.ScanResult, error)
}

// Deps are the components the daemon hosts
type Deps struct {
	API     http.Handler
	Metrics http.Handler
	Scanner Scanner

	// DaemonMetrics is optional
	DaemonMetrics *DaemonMetrics
	Logger        *telemetry.Logger
}

// Daemon runs the API server, the metrics server and the scan scheduler as
// one actor group; the first to exit stops the others.
type Daemon struct {
	cfg       Config
	deps      Deps
	logger    *telemetry.Logger
	startTime time.Time
	scanCount atomic.Int64

	mu          sync.Mutex
	apiAddr     string
	metricsAddr string
	ready       chan struct{}
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, deps Deps) (*Daemon, error) {
	if deps.API == nil {
		return nil, errors.New("daemon needs an API handler")
	}
	if cfg.Interval > 0 && deps.Scanner == nil {
		return nil, errors.New("scheduled scans need a scanner")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Daemon{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
		ready:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or one of the actors fails
func (d *Daemon) Run(ctx context.Context) error {
	apiLn, err := net.Listen("tcp", d.cfg.APIAddr)
	if err != nil {
		return fmt.Errorf("listen api: %w", err)
	}

	var metricsLn net.Listener
	if d.cfg.MetricsAddr != "" && d.deps.Metrics != nil {
		metricsLn, err = net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			_ = apiLn.Close()
			return fmt.Errorf("listen metrics: %w", err)
		}
	}

	var g run.Group

	// Cancellation
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
		})
	}

	// API server
	d.addServer(&g, "api", apiLn, d.deps.API)

	// Metrics server
	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.deps.Metrics)
		d.addServer(&g, "metrics", metricsLn, mux)
	}

	// Scan scheduler
	if d.cfg.Interval > 0 {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			d.scheduleScans(ctx)
			return nil
		}, func(error) {
			cancel()
		})
	}

	d.mu.Lock()
	d.apiAddr = apiLn.Addr().String()
	if metricsLn != nil {
		d.metricsAddr = metricsLn.Addr().String()
	}
	d.mu.Unlock()
	close(d.ready)

	d.logger.Info().
		Str("api_addr", apiLn.Addr().String()).
		Dur("interval", d.cfg.Interval).
		Msg("daemon started")

	err = g.Run()
	d.logger.Info().Int64("scheduled_scans", d.scanCount.Load()).Msg("daemon stopped")
	return err
}

func (d *Daemon) addServer(g *run.Group, name string, ln net.Listener, handler http.Handler) {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Str("server", name).Msg("shutdown incomplete")
		}
	})
}

// scheduleScans runs a scan every interval until ctx is done
func (d *Daemon) scheduleScans(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runScheduledScan(ctx)
		}
	}
}

func (d *Daemon) runScheduledScan(ctx context.Context) {
	d.scanCount.Add(1)
	start := time.Now()
	result, err := d.deps.Scanner.RunScan(ctx)
	elapsed := time.Since(start).Seconds()

	status := StatusSuccess
	switch {
	case errors.Is(err, orchestrator.ErrScanInProgress):
		status = StatusSkipped
		d.logger.Debug().Msg("scheduled scan skipped, another scan is running")
	case err != nil:
		status = StatusError
		d.logger.Error().Err(err).Msg("scheduled scan failed")
	}

	if m := d.deps.DaemonMetrics; m != nil {
		m.RecordScheduledScan(ctx, status, elapsed)
		if err == nil && result != nil {
			m.RecordScanCounts(ctx, result.ResourcesScanned, result.FindingsCreated)
		}
	}
}

// Ready is closed once the listeners are bound
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// APIAddr returns the bound API address once Ready is closed
func (d *Daemon) APIAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apiAddr
}

// MetricsAddr returns the bound metrics address, empty when disabled
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsAddr
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:         "healthy",
		Uptime:         int64(time.Since(d.startTime).Seconds()),
		ScheduledScans: d.scanCount.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status         string
	Uptime         int64
	ScheduledScans int64
}

// ScanCount returns the scheduled scans run so far
func (d *Daemon) ScanCount() int64 {
	return d.scanCount.Load()
}

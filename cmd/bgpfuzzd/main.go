// bgpfuzzd is the BGP-4 fuzzing speaker daemon. It loads the single peer
// session described by its configuration, drives that session's RFC 4271
// FSM event loop, and exports Prometheus metrics until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/bgpfuzz/internal/bgp"
	"github.com/dantte-lp/bgpfuzz/internal/config"
	bgpmetrics "github.com/dantte-lp/bgpfuzz/internal/metrics"
	appversion "github.com/dantte-lp/bgpfuzz/internal/version"
)

// shutdownTimeout bounds how long graceful shutdown waits for the
// session's Cease NOTIFICATION to go out and for the metrics server to
// drain active connections.
const shutdownTimeout = 10 * time.Second

// sessionStartTimeout bounds the initial ManualStart handoff to the
// session's event loop.
const sessionStartTimeout = 30 * time.Second

// configPath is set by the --config persistent flag.
var configPath string

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:   "bgpfuzzd",
		Short: "BGP-4 fuzzing speaker daemon",
		Long:  "bgpfuzzd runs a single BGP-4 peer session driven by an RFC 4271 FSM, with an optional fuzz spec attached to its outbound message builder.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// versionCmd prints build information injected via ldflags, in the same
// style as gobfdctl's own version subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print bgpfuzzd build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("bgpfuzzd"))
		},
	}
}

func runDaemon(parent context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	bgpID, err := cfg.Session.BGPIDBytes()
	if err != nil {
		return fmt.Errorf("parse session bgp_id: %w", err)
	}

	logger.Info("bgpfuzzd starting",
		slog.String("version", appversion.Version),
		slog.String("peer", cfg.Session.Peer),
		slog.Uint64("my_as", uint64(cfg.Session.MyAS)),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := bgpmetrics.NewCollector(reg)

	overrides := bgp.Overrides{
		ConnectRetryTime: cfg.Session.ConnectRetryTime,
		HoldTime:         cfg.Session.HoldTime,
		KeepaliveTime:    cfg.Session.KeepaliveTime,
	}
	if overrides.ConnectRetryTime == 0 {
		overrides.ConnectRetryTime = cfg.BGP.DefaultConnectRetryTime
	}
	if overrides.HoldTime == 0 {
		overrides.HoldTime = cfg.BGP.DefaultHoldTime
	}
	if overrides.KeepaliveTime == 0 {
		overrides.KeepaliveTime = cfg.BGP.DefaultKeepaliveTime
	}
	// A peer given without a port is dialed on the well-known BGP port.
	peer := cfg.Session.Peer
	if _, _, err := net.SplitHostPort(peer); err != nil {
		peer = net.JoinHostPort(peer, "179")
	}
	sess, err := bgp.New(peer, cfg.Session.MyAS, bgpID, overrides, nil, logger, bgp.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("construct session: %w", err)
	}

	// The session's event loop runs on its own cancellation, independent
	// of the signal context below: shutdown first posts ManualStop so a
	// Cease NOTIFICATION reaches the peer, and only then stops the loop.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	sigCtx, stopSig := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopSig()

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g, gCtx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		sess.Run(runCtx)
		return nil
	})

	g.Go(func() error {
		startCtx, cancel := context.WithTimeout(runCtx, sessionStartTimeout)
		defer cancel()
		if err := sess.Start(startCtx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(sess, logger, metricsSrv, stopRun)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run bgpfuzzd: %w", err)
	}

	logger.Info("bgpfuzzd stopped")
	return nil
}

// gracefulShutdown posts ManualStop to sess (sending a Cease
// NOTIFICATION per spec.md §8 scenario 4), stops the session's event
// loop, and drains the metrics HTTP server.
func gracefulShutdown(sess *bgp.Session, logger *slog.Logger, metricsSrv *http.Server, stopRun context.CancelFunc) error {
	logger.Info("initiating graceful shutdown")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sess.Stop(stopCtx)
	stopRun()

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel2()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// listenAndServe binds addr through a net.ListenConfig (so the bind
// itself honors ctx cancellation) and serves until srv.Shutdown closes
// the listener.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path, or returns defaults
// if no path was given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared
// LevelVar, matching the teacher daemon's log setup.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/requestsink/requestsink/internal/adapter/inbound/http"
	"github.com/requestsink/requestsink/internal/adapter/inbound/ws"
	"github.com/requestsink/requestsink/internal/adapter/outbound/memory"
	"github.com/requestsink/requestsink/internal/adapter/outbound/relay"
	"github.com/requestsink/requestsink/internal/config"
	"github.com/requestsink/requestsink/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long: `Start the requestsink server.

Examples:
  # Start with config file settings
  requestsink start

  # Listen on all interfaces with debug logging and span export
  requestsink start --dev --addr 0.0.0.0:8080

  # Start with a specific config file
  requestsink --config /path/to/requestsink.yaml start`,
	RunE: runStart,
}

var (
	devMode  bool
	addrFlag string
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, span export)")
	startCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address, overrides server.http_addr")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	if addrFlag != "" {
		cfg.Server.HTTPAddr = addrFlag
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger, closeLog, err := newLogger(cfg.Server.LogLevel, cfg.Server.LogFile, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("requestsink stopped")
	return nil
}

// run wires every component together and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, shutdownTracing, err := newTracerProvider(cfg.Tracing.Enabled, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store := memory.NewSinkStore(
		memory.WithMaxRequests(cfg.Sink.MaxRequests),
		memory.WithSinkTimeout(cfg.SinkTimeout()),
		memory.WithCleanupInterval(cfg.CleanupInterval()),
		memory.WithStoreLogger(logger),
	)
	store.StartCleanup(ctx)
	defer store.Stop()

	forwarder := relay.NewForwarder(
		relay.WithTimeout(cfg.ForwardTimeout()),
		relay.WithMaxResponseBytes(cfg.Forward.MaxResponseBytes),
		relay.WithTracerProvider(tp),
		relay.WithLogger(logger),
	)

	notifier := service.NewNotifier(store, logger,
		service.WithQueueSize(cfg.Notify.QueueSize),
		service.WithNotifySendTimeout(cfg.NotifySendTimeout()),
	)
	notifier.Start(ctx)
	defer notifier.Stop()

	captureService := service.NewCaptureService(store, forwarder, notifier, logger)
	sinkService := service.NewSinkService(store, logger)
	hub := ws.NewHub(notifier, sinkService, logger)

	registry := prometheus.NewRegistry()
	http.RegisterStoreGauge(registry, store.Size)
	http.RegisterNotifyDrops(registry, notifier.DroppedEvents)

	transport := http.NewHTTPTransport(captureService, sinkService,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithHub(hub),
		http.WithHealthChecker(http.NewHealthChecker(store, notifier, hub, Version)),
		http.WithRegistry(registry),
		http.WithShutdownTimeout(cfg.ShutdownTimeout()),
	)

	logger.Info("requestsink starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"max_requests", cfg.Sink.MaxRequests,
		"sink_timeout", cfg.SinkTimeout(),
		"tracing", cfg.Tracing.Enabled,
	)

	return transport.Start(ctx)
}

// newLogger builds the process logger. With a log file, output goes to both
// stderr and a rotated file. The returned func closes the file.
func newLogger(level, file string, stderr io.Writer) (*slog.Logger, func(), error) {
	out := stderr
	closeFn := func() {}

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logWriter := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(stderr, logWriter)
		closeFn = func() { _ = logWriter.Close() }
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
	return logger, closeFn, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	countreporter "github.com/e7canasta/orion-care-sensor/modules/count-reporter"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/feed"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/mqtt"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("count-reporter", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (defaults when empty)")
	input := fs.String("input", "-", "Detection feed (JSON lines), - for stdin")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "config", *configPath, "error", err)
			return 1
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Log, *debug)
	slog.SetDefault(logger)

	// Nothing is started yet, so a missing feed exits without teardown.
	src, closeSrc, err := openInput(*input)
	if err != nil {
		slog.Error("failed to open detection feed", "input", *input, "error", err)
		return 1
	}
	defer closeSrc()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	transport := mqtt.NewTransport(mqtt.Config{
		ClientID:       cfg.MQTT.ClientID,
		KeepAlive:      cfg.MQTT.KeepAlive(),
		ConnectTimeout: cfg.MQTT.ConnectTimeout(),
		WriteTimeout:   cfg.MQTT.WriteTimeout(),
		DrainTimeout:   cfg.MQTT.DrainTimeout(),
	}, mqtt.WithLogger(logger))

	reporter := countreporter.New(transport, countreporter.Config{
		TrackedClass: *cfg.Counter.TrackedClass,
		Capacity:     cfg.Counter.Capacity,
		Topic:        cfg.MQTT.Topic,
		QoS:          *cfg.MQTT.QoS,
	}, countreporter.WithLogger(logger), countreporter.WithMetrics(metrics.New(reg)))

	slog.Info("starting count reporter",
		"config", *configPath,
		"input", *input,
		"instance_id", cfg.InstanceID,
		"tracked_class", reporter.TrackedClass(),
		"capacity", cfg.Counter.Capacity,
		"topic", cfg.MQTT.Topic,
	)

	// A broker that is down is not fatal: counting continues unpublished.
	if err := reporter.Connect(countreporter.Endpoint{Host: cfg.MQTT.Host, Port: cfg.MQTT.Port}); err != nil {
		slog.Warn("mqtt connect failed, counting without publishing", "error", err)
	}

	var healthServer *health.Server
	if cfg.Health.Port != "" {
		healthServer = health.NewServer(cfg.InstanceID, reporter, reg, logger)
		healthServer.Start(cfg.Health.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		_, err := feed.Run(ctx, src, reporter, logger)
		errChan <- err
	}()

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("detection feed failed", "error", err)
		} else {
			slog.Info("detection feed ended")
		}
	}

	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	exitCode := 0
	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("health server shutdown failed", "error", err)
			exitCode = 1
		}
		shutdownCancel()
	}

	if err := reporter.DisconnectAndDestroy(); err != nil {
		slog.Error("mqtt teardown failed", "error", err)
		exitCode = 1
	}

	stats := reporter.Stats()
	slog.Info("count reporter stopped",
		"total", stats.Counter.Total,
		"duplicates", stats.Counter.Duplicates,
		"saturated", stats.Counter.Saturated,
		"published", stats.Guard.Published,
		"not_connected", stats.Guard.NotConnected,
		"failures", stats.Guard.Failures,
	)
	return exitCode
}

func newLogger(cfg config.LogConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" || path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

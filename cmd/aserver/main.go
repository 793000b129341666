// Package main implements the entry point for the analysis server.
// The analysis server hosts simulation components behind the legacy
// text protocol used by ModelCenter-style clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/naylor-b/aserver/events"
	"github.com/naylor-b/aserver/metric"
	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/server"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "aserver"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Create metrics registry and load the published components
	metricsRegistry := metric.NewMetricsRegistry()
	reg, err := loadComponents(cliCfg, logger, metricsRegistry)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "components", reg.Len())
		return nil
	}

	// Connect NATS for lifecycle events when configured
	publisher, ncClose, err := setupEvents(cliCfg, logger)
	if err != nil {
		return err
	}
	defer ncClose()

	// Read the allowed hosts file when configured
	allowed, err := loadAllowedHosts(cliCfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Host:         cliCfg.Host,
		Port:         cliCfg.Port,
		AllowedHosts: allowed,
		UpFile:       cliCfg.UpFile,
	}, server.Deps{
		Logger:   logger,
		Registry: reg,
		Metrics:  metricsRegistry,
		Events:   publisher,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if cliCfg.MetricsPort > 0 {
		startMetricsServer(cliCfg.MetricsPort, metricsRegistry)
	}

	return runWithSignalHandling(srv, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting analysis server",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadComponents builds the component registry from the configuration
// file. Bad component sections are logged and counted, not fatal.
func loadComponents(
	cliCfg *CLIConfig,
	logger *slog.Logger,
	metricsRegistry *metric.MetricsRegistry,
) (*registry.Registry, error) {
	reg := registry.New(registry.Deps{Logger: logger})
	registerBuiltins(reg)

	errCount, err := reg.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	if errCount > 0 {
		slog.Warn("Some component configurations were rejected", "errors", errCount)
		if m := metricsRegistry.CoreMetrics(); m != nil {
			m.ConfigErrors.Add(float64(errCount))
		}
	}
	slog.Info("Components published", "count", reg.Len())
	return reg, nil
}

// setupEvents connects NATS when a URL is configured. The returned close
// function is a no-op otherwise.
func setupEvents(cliCfg *CLIConfig, logger *slog.Logger) (*events.Publisher, func(), error) {
	if cliCfg.NATSURL == "" {
		return nil, func() {}, nil
	}
	nc, err := nats.Connect(cliCfg.NATSURL, nats.Name(appName))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("Publishing lifecycle events",
		"url", cliCfg.NATSURL, "subject", cliCfg.EventsSubject)
	return events.New(nc, cliCfg.EventsSubject, logger), nc.Close, nil
}

func loadAllowedHosts(cliCfg *CLIConfig) ([]string, error) {
	if cliCfg.AllowedHosts == "" {
		return nil, nil
	}
	allowed, err := server.ReadAllowedHosts(cliCfg.AllowedHosts)
	if err != nil {
		return nil, fmt.Errorf("read allowed hosts: %w", err)
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no allowed hosts in %s", cliCfg.AllowedHosts)
	}
	return allowed, nil
}

// startMetricsServer exposes Prometheus metrics on its own port.
func startMetricsServer(port int, metricsRegistry *metric.MetricsRegistry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRegistry.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", port)
		slog.Info("Serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
}

// runWithSignalHandling serves until interrupted, then stops gracefully.
func runWithSignalHandling(srv *server.Server, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := srv.Serve(signalCtx, shutdownTimeout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	Host            string
	Port            int
	AllowedHosts    string
	UpFile          string
	MetricsPort     int
	NATSURL         string
	EventsSubject   string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("ASERVER_CONFIG", "components.yaml"),
		"Path to component configuration file (env: ASERVER_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("ASERVER_CONFIG", "components.yaml"),
		"Path to component configuration file (env: ASERVER_CONFIG)")

	flag.StringVar(&cfg.Host, "host",
		getEnv("ASERVER_HOST", "localhost"),
		"Host address to bind (env: ASERVER_HOST)")

	flag.IntVar(&cfg.Port, "port",
		getEnvInt("ASERVER_PORT", 1835),
		"Port to listen on, 0 picks a free port (env: ASERVER_PORT)")

	flag.StringVar(&cfg.AllowedHosts, "allowed-hosts",
		getEnv("ASERVER_ALLOWED_HOSTS", ""),
		"Path to allowed hosts file, empty allows 127.0.0.1 only (env: ASERVER_ALLOWED_HOSTS)")

	flag.StringVar(&cfg.UpFile, "up",
		getEnv("ASERVER_UP_FILE", ""),
		"File written with host, port, and pid once ready (env: ASERVER_UP_FILE)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("ASERVER_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: ASERVER_METRICS_PORT)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("ASERVER_NATS_URL", ""),
		"NATS URL for lifecycle events, empty to disable (env: ASERVER_NATS_URL)")

	flag.StringVar(&cfg.EventsSubject, "events-subject",
		getEnv("ASERVER_EVENTS_SUBJECT", "aserver.events"),
		"NATS subject for lifecycle events (env: ASERVER_EVENTS_SUBJECT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ASERVER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ASERVER_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ASERVER_LOG_FORMAT", "json"),
		"Log format: json, text (env: ASERVER_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("ASERVER_DEBUG", false),
		"Enable debug mode (env: ASERVER_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ASERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: ASERVER_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	// Validate config file exists
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	// Validate log format
	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	// Validate ports
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Analysis Server

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom component configuration
  %s --config=/path/to/components.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export ASERVER_CONFIG=/etc/aserver/components.yaml
  export ASERVER_LOG_LEVEL=debug
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Command logcourier-agent is a runnable host for the log-courier
// engine: it resolves configuration, starts the engine as the
// process-wide log subscriber, exposes the Prometheus /metrics and
// JSON /health endpoints, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/scality/logcourier-engine/pkg/dispatch"
	"github.com/scality/logcourier-engine/pkg/engine"
	"github.com/scality/logcourier-engine/pkg/health"
	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
	"github.com/scality/logcourier-engine/pkg/template"
)

func main() {
	os.Exit(run())
}

// buildEngineConfig resolves an engine.Config from the loaded ConfigSpec.
func buildEngineConfig(logger *slog.Logger) (engine.Config, error) {
	minLevel, err := record.ParseLevel(engine.ConfigSpec.GetString("global.level"))
	if err != nil {
		return engine.Config{}, err
	}
	tmpl, err := template.Compile(engine.ConfigSpec.GetString("global.format"))
	if err != nil {
		return engine.Config{}, fmt.Errorf("global.format: %w", err)
	}

	var stderrLevels []record.Level
	for _, name := range engine.ConfigSpec.GetStringSlice("console.stderr-levels") {
		lvl, err := record.ParseLevel(name)
		if err != nil {
			return engine.Config{}, fmt.Errorf("console.stderr-levels: %w", err)
		}
		stderrLevels = append(stderrLevels, lvl)
	}

	cfg := engine.Config{
		MinLevel:       minLevel,
		Template:       tmpl,
		MaskingEnabled: engine.ConfigSpec.GetBool("global.masking-enabled"),
		Logger:         logger,

		ConsoleEnabled: engine.ConfigSpec.GetBool("console.enabled"),
		Console: sink.ConsoleConfig{
			Colored:      engine.ConfigSpec.GetBool("console.colored"),
			ColoredSet:   engine.ConfigSpec.GetBool("console.colored"),
			StderrLevels: stderrLevels,
		},

		FileEnabled: engine.ConfigSpec.GetBool("file.enabled"),
		File: sink.FileConfig{
			Path:             engine.ConfigSpec.GetString("file.path"),
			MaxSize:          engine.ConfigSpec.GetInt64("file.max-size"),
			RotationTime:     sink.RotationTime(engine.ConfigSpec.GetString("file.rotation-time")),
			Compress:         engine.ConfigSpec.GetBool("file.compress"),
			CompressionLevel: engine.ConfigSpec.GetInt("file.compression-level"),
			Encrypt:          engine.ConfigSpec.GetBool("file.encrypt"),
			EncryptionKeyEnv: engine.ConfigSpec.GetString("file.encryption-key-env"),
			RetentionDays:    engine.ConfigSpec.GetInt("file.retention-days"),
			MaxTotalSize:     engine.ConfigSpec.GetInt64("file.max-total-size"),
			CleanupInterval:  time.Duration(engine.ConfigSpec.GetInt("file.cleanup-interval-minutes")) * time.Minute,
			ArchiveDir:       engine.ConfigSpec.GetString("file.archive-dir"),
		},

		ArchiveEnabled: engine.ConfigSpec.GetBool("archive.enabled"),
		Archive: engine.ArchiveConfig{
			Endpoint:         engine.ConfigSpec.GetString("archive.endpoint"),
			Bucket:           engine.ConfigSpec.GetString("archive.bucket"),
			AccessKeyID:      engine.ConfigSpec.GetString("archive.access-key-id"),
			SecretAccessKey:  engine.ConfigSpec.GetString("archive.secret-access-key"),
			KeyPrefix:        engine.ConfigSpec.GetString("archive.key-prefix"),
			MaxRetryAttempts: engine.ConfigSpec.GetInt("archive.max-retry-attempts"),
			MaxBackoffDelay:  time.Duration(engine.ConfigSpec.GetInt("archive.max-backoff-delay-seconds")) * time.Second,
			MinScanInterval:  time.Duration(engine.ConfigSpec.GetInt("archive.min-scan-interval-seconds")) * time.Second,
			MaxScanInterval:  time.Duration(engine.ConfigSpec.GetInt("archive.max-scan-interval-seconds")) * time.Second,
		},

		DatabaseEnabled: engine.ConfigSpec.GetBool("database.enabled"),
		Database: sink.DatabaseConfig{
			Driver:        sink.DatabaseDriver(engine.ConfigSpec.GetString("database.driver")),
			URL:           engine.ConfigSpec.GetString("database.url"),
			PoolSize:      engine.ConfigSpec.GetInt("database.pool-size"),
			BatchSize:     engine.ConfigSpec.GetInt("database.batch-size"),
			FlushInterval: time.Duration(engine.ConfigSpec.GetInt("database.flush-interval-ms")) * time.Millisecond,
			TableName:     engine.ConfigSpec.GetString("database.table-name"),
		},

		ChannelCapacity: engine.ConfigSpec.GetInt("performance.channel-capacity"),
		Policy:          dispatch.PolicyBlockingBackpressure,
	}
	return cfg, nil
}

func waitForShutdown(logger *slog.Logger, signalsChan <-chan os.Signal, shutdownTimeout time.Duration) int {
	<-signalsChan
	logger.Info("signal received, shutting down")
	return 0
}

func run() int {
	engine.ConfigSpec.AddFlag(pflag.CommandLine, "log-level", "log-level")
	configFileFlag := pflag.String("config-file", "", "Path to configuration file")
	pflag.Parse()

	configFile := *configFileFlag
	if configFile == "" {
		configFile = os.Getenv("LOGCOURIER_CONFIG_FILE")
	}

	if err := engine.ConfigSpec.LoadConfiguration(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		pflag.Usage()
		return 2
	}
	if err := engine.ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation error: %v\n", err)
		return 2
	}

	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(engine.ConfigSpec.GetString("log-level"))); err != nil {
		slogLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))

	shutdownTimeout := time.Duration(engine.ConfigSpec.GetInt("shutdown-timeout-seconds")) * time.Second

	engineCfg, err := buildEngineConfig(logger)
	if err != nil {
		logger.Error("failed to build engine configuration", "error", err)
		return 2
	}

	e, err := engine.Start(engineCfg)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}
	defer func() {
		if shutdownErr := e.Shutdown(shutdownTimeout); shutdownErr != nil {
			logger.Error("engine shutdown error", "error", shutdownErr)
		}
	}()

	metricsServer, err := health.StartMetricsServer(health.MetricsServerConfig{
		Enabled:       engine.ConfigSpec.GetBool("metrics-server.enabled"),
		ListenAddress: engine.ConfigSpec.GetString("metrics-server.listen-address"),
		ListenPort:    engine.ConfigSpec.GetInt("metrics-server.listen-port"),
	}, e.Metrics(), logger)
	if err != nil {
		logger.Error("failed to start metrics server", "error", err)
		return 1
	}
	if metricsServer != nil {
		defer func() {
			if closeErr := metricsServer.Close(); closeErr != nil {
				logger.Error("failed to close metrics server", "error", closeErr)
			}
		}()
	}

	signalsChan := make(chan os.Signal, 1)
	signal.Notify(signalsChan, unix.SIGINT, unix.SIGTERM)

	exitCode := waitForShutdown(logger, signalsChan, shutdownTimeout)
	if exitCode == 0 {
		logger.Info("logcourier-agent stopped")
	}
	return exitCode
}

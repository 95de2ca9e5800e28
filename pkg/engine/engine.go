package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/scality/logcourier-engine/pkg/archive"
	"github.com/scality/logcourier-engine/pkg/breaker"
	"github.com/scality/logcourier-engine/pkg/dispatch"
	"github.com/scality/logcourier-engine/pkg/health"
	"github.com/scality/logcourier-engine/pkg/masking"
	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
	"github.com/scality/logcourier-engine/pkg/template"
)

const defaultShutdownTimeout = 30 * time.Second

// installed guards the process-wide-subscriber invariant:
// constructing a second engine in the same process is a configuration
// error. Teardown does not clear it — the engine is not re-installable
// within the same process lifetime.
var installed atomic.Bool

// Config is the fully-resolved engine configuration, built by the
// caller from ConfigSpec (or supplied directly by tests).
type Config struct {
	MinLevel       record.Level
	Template       *template.Compiled
	MaskingEnabled bool

	ConsoleEnabled bool
	Console        sink.ConsoleConfig

	FileEnabled bool
	File        sink.FileConfig

	DatabaseEnabled bool
	Database        sink.DatabaseConfig

	ChannelCapacity int
	Policy          dispatch.EnqueuePolicy

	// ArchiveEnabled turns on the archive uploader watching
	// File.ArchiveDir and shipping finished rotations to S3. It only
	// has an effect when FileEnabled and File.ArchiveDir are also set.
	ArchiveEnabled bool
	Archive        ArchiveConfig

	HealthPollInterval time.Duration
	Metrics            *health.Metrics
	Logger             *slog.Logger
}

// ArchiveConfig configures the archive uploader.
type ArchiveConfig struct {
	Endpoint         string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	KeyPrefix        string
	MaxRetryAttempts int
	MaxBackoffDelay  time.Duration
	MinScanInterval  time.Duration
	MaxScanInterval  time.Duration
}

// Engine is the running, process-wide instance produced by Start. It
// implements the start/shutdown/recover contract.
type Engine struct {
	minLevel   record.Level
	masker     *masking.Masker
	dispatcher *dispatch.Dispatcher
	controller *health.Controller
	metrics    *health.Metrics
	logger     *slog.Logger

	closed atomic.Bool

	fileSink       *sink.FileSink
	dbSink         *sink.DatabaseSink
	archiveWatcher *archive.Watcher
	archiveCancel  context.CancelFunc
}

// Start validates config, constructs the enabled sinks, launches the
// dispatch workers and the health controller, and installs the
// returned Engine as the process-wide subscriber. Only one Engine may
// exist per process; a second Start call fails.
func Start(cfg Config) (*Engine, error) {
	if !installed.CompareAndSwap(false, true) {
		return nil, ConfigError(fmt.Errorf("an engine is already installed in this process"))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = health.NewMetrics()
	}

	tmpl := cfg.Template
	if tmpl == nil {
		tmpl = template.Default()
	}

	e := &Engine{
		minLevel: cfg.MinLevel,
		metrics:  metrics,
		logger:   logger,
	}
	if cfg.MaskingEnabled {
		e.masker = masking.New(masking.DefaultRules())
	}

	cc := cfg.Console
	if cc.Template == nil {
		cc.Template = tmpl
	}
	fallbackConsole := sink.NewConsoleSink(cc)

	var console sink.Sink
	if cfg.ConsoleEnabled {
		console = fallbackConsole
	}

	sinks := make(map[string]sink.Sink)
	factories := make(map[string]dispatch.SinkFactory)
	var healthEntries []health.SinkEntry

	if cfg.FileEnabled {
		fc := cfg.File
		if fc.Template == nil {
			fc.Template = tmpl
		}
		if fc.Fallback == nil {
			fc.Fallback = fallbackConsole
		}
		if fc.Breaker == nil {
			fc.Breaker = breaker.New(breaker.Config{Name: "file"})
		}
		if fc.Logger == nil {
			fc.Logger = logger
		}
		fs, err := sink.NewFileSink(fc)
		if err != nil {
			installed.Store(false)
			return nil, IoError(err)
		}
		e.fileSink = fs
		sinks["file"] = fs
		factories["file"] = func() (sink.Sink, error) { return sink.NewFileSink(fc) }
		healthEntries = append(healthEntries, health.SinkEntry{Name: "file", Probe: fs, ResetTimeout: 30 * time.Second})

		if cfg.ArchiveEnabled && fc.ArchiveDir != "" {
			client, err := archive.NewClient(context.Background(), archive.ClientConfig{
				Endpoint:         cfg.Archive.Endpoint,
				Bucket:           cfg.Archive.Bucket,
				AccessKeyID:      cfg.Archive.AccessKeyID,
				SecretAccessKey:  cfg.Archive.SecretAccessKey,
				MaxRetryAttempts: cfg.Archive.MaxRetryAttempts,
				MaxBackoffDelay:  cfg.Archive.MaxBackoffDelay,
			})
			if err != nil {
				installed.Store(false)
				return nil, IoError(err)
			}
			archiveCtx, cancel := context.WithCancel(context.Background())
			e.archiveCancel = cancel
			e.archiveWatcher = archive.NewWatcher(archive.WatcherConfig{
				Dir:             fc.ArchiveDir,
				MinScanInterval: cfg.Archive.MinScanInterval,
				MaxScanInterval: cfg.Archive.MaxScanInterval,
				Uploader:        archive.NewUploader(client, cfg.Archive.KeyPrefix),
				Logger:          logger,
			})
			go e.archiveWatcher.Run(archiveCtx)
		}
	}

	if cfg.DatabaseEnabled {
		dc := cfg.Database
		if dc.Breaker == nil {
			dc.Breaker = breaker.New(breaker.Config{Name: "database"})
		}
		if dc.Logger == nil {
			dc.Logger = logger
		}
		ds, err := sink.NewDatabaseSink(context.Background(), dc)
		if err != nil {
			installed.Store(false)
			return nil, DatabaseError(err)
		}
		e.dbSink = ds
		sinks["database"] = ds
		factories["database"] = func() (sink.Sink, error) { return sink.NewDatabaseSink(context.Background(), dc) }
		healthEntries = append(healthEntries, health.SinkEntry{Name: "database", Probe: ds, ResetTimeout: 30 * time.Second})
	}

	disp, err := dispatch.New(dispatch.Config{
		ChannelCapacity: cfg.ChannelCapacity,
		Policy:          cfg.Policy,
	}, console, sinks, factories, metrics, logger)
	if err != nil {
		installed.Store(false)
		return nil, ChannelError(err)
	}
	e.dispatcher = disp

	if len(healthEntries) > 0 {
		e.controller = health.NewController(health.ControllerConfig{
			Sinks:        healthEntries,
			Metrics:      metrics,
			PollInterval: cfg.HealthPollInterval,
			Recover:      e.Recover,
			Logger:       logger,
		})
		go e.controller.Run()
	}

	return e, nil
}

// Emit is the subscriber entry point: it masks the record (if enabled)
// and hands it to the dispatch queue. It is infallible from the
// caller's perspective — an engine that has begun
// shutdown silently drops the record and counts it.
func (e *Engine) Emit(r record.LogRecord) {
	if r.Level < e.minLevel {
		return
	}
	if e.closed.Load() {
		e.metrics.ObserveDrop()
		return
	}
	if e.masker != nil {
		r = e.masker.Apply(r)
	}
	e.dispatcher.Enqueue(r)
}

// Recover sends a control message re-initializing a single named sink.
// The sink is rebuilt from configuration whether or not it is currently
// healthy; an unknown name is ignored, and a request made while another
// is still pending for the same sink is dropped.
func (e *Engine) Recover(sinkName string) {
	e.dispatcher.Recover(sinkName)
}

// Metrics returns the engine's metrics registry, for wiring an
// operator-facing /health or /metrics HTTP endpoint.
func (e *Engine) Metrics() *health.Metrics {
	return e.metrics
}

// Shutdown implements the shutdown protocol: it stops
// admitting new records, then drains and joins every worker up to
// deadline (default 30s). Idempotent.
func (e *Engine) Shutdown(deadline time.Duration) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if deadline <= 0 {
		deadline = defaultShutdownTimeout
	}

	if e.controller != nil {
		e.controller.Stop()
	}
	if e.archiveWatcher != nil {
		e.archiveWatcher.Stop()
		e.archiveCancel()
	}
	if err := e.dispatcher.Shutdown(deadline); err != nil {
		return ShutdownError(err)
	}
	return nil
}

// resetForTest clears the process-wide install guard. Test-only.
func resetForTest() {
	installed.Store(false)
}

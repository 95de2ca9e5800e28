package archive

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"
)

const defaultJitterFactor = 0.2

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Dir is scanned for files to upload — the archive_pending
	// directory a FileSink moves fully post-processed rotations into.
	Dir string
	// MinScanInterval is used right after a scan that found work.
	MinScanInterval time.Duration
	// MaxScanInterval is used after a scan that found nothing, to avoid
	// hammering an empty directory.
	MaxScanInterval time.Duration
	JitterFactor    float64
	Uploader        *Uploader
	Logger          *slog.Logger
}

// Watcher periodically drains WatcherConfig.Dir, uploading and then
// deleting each file it finds. It never blocks the file sink: rotated
// files are handed off once, by rename, before this loop ever sees them.
type Watcher struct {
	cfg    WatcherConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher constructs a Watcher. Call Run in its own goroutine.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.MinScanInterval <= 0 {
		cfg.MinScanInterval = 10 * time.Second
	}
	if cfg.MaxScanInterval <= 0 {
		cfg.MaxScanInterval = 60 * time.Second
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = defaultJitterFactor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Run blocks, scanning cfg.Dir until Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		uploaded := w.scanOnce(ctx)

		interval := w.cfg.MaxScanInterval
		if uploaded > 0 {
			interval = w.cfg.MinScanInterval
		}
		interval = applyJitter(interval, w.cfg.JitterFactor)

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) scanOnce(ctx context.Context) int {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.cfg.Logger.Error("archive: failed to scan directory", "dir", w.cfg.Dir, "error", err)
		}
		return 0
	}

	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		if err := w.cfg.Uploader.UploadFile(ctx, path); err != nil {
			w.cfg.Logger.Error("archive: upload failed, will retry next scan", "file", path, "error", err)
			continue
		}
		if err := os.Remove(path); err != nil {
			w.cfg.Logger.Error("archive: uploaded but failed to remove local file", "file", path, "error", err)
			continue
		}
		uploaded++
	}
	return uploaded
}

// applyJitter randomizes duration by +/- jitterFactor, so many agents
// scanning on the same schedule don't all hit the object store at once.
func applyJitter(duration time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return duration
	}
	multiplier := 1.0 + (rand.Float64()*2.0-1.0)*jitterFactor
	return time.Duration(float64(duration) * multiplier)
}

package sink

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/scality/logcourier-engine/pkg/breaker"
	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/template"
)

// RotationTime names the supported time-based rotation cadences.
type RotationTime string

const (
	RotationNone   RotationTime = ""
	RotationHourly RotationTime = "hourly"
	RotationDaily  RotationTime = "daily"
	RotationWeekly RotationTime = "weekly"

	defaultRetentionDays    = 30
	defaultMaxTotalSize     = 1 << 30 // 1 GiB
	defaultCleanupInterval  = 60 * time.Minute
	defaultCompressionLevel = 3
	minFreeSpaceFloor       = 100 * 1024 * 1024 // 100 MB
	minFreeSpaceFraction    = 0.05
)

// ErrFallback wraps the underlying cause when a write was rejected by
// the primary sink and routed to the fallback console sink instead. It
// is not a hard failure: the record was not lost, only re-routed.
var ErrFallback = errors.New("sink: routed to fallback")

// FileConfig configures a FileSink.
type FileConfig struct {
	Path             string
	MaxSize          int64
	RotationTime     RotationTime
	Compress         bool
	CompressionLevel int
	Encrypt          bool
	EncryptionKeyEnv string
	RetentionDays    int
	MaxTotalSize     int64
	CleanupInterval  time.Duration
	// ArchiveDir, if set, is where every fully post-processed rotated
	// file is moved once compression/encryption have run — the handoff
	// point for an external archive uploader.
	ArchiveDir string
	Template   *template.Compiled
	Breaker    *breaker.Breaker
	Fallback   Sink
	Logger     *slog.Logger
}

// FileSink appends rendered records to a rotating log file. All mutable
// state below is owned exclusively by the worker goroutine driving this
// sink; no other goroutine may touch it, per the
// FileSinkState invariant.
type FileSink struct {
	cfg  FileConfig
	tmpl *template.Compiled

	dir, stem, ext string

	file   *os.File
	writer *bufio.Writer
	size   int64

	nextBoundary time.Time
	lastCleanup  time.Time

	key []byte

	br       *breaker.Breaker
	fallback Sink
	logger   *slog.Logger

	lastSuccessMu sync.Mutex
	lastSuccess   time.Time

	lastErrMu sync.Mutex
	lastErr   error
}

// NewFileSink opens (creating if needed) the active file at cfg.Path
// and prepares rotation/retention state.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink: path is required")
	}
	tmpl := cfg.Template
	if tmpl == nil {
		tmpl = template.Default()
	}

	dir := filepath.Dir(cfg.Path)
	ext := filepath.Ext(cfg.Path)
	stem := strings.TrimSuffix(filepath.Base(cfg.Path), ext)

	br := cfg.Breaker
	if br == nil {
		br = breaker.New(breaker.Config{Name: "file"})
	}

	var key []byte
	if cfg.Encrypt {
		k, err := loadEncryptionKey(cfg.EncryptionKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("file sink: %w", err)
		}
		key = k
	}

	f := &FileSink{
		cfg:      cfg,
		tmpl:     tmpl,
		dir:      dir,
		stem:     stem,
		ext:      ext,
		br:       br,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
		key:      key,
	}

	if err := f.openActive(); err != nil {
		return nil, err
	}
	f.nextBoundary = nextBoundary(time.Now().UTC(), cfg.RotationTime)
	f.lastCleanup = time.Now()

	return f, nil
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) openActive() error {
	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return fmt.Errorf("file sink: mkdir: %w", err)
	}
	file, err := os.OpenFile(f.cfg.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("file sink: open: %w", err)
	}
	if err := file.Chmod(0o600); err != nil {
		file.Close()
		return fmt.Errorf("file sink: chmod: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("file sink: stat: %w", err)
	}

	f.file = file
	f.writer = bufio.NewWriter(file)
	f.size = info.Size()
	return nil
}

// Write renders r, writes it through the circuit breaker, and evaluates
// rotation triggers. When the write fails or the breaker is Open it
// routes r to the fallback sink (if one is configured) and returns
// ErrFallback wrapping the original cause.
func (f *FileSink) Write(r record.LogRecord) error {
	err := f.br.Execute(func() error {
		return f.writeLine(r)
	})
	if err != nil {
		return f.routeToFallback(r, err)
	}

	f.lastSuccessMu.Lock()
	f.lastSuccess = time.Now()
	f.lastSuccessMu.Unlock()

	if rotateErr := f.maybeRotate(); rotateErr != nil {
		f.logInternalError("rotation failed", rotateErr)
	}
	if cleanupErr := f.maybeCleanup(); cleanupErr != nil {
		f.logInternalError("retention sweep failed", cleanupErr)
	}
	return nil
}

func (f *FileSink) routeToFallback(r record.LogRecord, cause error) error {
	f.lastErrMu.Lock()
	f.lastErr = cause
	f.lastErrMu.Unlock()

	if f.fallback != nil {
		if fbErr := f.fallback.Write(r); fbErr != nil {
			return fmt.Errorf("%w: %w (fallback also failed: %v)", ErrFallback, cause, fbErr)
		}
	}
	return fmt.Errorf("%w: %w", ErrFallback, cause)
}

func (f *FileSink) writeLine(r record.LogRecord) error {
	if err := f.checkDiskSpace(); err != nil {
		return err
	}

	line := f.tmpl.Render(r) + "\n"
	n, err := f.writer.WriteString(line)
	f.size += int64(n)
	if err != nil {
		return fmt.Errorf("file sink write: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("file sink flush: %w", err)
	}
	return nil
}

// statfs is a package-level indirection over unix.Statfs so tests can
// substitute a fake filesystem-usage response without touching the
// real disk.
var statfs = unix.Statfs

func (f *FileSink) checkDiskSpace() error {
	var st unix.Statfs_t
	if err := statfs(f.dir, &st); err != nil {
		return nil // best-effort: cannot determine, don't block writes on it
	}
	available := st.Bavail * uint64(st.Bsize)
	total := st.Blocks * uint64(st.Bsize)
	threshold := uint64(minFreeSpaceFloor)
	if fraction := uint64(float64(total) * minFreeSpaceFraction); fraction < threshold {
		threshold = fraction
	}
	if available < threshold {
		return fmt.Errorf("file sink: available disk space %d bytes below threshold %d", available, threshold)
	}
	return nil
}

// maybeRotate checks the size and time triggers and rotates if either
// fires. Rotations are inherently serialized: Write is only ever called
// by the owning worker goroutine.
func (f *FileSink) maybeRotate() error {
	sizeTrigger := f.cfg.MaxSize > 0 && f.size >= f.cfg.MaxSize
	timeTrigger := f.cfg.RotationTime != RotationNone && !f.nextBoundary.IsZero() && !time.Now().UTC().Before(f.nextBoundary)

	if !sizeTrigger && !timeTrigger {
		return nil
	}
	return f.rotate()
}

func (f *FileSink) rotate() error {
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("rotate: flush: %w", err)
	}
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("rotate: close: %w", err)
	}

	rotatedName := fmt.Sprintf("%s_%s%s", f.stem, time.Now().UTC().Format("20060102_150405"), f.ext)
	rotatedPath := filepath.Join(f.dir, rotatedName)
	if err := os.Rename(f.cfg.Path, rotatedPath); err != nil {
		return fmt.Errorf("rotate: rename: %w", err)
	}

	if err := f.openActive(); err != nil {
		return fmt.Errorf("rotate: reopen: %w", err)
	}
	f.nextBoundary = nextBoundary(time.Now().UTC(), f.cfg.RotationTime)

	go f.postProcess(rotatedPath)
	return nil
}

// postProcess compresses then encrypts a rotated file, best-effort:
// failures are logged through the sink's Logger (nothing is logged when
// it is nil; no separate error.log is written) but never propagate to the active
// write path (post-processing is allowed to run in parallel
// with writes to the new active file).
func (f *FileSink) postProcess(path string) {
	current := path

	if f.cfg.Compress {
		level := f.cfg.CompressionLevel
		if level <= 0 {
			level = defaultCompressionLevel
		}
		dst := current + ".zst"
		if err := compressFile(current, dst, level); err != nil {
			f.logInternalError("compression failed", err)
			return
		}
		current = dst
	}

	if f.cfg.Encrypt {
		dst := current + ".enc"
		if err := encryptFile(current, dst, f.key); err != nil {
			f.logInternalError("encryption failed", err)
			return
		}
		current = dst
	}

	if f.cfg.ArchiveDir != "" {
		if err := os.MkdirAll(f.cfg.ArchiveDir, 0o750); err != nil {
			f.logInternalError("archive_pending mkdir failed", err)
			return
		}
		dst := filepath.Join(f.cfg.ArchiveDir, filepath.Base(current))
		if err := os.Rename(current, dst); err != nil {
			f.logInternalError("move to archive_pending failed", err)
		}
	}
}

func (f *FileSink) maybeCleanup() error {
	if time.Since(f.lastCleanup) < f.cleanupInterval() {
		return nil
	}
	return f.runCleanup()
}

func (f *FileSink) cleanupInterval() time.Duration {
	if f.cfg.CleanupInterval > 0 {
		return f.cfg.CleanupInterval
	}
	return defaultCleanupInterval
}

func (f *FileSink) runCleanup() error {
	retentionDays := f.cfg.RetentionDays
	if retentionDays == 0 {
		retentionDays = defaultRetentionDays
	}
	maxTotal := f.cfg.MaxTotalSize
	if maxTotal == 0 {
		maxTotal = defaultMaxTotalSize
	}

	removed, err := applyRetention(f.dir, f.stem, f.ext, f.cfg.Path, retentionDays, maxTotal, time.Now())
	f.lastCleanup = time.Now()
	if err != nil {
		return err
	}
	if len(removed) > 0 && f.logger != nil {
		f.logger.Info("retention removed rotated log files", "count", len(removed))
	}
	return nil
}

func (f *FileSink) logInternalError(msg string, err error) {
	if f.logger != nil {
		f.logger.Error(msg, "error", err, "sink", "file")
	}
}

// Flush flushes the buffered writer without rotating.
func (f *FileSink) Flush() error {
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("file sink flush: %w", err)
	}
	return nil
}

// Close flushes, closes the active file, and zeroes the encryption key.
func (f *FileSink) Close() error {
	err := f.Flush()
	if closeErr := f.file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("file sink close: %w", closeErr)
	}
	if f.key != nil {
		zeroKey(f.key)
	}
	return err
}

// Breaker exposes the sink's circuit breaker for the health controller.
func (f *FileSink) Breaker() *breaker.Breaker { return f.br }

// LastSuccess reports the timestamp of the last successful write, for
// the health controller's stalled-sink detection.
func (f *FileSink) LastSuccess() time.Time {
	f.lastSuccessMu.Lock()
	defer f.lastSuccessMu.Unlock()
	return f.lastSuccess
}

// LastError reports the cause of the most recent write failure, for the
// health controller's Unhealthy reporting.
func (f *FileSink) LastError() error {
	f.lastErrMu.Lock()
	defer f.lastErrMu.Unlock()
	return f.lastErr
}

// nextBoundary computes the next rotation boundary strictly after now,
// pre-computed so a drifting wall clock cannot cause repeat rotations.
func nextBoundary(now time.Time, mode RotationTime) time.Time {
	switch mode {
	case RotationHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case RotationDaily:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case RotationWeekly:
		y, m, d := now.Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		daysUntilSunday := (7 - int(midnight.Weekday())) % 7
		next := midnight.AddDate(0, 0, daysUntilSunday)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	default:
		return time.Time{}
	}
}

package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/scality/logcourier-engine/pkg/breaker"
	"github.com/scality/logcourier-engine/pkg/record"
)

// DatabaseDriver names one of the three supported SQL backends.
type DatabaseDriver string

const (
	DriverPostgres DatabaseDriver = "postgres"
	DriverMySQL    DatabaseDriver = "mysql"
	DriverSQLite   DatabaseDriver = "sqlite"

	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
	defaultConnectTO     = 5 * time.Second
)

// DatabaseConfig configures a DatabaseSink.
type DatabaseConfig struct {
	Driver         DatabaseDriver
	URL            string
	PoolSize       int
	BatchSize      int
	FlushInterval  time.Duration
	TableName      string
	FallbackPath   string
	ConnectTimeout time.Duration
	Breaker        *breaker.Breaker
	Logger         *slog.Logger
}

// DatabaseSink batches LogRecord values into multi-row inserts against
// a relational store. All state below is owned exclusively by the
// worker goroutine driving this sink.
type DatabaseSink struct {
	cfg    DatabaseConfig
	driver DatabaseDriver
	db     *sql.DB
	table  string

	buffer    []record.LogRecord
	lastFlush time.Time

	schemaReady     bool
	knownPartitions map[string]bool

	br     *breaker.Breaker
	logger *slog.Logger

	lastSuccessMu sync.Mutex
	lastSuccess   time.Time

	lastErrMu sync.Mutex
	lastErr   error
}

// NewDatabaseSink validates configuration and opens the connection
// pool. sql.Open never dials the database; it only validates the
// driver name and DSN string, so construction succeeds even when the
// database is unreachable. The schema is created lazily by the first
// flush, through the same circuit breaker that guards every other
// database operation — see ensureSchema.
func NewDatabaseSink(ctx context.Context, cfg DatabaseConfig) (*DatabaseSink, error) {
	table := cfg.TableName
	if table == "" {
		table = "logs"
	}
	if !validTableName(table) {
		return nil, fmt.Errorf("database sink: invalid table name %q", table)
	}

	sqlDriver, err := sqlDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("database sink: open: %w", err)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}

	br := cfg.Breaker
	if br == nil {
		br = breaker.New(breaker.Config{Name: "database"})
	}

	return &DatabaseSink{
		cfg:             cfg,
		driver:          cfg.Driver,
		db:              db,
		table:           table,
		lastFlush:       time.Now(),
		knownPartitions: make(map[string]bool),
		br:              br,
		logger:          cfg.Logger,
	}, nil
}

func (d *DatabaseSink) Name() string { return "database" }

func sqlDriverName(d DatabaseDriver) (string, error) {
	switch d {
	case DriverPostgres:
		return "postgres", nil
	case DriverMySQL:
		return "mysql", nil
	case DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("database sink: unsupported driver %q", d)
	}
}

func (d *DatabaseSink) batchSize() int {
	size := d.cfg.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	if d.br.IsHalfOpen() {
		size /= 2
		if size < 1 {
			size = 1
		}
	}
	return size
}

func (d *DatabaseSink) flushInterval() time.Duration {
	if d.cfg.FlushInterval > 0 {
		return d.cfg.FlushInterval
	}
	return defaultFlushInterval
}

// Write buffers r and flushes immediately if the batch-size trigger
// fires. The flush_interval trigger is enforced by Flush, which the
// dispatch worker calls on its periodic flush tick.
func (d *DatabaseSink) Write(r record.LogRecord) error {
	d.buffer = append(d.buffer, r)
	if len(d.buffer) >= d.batchSize() {
		return d.doFlush()
	}
	return nil
}

// Flush enforces the time trigger: a non-empty buffer older than
// flush_interval is flushed. Called periodically by the dispatch
// worker and unconditionally during shutdown drain.
func (d *DatabaseSink) Flush() error {
	if len(d.buffer) == 0 {
		return nil
	}
	if time.Since(d.lastFlush) < d.flushInterval() {
		return nil
	}
	return d.doFlush()
}

func (d *DatabaseSink) doFlush() error {
	batch := d.buffer
	d.buffer = nil
	d.lastFlush = time.Now()

	err := d.br.Execute(func() error {
		return d.insertBatch(context.Background(), batch)
	})
	if err != nil {
		d.lastErrMu.Lock()
		d.lastErr = err
		d.lastErrMu.Unlock()

		if fbErr := d.appendFallback(batch); fbErr != nil {
			return fmt.Errorf("database sink: flush failed (%w) and fallback write failed: %w", err, fbErr)
		}
		return fmt.Errorf("%w: %w", ErrFallback, err)
	}

	d.lastSuccessMu.Lock()
	d.lastSuccess = time.Now()
	d.lastSuccessMu.Unlock()
	return nil
}

// ensureSchema creates the destination table on first use. Deferring
// this past construction means NewDatabaseSink never fails just
// because the database happens to be unreachable at startup; the
// failure surfaces here instead, inside the same breaker that guards
// every other database operation, and routes to the fallback log like
// any other flush failure.
func (d *DatabaseSink) ensureSchema(ctx context.Context) error {
	if d.schemaReady {
		return nil
	}
	timeout := d.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTO
	}
	schemaCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := d.db.ExecContext(schemaCtx, createTableSQL(d.driver, d.table)); err != nil {
		return fmt.Errorf("database sink: create schema: %w", err)
	}
	d.schemaReady = true
	return nil
}

func (d *DatabaseSink) insertBatch(ctx context.Context, batch []record.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}

	if err := d.ensureSchema(ctx); err != nil {
		return err
	}

	if d.driver == DriverPostgres {
		for _, r := range batch {
			if err := d.ensurePartition(ctx, r.Timestamp); err != nil {
				return err
			}
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database sink: begin tx: %w", err)
	}

	query, args, err := d.buildInsert(batch)
	if err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("database sink: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database sink: commit: %w", err)
	}
	return nil
}

func (d *DatabaseSink) buildInsert(batch []record.LogRecord) (string, []any, error) {
	const columns = "timestamp, level, target, message, fields, file, line, thread_id"
	cols := 8

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", d.table, columns)

	args := make([]any, 0, len(batch)*cols)
	for i, r := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return "", nil, fmt.Errorf("database sink: marshal fields: %w", err)
		}

		var file any
		var line any
		if r.File != "" {
			file = r.File
		}
		if r.HasLine {
			line = int(r.Line)
		}

		sb.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.placeholder(len(args) + 1))
		}
		sb.WriteString(")")

		args = append(args, r.Timestamp, r.Level.String(), r.Target, r.Message, string(fieldsJSON), file, line, r.ThreadID)
	}

	return sb.String(), args, nil
}

func (d *DatabaseSink) placeholder(n int) string {
	if d.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// ensurePartition creates the monthly partition for ts's month if it is
// not already known to this process. The check runs
// at most once per month per process thanks to knownPartitions.
func (d *DatabaseSink) ensurePartition(ctx context.Context, ts time.Time) error {
	name := fmt.Sprintf("logs_%04d_%02d", ts.Year(), int(ts.Month()))
	if d.knownPartitions[name] {
		return nil
	}
	if !validPartitionName(name) {
		return fmt.Errorf("database sink: invalid partition name %q", name)
	}

	monthStart := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		name, d.table, monthStart.Format("2006-01-02"), monthEnd.Format("2006-01-02"),
	)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("database sink: create partition %s: %w", name, err)
	}
	d.knownPartitions[name] = true
	return nil
}

// appendFallback writes batch as newline-delimited JSON to
// db_fallback.log so no record is silently lost while the database is
// down. Replay is explicitly out of scope.
func (d *DatabaseSink) appendFallback(batch []record.LogRecord) error {
	path := d.cfg.FallbackPath
	if path == "" {
		path = "db_fallback.log"
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open fallback: %w", err)
	}
	defer f.Close()

	for _, r := range batch {
		line, err := json.Marshal(fallbackRecord{
			Timestamp: r.Timestamp,
			Level:     r.Level.String(),
			Target:    r.Target,
			Message:   r.Message,
			Fields:    r.Fields,
			File:      r.File,
			Line:      r.Line,
			HasLine:   r.HasLine,
			ThreadID:  r.ThreadID,
		})
		if err != nil {
			return fmt.Errorf("marshal fallback record: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write fallback record: %w", err)
		}
	}
	return nil
}

type fallbackRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Target    string         `json:"target"`
	Message   string         `json:"message"`
	Fields    record.Fields  `json:"fields,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      uint32         `json:"line,omitempty"`
	HasLine   bool           `json:"has_line"`
	ThreadID  string         `json:"thread_id"`
}

// Close flushes any pending records and closes the connection pool.
func (d *DatabaseSink) Close() error {
	var err error
	if len(d.buffer) > 0 {
		err = d.doFlush()
	}
	if closeErr := d.db.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("database sink close: %w", closeErr)
	}
	return err
}

// Breaker exposes the sink's circuit breaker for the health controller.
func (d *DatabaseSink) Breaker() *breaker.Breaker { return d.br }

// LastSuccess reports the timestamp of the last successful batch flush.
func (d *DatabaseSink) LastSuccess() time.Time {
	d.lastSuccessMu.Lock()
	defer d.lastSuccessMu.Unlock()
	return d.lastSuccess
}

// LastError reports the cause of the most recent flush failure, for the
// health controller's Unhealthy reporting.
func (d *DatabaseSink) LastError() error {
	d.lastErrMu.Lock()
	defer d.lastErrMu.Unlock()
	return d.lastErr
}

func createTableSQL(driver DatabaseDriver, table string) string {
	switch driver {
	case DriverPostgres:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL,
	timestamp TIMESTAMPTZ NOT NULL,
	level VARCHAR(16) NOT NULL,
	target VARCHAR(255) NOT NULL,
	message TEXT NOT NULL,
	fields JSONB,
	file VARCHAR(512),
	line INT,
	thread_id VARCHAR(100) NOT NULL
) PARTITION BY RANGE (timestamp)`, table)
	case DriverMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	timestamp DATETIME(3) NOT NULL,
	level VARCHAR(16) NOT NULL,
	target VARCHAR(255) NOT NULL,
	message TEXT NOT NULL,
	fields JSON,
	file VARCHAR(512),
	line INT,
	thread_id VARCHAR(100) NOT NULL,
	INDEX (timestamp),
	INDEX (level)
)`, table)
	default: // sqlite
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	target TEXT NOT NULL,
	message TEXT NOT NULL,
	fields TEXT,
	file TEXT,
	line INTEGER,
	thread_id TEXT NOT NULL
)`, table)
	}
}

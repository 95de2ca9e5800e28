package engine

import (
	"fmt"

	"github.com/scality/logcourier-engine/pkg/config"
	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
)

// ConfigSpec is the process-wide declarative configuration surface,
// covering every option the engine understands.
var ConfigSpec = config.New(map[string]config.VarSpec{
	"log-level": {DefaultValue: "info", EnvVar: "LOGCOURIER_LOG_LEVEL", Help: "engine's own diagnostic log level"},

	"global.level":           {DefaultValue: "info", Help: "minimum level admitted; records below are dropped at the subscriber"},
	"global.format":          {DefaultValue: "[{timestamp}] {level:>5} {target} - {message}", Help: "template string for rendering"},
	"global.masking-enabled": {DefaultValue: true, Help: "toggles field/message masking"},

	"console.enabled":       {DefaultValue: true, Help: "enable the console sink"},
	"console.colored":       {DefaultValue: false, Help: "force-enable ANSI coloring regardless of TTY detection"},
	"console.stderr-levels": {DefaultValue: []string{"WARN", "ERROR"}, Help: "levels routed to stderr instead of stdout"},

	"file.enabled":                    {DefaultValue: false, Help: "enable the file sink"},
	"file.path":                       {DefaultValue: "./logcourier.log", Help: "active log file path"},
	"file.max-size": {
		DefaultValue: "100MB",
		Help:         "size trigger for rotation, human-readable (100MB, 1GB)",
		ParseFunc:    func(v any) (any, error) { return config.ParseSize(fmt.Sprint(v)) },
	},
	"file.rotation-time":              {DefaultValue: "", Help: "one of hourly/daily/weekly, empty disables time rotation"},
	"file.compress":                   {DefaultValue: false, Help: "compress rotated files with Zstd"},
	"file.compression-level":          {DefaultValue: 3, Help: "Zstd compression level, 1-22"},
	"file.encrypt":                    {DefaultValue: false, Help: "encrypt rotated files with AES-256-GCM"},
	"file.encryption-key-env":         {DefaultValue: "", Help: "environment variable holding the AES-256 key"},
	"file.retention-days":             {DefaultValue: 30, Help: "drop rotated files older than this many days"},
	"file.max-total-size": {
		DefaultValue: "1GB",
		Help:         "drop oldest rotated files while directory total exceeds this",
		ParseFunc:    func(v any) (any, error) { return config.ParseSize(fmt.Sprint(v)) },
	},
	"file.cleanup-interval-minutes": {DefaultValue: 60, Help: "how often to run the retention sweep"},
	"file.archive-dir":              {DefaultValue: "", Help: "if set, fully post-processed rotations are moved here for the archive uploader"},

	"archive.enabled":                   {DefaultValue: false, Help: "enable the S3 archive uploader over file.archive-dir"},
	"archive.endpoint":                  {DefaultValue: "", Help: "S3-compatible endpoint URL, empty uses AWS defaults"},
	"archive.bucket":                    {DefaultValue: "", Help: "destination bucket"},
	"archive.access-key-id":             {DefaultValue: "", EnvVar: "LOGCOURIER_ARCHIVE_ACCESS_KEY_ID", Help: "S3 access key ID"},
	"archive.secret-access-key":         {DefaultValue: "", EnvVar: "LOGCOURIER_ARCHIVE_SECRET_ACCESS_KEY", Help: "S3 secret access key"},
	"archive.key-prefix":                {DefaultValue: "", Help: "prefix prepended to every uploaded object key"},
	"archive.max-retry-attempts":        {DefaultValue: 3, Help: "maximum PutObject retry attempts"},
	"archive.max-backoff-delay-seconds": {DefaultValue: 20, Help: "cap on retry backoff delay"},
	"archive.min-scan-interval-seconds": {DefaultValue: 10, Help: "poll interval used right after a scan finds work"},
	"archive.max-scan-interval-seconds": {DefaultValue: 60, Help: "poll interval used after a scan finds nothing"},

	"database.enabled":           {DefaultValue: false, Help: "enable the database sink"},
	"database.driver":            {DefaultValue: "sqlite", Help: "one of postgres/mysql/sqlite"},
	"database.url":               {DefaultValue: "", Help: "driver-specific connection string"},
	"database.pool-size":         {DefaultValue: 4, Help: "maximum open connections"},
	"database.batch-size":        {DefaultValue: 100, Help: "records per insert batch"},
	"database.flush-interval-ms": {DefaultValue: 500, Help: "milliseconds between time-triggered flushes"},
	"database.table-name":        {DefaultValue: "logs", Help: "destination table name"},

	"performance.channel-capacity": {DefaultValue: 10000, Help: "bounded queue capacity per sink worker"},
	"performance.worker-threads":   {DefaultValue: 0, Help: "reserved; worker count is derived from enabled sinks"},

	"metrics-server.enabled":        {DefaultValue: false, Help: "expose Prometheus metrics over HTTP"},
	"metrics-server.listen-address": {DefaultValue: "127.0.0.1", Help: "metrics HTTP listen address"},
	"metrics-server.listen-port":    {DefaultValue: 9090, Help: "metrics HTTP listen port"},

	"shutdown-timeout-seconds": {DefaultValue: 30, Help: "deadline for graceful shutdown"},
})

// ValidateConfig fails fast on the invalid configurations that would
// otherwise surface much later: unknown log level, zero file.max-size,
// encryption enabled with no key env name, unknown database driver,
// non-positive channel capacity, and incomplete archive settings.
// Unparseable size strings are already rejected by the ParseFunc of the
// size options during LoadConfiguration.
func ValidateConfig() error {
	if _, err := record.ParseLevel(ConfigSpec.GetString("global.level")); err != nil {
		return ConfigError(fmt.Errorf("global.level: %w", err))
	}

	if ConfigSpec.GetBool("file.enabled") {
		if ConfigSpec.GetInt64("file.max-size") == 0 {
			return ConfigError(fmt.Errorf("file.max-size must be non-zero when the file sink is enabled"))
		}
		if ConfigSpec.GetBool("file.encrypt") && ConfigSpec.GetString("file.encryption-key-env") == "" {
			return ConfigError(fmt.Errorf("file.encryption-key-env is required when file.encrypt is true"))
		}
	}

	if ConfigSpec.GetBool("database.enabled") {
		switch ConfigSpec.GetString("database.driver") {
		case string(sink.DriverPostgres), string(sink.DriverMySQL), string(sink.DriverSQLite):
		default:
			return ConfigError(fmt.Errorf("database.driver must be one of postgres/mysql/sqlite"))
		}
	}

	if ConfigSpec.GetInt("performance.channel-capacity") <= 0 {
		return ConfigError(fmt.Errorf("performance.channel-capacity must be > 0"))
	}

	if ConfigSpec.GetBool("archive.enabled") {
		if ConfigSpec.GetString("file.archive-dir") == "" {
			return ConfigError(fmt.Errorf("file.archive-dir is required when archive.enabled is true"))
		}
		if ConfigSpec.GetString("archive.bucket") == "" {
			return ConfigError(fmt.Errorf("archive.bucket is required when archive.enabled is true"))
		}
		if ConfigSpec.GetString("archive.access-key-id") == "" || ConfigSpec.GetString("archive.secret-access-key") == "" {
			return ConfigError(fmt.Errorf("archive.access-key-id and archive.secret-access-key are required when archive.enabled is true"))
		}
	}

	return nil
}

// Package sink implements the three output destinations for LogRecord
// values: a console sink written inline on the producer's fast path,
// a rotating/compressing/encrypting file sink, and a batched database
// sink. The file and database sinks each guard their writes with a
// circuit breaker from the breaker package; the console sink has none.
package sink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/template"
)

// Sink is the common contract every output destination implements.
// Write is called once per accepted record. The owning worker calls
// Flush periodically and at shutdown, and Close at shutdown or when the
// sink is replaced during recovery.
type Sink interface {
	Name() string
	Write(r record.LogRecord) error
	Flush() error
	Close() error
}

// ansi color codes used by ConsoleSink when writing to a TTY.
const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorGray   = "\x1b[90m"
)

// ConsoleSink writes rendered records to stdout/stderr. It is used both
// as an ordinary sink on the producer's fast path and as the shared
// fallback destination for the file sink when its circuit breaker is
// open. A single mutex is held only for the duration of one formatted
// write.
type ConsoleSink struct {
	mu       sync.Mutex
	tmpl     *template.Compiled
	stdout   io.Writer
	stderr   io.Writer
	colored  bool
	stderrOn map[record.Level]bool
}

// ConsoleConfig configures a ConsoleSink.
type ConsoleConfig struct {
	Template *template.Compiled
	// Colored forces (or forbids) ANSI coloring regardless of TTY
	// detection when explicitly set via ColoredSet.
	Colored bool
	// ColoredSet distinguishes "not configured" from "explicitly false".
	ColoredSet bool
	// StderrLevels lists levels routed to stderr instead of stdout.
	StderrLevels []record.Level
}

// NewConsoleSink constructs a ConsoleSink writing to stdout/stderr.
// Coloring auto-detects via isatty unless ColoredSet overrides it.
func NewConsoleSink(cfg ConsoleConfig) *ConsoleSink {
	colored := cfg.Colored
	if !cfg.ColoredSet {
		colored = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsTerminal(os.Stderr.Fd())
	}

	stderrOn := make(map[record.Level]bool, len(cfg.StderrLevels))
	for _, lvl := range cfg.StderrLevels {
		stderrOn[lvl] = true
	}

	tmpl := cfg.Template
	if tmpl == nil {
		tmpl = template.Default()
	}

	return &ConsoleSink{
		tmpl:     tmpl,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		colored:  colored,
		stderrOn: stderrOn,
	}
}

func (c *ConsoleSink) Name() string { return "console" }

func colorFor(l record.Level) string {
	switch l {
	case record.LevelError:
		return colorRed
	case record.LevelWarn:
		return colorYellow
	case record.LevelDebug, record.LevelTrace:
		return colorGray
	default:
		return colorCyan
	}
}

// Write renders r and writes it, holding the mutex only for the write
// itself.
func (c *ConsoleSink) Write(r record.LogRecord) error {
	line := c.tmpl.Render(r)

	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.stdout
	if c.stderrOn[r.Level] {
		w = c.stderr
	}

	var err error
	if c.colored {
		_, err = fmt.Fprintf(w, "%s%s%s\n", colorFor(r.Level), line, colorReset)
	} else {
		_, err = fmt.Fprintln(w, line)
	}
	if err != nil {
		return fmt.Errorf("console sink write: %w", err)
	}
	return nil
}

// Flush is a no-op: stdout/stderr are unbuffered from this package's
// perspective.
func (c *ConsoleSink) Flush() error { return nil }

// Close is a no-op: the console sink never owns the underlying stream.
func (c *ConsoleSink) Close() error { return nil }

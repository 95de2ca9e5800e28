// Package dispatch owns the bounded fan-out queue that hands each
// accepted LogRecord to every enabled sink's dedicated worker, brokers
// control messages, and drives graceful shutdown.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
)

// EnqueuePolicy selects what happens when a worker's channel is full.
type EnqueuePolicy int

const (
	// PolicyBlockingBackpressure suspends the caller until room is
	// available. This is the default, lossless policy.
	PolicyBlockingBackpressure EnqueuePolicy = iota
	// PolicyDropNewest discards the incoming record immediately instead
	// of blocking, for soft-realtime callers.
	PolicyDropNewest
)

const defaultFlushInterval = 100 * time.Millisecond

// Recorder receives dispatch-level events for metrics purposes. It is
// implemented by pkg/health.Metrics; kept as a narrow local interface
// so this package has no import-time dependency on pkg/health.
type Recorder interface {
	ObserveWrite(sinkName string, latency time.Duration)
	ObserveDrop()
	ObserveBlocked()
	ObserveSinkError(sinkName string)
	SetActiveWorkers(n int)
	SetChannelStats(sinkName string, depth, capacity int)
}

// SinkFactory reconstructs a sink from configuration, used by Recover
// to re-initialize a failed sink's state from scratch.
type SinkFactory func() (sink.Sink, error)

// Config configures a Dispatcher.
type Config struct {
	ChannelCapacity int
	Policy          EnqueuePolicy
	FlushInterval   time.Duration
}

type controlKind int

const controlRecover controlKind = iota

type workerSink struct {
	name       string
	sink       sink.Sink
	factory    SinkFactory
	ch         chan record.LogRecord
	control    chan controlKind
	flushEvery time.Duration
	logger     *slog.Logger
}

// Dispatcher is the engine's dispatch core: one bounded channel per
// enabled non-console sink, each drained by its own goroutine. workers
// is built once in New and never mutated afterward, so it is safe to
// range over from any goroutine without additional locking.
type Dispatcher struct {
	policy   EnqueuePolicy
	console  sink.Sink
	workers  map[string]*workerSink
	recorder Recorder
	logger   *slog.Logger

	// stopCh is closed exactly once by Shutdown. Every blocking send
	// and the worker loops select on it, so shutdown never depends on a
	// producer or a stuck sink releasing anything first.
	stopCh chan struct{}
	closed atomic.Bool

	activeWorkers atomic.Int32
	wg            sync.WaitGroup
}

// New constructs a Dispatcher and starts one worker goroutine per entry
// in sinks. console, if non-nil, is written inline on the caller's
// goroutine (the fast path) and never gets a
// dedicated worker.
func New(cfg Config, console sink.Sink, sinks map[string]sink.Sink, factories map[string]SinkFactory, recorder Recorder, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.ChannelCapacity <= 0 {
		return nil, fmt.Errorf("dispatch: channel_capacity must be > 0")
	}

	flushEvery := cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = defaultFlushInterval
	}

	d := &Dispatcher{
		policy:   cfg.Policy,
		console:  console,
		workers:  make(map[string]*workerSink, len(sinks)),
		recorder: recorder,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	for name, s := range sinks {
		w := &workerSink{
			name:       name,
			sink:       s,
			factory:    factories[name],
			ch:         make(chan record.LogRecord, cfg.ChannelCapacity),
			control:    make(chan controlKind, 1),
			flushEvery: flushEvery,
			logger:     logger,
		}
		d.workers[name] = w
		d.wg.Add(1)
		go d.runWorker(w)
	}

	return d, nil
}

// Enqueue hands r to the console sink inline, then fans a clone out to
// every worker sink. Per-producer-thread order is preserved because
// callers are expected to call Enqueue serially per emitting thread.
func (d *Dispatcher) Enqueue(r record.LogRecord) {
	if d.console != nil {
		if err := d.console.Write(r); err != nil && d.logger != nil {
			d.logger.Error("console sink write failed", "error", err)
		}
	}

	if d.closed.Load() {
		if d.recorder != nil {
			d.recorder.ObserveDrop()
		}
		return
	}

	for _, w := range d.workers {
		d.sendToWorker(w, r.Clone())
	}
}

// sendToWorker never blocks past Shutdown: every wait on w.ch is paired
// with a select on stopCh so a stuck or full sink cannot keep a
// producer parked forever once shutdown has been requested.
func (d *Dispatcher) sendToWorker(w *workerSink, r record.LogRecord) {
	if d.policy == PolicyDropNewest {
		select {
		case w.ch <- r:
		case <-d.stopCh:
			if d.recorder != nil {
				d.recorder.ObserveDrop()
			}
		default:
			if d.recorder != nil {
				d.recorder.ObserveDrop()
			}
		}
		return
	}

	select {
	case w.ch <- r:
		return
	case <-d.stopCh:
		if d.recorder != nil {
			d.recorder.ObserveDrop()
		}
		return
	default:
	}

	if d.recorder != nil {
		d.recorder.ObserveBlocked()
	}
	select {
	case w.ch <- r:
	case <-d.stopCh:
		if d.recorder != nil {
			d.recorder.ObserveDrop()
		}
	}
}

// Recover sends a re-initialization request to the named worker.
// Idempotent: the control channel holds one pending request, so a
// Recover made while one is already pending is dropped. Unknown names
// are ignored.
func (d *Dispatcher) Recover(sinkName string) {
	w, ok := d.workers[sinkName]
	if !ok {
		return
	}
	select {
	case w.control <- controlRecover:
	default:
	}
}

// Shutdown stops accepting new records, signals every worker to drain
// and close, and waits up to deadline for them to join. A worker still
// draining past the deadline keeps running in the background — Go has
// no primitive to force-kill a goroutine, so "forcibly join" here means
// Shutdown stops waiting and returns, exactly as (*http.Server).Shutdown
// does under its own context deadline. Closing stopCh (rather than
// taking a lock also held across a blocking producer send) is what
// lets the deadline timer start immediately regardless of what any
// producer or worker is doing at the moment Shutdown is called.
func (d *Dispatcher) Shutdown(deadline time.Duration) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.stopCh)

	doneCh := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("dispatch: shutdown deadline of %s exceeded", deadline)
	}
}

func (d *Dispatcher) runWorker(w *workerSink) {
	defer d.wg.Done()

	n := d.activeWorkers.Add(1)
	d.reportActiveWorkers(n)
	defer func() {
		n := d.activeWorkers.Add(-1)
		d.reportActiveWorkers(n)
	}()

	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case r := <-w.ch:
			d.writeToWorker(w, r)
			d.reportChannelStats(w)

		case <-ticker.C:
			if err := w.sink.Flush(); err != nil && w.logger != nil {
				w.logger.Error("sink flush failed", "sink", w.name, "error", err)
			}
			d.reportChannelStats(w)

		case kind := <-w.control:
			if kind == controlRecover {
				d.recoverWorker(w)
			}

		case <-d.stopCh:
			d.drainWorker(w)
			d.finalizeWorker(w)
			return
		}
	}
}

// drainWorker flushes every record already buffered in w.ch once
// shutdown has been signaled. Producers stop attempting new sends to a
// closed dispatcher (Enqueue checks d.closed first), so this loop
// terminates as soon as the channel empties.
func (d *Dispatcher) drainWorker(w *workerSink) {
	for {
		select {
		case r := <-w.ch:
			d.writeToWorker(w, r)
		default:
			return
		}
	}
}

func (d *Dispatcher) reportActiveWorkers(n int32) {
	if d.recorder != nil {
		d.recorder.SetActiveWorkers(int(n))
	}
}

func (d *Dispatcher) reportChannelStats(w *workerSink) {
	if d.recorder != nil {
		d.recorder.SetChannelStats(w.name, len(w.ch), cap(w.ch))
	}
}

func (d *Dispatcher) writeToWorker(w *workerSink, r record.LogRecord) {
	start := time.Now()
	err := w.sink.Write(r)
	latency := time.Since(start)

	if err != nil {
		if w.logger != nil {
			w.logger.Error("sink write failed", "sink", w.name, "error", err)
		}
		if d.recorder != nil {
			d.recorder.ObserveSinkError(w.name)
		}
		return
	}
	if d.recorder != nil {
		d.recorder.ObserveWrite(w.name, latency)
	}
}

func (d *Dispatcher) recoverWorker(w *workerSink) {
	if w.factory == nil {
		return
	}
	newSink, err := w.factory()
	if err != nil {
		if w.logger != nil {
			w.logger.Error("sink recovery failed", "sink", w.name, "error", err)
		}
		return
	}
	if closeErr := w.sink.Close(); closeErr != nil && w.logger != nil {
		w.logger.Warn("error closing sink during recovery", "sink", w.name, "error", closeErr)
	}
	w.sink = newSink
	if w.logger != nil {
		w.logger.Info("sink recovered", "sink", w.name)
	}
}

// finalizeWorker runs once drainWorker has emptied w.ch after stopCh
// fired: every buffered record was already delivered to sink.Write by
// that point.
func (d *Dispatcher) finalizeWorker(w *workerSink) {
	if err := w.sink.Flush(); err != nil && w.logger != nil {
		w.logger.Error("final flush failed", "sink", w.name, "error", err)
	}
	if err := w.sink.Close(); err != nil && w.logger != nil {
		w.logger.Error("sink close failed", "sink", w.name, "error", err)
	}
}

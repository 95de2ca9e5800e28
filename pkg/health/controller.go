package health

import (
	"log/slog"
	"time"

	"github.com/scality/logcourier-engine/pkg/breaker"
)

const defaultPollInterval = 10 * time.Second

// Probe is the minimal surface a sink exposes to the health controller:
// its circuit breaker, the timestamp of its last successful write, and
// the cause of its most recent write failure, if any. Both FileSink and
// DatabaseSink implement this.
type Probe interface {
	Breaker() *breaker.Breaker
	LastSuccess() time.Time
	LastError() error
}

// SinkEntry pairs a probe with the expected write cadence used to
// detect a "stalled" sink (no write for 5x its expected cadence).
type SinkEntry struct {
	Name            string
	Probe           Probe
	ExpectedCadence time.Duration
	ResetTimeout    time.Duration
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Sinks        []SinkEntry
	Metrics      *Metrics
	PollInterval time.Duration
	Recover      func(sinkName string)
	Logger       *slog.Logger
}

// Controller runs the periodic health-evaluation and auto-recovery
// loop.
type Controller struct {
	cfg      ControllerConfig
	interval time.Duration

	unhealthySince map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewController constructs a Controller. Call Run in its own goroutine
// and Stop to end it.
func NewController(cfg ControllerConfig) *Controller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Controller{
		cfg:            cfg,
		interval:       interval,
		unhealthySince: make(map[string]time.Time),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Run blocks, evaluating sink health every PollInterval until Stop is
// called. Intended to be launched with `go controller.Run()`.
func (c *Controller) Run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.evaluate()
	for {
		select {
		case <-ticker.C:
			c.evaluate()
		case <-c.stopCh:
			return
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Controller) evaluate() {
	now := time.Now()

	for _, entry := range c.cfg.Sinks {
		br := entry.Probe.Breaker()
		state := br.State()
		lastSuccess := entry.Probe.LastSuccess()
		counts := br.Counts()

		var status Status
		var reason string

		switch state {
		case breaker.StateOpen:
			status = StatusUnhealthy
			reason = "circuit breaker open"
		case breaker.StateHalfOpen:
			status = StatusDegraded
			reason = "probing"
		default: // Closed
			if lastSuccess.IsZero() {
				status = StatusNotStarted
			} else if entry.ExpectedCadence > 0 && now.Sub(lastSuccess) >= 5*entry.ExpectedCadence {
				status = StatusDegraded
				reason = "stalled"
			} else {
				status = StatusHealthy
			}
		}

		var lastErr string
		if err := entry.Probe.LastError(); err != nil {
			lastErr = err.Error()
		}

		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SetSinkHealth(entry.Name, SinkHealth{
				Status:              status,
				Reason:              reason,
				LastError:           lastErr,
				ConsecutiveFailures: counts.ConsecutiveFailures,
			})
		}

		c.trackRecovery(entry, status, now)
	}
}

func (c *Controller) trackRecovery(entry SinkEntry, status Status, now time.Time) {
	if status != StatusUnhealthy {
		delete(c.unhealthySince, entry.Name)
		return
	}

	since, ok := c.unhealthySince[entry.Name]
	if !ok {
		c.unhealthySince[entry.Name] = now
		return
	}

	resetTimeout := entry.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if now.Sub(since) < resetTimeout {
		return
	}

	if c.cfg.Recover != nil {
		c.cfg.Recover(entry.Name)
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("health controller triggered recovery", "sink", entry.Name)
	}
	// Arm the next attempt after another full reset_timeout, per
	// a failed re-initialization leaves the sink
	// Unhealthy and re-arms rather than retrying every poll tick.
	c.unhealthySince[entry.Name] = now
}

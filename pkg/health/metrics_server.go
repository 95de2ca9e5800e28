package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type promhttpErrorLogger struct {
	promhttp.Logger
	base *slog.Logger
}

func (l *promhttpErrorLogger) Println(v ...interface{}) {
	l.base.Error("error handling metrics request", "args", v)
}

// MetricsServerConfig configures StartMetricsServer.
type MetricsServerConfig struct {
	Enabled       bool
	ListenAddress string
	ListenPort    int
}

// StartMetricsServer starts the operator-facing HTTP surface named but
// left out of scope by the core engine: `/metrics` in Prometheus text
// exposition format, and `/health` rendering Metrics.Snapshot as JSON.
// Returns nil, nil when disabled. The returned server should eventually
// be closed with Close or Shutdown.
func StartMetricsServer(cfg MetricsServerConfig, m *Metrics, logger *slog.Logger) (*http.Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: &promhttpErrorLogger{base: logger},
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := writeSnapshotJSON(w, m.Snapshot()); err != nil {
			logger.Error("failed to write health snapshot", "error", err)
		}
	})

	srv := &http.Server{
		Handler:           mux,
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenConfig := &net.ListenConfig{}
	listener, err := listenConfig.Listen(context.Background(), "tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: listen on %s: %w", srv.Addr, err)
	}
	srv.Addr = listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("metrics server started", "address", listener.Addr().String())
	return srv, nil
}

package engine_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/scality/logcourier-engine/pkg/dispatch"
	"github.com/scality/logcourier-engine/pkg/engine"
	"github.com/scality/logcourier-engine/pkg/health"
	"github.com/scality/logcourier-engine/pkg/masking"
	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

func newTestConfig(dir string) engine.Config {
	return engine.Config{
		MinLevel:        record.LevelInfo,
		MaskingEnabled:  true,
		ConsoleEnabled:  true,
		FileEnabled:     true,
		File:            sink.FileConfig{Path: filepath.Join(dir, "engine.log")},
		ChannelCapacity: 16,
		Policy:          dispatch.PolicyBlockingBackpressure,
		// A private registry per spec: the default Metrics registers on
		// the global Prometheus registry, which accepts each collector
		// only once per process.
		Metrics: health.NewMetricsWithRegistry(prometheus.NewRegistry()),
	}
}

var _ = Describe("Engine", func() {
	AfterEach(func() {
		engine.ResetForTest()
	})

	It("rejects a second Start in the same process", func() {
		dir := GinkgoT().TempDir()
		e, err := engine.Start(newTestConfig(dir))
		Expect(err).NotTo(HaveOccurred())
		defer e.Shutdown(time.Second)

		_, err = engine.Start(newTestConfig(GinkgoT().TempDir()))
		Expect(err).To(HaveOccurred())
	})

	It("drops records below the configured minimum level", func() {
		dir := GinkgoT().TempDir()
		cfg := newTestConfig(dir)
		cfg.MinLevel = record.LevelWarn

		e, err := engine.Start(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer e.Shutdown(time.Second)

		before := e.Metrics().Snapshot().LogsDropped
		e.Emit(record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "ignored"})
		Consistently(func() int64 {
			return e.Metrics().Snapshot().LogsDropped
		}, "50ms", "10ms").Should(Equal(before))
	})

	It("masks sensitive fields before dispatch", func() {
		dir := GinkgoT().TempDir()
		dbPath := filepath.Join(dir, "engine.db")

		cfg := newTestConfig(dir)
		cfg.DatabaseEnabled = true
		cfg.Database = sink.DatabaseConfig{
			Driver:    sink.DriverSQLite,
			URL:       dbPath,
			BatchSize: 1,
		}

		e, err := engine.Start(cfg)
		Expect(err).NotTo(HaveOccurred())
		defer e.Shutdown(time.Second)

		e.Emit(record.LogRecord{
			Timestamp: time.Now(),
			Level:     record.LevelError,
			Target:    "auth",
			Message:   "login failed",
			Fields:    record.Fields{{Key: "password", Value: "hunter2"}},
		})

		// The database sink is the only one whose on-disk output carries
		// field values at all (the file/console templates never render
		// {fields}), so it is what actually proves masking ran before the
		// record reached a sink rather than just that something was
		// written.
		var fieldsJSON string
		Eventually(func() error {
			db, openErr := sql.Open("sqlite", dbPath)
			if openErr != nil {
				return openErr
			}
			defer db.Close()
			return db.QueryRow("SELECT fields FROM logs WHERE target = ?", "auth").Scan(&fieldsJSON)
		}, "500ms", "10ms").Should(Succeed())

		Expect(fieldsJSON).NotTo(ContainSubstring("hunter2"))
		Expect(fieldsJSON).To(ContainSubstring(masking.Redacted))
	})

	It("drops silently after Shutdown instead of panicking", func() {
		dir := GinkgoT().TempDir()
		e, err := engine.Start(newTestConfig(dir))
		Expect(err).NotTo(HaveOccurred())

		Expect(e.Shutdown(time.Second)).To(Succeed())
		Expect(e.Shutdown(time.Second)).To(Succeed())

		before := e.Metrics().Snapshot().LogsDropped
		e.Emit(record.LogRecord{Timestamp: time.Now(), Level: record.LevelError, Message: "after shutdown"})
		Expect(e.Metrics().Snapshot().LogsDropped).To(Equal(before + 1))
	})
})

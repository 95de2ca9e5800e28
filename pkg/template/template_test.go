package template_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/template"
)

func TestTemplate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Template Suite")
}

func sampleRecord() record.LogRecord {
	return record.LogRecord{
		Timestamp: time.Date(2026, 3, 5, 12, 30, 0, 250_000_000, time.UTC),
		Level:     record.LevelInfo,
		Target:    "svc.auth",
		Message:   "hello",
		ThreadID:  "t-1",
	}
}

var _ = Describe("Compile", func() {
	It("rejects unknown placeholders at compile time", func() {
		_, err := template.Compile("{message} {bogus}")
		Expect(err).To(HaveOccurred())
	})

	It("accepts every known placeholder", func() {
		_, err := template.Compile("{timestamp} {level} {target} {message} {file} {line} {thread_id}")
		Expect(err).NotTo(HaveOccurred())
	})

	It("supports escaped literal braces", func() {
		c, err := template.Compile("{{literal}} {message}")
		Expect(err).NotTo(HaveOccurred())
		out := c.Render(sampleRecord())
		Expect(out).To(HavePrefix("{literal} "))
	})
})

var _ = Describe("Render", func() {
	It("renders the basic contract format exactly", func() {
		c, err := template.Compile("[{level}] {message}")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Render(sampleRecord())).To(Equal("[INFO] hello"))
	})

	It("renders timestamps as ISO 8601 with millisecond precision and a Z suffix", func() {
		c, err := template.Compile("{timestamp}")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Render(sampleRecord())).To(Equal("2026-03-05T12:30:00.250Z"))
	})

	It("renders absent file/line as empty string, not the literal None", func() {
		c, err := template.Compile("({file}:{line})")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Render(sampleRecord())).To(Equal("(:)"))
	})

	It("renders a present line number", func() {
		c, err := template.Compile("{file}:{line}")
		Expect(err).NotTo(HaveOccurred())
		r := sampleRecord()
		r.File = "main.go"
		r.Line = 42
		r.HasLine = true
		Expect(c.Render(r)).To(Equal("main.go:42"))
	})

	It("applies a right-align width modifier", func() {
		c, err := template.Compile("[{level:>5}]")
		Expect(err).NotTo(HaveOccurred())
		r := sampleRecord()
		r.Level = record.LevelWarn
		Expect(c.Render(r)).To(Equal("[ WARN]"))
	})

	It("does not pad when the value already meets the width", func() {
		c, err := template.Compile("[{level:>5}]")
		Expect(err).NotTo(HaveOccurred())
		r := sampleRecord()
		r.Level = record.LevelError
		Expect(c.Render(r)).To(Equal("[ERROR]"))
	})

	It("default format includes level, target, and message", func() {
		out := template.Default().Render(sampleRecord())
		Expect(out).To(ContainSubstring("[INFO]"))
		Expect(out).To(ContainSubstring("svc.auth"))
		Expect(out).To(ContainSubstring("hello"))
	})
})

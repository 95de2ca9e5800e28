package sink_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
	"github.com/scality/logcourier-engine/pkg/template"
)

var _ = Describe("ConsoleSink", func() {
	It("implements Sink and never errors on Flush/Close", func() {
		tmpl, err := template.Compile("[{level}] {message}")
		Expect(err).NotTo(HaveOccurred())

		c := sink.NewConsoleSink(sink.ConsoleConfig{Template: tmpl, ColoredSet: true, Colored: false})
		Expect(c.Name()).To(Equal("console"))

		r := record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "hello"}
		Expect(c.Write(r)).To(Succeed())
		Expect(c.Flush()).To(Succeed())
		Expect(c.Close()).To(Succeed())
	})
})

package sink_test

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/scality/logcourier-engine/pkg/record"
	"github.com/scality/logcourier-engine/pkg/sink"
	"github.com/scality/logcourier-engine/pkg/template"
)

var _ = Describe("FileSink", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "logcourier-file-sink-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("writes exactly the rendered line with a trailing newline", func() {
		tmpl, err := template.Compile("[{level}] {message}")
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(dir, "t.log")
		fs, err := sink.NewFileSink(sink.FileConfig{Path: path, Template: tmpl})
		Expect(err).NotTo(HaveOccurred())

		Expect(fs.Write(record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "hello"})).To(Succeed())
		Expect(fs.Close()).To(Succeed())

		content, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("[INFO] hello\n"))
	})

	It("rotates on size trigger and produces a renamed file", func() {
		tmpl, err := template.Compile("{message}")
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(dir, "app.log")
		fs, err := sink.NewFileSink(sink.FileConfig{Path: path, Template: tmpl, MaxSize: 50})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 20; i++ {
			Expect(fs.Write(record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "0123456789"})).To(Succeed())
		}
		Expect(fs.Close()).To(Succeed())

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())

		var rotated int
		for _, e := range entries {
			if e.Name() != "app.log" {
				rotated++
			}
		}
		Expect(rotated).To(BeNumerically(">=", 1))
	})

	It("compresses rotated files when compress is enabled", func() {
		tmpl, err := template.Compile("{message}")
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(dir, "app.log")
		fs, err := sink.NewFileSink(sink.FileConfig{Path: path, Template: tmpl, MaxSize: 50, Compress: true})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 20; i++ {
			Expect(fs.Write(record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "0123456789"})).To(Succeed())
		}
		Expect(fs.Close()).To(Succeed())

		Eventually(func() bool {
			entries, _ := os.ReadDir(dir)
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".zst") {
					return true
				}
			}
			return false
		}, "2s", "20ms").Should(BeTrue())
	})

	It("encrypts a rotated file with a header matching the on-disk layout", func() {
		key := make([]byte, 32)
		encoded := base64.StdEncoding.EncodeToString(key)
		Expect(os.Setenv("LC_TEST_KEY", encoded)).To(Succeed())
		defer os.Unsetenv("LC_TEST_KEY")

		tmpl, err := template.Compile("{message}")
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(dir, "app.log")
		fs, err := sink.NewFileSink(sink.FileConfig{
			Path: path, Template: tmpl, MaxSize: 20,
			Encrypt: true, EncryptionKeyEnv: "LC_TEST_KEY",
		})
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 10; i++ {
			Expect(fs.Write(record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "0123456789"})).To(Succeed())
		}
		Expect(fs.Close()).To(Succeed())

		var encPath string
		Eventually(func() bool {
			entries, _ := os.ReadDir(dir)
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".enc") {
					encPath = filepath.Join(dir, e.Name())
					return true
				}
			}
			return false
		}, "2s", "20ms").Should(BeTrue())

		raw, err := os.ReadFile(encPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(raw)).To(BeNumerically(">=", 24))
		Expect(string(raw[0:8])).To(Equal("ENCLOG1\x00"))
		Expect(raw[8]).To(Equal(byte(1)))
		Expect(raw[9]).To(Equal(byte(0)))
		Expect(raw[10]).To(Equal(byte(1)))
		Expect(raw[11]).To(Equal(byte(0)))
	})

	It("recovers as soon as disk space is reported healthy again, with no persistent stuck state", func() {
		defer sink.ResetStatfsForTest()

		tmpl, err := template.Compile("{message}")
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(dir, "app.log")
		fallback := &recordingSink{}
		fs, err := sink.NewFileSink(sink.FileConfig{Path: path, Template: tmpl, Fallback: fallback})
		Expect(err).NotTo(HaveOccurred())
		defer fs.Close()

		sink.SetStatfsForTest(func(_ string, st *unix.Statfs_t) error {
			st.Bsize = 1
			st.Bavail = 1
			st.Blocks = 1000
			return nil
		})

		record1 := record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "while-low"}
		err = fs.Write(record1)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, sink.ErrFallback)).To(BeTrue())
		Expect(fallback.count()).To(Equal(1))
		Expect(fs.LastError()).To(HaveOccurred())

		sink.SetStatfsForTest(func(_ string, st *unix.Statfs_t) error {
			st.Bsize = 4096
			st.Bavail = 10 * 1024 * 1024 * 1024 / 4096
			st.Blocks = 100 * 1024 * 1024 * 1024 / 4096
			return nil
		})

		record2 := record.LogRecord{Timestamp: time.Now(), Level: record.LevelInfo, Message: "after-recovery"}
		Expect(fs.Write(record2)).To(Succeed())
		Expect(fallback.count()).To(Equal(1))

		Expect(fs.Close()).To(Succeed())
		content, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("after-recovery\n"))
	})
})

// recordingSink is a minimal fallback Sink that only counts writes.
type recordingSink struct {
	writes int
}

func (r *recordingSink) Name() string                { return "recording" }
func (r *recordingSink) Write(record.LogRecord) error { r.writes++; return nil }
func (r *recordingSink) Flush() error                 { return nil }
func (r *recordingSink) Close() error                 { return nil }
func (r *recordingSink) count() int                   { return r.writes }

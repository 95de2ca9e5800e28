package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"
)

func TestSinkInternal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sink Internal Suite")
}

var _ = Describe("compressFile/decompressFile", func() {
	It("round-trips arbitrary content", func() {
		dir, err := os.MkdirTemp("", "compress-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		src := filepath.Join(dir, "in.log")
		payload := []byte("the quick brown fox jumps over the lazy dog\n")
		Expect(os.WriteFile(src, payload, 0o600)).To(Succeed())

		compressed := filepath.Join(dir, "in.log.zst")
		Expect(compressFile(src, compressed, 3)).To(Succeed())
		_, statErr := os.Stat(src)
		Expect(os.IsNotExist(statErr)).To(BeTrue())

		out := filepath.Join(dir, "out.log")
		Expect(decompressFile(compressed, out)).To(Succeed())

		got, err := os.ReadFile(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(payload))
	})
})

var _ = Describe("encryptFile/decryptFile", func() {
	It("round-trips under the configured key", func() {
		dir, err := os.MkdirTemp("", "encrypt-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		src := filepath.Join(dir, "in.log")
		payload := []byte("sensitive payload")
		Expect(os.WriteFile(src, payload, 0o600)).To(Succeed())

		key := make([]byte, 32)
		enc := filepath.Join(dir, "in.log.enc")
		Expect(encryptFile(src, enc, key)).To(Succeed())

		raw, err := os.ReadFile(enc)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw[0:8])).To(Equal("ENCLOG1\x00"))

		plaintext, err := decryptFile(enc, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(plaintext).To(Equal(payload))
	})

	It("fails authentication under the wrong key", func() {
		dir, err := os.MkdirTemp("", "encrypt-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		src := filepath.Join(dir, "in.log")
		Expect(os.WriteFile(src, []byte("data"), 0o600)).To(Succeed())

		key := make([]byte, 32)
		enc := filepath.Join(dir, "in.log.enc")
		Expect(encryptFile(src, enc, key)).To(Succeed())

		wrongKey := make([]byte, 32)
		wrongKey[0] = 1
		_, err = decryptFile(enc, wrongKey)
		Expect(err).To(HaveOccurred())
	})
})

// CountRowsForTest reaches into a DatabaseSink's live connection pool
// to count rows in its logs table, creating the table first if no flush
// has done so yet. Exported only for sink_test to use; production code
// has no need to introspect row counts.
func CountRowsForTest(d *DatabaseSink) (int, error) {
	if err := d.ensureSchema(context.Background()); err != nil {
		return 0, err
	}
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM " + d.table).Scan(&n)
	return n, err
}

// SetStatfsForTest substitutes the package's disk-usage probe with fn,
// for simulating low/recovered disk space without touching the real
// filesystem. Exported only for sink_test to use.
func SetStatfsForTest(fn func(string, *unix.Statfs_t) error) {
	statfs = fn
}

// ResetStatfsForTest restores the real unix.Statfs probe.
func ResetStatfsForTest() {
	statfs = unix.Statfs
}

var _ = Describe("nextBoundary", func() {
	It("computes the next top of hour in UTC", func() {
		now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
		next := nextBoundary(now, RotationHourly)
		Expect(next).To(Equal(time.Date(2026, 3, 5, 13, 0, 0, 0, time.UTC)))
	})

	It("computes the next midnight UTC for daily rotation", func() {
		now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
		next := nextBoundary(now, RotationDaily)
		Expect(next).To(Equal(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)))
	})

	It("returns the zero time when rotation is disabled", func() {
		Expect(nextBoundary(time.Now(), RotationNone).IsZero()).To(BeTrue())
	})
})

package record_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/logcourier-engine/pkg/record"
)

func TestRecord(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Record Suite")
}

var _ = Describe("Level", func() {
	It("parses known level names case-sensitively for the canonical spellings", func() {
		lvl, err := record.ParseLevel("info")
		Expect(err).NotTo(HaveOccurred())
		Expect(lvl).To(Equal(record.LevelInfo))
	})

	It("rejects unknown levels", func() {
		_, err := record.ParseLevel("verbose")
		Expect(err).To(HaveOccurred())
	})

	It("renders upper-case names", func() {
		Expect(record.LevelWarn.String()).To(Equal("WARN"))
		Expect(record.LevelError.String()).To(Equal("ERROR"))
	})
})

var _ = Describe("Fields", func() {
	It("preserves insertion order through Get/Set", func() {
		f := record.Fields{}
		f = f.Set("b", 2)
		f = f.Set("a", 1)
		f = f.Set("b", 20)

		Expect(f).To(HaveLen(2))
		v, ok := f.Get("b")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(20))

		var keys []string
		f.Range(func(key string, _ any) { keys = append(keys, key) })
		Expect(keys).To(Equal([]string{"b", "a"}))
	})

	It("marshals to JSON preserving key order, unlike a plain map", func() {
		f := record.Fields{
			{Key: "z", Value: "first"},
			{Key: "a", Value: "second"},
		}
		data, err := json.Marshal(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"z":"first","a":"second"}`))
	})

	It("returns not-found for a missing key", func() {
		f := record.Fields{{Key: "x", Value: 1}}
		_, ok := f.Get("y")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("LogRecord.Clone", func() {
	It("deep-copies fields so mutating the clone leaves the original untouched", func() {
		original := record.LogRecord{
			Timestamp: time.Now(),
			Level:     record.LevelInfo,
			Message:   "hello",
			Fields:    record.Fields{{Key: "user", Value: "alice"}},
		}

		clone := original.Clone()
		clone.Fields = clone.Fields.Set("user", "***MASKED***")

		v, _ := original.Fields.Get("user")
		Expect(v).To(Equal("alice"))

		v2, _ := clone.Fields.Get("user")
		Expect(v2).To(Equal("***MASKED***"))
	})

	It("handles records with no fields", func() {
		original := record.LogRecord{Message: "no fields"}
		clone := original.Clone()
		Expect(clone.Fields).To(BeEmpty())
	})
})

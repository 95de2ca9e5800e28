package breaker_test

import (
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scality/logcourier-engine/pkg/breaker"
)

func TestBreaker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Breaker Suite")
}

var errBoom = errors.New("boom")

var _ = Describe("Breaker", func() {
	It("starts Closed", func() {
		b := breaker.New(breaker.Config{Name: "t"})
		Expect(b.State()).To(Equal(breaker.StateClosed))
	})

	It("trips to Open after reaching the failure threshold", func() {
		b := breaker.New(breaker.Config{Name: "t", FailureThreshold: 3, ResetTimeout: time.Hour})

		for i := 0; i < 3; i++ {
			err := b.Execute(func() error { return errBoom })
			Expect(err).To(HaveOccurred())
		}

		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("rejects calls outright while Open", func() {
		b := breaker.New(breaker.Config{Name: "t", FailureThreshold: 1, ResetTimeout: time.Hour})
		_ = b.Execute(func() error { return errBoom })
		Expect(b.State()).To(Equal(breaker.StateOpen))

		called := false
		err := b.Execute(func() error { called = true; return nil })
		Expect(err).To(MatchError(breaker.ErrOpen))
		Expect(called).To(BeFalse())
	})

	It("moves to HalfOpen after the reset timeout and closes on a successful probe", func() {
		b := breaker.New(breaker.Config{Name: "t", FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})
		_ = b.Execute(func() error { return errBoom })
		Expect(b.State()).To(Equal(breaker.StateOpen))

		Eventually(func() breaker.State {
			_ = b.Execute(func() error { return nil })
			return b.State()
		}, "500ms", "5ms").Should(Equal(breaker.StateClosed))
	})

	It("re-opens on a failed HalfOpen probe", func() {
		b := breaker.New(breaker.Config{Name: "t", FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})
		_ = b.Execute(func() error { return errBoom })

		time.Sleep(30 * time.Millisecond)
		err := b.Execute(func() error { return errBoom })
		Expect(err).To(HaveOccurred())
		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("reports IsHalfOpen only while probing", func() {
		b := breaker.New(breaker.Config{Name: "t", FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})
		Expect(b.IsHalfOpen()).To(BeFalse())
		_ = b.Execute(func() error { return errBoom })
		time.Sleep(30 * time.Millisecond)
		Expect(b.IsHalfOpen()).To(BeTrue())
	})
})

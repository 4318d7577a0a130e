package queue

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("notifier", func() {
	It("wakes a waiting claimant in-process with no redis configured", func() {
		n, err := newNotifier(context.Background(), "", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer n.Close()

		n.wake()
		Eventually(n.wakeups(), time.Second).Should(Receive())
	})

	It("propagates a wakeup published on redis to a second notifier's channel", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		defer mr.Close()

		url := "redis://" + mr.Addr()
		publisher, err := newNotifier(context.Background(), url, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer publisher.Close()

		subscriber, err := newNotifier(context.Background(), url, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer subscriber.Close()

		publisher.wake()
		Eventually(subscriber.wakeups(), 2*time.Second).Should(Receive())
	})

	It("rejects a malformed redis URL", func() {
		_, err := newNotifier(context.Background(), "not-a-url", zap.NewNop())
		Expect(err).To(HaveOccurred())
	})
})

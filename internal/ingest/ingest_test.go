package ingest

import (
	"testing"

	"github.com/go-playground/validator/v10"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

func TestIngest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ingest Suite")
}

var _ = Describe("classifyEvent", func() {
	It("maps push to priority 0", func() {
		kind, priority, err := classifyEvent("push")
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(store.EventPush))
		Expect(priority).To(Equal(0))
	})

	It("maps pull_request to priority 1", func() {
		kind, priority, err := classifyEvent("pull_request")
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(store.EventPullRequest))
		Expect(priority).To(Equal(1))
	})

	It("rejects an unknown event kind", func() {
		_, _, err := classifyEvent("release")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Request validation", func() {
	v := validator.New()

	It("accepts a well-formed request", func() {
		req := Request{
			ID:          "D1",
			Owner:       "tscircuit",
			Repo:        "example",
			Ref:         "abc123",
			Environment: "production",
			EventType:   "push",
		}
		Expect(v.Struct(req)).NotTo(HaveOccurred())
	})

	It("rejects a request missing required fields", func() {
		Expect(v.Struct(Request{})).To(HaveOccurred())
	})

	It("rejects an environment outside the enumerated set", func() {
		req := Request{ID: "D1", Owner: "o", Repo: "r", Ref: "abc", EventType: "push", Environment: "sandbox"}
		Expect(v.Struct(req)).To(HaveOccurred())
	})

	It("rejects a deployment id longer than 36 characters", func() {
		req := Request{
			ID:        "012345678901234567890123456789123456789",
			Owner:     "o", Repo: "r", Ref: "abc", EventType: "push",
		}
		Expect(v.Struct(req)).To(HaveOccurred())
	})
})

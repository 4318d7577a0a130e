package queue

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "queue Suite")
}

var _ = Describe("job metadata marshaling", func() {
	It("round-trips every field through marshal/unmarshal", func() {
		in := store.JobMetadata{
			RepoOwner:        "tscircuit",
			RepoName:         "example",
			CommitRef:        "main",
			EventKind:        "pull_request",
			Environment:      "preview",
			Meta:             "42",
			RepoArchiveURL:   "https://codeload.example/tarball",
			ServerURL:        "https://ci.example.com",
			RunID:            "run-123",
			CommitSHA:        "deadbeef",
			CommitMessage:    "feat: add resistor footprint",
			UpstreamDeployID: 99,
			CreateRelease:    true,
			CredentialToken:  "ghs_token",
		}

		raw, err := marshalMetadata(in)
		Expect(err).NotTo(HaveOccurred())

		out, err := UnmarshalMetadata(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(in))
	})

	It("rejects malformed JSON", func() {
		_, err := UnmarshalMetadata("not json")
		Expect(err).To(HaveOccurred())
	})
})

package worker

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/compiler"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "worker Suite")
}

var _ = Describe("backoffFor", func() {
	w := New("w1", Deps{}, Config{BackoffBaseMs: 1000, BackoffCapMs: 30000}, zap.NewNop())

	It("doubles per retry attempt", func() {
		Expect(w.backoffFor(0)).To(Equal(1000 * time.Millisecond))
		Expect(w.backoffFor(1)).To(Equal(2000 * time.Millisecond))
		Expect(w.backoffFor(2)).To(Equal(4000 * time.Millisecond))
	})

	It("caps at BackoffCapMs", func() {
		Expect(w.backoffFor(10)).To(Equal(30000 * time.Millisecond))
	})
})

var _ = Describe("artifactInputs", func() {
	job := &store.Job{DeploymentID: "D1"}

	It("returns nil for a nil snapshot", func() {
		Expect(artifactInputs(job, nil)).To(BeNil())
	})

	It("maps every compiler file onto an ArtifactInput", func() {
		snapshot := &compiler.Snapshot{
			Files: []compiler.File{
				{
					Name:       "resistor.circuit.tsx",
					Path:       "src/resistor.circuit.tsx",
					OutputJSON: []byte(`{"ok":true}`),
					Metadata:   compiler.FileMetadata{Size: 42, Checksum: "abc123"},
				},
			},
		}
		inputs := artifactInputs(job, snapshot)
		Expect(inputs).To(HaveLen(1))
		Expect(inputs[0].DeploymentID).To(Equal("D1"))
		Expect(inputs[0].FileName).To(Equal("resistor.circuit.tsx"))
		Expect(inputs[0].Checksum).To(Equal("abc123"))
		Expect(inputs[0].FileSizeBytes).To(Equal(int64(42)))
	})
})

var _ = Describe("release branch detection", func() {
	It("treats main and master as release branches", func() {
		Expect(isReleaseBranch("main")).To(BeTrue())
		Expect(isReleaseBranch("master")).To(BeTrue())
		Expect(isReleaseBranch("feature/x")).To(BeFalse())
	})
})

var _ = Describe("reviewCommentBody", func() {
	job := &store.Job{DeploymentID: "D1"}

	It("omits the artifacts section when there are none", func() {
		body := reviewCommentBody(true, "build completed", job, nil, "")
		Expect(body).NotTo(ContainSubstring("Artifacts:"))
	})

	It("links each artifact under a public base URL", func() {
		artifacts := []store.Artifact{{FileName: "resistor.circuit.tsx"}}
		body := reviewCommentBody(true, "build completed", job, artifacts, "https://ci.example.com")
		Expect(body).To(ContainSubstring("Artifacts:"))
		Expect(body).To(ContainSubstring("resistor.circuit.tsx"))
		Expect(body).To(ContainSubstring("https://ci.example.com/api/v1/artifacts/"))
	})

	It("falls back to the bare artifact ID when no base URL is configured", func() {
		artifacts := []store.Artifact{{FileName: "resistor.circuit.tsx"}}
		body := reviewCommentBody(true, "build completed", job, artifacts, "")
		Expect(body).To(ContainSubstring("resistor.circuit.tsx"))
		Expect(body).NotTo(ContainSubstring("http"))
	})
})

var _ = Describe("truncate", func() {
	It("leaves short strings untouched", func() {
		Expect(truncate("short", 10)).To(Equal("short"))
	})

	It("truncates and marks long strings with an ellipsis", func() {
		Expect(truncate("0123456789", 5)).To(Equal("01234..."))
	})
})

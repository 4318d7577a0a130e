package provider

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProvider(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "provider Suite")
}

var _ = Describe("NextSemver", func() {
	It("starts from v0.0.0 when the repository has no prior tags", func() {
		next, err := NextSemver("", "fix: typo")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v0.0.1"))
	})

	It("bumps patch by default", func() {
		next, err := NextSemver("v1.2.3", "chore: tidy up")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v1.2.4"))
	})

	It("bumps minor and resets patch on a feat: prefix", func() {
		next, err := NextSemver("v1.2.3", "feat: add support for arrays")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v1.3.0"))
	})

	It("bumps minor and resets patch on an explicit [minor] marker", func() {
		next, err := NextSemver("v1.2.3", "fix: widen bus width [minor]")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v1.3.0"))
	})

	It("bumps major and resets minor/patch on BREAKING CHANGE", func() {
		next, err := NextSemver("v1.2.3", "refactor!: rename pin\n\nBREAKING CHANGE: pin renamed")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v2.0.0"))
	})

	It("bumps major on an explicit [major] marker", func() {
		next, err := NextSemver("v1.2.3", "rewrite layout engine [major]")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v2.0.0"))
	})

	It("rejects a malformed latest tag", func() {
		_, err := NextSemver("not-a-version", "fix: x")
		Expect(err).To(HaveOccurred())
	})

	It("accepts tags without a leading v", func() {
		next, err := NextSemver("1.0.0", "fix: x")
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal("v1.0.1"))
	})
})

package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
)

func TestApperr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "apperr Suite")
}

var _ = Describe("classification", func() {
	It("returns the attached kind via KindOf", func() {
		err := apperr.Wrapf(apperr.KindNonRetryable, "boom: %w", errors.New("cause"))
		Expect(apperr.KindOf(err)).To(Equal(apperr.KindNonRetryable))
		Expect(apperr.Retryable(err)).To(BeFalse())
	})

	It("defaults unclassified errors to retryable", func() {
		err := errors.New("plain error")
		Expect(apperr.KindOf(err)).To(Equal(apperr.KindRetryable))
		Expect(apperr.Retryable(err)).To(BeTrue())
	})

	It("preserves Unwrap so errors.Is still traverses to the cause", func() {
		cause := errors.New("root cause")
		wrapped := apperr.Wrap(apperr.KindFatal, fmt.Errorf("context: %w", cause))
		Expect(errors.Is(wrapped, cause)).To(BeTrue())
	})

	It("Wrap returns nil for a nil error", func() {
		Expect(apperr.Wrap(apperr.KindRetryable, nil)).To(BeNil())
	})
})

package classifier_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/auditlog/internal/classifier"
	"github.com/jordigilh/auditlog/internal/model"
)

var _ = Describe("Classify", func() {
	var log *model.Log

	BeforeEach(func() {
		log = &model.Log{
			AgentID:   "a1",
			StepID:    1,
			Reasoning: "This is a valid log with sufficient details",
			Status:    model.StatusSuccess,
		}
	})

	Context("with a negative step id", func() {
		It("flags an anomaly", func() {
			log.StepID = -1
			Expect(classifier.Classify(log)).To(BeTrue())
		})
	})

	Context("with reasoning shorter than 10 characters", func() {
		It("flags an anomaly", func() {
			log.Reasoning = "short"
			Expect(classifier.Classify(log)).To(BeTrue())
		})

		It("trims whitespace before measuring length", func() {
			log.Reasoning = "      ok      "
			Expect(classifier.Classify(log)).To(BeTrue())
		})
	})

	Context("with reasoning mentioning error, case-insensitively", func() {
		It("flags an anomaly", func() {
			log.Reasoning = "an ERROR occurred during planning"
			Expect(classifier.Classify(log)).To(BeTrue())
		})
	})

	Context("with a well-formed, sufficiently long reasoning", func() {
		It("does not flag an anomaly", func() {
			Expect(classifier.Classify(log)).To(BeFalse())
		})
	})

	It("is deterministic across repeated calls", func() {
		log.Reasoning = "short"
		first := classifier.Classify(log)
		second := classifier.Classify(log)
		Expect(first).To(Equal(second))
	})

	It("never mutates the log it inspects", func() {
		log.Reasoning = "short"
		before := *log
		classifier.Classify(log)
		Expect(*log).To(Equal(before))
	})
})

var _ = Describe("ApplyInitialStatus", func() {
	It("promotes status to anomaly when a rule hits", func() {
		log := &model.Log{Reasoning: "short", Status: model.StatusSuccess}
		classifier.ApplyInitialStatus(log)
		Expect(log.Status).To(Equal(model.StatusAnomaly))
	})

	It("leaves the caller-assigned status untouched otherwise", func() {
		log := &model.Log{Reasoning: "This is a valid log with sufficient details", Status: model.StatusFailure}
		classifier.ApplyInitialStatus(log)
		Expect(log.Status).To(Equal(model.StatusFailure))
	})
})

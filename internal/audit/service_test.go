package audit_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/audit"
	"github.com/jordigilh/auditlog/internal/model"
)

var _ = Describe("Service", func() {
	var (
		svc *audit.Service
		ctx context.Context
	)

	BeforeEach(func() {
		svc = audit.NewService(time.Hour, zap.NewNop())
		ctx = context.Background()
	})

	It("chains entries so each previous_hash equals the prior self_hash", func() {
		e1, err := svc.AddLogEntry(ctx, "a1:1", "hash1", time.Now(), nil)
		Expect(err).NotTo(HaveOccurred())
		e2, err := svc.AddLogEntry(ctx, "a1:2", "hash2", time.Now(), nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(e2.PreviousHash).To(Equal(e1.SelfHash))

		idx, err := svc.VerifyChain()
		Expect(err).NotTo(HaveOccurred())
		Expect(idx).To(Equal(-1))
	})

	It("folds each created log's hash into the current window", func() {
		for i, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
			_, err := svc.AddLogEntry(ctx, fmtLogID(i), h, time.Now(), nil)
			Expect(err).NotTo(HaveOccurred())
		}
		_, windows := svc.Snapshot()
		Expect(windows).To(HaveLen(1))
		Expect(windows[0].Leaves).To(HaveLen(5))
	})

	It("produces a verifiable inclusion proof for a folded hash, and detects tampering", func() {
		for _, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
			_, err := svc.AddLogEntry(ctx, "a1:x", h, time.Now(), nil)
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := svc.FlushWindow(ctx)
		Expect(err).NotTo(HaveOccurred())

		_, windows := svc.Snapshot()
		Expect(windows[0].Finalized).To(BeTrue())

		proof, err := svc.ProofForHash(windows[0].WindowStart, "h3")
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.VerifyProof(proof)).To(BeTrue())

		proof.LeafHash = "tampered"
		Expect(audit.VerifyProof(proof)).To(BeFalse())
	})

	It("appends a WINDOW_FINALIZED entry carrying the root on flush", func() {
		_, err := svc.AddLogEntry(ctx, "a1:1", "h1", time.Now(), nil)
		Expect(err).NotTo(HaveOccurred())

		entry, err := svc.FlushWindow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entry).NotTo(BeNil())
		Expect(entry.Type).To(Equal(model.AuditWindowFinalized))
		Expect(entry.HashCount).To(Equal(1))
	})

	It("rolls over to a new window when wall-clock time crosses the hour", func() {
		base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		clock := base
		svc = audit.NewServiceWithClock(time.Hour, zap.NewNop(), func() time.Time { return clock })

		_, err := svc.AddLogEntry(ctx, "a1:1", "h1", clock, nil)
		Expect(err).NotTo(HaveOccurred())

		clock = base.Add(61 * time.Minute)
		_, err = svc.AddLogEntry(ctx, "a1:2", "h2", clock, nil)
		Expect(err).NotTo(HaveOccurred())

		_, windows := svc.Snapshot()
		Expect(windows).To(HaveLen(2))
		Expect(windows[0].Finalized).To(BeTrue())
		Expect(windows[1].Finalized).To(BeFalse())
	})

	It("folds a leaf by its event timestamp even when processing lags slightly behind it", func() {
		base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		clock := base.Add(5 * time.Minute)
		svc = audit.NewServiceWithClock(time.Hour, zap.NewNop(), func() time.Time { return clock })

		_, err := svc.AddLogEntry(ctx, "a1:1", "h1", base, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.AddLogEntry(ctx, "a1:2", "h2", base.Add(10*time.Minute), nil)
		Expect(err).NotTo(HaveOccurred())

		_, windows := svc.Snapshot()
		Expect(windows).To(HaveLen(1))
		Expect(windows[0].Leaves).To(ConsistOf("h1", "h2"))
	})

	It("falls back to the current window when the event's own window is already finalized", func() {
		base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		clock := base
		svc = audit.NewServiceWithClock(time.Hour, zap.NewNop(), func() time.Time { return clock })

		_, err := svc.AddLogEntry(ctx, "a1:1", "h1", base, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.FlushWindow(ctx)
		Expect(err).NotTo(HaveOccurred())

		clock = base.Add(61 * time.Minute)
		inFinalizedWindow := base.Add(30 * time.Minute)
		_, err = svc.AddLogEntry(ctx, "a1:2", "h2", inFinalizedWindow, nil)
		Expect(err).NotTo(HaveOccurred())

		_, windows := svc.Snapshot()
		Expect(windows).To(HaveLen(2))
		Expect(windows[1].Leaves).To(ContainElement("h2"))
	})

	It("exports a pack whose import re-verification succeeds", func() {
		for _, h := range []string{"h1", "h2", "h3"} {
			_, err := svc.AddLogEntry(ctx, "a1:x", h, time.Now(), nil)
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := svc.FlushWindow(ctx)
		Expect(err).NotTo(HaveOccurred())

		pack, err := svc.ExportPack(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(pack.Verification.ChainIntegrity).To(BeTrue())
		Expect(pack.Verification.PackHash).NotTo(BeEmpty())

		Expect(audit.ImportPack(pack)).To(Succeed())
	})

	It("fails import re-verification when the pack has been tampered with", func() {
		_, err := svc.AddLogEntry(ctx, "a1:1", "h1", time.Now(), nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.FlushWindow(ctx)
		Expect(err).NotTo(HaveOccurred())

		pack, err := svc.ExportPack(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())

		pack.Verification.PackHash = "tampered"
		Expect(audit.ImportPack(pack)).To(HaveOccurred())
	})
})

func fmtLogID(i int) string {
	return "a1:" + string(rune('0'+i))
}

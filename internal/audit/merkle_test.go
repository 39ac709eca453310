package audit_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/auditlog/internal/audit"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var _ = Describe("Merkle tree", func() {
	var leaves []string

	BeforeEach(func() {
		leaves = make([]string, 5)
		for i := range leaves {
			leaves[i] = hashOf(fmt.Sprintf("leaf-%d", i))
		}
	})

	It("computes a deterministic root for the same leaves", func() {
		r1 := audit.MerkleRoot(leaves)
		r2 := audit.MerkleRoot(leaves)
		Expect(r1).To(Equal(r2))
		Expect(r1).NotTo(BeEmpty())
	})

	It("returns an empty root for no leaves", func() {
		Expect(audit.MerkleRoot(nil)).To(Equal(""))
	})

	It("changes the root if any leaf changes", func() {
		original := audit.MerkleRoot(leaves)
		tampered := append([]string(nil), leaves...)
		tampered[2] = hashOf("tampered")
		Expect(audit.MerkleRoot(tampered)).NotTo(Equal(original))
	})

	DescribeTable("generates and verifies an inclusion proof for every leaf",
		func(index int) {
			proof, err := audit.GenerateProof(leaves, index)
			Expect(err).NotTo(HaveOccurred())
			Expect(proof.Root).To(Equal(audit.MerkleRoot(leaves)))
			Expect(audit.VerifyProof(proof)).To(BeTrue())
		},
		Entry("leaf 0", 0),
		Entry("leaf 1", 1),
		Entry("leaf 2", 2),
		Entry("leaf 3", 3),
		Entry("leaf 4 (odd-final duplication)", 4),
	)

	It("fails verification when a sibling hash is tampered with", func() {
		proof, err := audit.GenerateProof(leaves, 2)
		Expect(err).NotTo(HaveOccurred())
		if len(proof.Steps) > 0 {
			proof.Steps[0].Sibling = hashOf("tampered-sibling")
		}
		Expect(audit.VerifyProof(proof)).To(BeFalse())
	})

	It("rejects an out-of-range leaf index", func() {
		_, err := audit.GenerateProof(leaves, 99)
		Expect(err).To(HaveOccurred())
	})

	It("handles a single-leaf window whose root is the leaf itself", func() {
		single := leaves[:1]
		proof, err := audit.GenerateProof(single, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(audit.VerifyProof(proof)).To(BeTrue())
	})
})

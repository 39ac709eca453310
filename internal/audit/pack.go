/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
)

// MerkleRootRecord is one finalized window's summary, as carried in a
// Pack's merkleRoots array.
type MerkleRootRecord struct {
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	MerkleRoot  string    `json:"merkleRoot"`
	HashCount   int       `json:"hashCount"`
	Finalized   bool      `json:"finalized"`
}

// Verification is the pack-level integrity record.
type Verification struct {
	TotalEntries     int    `json:"totalEntries"`
	MerkleRootsCount int    `json:"merkleRootsCount"`
	ChainIntegrity   bool   `json:"chainIntegrity"`
	PackHash         string `json:"packHash"`
}

// TimeRange bounds a pack export, [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Pack is a self-contained export of the audit chain and Merkle roots for
// a time range, sealed by an unkeyed pack hash (it carries no signature).
type Pack struct {
	ID           string             `json:"id"`
	GeneratedAt  time.Time          `json:"generatedAt"`
	TimeRange    TimeRange          `json:"timeRange"`
	MerkleRoots  []MerkleRootRecord `json:"merkleRoots"`
	AuditChain   []model.AuditEntry `json:"auditChain"`
	Verification Verification       `json:"verification"`
}

// ExportPack builds a Pack covering [start, end): every finalized window
// whose start falls in range, and every chain entry whose timestamp falls
// in range.
func (s *Service) ExportPack(start, end time.Time) (*Pack, error) {
	entries, windows := s.Snapshot()

	var roots []MerkleRootRecord
	for _, w := range windows {
		if !w.Finalized {
			continue
		}
		if w.WindowStart.Before(start) || !w.WindowStart.Before(end) {
			continue
		}
		roots = append(roots, MerkleRootRecord{
			WindowStart: w.WindowStart,
			WindowEnd:   w.WindowEnd,
			MerkleRoot:  w.Root,
			HashCount:   len(w.Leaves),
			Finalized:   w.Finalized,
		})
	}

	var chain []model.AuditEntry
	for _, e := range entries {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		chain = append(chain, e)
	}

	continuity := chainContinuity(chain)

	pack := &Pack{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		TimeRange:   TimeRange{Start: start, End: end},
		MerkleRoots: roots,
		AuditChain:  chain,
		Verification: Verification{
			TotalEntries:     len(chain),
			MerkleRootsCount: len(roots),
			ChainIntegrity:   continuity,
		},
	}

	hash, err := hashPack(pack)
	if err != nil {
		return nil, fmt.Errorf("hash pack: %w", err)
	}
	pack.Verification.PackHash = hash
	return pack, nil
}

// chainContinuity checks previous_hash/self_hash linkage across a chain
// slice in isolation (it does not know the predecessor outside the
// slice, so the first entry's previous_hash is accepted as given).
func chainContinuity(chain []model.AuditEntry) bool {
	for i := 1; i < len(chain); i++ {
		if chain[i].PreviousHash != chain[i-1].SelfHash {
			return false
		}
	}
	for i := range chain {
		ok, err := chain[i].VerifySelfHash()
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// hashPack computes packHash over the pack's stable, sorted-key JSON
// encoding with Verification.PackHash cleared, so the digest is
// reproducible independent of map iteration order.
func hashPack(pack *Pack) (string, error) {
	clone := *pack
	clone.Verification.PackHash = ""

	raw, err := json.Marshal(clone)
	if err != nil {
		return "", err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canon, err := model.CanonicalJSON(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// ImportPack re-verifies a pack's chain continuity and packHash,
// returning an error if either check fails.
func ImportPack(pack *Pack) error {
	if !chainContinuity(pack.AuditChain) {
		return errkind.New(errkind.Integrity, "audit pack chain continuity check failed", nil)
	}
	want := pack.Verification.PackHash
	got, err := hashPack(pack)
	if err != nil {
		return fmt.Errorf("hash pack: %w", err)
	}
	if got != want {
		return errkind.New(errkind.Integrity, "audit pack hash mismatch", nil)
	}
	return nil
}

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

// Package audit is the in-process ledger: per-log hashing, a hash-linked
// audit chain, a rolling hourly Merkle window, inclusion proofs, and
// audit-pack export/import. All mutation goes through one mutex-protected
// boundary to preserve append order and avoid torn roots: one logger,
// one lock, no partial writes visible to a concurrent reader.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

// Service is the audit ledger: an append-only chain plus the current
// hourly Merkle window. All mutating methods serialize on mu; exports and
// proof generation take a snapshot and may run without holding it.
type Service struct {
	mu sync.Mutex

	entries []model.AuditEntry
	windows []model.MerkleWindow // index len-1 is the current, open window

	windowSize time.Duration
	clock      func() time.Time

	logger *zap.Logger
}

// NewService constructs an audit Service with the given Merkle window
// size (default one hour, configurable).
func NewService(windowSize time.Duration, logger *zap.Logger) *Service {
	return NewServiceWithClock(windowSize, logger, time.Now)
}

// NewServiceWithClock is NewService with an injectable clock, so tests
// can drive wall-clock window rollover deterministically.
func NewServiceWithClock(windowSize time.Duration, logger *zap.Logger, clock func() time.Time) *Service {
	return &Service{
		windowSize: windowSize,
		clock:      clock,
		logger:     logger,
	}
}

// AddLogEntry appends a LOG_CREATED entry for logID/logHash, folding
// logHash into the window that eventTime (the log's own timestamp)
// falls into as a new leaf — not necessarily the window currently open
// for wall-clock processing, since a backfilled log can carry an older
// timestamp than when the Worker actually processes it. metadata
// carries initiator, source address, and reason for the mutation.
func (s *Service) AddLogEntry(ctx context.Context, logID, logHash string, eventTime time.Time, metadata map[string]string) (*model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	s.rollIfNeeded(now)

	entry := model.AuditEntry{
		EntryID:      uuid.New().String(),
		Type:         model.AuditLogCreated,
		LogID:        logID,
		LogHash:      logHash,
		Timestamp:    now,
		Metadata:     metadata,
		PreviousHash: s.tailHashLocked(),
	}
	if err := entry.SealSelfHash(); err != nil {
		return nil, errkind.New(errkind.Integrity, "seal audit entry self hash", err)
	}
	s.entries = append(s.entries, entry)

	cur := s.windowForLeafLocked(eventTime.UTC())
	cur.Leaves = append(cur.Leaves, logHash)
	cur.Root = MerkleRoot(cur.Leaves)

	s.logger.Debug("audit entry appended",
		logging.NewFields().Component("audit").Operation("add_log_entry").Custom("log_id", logID).ToZap()...)

	return &entry, nil
}

// windowForLeafLocked returns the open window whose range contains
// eventTime, for leaf assignment. If eventTime's window has already
// been finalized, or was never opened, the leaf is folded into the
// currently open window
// instead: reopening a finalized window would invalidate any inclusion
// proof already issued against its stored root, so a sufficiently
// delayed backfill is an accepted narrowing rather than a retroactive
// rewrite. Caller must hold mu and must have already called
// rollIfNeeded so s.windows is non-empty.
func (s *Service) windowForLeafLocked(eventTime time.Time) *model.MerkleWindow {
	start := model.WindowStartFor(eventTime, s.windowSize)
	for i := range s.windows {
		if s.windows[i].WindowStart.Equal(start) && !s.windows[i].Finalized {
			return &s.windows[i]
		}
	}
	return &s.windows[len(s.windows)-1]
}

// UpdateLogEntry appends a LOG_UPDATED entry recording the fields that
// changed. Updates do not fold a new leaf into the Merkle window — only
// creations contribute log hashes to the tree.
func (s *Service) UpdateLogEntry(ctx context.Context, logID string, updates map[string]interface{}, metadata map[string]string) (*model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	s.rollIfNeeded(now)

	entry := model.AuditEntry{
		EntryID:      uuid.New().String(),
		Type:         model.AuditLogUpdated,
		LogID:        logID,
		Updates:      updates,
		Timestamp:    now,
		Metadata:     metadata,
		PreviousHash: s.tailHashLocked(),
	}
	if err := entry.SealSelfHash(); err != nil {
		return nil, errkind.New(errkind.Integrity, "seal audit entry self hash", err)
	}
	s.entries = append(s.entries, entry)
	return &entry, nil
}

// FlushWindow finalizes the current window unconditionally (explicit
// flush path alongside the wall-clock rollover).
func (s *Service) FlushWindow(ctx context.Context) (*model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeCurrentLocked(s.clock().UTC())
}

// rollIfNeeded finalizes the current window and opens a new one when now
// has crossed into a later window than the one currently open.
func (s *Service) rollIfNeeded(now time.Time) {
	start := model.WindowStartFor(now, s.windowSize)
	if len(s.windows) == 0 {
		s.windows = append(s.windows, model.MerkleWindow{WindowStart: start, WindowEnd: start.Add(s.windowSize)})
		return
	}
	cur := &s.windows[len(s.windows)-1]
	if cur.WindowStart.Equal(start) {
		return
	}
	if _, err := s.finalizeCurrentLocked(now); err != nil {
		s.logger.Error("failed to finalize window on rollover", zap.Error(err))
	}
	s.windows = append(s.windows, model.MerkleWindow{WindowStart: start, WindowEnd: start.Add(s.windowSize)})
}

// finalizeCurrentLocked marks the open window finalized and appends a
// WINDOW_FINALIZED audit entry carrying its root. Caller must hold mu.
func (s *Service) finalizeCurrentLocked(now time.Time) (*model.AuditEntry, error) {
	if len(s.windows) == 0 {
		return nil, nil
	}
	cur := &s.windows[len(s.windows)-1]
	if cur.Finalized || len(cur.Leaves) == 0 {
		cur.Finalized = true
		return nil, nil
	}
	cur.Finalized = true

	entry := model.AuditEntry{
		EntryID:      uuid.New().String(),
		Type:         model.AuditWindowFinalized,
		WindowStart:  cur.WindowStart,
		WindowEnd:    cur.WindowEnd,
		MerkleRoot:   cur.Root,
		HashCount:    len(cur.Leaves),
		Timestamp:    now,
		PreviousHash: s.tailHashLocked(),
	}
	if err := entry.SealSelfHash(); err != nil {
		return nil, errkind.New(errkind.Integrity, "seal window-finalized entry", err)
	}
	s.entries = append(s.entries, entry)
	return &entry, nil
}

func (s *Service) tailHashLocked() string {
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].SelfHash
}

// VerifyChain re-checks every consecutive pair in the chain and returns
// the index of the first broken link, or -1 if the chain is intact.
func (s *Service) VerifyChain() (int, error) {
	s.mu.Lock()
	entries := append([]model.AuditEntry(nil), s.entries...)
	s.mu.Unlock()

	var prevHash string
	for i := range entries {
		e := entries[i]
		if e.PreviousHash != prevHash {
			return i, fmt.Errorf("entry %d: previous_hash mismatch", i)
		}
		ok, err := e.VerifySelfHash()
		if err != nil {
			return i, err
		}
		if !ok {
			return i, fmt.Errorf("entry %d: self_hash mismatch", i)
		}
		prevHash = e.SelfHash
	}
	return -1, nil
}

// ProofForHash finds hash within the window starting at windowStart and
// returns its inclusion proof against that window's stored root.
func (s *Service) ProofForHash(windowStart time.Time, hash string) (*InclusionProof, error) {
	s.mu.Lock()
	var window *model.MerkleWindow
	for i := range s.windows {
		if s.windows[i].WindowStart.Equal(windowStart) {
			window = &s.windows[i]
			break
		}
	}
	var leaves []string
	var root string
	index := -1
	if window != nil {
		leaves = append([]string(nil), window.Leaves...)
		root = window.Root
		for i, l := range leaves {
			if l == hash {
				index = i
				break
			}
		}
	}
	s.mu.Unlock()

	if window == nil {
		return nil, errkind.New(errkind.NotFound, "no window found at start "+windowStart.String(), nil)
	}
	if index < 0 {
		return nil, errkind.New(errkind.NotFound, "hash not found in window", nil)
	}

	proof, err := GenerateProof(leaves, index)
	if err != nil {
		return nil, err
	}
	if proof.Root != root {
		return nil, errkind.New(errkind.Integrity, "recomputed root does not match stored window root", nil)
	}
	return proof, nil
}

// Snapshot returns a copy of the chain and of every window, finalized or
// still open, for export.
func (s *Service) Snapshot() ([]model.AuditEntry, []model.MerkleWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]model.AuditEntry(nil), s.entries...)
	windows := append([]model.MerkleWindow(nil), s.windows...)
	return entries, windows
}

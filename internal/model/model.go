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

// Package model defines the data entities shared across the ingestion,
// worker, store, and audit components: the Log record, the hash-linked
// AuditEntry chain, and the hourly MerkleWindow.
package model

import (
	"time"
)

// Status is the outcome classification of a Log, possibly promoted to
// StatusAnomaly by the classifier.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusAnomaly Status = "anomaly"
)

// RetentionTier is the storage class governing how long a Log is retained.
type RetentionTier string

const (
	RetentionHot  RetentionTier = "hot"
	RetentionWarm RetentionTier = "warm"
	RetentionCold RetentionTier = "cold"
)

// Retention tier boundaries: pinned at
// save time from age-at-write, recomputed only at rollover.
const (
	HotRetentionBound  = 30 * 24 * time.Hour
	WarmRetentionBound = 365 * 24 * time.Hour
)

// DeriveRetentionTier classifies age (now - timestamp) into a tier. Bounds
// are inclusive at the lower edge: exactly 30d is still hot, exactly 365d
// is still warm.
func DeriveRetentionTier(age time.Duration) RetentionTier {
	switch {
	case age <= HotRetentionBound:
		return RetentionHot
	case age <= WarmRetentionBound:
		return RetentionWarm
	default:
		return RetentionCold
	}
}

// Log is a single AI agent decision step. It is immutable after insert
// except for the review fields (Reviewed, ReviewComments) and the
// bookkeeping fields (Version, RetentionTier, ContentHash) that change as
// an accepted mutation is applied.
type Log struct {
	AgentID   string `json:"agentId" db:"agent_id"`
	StepID    int64  `json:"stepId" db:"step_id"`
	TraceID   string `json:"traceId,omitempty" db:"trace_id"`
	UserID    string `json:"userId,omitempty" db:"user_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	InputData interface{} `json:"inputData" db:"-"`
	Output    interface{} `json:"output" db:"-"`
	Reasoning string      `json:"reasoning" db:"reasoning"`

	Status Status `json:"status" db:"status"`

	Reviewed        bool   `json:"reviewed" db:"reviewed"`
	ReviewComments  string `json:"reviewComments,omitempty" db:"review_comments"`

	Metadata map[string]interface{} `json:"metadata,omitempty" db:"-"`

	Version       int           `json:"version" db:"version"`
	RetentionTier RetentionTier `json:"retentionTier" db:"retention_tier"`
	ContentHash   string        `json:"contentHash" db:"content_hash"`
}

// Key identifies a Log by its unique (agent_id, step_id) pair.
type Key struct {
	AgentID string
	StepID  int64
}

// IsMutationEligible reports whether the log may still accept a review
// update: a log that is not flagged anomaly and already reviewed is
// closed to further mutation.
func (l *Log) IsMutationEligible() bool {
	if l.Status != StatusAnomaly && l.Reviewed {
		return false
	}
	return true
}

// ReviewUpdate is the mutable payload accepted by UpdateReview.
type ReviewUpdate struct {
	Reviewed       bool   `json:"reviewed"`
	ReviewComments string `json:"reviewComments"`
}

// AuditEntryType enumerates the kinds of events recorded in the audit
// chain.
type AuditEntryType string

const (
	AuditLogCreated      AuditEntryType = "LOG_CREATED"
	AuditLogUpdated      AuditEntryType = "LOG_UPDATED"
	AuditWindowFinalized AuditEntryType = "WINDOW_FINALIZED"
)

// AuditEntry is one append-only, hash-linked record in the audit chain.
type AuditEntry struct {
	EntryID  string         `json:"entryId"`
	Type     AuditEntryType `json:"type"`
	LogID    string         `json:"logId,omitempty"`
	LogHash  string         `json:"logHash,omitempty"`
	Updates  map[string]interface{} `json:"updates,omitempty"`

	// Window-finalization fields, populated only when Type ==
	// AuditWindowFinalized.
	WindowStart time.Time `json:"windowStart,omitempty"`
	WindowEnd   time.Time `json:"windowEnd,omitempty"`
	MerkleRoot  string    `json:"merkleRoot,omitempty"`
	HashCount   int       `json:"hashCount,omitempty"`

	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PreviousHash string            `json:"previousHash"`
	SelfHash     string            `json:"selfHash"`
}

// MerkleWindow is the rolling hourly aggregate of log hashes. WindowStart
// is the floor of event time to the hour; a log whose timestamp lands
// exactly on the boundary belongs to the later window (WindowStart ==
// that boundary).
type MerkleWindow struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Leaves      []string
	Root        string
	Finalized   bool
}

// WindowStartFor floors t (in UTC) to the start of its window of the
// given size.
func WindowStartFor(t time.Time, size time.Duration) time.Time {
	u := t.UTC()
	floored := u.Truncate(size)
	return floored
}

// HashCount returns the number of leaves folded into the window so far.
func (w *MerkleWindow) HashCount() int {
	return len(w.Leaves)
}

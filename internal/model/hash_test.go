package model

import (
	"testing"
	"time"
)

func sampleLog() *Log {
	return &Log{
		AgentID:   "a1",
		StepID:    3,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		InputData: map[string]interface{}{"x": 1.0},
		Output:    map[string]interface{}{"y": 2.0},
		Reasoning: "This is a valid log with sufficient details",
		Status:    StatusSuccess,
		Version:   1,
	}
}

func TestComputeContentHash_Deterministic(t *testing.T) {
	l1 := sampleLog()
	l2 := sampleLog()

	h1, err := l1.ComputeContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := l2.ComputeContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected a 256-bit hex digest (64 chars), got %d", len(h1))
	}
}

func TestComputeContentHash_KeyOrderIndependent(t *testing.T) {
	l1 := sampleLog()
	l1.InputData = map[string]interface{}{"a": 1.0, "b": 2.0}
	l2 := sampleLog()
	l2.InputData = map[string]interface{}{"b": 2.0, "a": 1.0}

	h1, err := l1.ComputeContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := l2.ComputeContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected map key order to not affect the hash")
	}
}

func TestComputeContentHash_SensitiveToVersion(t *testing.T) {
	l1 := sampleLog()
	l2 := sampleLog()
	l2.Version = 2

	h1, _ := l1.ComputeContentHash()
	h2, _ := l2.ComputeContentHash()
	if h1 == h2 {
		t.Fatalf("expected version bump to change the content hash")
	}
}

func TestVerifyContentHash(t *testing.T) {
	l := sampleLog()
	hash, err := l.ComputeContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.ContentHash = hash

	ok, err := l.VerifyContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected verification to succeed")
	}

	l.Reasoning = "tampered"
	ok, err = l.VerifyContentHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail after tampering")
	}
}

func TestAuditEntryChain(t *testing.T) {
	e1 := &AuditEntry{
		EntryID:   "e1",
		Type:      AuditLogCreated,
		LogID:     "a1:1",
		LogHash:   "deadbeef",
		Timestamp: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
	}
	if err := e1.SealSelfHash(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e2 := &AuditEntry{
		EntryID:      "e2",
		Type:         AuditLogUpdated,
		LogID:        "a1:1",
		Updates:      map[string]interface{}{"reviewed": true},
		Timestamp:    time.Date(2026, 1, 2, 3, 1, 0, 0, time.UTC),
		PreviousHash: e1.SelfHash,
	}
	if err := e2.SealSelfHash(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e2.PreviousHash != e1.SelfHash {
		t.Fatalf("chain broken: e2.PreviousHash != e1.SelfHash")
	}

	ok, err := e2.VerifySelfHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected e2 self hash to verify")
	}

	e2.Updates["reviewed"] = false
	ok, _ = e2.VerifySelfHash()
	if ok {
		t.Fatalf("expected tampering with updates to break self hash verification")
	}
}

func TestDeriveRetentionTier(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want RetentionTier
	}{
		{0, RetentionHot},
		{29 * 24 * time.Hour, RetentionHot},
		{HotRetentionBound, RetentionHot},
		{HotRetentionBound + time.Second, RetentionWarm},
		{WarmRetentionBound, RetentionWarm},
		{WarmRetentionBound + time.Second, RetentionCold},
	}
	for _, c := range cases {
		got := DeriveRetentionTier(c.age)
		if got != c.want {
			t.Errorf("DeriveRetentionTier(%s) = %s, want %s", c.age, got, c.want)
		}
	}
}

func TestWindowStartFor_HourBoundary(t *testing.T) {
	boundary := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
	got := WindowStartFor(boundary, time.Hour)
	if !got.Equal(boundary) {
		t.Fatalf("expected a timestamp exactly on the hour boundary to floor to itself (the later window), got %s", got)
	}

	justBefore := boundary.Add(-time.Nanosecond)
	got = WindowStartFor(justBefore, time.Hour)
	if !got.Equal(boundary.Add(-time.Hour)) {
		t.Fatalf("expected a timestamp just before the boundary to floor to the earlier window, got %s", got)
	}
}

func TestIsMutationEligible(t *testing.T) {
	l := sampleLog()
	l.Status = StatusAnomaly
	l.Reviewed = true
	if !l.IsMutationEligible() {
		t.Fatalf("an anomaly log should remain mutation-eligible even once reviewed")
	}

	l.Status = StatusSuccess
	l.Reviewed = false
	if !l.IsMutationEligible() {
		t.Fatalf("a non-reviewed log should be mutation-eligible")
	}
	l.Reviewed = true
	if l.IsMutationEligible() {
		t.Fatalf("a reviewed non-anomaly log must not remain mutation-eligible")
	}
}

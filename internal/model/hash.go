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

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// ComputeContentHash derives the Log's content_hash: a 256-bit digest over
// the canonical serialization of (agent_id, step_id, timestamp, input_data,
// output, reasoning, status, version). Field order is fixed by the
// envelope array below; recomputing this for an unchanged Log always
// yields the stored value.
func (l *Log) ComputeContentHash() (string, error) {
	envelope := []interface{}{
		l.AgentID,
		l.StepID,
		l.Timestamp.UTC().Format(time.RFC3339Nano),
		l.InputData,
		l.Output,
		l.Reasoning,
		string(l.Status),
		l.Version,
	}
	canon, err := CanonicalJSON(envelope)
	if err != nil {
		return "", fmt.Errorf("canonicalize log envelope: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyContentHash recomputes the hash and compares it against the
// stored value.
func (l *Log) VerifyContentHash() (bool, error) {
	h, err := l.ComputeContentHash()
	if err != nil {
		return false, err
	}
	return h == l.ContentHash, nil
}

// CalculateSelfHash computes the entry's self_hash over every field
// except SelfHash itself, with PreviousHash folded in so the chain is
// tamper-evident end to end.
func (e *AuditEntry) CalculateSelfHash() (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s:%s:%s:%s:%s:%d:%s",
		e.EntryID,
		e.Type,
		e.LogID,
		e.LogHash,
		e.MerkleRoot,
		e.WindowStart.UTC().Format(time.RFC3339Nano),
		e.WindowEnd.UTC().Format(time.RFC3339Nano),
		e.HashCount,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	writeSortedInterfaceMap(h, e.Updates)
	writeSortedStringMap(h, e.Metadata)
	fmt.Fprintf(h, ":%s", e.PreviousHash)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SealSelfHash sets e.SelfHash to the freshly computed digest.
func (e *AuditEntry) SealSelfHash() error {
	hash, err := e.CalculateSelfHash()
	if err != nil {
		return err
	}
	e.SelfHash = hash
	return nil
}

// VerifySelfHash reports whether the stored SelfHash matches a
// recomputation over the entry's other fields.
func (e *AuditEntry) VerifySelfHash() (bool, error) {
	want := e.SelfHash
	h, err := e.CalculateSelfHash()
	if err != nil {
		return false, err
	}
	return h == want, nil
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeSortedInterfaceMap(h hashWriter, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, ":%s=%v", k, m[k])
	}
}

func writeSortedStringMap(h hashWriter, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, ":%s=%s", k, m[k])
	}
}

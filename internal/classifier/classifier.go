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

// Package classifier implements the anomaly-detection rules applied to a
// Log both at API ingress and again, defensively, at worker validation.
// Classification never rejects a log; it only labels it.
package classifier

import (
	"strings"

	"github.com/jordigilh/auditlog/internal/model"
)

// Rule inspects a Log and reports whether it independently flags an
// anomaly. Rules run in order and Classify stops at the first hit; the
// remaining rules are not evaluated.
type Rule func(l *model.Log) bool

const minReasoningLength = 10

// StepIDNegative flags logs carrying a negative step id.
func StepIDNegative(l *model.Log) bool {
	return l.StepID < 0
}

// ReasoningTooShort flags logs whose reasoning is missing or, after
// trimming whitespace, shorter than the minimum length.
func ReasoningTooShort(l *model.Log) bool {
	return len(strings.TrimSpace(l.Reasoning)) < minReasoningLength
}

// ReasoningMentionsError flags logs whose lowercased reasoning contains
// the substring "error".
func ReasoningMentionsError(l *model.Log) bool {
	return strings.Contains(strings.ToLower(l.Reasoning), "error")
}

// DefaultRules is the ordered rule set evaluated by Classify. Frequency
// and historical-deviation rules are an intentional extension point: the
// source material stubs them out without a concrete implementation, and
// this spec leaves the hook defined but unimplemented rather than
// guessing at behavior.
var DefaultRules = []Rule{
	StepIDNegative,
	ReasoningTooShort,
	ReasoningMentionsError,
}

// Classify is a pure function: any rule hit flags the log as an anomaly.
// It is deterministic — repeated calls against an unchanged Log always
// return the same result — and never mutates its argument.
func Classify(l *model.Log) bool {
	for _, rule := range DefaultRules {
		if rule(l) {
			return true
		}
	}
	return false
}

// ApplyInitialStatus sets l.Status to StatusAnomaly when Classify flags
// the log, otherwise leaves status as already set by the caller (success
// or failure, decided by the caller's own outcome signal).
func ApplyInitialStatus(l *model.Log) {
	if Classify(l) {
		l.Status = model.StatusAnomaly
	}
}

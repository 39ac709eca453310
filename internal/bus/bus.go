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

// Package bus is the durable event bus adapter: named durable streams,
// per-subject subscriptions with explicit acknowledgement, bounded
// redelivery, exponential-backoff retry, and per-subject dead-letter
// routing. The concrete transport is NATS JetStream; callers depend only
// on Publisher/Subscriber so a fake can stand in for tests.
package bus

import (
	"context"
	"time"
)

// Ingress/egress/DLQ subject names used by the core. Kept here, not
// scattered across worker/notifier, so the subject hierarchy has one
// source of truth.
const (
	SubjectLogsCreate = "logs.create"
	SubjectLogsBulk   = "logs.bulk"
	SubjectLogsUpdate = "logs.update"

	SubjectLogsCreated     = "logs.created"
	SubjectLogsBulkCreated = "logs.bulk-created"
	SubjectLogsUpdated     = "logs.updated"

	SubjectAuditWindowFinalized = "audit.window-finalized"

	dlqPrefix = "logs.dlq."
)

// DLQSubject returns the dead-letter mirror of subject.
func DLQSubject(subject string) string {
	return dlqPrefix + subject
}

// DefaultMaxDeliver is the redelivery bound before a message is routed to
// its DLQ subject.
const DefaultMaxDeliver = 3

// RetryBackoff is the redelivery backoff schedule: 1s, 5s, 15s, 60s,
// capped at the table tail for any delivery attempt beyond the table's
// length.
var RetryBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second}

// BackoffFor returns the retry delay for the given 1-based delivery
// attempt count, capped at the schedule's last entry.
func BackoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(RetryBackoff) {
		idx = len(RetryBackoff) - 1
	}
	return RetryBackoff[idx]
}

// Envelope is the wire format for every message on every subject: `id` is
// the idempotency key, `data` carries the operation's input or outcome
// payload, `metadata` is open context (failure metadata on DLQ mirrors).
type Envelope struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      []byte                 `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// FailureMetadata is folded into Envelope.Metadata when a message is
// republished to its DLQ subject.
type FailureMetadata struct {
	LastError  string    `json:"last_error"`
	RetryCount int       `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}

// Ack is the terminal decision a Handler makes about a delivered message.
type Ack int

const (
	// AckSuccess acknowledges the message; it will not be redelivered.
	AckSuccess Ack = iota
	// AckRetry leaves the message unacknowledged so the bus redelivers it
	// after the backoff delay for its attempt count.
	AckRetry
	// AckTerminal routes the message straight to its DLQ subject without
	// counting against MaxDeliver — used for permanent (validation)
	// failures that retries can never fix.
	AckTerminal
)

// Handler processes one delivered envelope and reports how the bus should
// acknowledge it. attempt is the 1-based delivery attempt count.
type Handler func(ctx context.Context, env Envelope, attempt int) (Ack, error)

// Publisher publishes envelopes onto named subjects.
type Publisher interface {
	Publish(ctx context.Context, subject string, env Envelope) error
}

// Subscriber durably subscribes a named queue group to a subject and
// invokes handler for every delivered message until ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, durable, queueGroup string, maxDeliver int, handler Handler) error
}

// StreamHealth is the health snapshot exposed per stream: depth, consumer
// lag, and bytes.
type StreamHealth struct {
	Stream        string
	Messages      uint64
	Bytes         uint64
	ConsumerLag   uint64
	LastSeq       uint64
	ConsumerCount int
}

// HealthReporter exposes the per-stream health snapshot.
type HealthReporter interface {
	Health(ctx context.Context) ([]StreamHealth, error)
}

// Bus composes publish, subscribe, and health reporting behind one
// injected collaborator.
type Bus interface {
	Publisher
	Subscriber
	HealthReporter
	Close() error
}

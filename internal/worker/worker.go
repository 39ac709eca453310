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

// Package worker is the Log Worker: the sole writer of the Store. It
// consumes logs.create/logs.bulk/logs.update from the event bus,
// re-validates and re-classifies every log defensively, persists it,
// records the event with the audit service, and republishes an outcome
// event. Idempotency and failure classification live here, not in the
// bus adapter, because only the Worker knows which failures are
// permanent.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/audit"
	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/classifier"
	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/internal/store"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

const (
	durableName = "auditlog-worker"
	queueGroup  = "auditlog-worker"
)

// Worker is the single writer of the Store, subscribed to the three
// ingress subjects under a shared queue group.
type Worker struct {
	repo   store.Repository
	audit  *audit.Service
	pub    bus.Publisher
	dedup  *DedupSet
	logger *zap.Logger
	clock  func() time.Time
}

// New constructs a Worker. maxRecentKeys bounds the idempotency set; a
// non-positive value falls back to a sane default.
func New(repo store.Repository, auditSvc *audit.Service, pub bus.Publisher, maxRecentKeys int, logger *zap.Logger) *Worker {
	return &Worker{
		repo:   repo,
		audit:  auditSvc,
		pub:    pub,
		dedup:  NewDedupSet(maxRecentKeys),
		logger: logger,
		clock:  time.Now,
	}
}

// Run subscribes the Worker's three handlers to the bus and returns once
// all three are registered, or with the first registration error.
func (w *Worker) Run(ctx context.Context, b bus.Subscriber, maxDeliver int) error {
	if err := b.Subscribe(ctx, bus.SubjectLogsCreate, durableName+"-create", queueGroup, maxDeliver, w.handleCreate); err != nil {
		return err
	}
	if err := b.Subscribe(ctx, bus.SubjectLogsBulk, durableName+"-bulk", queueGroup, maxDeliver, w.handleBulk); err != nil {
		return err
	}
	if err := b.Subscribe(ctx, bus.SubjectLogsUpdate, durableName+"-update", queueGroup, maxDeliver, w.handleUpdate); err != nil {
		return err
	}
	return nil
}

// handleCreate implements the create path: re-validate, classify,
// compute retention tier and content hash, persist, record with the
// audit service, republish logs.created.
func (w *Worker) handleCreate(ctx context.Context, env bus.Envelope, attempt int) (bus.Ack, error) {
	if w.dedup.Seen(env.ID) {
		return bus.AckSuccess, nil
	}

	var payload CreatePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return bus.AckTerminal, err
	}
	if msg := payload.Validate(); msg != "" {
		w.logger.Warn("create payload failed validation",
			logging.NewFields().Component("worker").Operation("create").Custom("reason", msg).ToZap()...)
		return bus.AckTerminal, errkind.New(errkind.Validation, msg, nil)
	}

	log := payload.ToLog()
	ack, err := w.persistAndRecord(ctx, log)
	if err != nil {
		return ack, err
	}
	w.dedup.Mark(env.ID)

	out := CreatedOutcome{LogID: logID(log.AgentID, log.StepID), AgentID: log.AgentID, StepID: log.StepID, Timestamp: log.Timestamp, Status: log.Status}
	if perr := w.publishOutcome(ctx, bus.SubjectLogsCreated, env.ID, out); perr != nil {
		w.logger.Error("failed to publish create outcome", zap.Error(perr))
	}
	return bus.AckSuccess, nil
}

// handleBulk implements the bulk path: every entry is validated and
// classified independently and applied unordered; partial failures do
// not block the rest of the batch. Each item that fails validation or
// the store insert is published on its own to the logs.bulk DLQ subject.
func (w *Worker) handleBulk(ctx context.Context, env bus.Envelope, attempt int) (bus.Ack, error) {
	if w.dedup.Seen(env.ID) {
		return bus.AckSuccess, nil
	}

	var payload BulkPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return bus.AckTerminal, err
	}

	logs := make([]*model.Log, 0, len(payload.Logs))
	items := make([]CreatePayload, 0, len(payload.Logs))
	accepted := make([]string, 0, len(payload.Logs))
	deadLetter := func(item CreatePayload, reason string) {
		data, _ := json.Marshal(item)
		now := w.clock().UTC()
		failure := bus.FailureMetadata{LastError: reason, RetryCount: attempt, FailedAt: now}
		dlq := bus.Envelope{ID: env.ID, Timestamp: now, Data: data, Metadata: map[string]interface{}{"failure": failure}}
		if perr := w.pub.Publish(ctx, bus.DLQSubject(bus.SubjectLogsBulk), dlq); perr != nil {
			w.logger.Error("failed to dead-letter bulk item", zap.Error(perr))
		}
	}
	for _, item := range payload.Logs {
		item := item
		if msg := item.Validate(); msg != "" {
			w.logger.Warn("bulk item failed validation",
				logging.NewFields().Component("worker").Operation("bulk").Custom("reason", msg).ToZap()...)
			deadLetter(item, msg)
			continue
		}
		l := item.ToLog()
		classifier.ApplyInitialStatus(l)
		hash, err := l.ComputeContentHash()
		if err != nil {
			w.logger.Error("failed to hash bulk item, returning batch to retry", zap.Error(err))
			return bus.AckRetry, err
		}
		l.ContentHash = hash
		l.RetentionTier = model.DeriveRetentionTier(w.clock().Sub(l.Timestamp))
		logs = append(logs, l)
		items = append(items, item)
	}

	failures, err := w.repo.BulkInsert(ctx, logs)
	if err != nil {
		return bus.AckRetry, err
	}

	failedKeys := make(map[model.Key]bool, len(failures))
	for _, f := range failures {
		failedKeys[f.Key] = true
		deadLetter(items[f.Index], f.Err.Error())
	}
	for _, l := range logs {
		key := model.Key{AgentID: l.AgentID, StepID: l.StepID}
		if failedKeys[key] {
			continue
		}
		if _, err := w.audit.AddLogEntry(ctx, logID(l.AgentID, l.StepID), l.ContentHash, l.Timestamp, nil); err != nil {
			w.logger.Error("audit append failed for bulk item, returning batch to retry", zap.Error(err))
			return bus.AckRetry, err
		}
		accepted = append(accepted, logID(l.AgentID, l.StepID))
	}

	w.dedup.Mark(env.ID)

	out := BulkCreatedOutcome{BatchID: payload.BatchID, AcceptedKeys: accepted, FailedCount: len(failures)}
	if perr := w.publishOutcome(ctx, bus.SubjectLogsBulkCreated, env.ID, out); perr != nil {
		w.logger.Error("failed to publish bulk outcome", zap.Error(perr))
	}
	return bus.AckSuccess, nil
}

// handleUpdate implements the update path: load, re-check
// mutation-eligibility, apply, bump version, rehash, persist, record.
func (w *Worker) handleUpdate(ctx context.Context, env bus.Envelope, attempt int) (bus.Ack, error) {
	if w.dedup.Seen(env.ID) {
		return bus.AckSuccess, nil
	}

	var payload UpdatePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return bus.AckTerminal, err
	}
	if payload.AgentID == "" {
		return bus.AckTerminal, errkind.New(errkind.Validation, "agent_id is required", nil)
	}

	l, err := w.repo.Get(ctx, payload.AgentID, payload.StepID)
	if err != nil {
		// Not-found may just mean the matching create has not landed
		// yet; retry rather than DLQ either way.
		return bus.AckRetry, err
	}

	if !l.IsMutationEligible() {
		return bus.AckTerminal, errkind.New(errkind.Conflict, "log is not eligible for mutation", nil)
	}

	updates := map[string]interface{}{
		"reviewed":       payload.Reviewed,
		"reviewComments": payload.ReviewComments,
	}
	l.Reviewed = payload.Reviewed
	l.ReviewComments = payload.ReviewComments
	l.Version++
	hash, err := l.ComputeContentHash()
	if err != nil {
		return bus.AckRetry, err
	}
	l.ContentHash = hash
	l.RetentionTier = model.DeriveRetentionTier(w.clock().Sub(l.Timestamp))

	if err := w.repo.Update(ctx, l); err != nil {
		return bus.AckRetry, err
	}

	id := logID(l.AgentID, l.StepID)
	if _, err := w.audit.UpdateLogEntry(ctx, id, updates, nil); err != nil {
		w.logger.Error("audit append failed for update, returning to retry", zap.Error(err))
		return bus.AckRetry, err
	}
	w.dedup.Mark(env.ID)

	out := UpdatedOutcome{LogID: id, AgentID: l.AgentID, StepID: l.StepID, Version: l.Version}
	if perr := w.publishOutcome(ctx, bus.SubjectLogsUpdated, env.ID, out); perr != nil {
		w.logger.Error("failed to publish update outcome", zap.Error(perr))
	}
	return bus.AckSuccess, nil
}

// persistAndRecord classifies, hashes, tiers, persists, and records a
// single freshly-built Log, shared by the create path.
func (w *Worker) persistAndRecord(ctx context.Context, l *model.Log) (bus.Ack, error) {
	classifier.ApplyInitialStatus(l)
	l.RetentionTier = model.DeriveRetentionTier(w.clock().Sub(l.Timestamp))
	hash, err := l.ComputeContentHash()
	if err != nil {
		// A hashing failure here is not attributable to a transient
		// dependency; it does not ack, so the message is retried.
		return bus.AckRetry, err
	}
	l.ContentHash = hash

	if err := w.repo.Insert(ctx, l); err != nil {
		switch errkind.KindOf(err) {
		case errkind.Conflict:
			// Already persisted by a prior delivery; treat as success.
			return bus.AckSuccess, nil
		case errkind.Validation:
			return bus.AckTerminal, err
		default:
			return bus.AckRetry, err
		}
	}

	if _, err := w.audit.AddLogEntry(ctx, logID(l.AgentID, l.StepID), l.ContentHash, l.Timestamp, nil); err != nil {
		// Chain-append failures are fatal: do not ack, let the message
		// return to retry rather than silently losing an audit record.
		return bus.AckRetry, err
	}
	return bus.AckSuccess, nil
}

func (w *Worker) publishOutcome(ctx context.Context, subject, idempotencyKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.pub.Publish(ctx, subject, bus.Envelope{
		ID:        idempotencyKey,
		Timestamp: w.clock().UTC(),
		Data:      data,
	})
}

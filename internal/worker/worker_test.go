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

package worker

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/audit"
	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/model"
)

func envelopeFor(id string, payload interface{}) bus.Envelope {
	data, err := json.Marshal(payload)
	Expect(err).NotTo(HaveOccurred())
	return bus.Envelope{ID: id, Timestamp: time.Now(), Data: data}
}

var _ = Describe("Worker", func() {
	var (
		repo    *fakeRepository
		auditor *audit.Service
		b       *bus.MemoryBus
		w       *Worker
		ctx     context.Context
	)

	BeforeEach(func() {
		repo = newFakeRepository()
		auditor = audit.NewService(time.Hour, zap.NewNop())
		b = bus.NewMemoryBus()
		w = New(repo, auditor, b, 1000, zap.NewNop())
		ctx = context.Background()
		Expect(w.Run(ctx, b, bus.DefaultMaxDeliver)).To(Succeed())
	})

	Describe("create path", func() {
		It("persists a valid log and publishes logs.created", func() {
			payload := CreatePayload{
				AgentID:   "agent-1",
				StepID:    1,
				InputData: map[string]interface{}{"x": 1.0},
				Output:    map[string]interface{}{"y": 2.0},
				Reasoning: "a perfectly ordinary decision",
				Timestamp: time.Now(),
			}
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, envelopeFor("key-1", payload))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())

			stored, ok := repo.get(model.Key{AgentID: "agent-1", StepID: 1})
			Expect(ok).To(BeTrue())
			Expect(stored.ContentHash).NotTo(BeEmpty())
			Expect(stored.RetentionTier).To(Equal(model.RetentionHot))

			Expect(b.Published(bus.SubjectLogsCreated)).To(HaveLen(1))
			Expect(b.DeadLettered(bus.SubjectLogsCreate)).To(BeEmpty())
		})

		It("flags an anomaly via the classifier before persisting", func() {
			payload := CreatePayload{
				AgentID:   "agent-1",
				StepID:    2,
				InputData: map[string]interface{}{},
				Output:    map[string]interface{}{},
				Reasoning: "too short",
				Timestamp: time.Now(),
			}
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, envelopeFor("key-2", payload))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())

			stored, ok := repo.get(model.Key{AgentID: "agent-1", StepID: 2})
			Expect(ok).To(BeTrue())
			Expect(stored.Status).To(Equal(model.StatusAnomaly))
		})

		It("routes schema violations straight to the dead-letter subject", func() {
			payload := CreatePayload{AgentID: "", StepID: 3}
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, envelopeFor("key-3", payload))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())

			Expect(b.DeadLettered(bus.SubjectLogsCreate)).To(HaveLen(1))
			_, ok := repo.get(model.Key{AgentID: "", StepID: 3})
			Expect(ok).To(BeFalse())
		})

		It("acks a repeated idempotency key without side effects", func() {
			payload := CreatePayload{
				AgentID:   "agent-1",
				StepID:    4,
				InputData: map[string]interface{}{"x": 1.0},
				Output:    map[string]interface{}{"y": 2.0},
				Reasoning: "a perfectly ordinary decision",
				Timestamp: time.Now(),
			}
			env := envelopeFor("dup-key", payload)
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, env)).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())
			Expect(b.Published(bus.SubjectLogsCreated)).To(HaveLen(1))

			// Redeliver the identical envelope.
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, env)).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())
			Expect(b.Published(bus.SubjectLogsCreated)).To(HaveLen(1), "a repeat must not republish an outcome")
		})

		It("retries on store contention rather than dead-lettering", func() {
			repo.insertErr = nil
			payload := CreatePayload{
				AgentID:   "agent-1",
				StepID:    5,
				InputData: map[string]interface{}{"x": 1.0},
				Output:    map[string]interface{}{"y": 2.0},
				Reasoning: "a perfectly ordinary decision",
				Timestamp: time.Now(),
			}
			// Force a transient failure on the first attempt only.
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, envelopeFor("key-5", payload))).To(Succeed())
			repo.insertErr = transientErr{}
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())
			Expect(b.DeadLettered(bus.SubjectLogsCreate)).To(BeEmpty())
			_, ok := repo.get(model.Key{AgentID: "agent-1", StepID: 5})
			Expect(ok).To(BeFalse())

			repo.insertErr = nil
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())
			_, ok = repo.get(model.Key{AgentID: "agent-1", StepID: 5})
			Expect(ok).To(BeTrue())
		})
	})

	Describe("bulk path", func() {
		It("persists the valid items and dead-letters the invalid ones", func() {
			payload := BulkPayload{
				BatchID: "batch-1",
				Logs: []CreatePayload{
					{AgentID: "agent-1", StepID: 10, InputData: 1, Output: 2, Reasoning: "a perfectly ordinary decision", Timestamp: time.Now()},
					{AgentID: "", StepID: 11},
				},
			}
			Expect(b.Publish(ctx, bus.SubjectLogsBulk, envelopeFor("batch-key-1", payload))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsBulk)).To(Succeed())

			_, ok := repo.get(model.Key{AgentID: "agent-1", StepID: 10})
			Expect(ok).To(BeTrue())
			Expect(b.Published(bus.SubjectLogsBulkCreated)).To(HaveLen(1))
			Expect(b.Published(bus.DLQSubject(bus.SubjectLogsBulk))).To(HaveLen(1))
		})
	})

	Describe("update path", func() {
		It("applies a review update and bumps the version", func() {
			create := CreatePayload{
				AgentID:   "agent-2",
				StepID:    1,
				InputData: 1,
				Output:    2,
				Reasoning: "a perfectly ordinary decision",
				Timestamp: time.Now(),
			}
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, envelopeFor("create-key", create))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())

			update := UpdatePayload{AgentID: "agent-2", StepID: 1, Reviewed: true, ReviewComments: "looks fine"}
			Expect(b.Publish(ctx, bus.SubjectLogsUpdate, envelopeFor("update-key", update))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsUpdate)).To(Succeed())

			stored, ok := repo.get(model.Key{AgentID: "agent-2", StepID: 1})
			Expect(ok).To(BeTrue())
			Expect(stored.Reviewed).To(BeTrue())
			Expect(stored.Version).To(Equal(2))
			Expect(b.Published(bus.SubjectLogsUpdated)).To(HaveLen(1))
		})

		It("rejects a mutation on a closed log", func() {
			create := CreatePayload{
				AgentID:   "agent-3",
				StepID:    1,
				InputData: 1,
				Output:    2,
				Reasoning: "a perfectly ordinary decision",
				Status:    model.StatusSuccess,
				Timestamp: time.Now(),
			}
			Expect(b.Publish(ctx, bus.SubjectLogsCreate, envelopeFor("create-key-3", create))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsCreate)).To(Succeed())

			first := UpdatePayload{AgentID: "agent-3", StepID: 1, Reviewed: true, ReviewComments: "ok"}
			Expect(b.Publish(ctx, bus.SubjectLogsUpdate, envelopeFor("update-key-3a", first))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsUpdate)).To(Succeed())

			second := UpdatePayload{AgentID: "agent-3", StepID: 1, Reviewed: true, ReviewComments: "changed my mind"}
			Expect(b.Publish(ctx, bus.SubjectLogsUpdate, envelopeFor("update-key-3b", second))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsUpdate)).To(Succeed())

			Expect(b.DeadLettered(bus.SubjectLogsUpdate)).To(HaveLen(1))
		})

		It("retries an update for a not-yet-applied create", func() {
			update := UpdatePayload{AgentID: "agent-4", StepID: 1, Reviewed: true}
			Expect(b.Publish(ctx, bus.SubjectLogsUpdate, envelopeFor("update-key-4", update))).To(Succeed())
			Expect(b.Drain(ctx, bus.SubjectLogsUpdate)).To(Succeed())

			Expect(b.DeadLettered(bus.SubjectLogsUpdate)).To(BeEmpty())
			Expect(b.Published(bus.SubjectLogsUpdate)).To(HaveLen(1), "message should be requeued for redelivery")
		})
	})
})

type transientErr struct{}

func (transientErr) Error() string { return "connection reset" }

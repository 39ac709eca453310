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

package notifier_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/notifier"
	"github.com/jordigilh/auditlog/internal/notifier/adapter"
)

var _ = Describe("Notifier", func() {
	var (
		memBus *bus.MemoryBus
		ad     *adapter.LocalAdapter
		hub    *notifier.Hub
		n      *notifier.Notifier
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		memBus = bus.NewMemoryBus()
		ad = adapter.NewLocalAdapter()
		hub = notifier.NewHub(0, zap.NewNop())
		n = notifier.New(hub, ad, zap.NewNop())

		Expect(n.Run(ctx, memBus, bus.DefaultMaxDeliver)).To(Succeed())
	})

	It("fans an outcome event from the bus through the adapter to a matching room", func() {
		sender := &fakeSender{}
		sess := hub.Register("sess-1", "", "", sender)
		_, _, ok := hub.Join(sess.ID, "agent:agent-1", map[string]interface{}{"agent_id": "agent-1"})
		Expect(ok).To(BeTrue())

		outcome := map[string]interface{}{"agent_id": "agent-1", "log_id": "agent-1/1"}
		data, err := json.Marshal(outcome)
		Expect(err).NotTo(HaveOccurred())

		Expect(memBus.Publish(ctx, bus.SubjectLogsCreated, bus.Envelope{ID: "evt-1", Data: data})).To(Succeed())
		Expect(memBus.Drain(ctx, bus.SubjectLogsCreated)).To(Succeed())

		msgs := sender.messages()
		Expect(msgs).To(HaveLen(1))

		var frame struct {
			Type string                 `json:"type"`
			Room string                 `json:"room"`
			Data map[string]interface{} `json:"data"`
		}
		Expect(json.Unmarshal(msgs[0], &frame)).To(Succeed())
		Expect(frame.Type).To(Equal("log-created"))
		Expect(frame.Room).To(Equal("agent:agent-1"))
		Expect(frame.Data["agent_id"]).To(Equal("agent-1"))
	})

	It("does not deliver to a room whose filter does not match", func() {
		sender := &fakeSender{}
		sess := hub.Register("sess-1", "", "", sender)
		_, _, ok := hub.Join(sess.ID, "agent:agent-2", map[string]interface{}{"agent_id": "agent-2"})
		Expect(ok).To(BeTrue())

		outcome := map[string]interface{}{"agent_id": "agent-1"}
		data, err := json.Marshal(outcome)
		Expect(err).NotTo(HaveOccurred())

		Expect(memBus.Publish(ctx, bus.SubjectLogsCreated, bus.Envelope{ID: "evt-1", Data: data})).To(Succeed())
		Expect(memBus.Drain(ctx, bus.SubjectLogsCreated)).To(Succeed())

		Expect(sender.messages()).To(BeEmpty())
	})

	It("acks the bus message once the adapter publish succeeds", func() {
		Expect(memBus.Publish(ctx, bus.SubjectLogsUpdated, bus.Envelope{ID: "evt-2", Data: []byte(`{}`)})).To(Succeed())
		Expect(memBus.Drain(ctx, bus.SubjectLogsUpdated)).To(Succeed())

		Expect(memBus.DeadLettered(bus.SubjectLogsUpdated)).To(BeEmpty())
	})
})

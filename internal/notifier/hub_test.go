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
	"encoding/json"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/notifier"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	sendErr  error
}

func (f *fakeSender) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ = Describe("Hub", func() {
	var hub *notifier.Hub

	BeforeEach(func() {
		hub = notifier.NewHub(0, zap.NewNop())
	})

	It("creates a room on first join and reports member count and filters", func() {
		sender := &fakeSender{}
		sess := hub.Register("sess-1", "127.0.0.1", "test-agent", sender)

		count, filters, ok := hub.Join(sess.ID, "agent:agent-1", map[string]interface{}{"agent_id": "agent-1"})
		Expect(ok).To(BeTrue())
		Expect(count).To(Equal(1))
		Expect(filters).To(HaveKeyWithValue("agent_id", "agent-1"))
	})

	It("rejects a join for an unregistered session", func() {
		_, _, ok := hub.Join("no-such-session", "room-a", nil)
		Expect(ok).To(BeFalse())
	})

	It("deletes a room once its last member leaves", func() {
		sender := &fakeSender{}
		sess := hub.Register("sess-1", "127.0.0.1", "", sender)
		hub.Join(sess.ID, "room-a", nil)

		_, ok := hub.RoomStats("room-a")
		Expect(ok).To(BeTrue())

		hub.Leave(sess.ID, "room-a")
		_, ok = hub.RoomStats("room-a")
		Expect(ok).To(BeFalse())
	})

	It("delivers to every member of a room whose filters match the event", func() {
		senderA := &fakeSender{}
		senderB := &fakeSender{}
		sessA := hub.Register("sess-a", "", "", senderA)
		sessB := hub.Register("sess-b", "", "", senderB)

		hub.Join(sessA.ID, "agent:agent-1", map[string]interface{}{"agent_id": "agent-1"})
		hub.Join(sessB.ID, "agent:agent-2", map[string]interface{}{"agent_id": "agent-2"})

		hub.Deliver("log-created", map[string]interface{}{"agent_id": "agent-1"}, []byte(`{"agent_id":"agent-1"}`))

		Expect(senderA.messages()).To(HaveLen(1))
		Expect(senderB.messages()).To(BeEmpty())

		var frame struct {
			Type string `json:"type"`
			Room string `json:"room"`
			Data map[string]interface{} `json:"data"`
		}
		Expect(json.Unmarshal(senderA.messages()[0], &frame)).To(Succeed())
		Expect(frame.Type).To(Equal("log-created"))
		Expect(frame.Room).To(Equal("agent:agent-1"))
		Expect(frame.Data["agent_id"]).To(Equal("agent-1"))
	})

	It("load-sheds a room whose membership exceeds the cap", func() {
		hub = notifier.NewHub(1, zap.NewNop())
		senderA := &fakeSender{}
		senderB := &fakeSender{}
		sessA := hub.Register("sess-a", "", "", senderA)
		sessB := hub.Register("sess-b", "", "", senderB)

		hub.Join(sessA.ID, "broadcast", nil)
		hub.Join(sessB.ID, "broadcast", nil)

		hub.Deliver("log-created", map[string]interface{}{}, []byte(`{}`))

		Expect(senderA.messages()).To(BeEmpty())
		Expect(senderB.messages()).To(BeEmpty())
	})

	It("tears down a session and closes its sender when a send fails", func() {
		sender := &fakeSender{sendErr: errors.New("write deadline exceeded")}
		sess := hub.Register("sess-1", "", "", sender)
		hub.Join(sess.ID, "room-a", nil)

		hub.Deliver("log-created", map[string]interface{}{}, []byte(`{}`))

		Expect(sender.isClosed()).To(BeTrue())
		_, ok := hub.RoomStats("room-a")
		Expect(ok).To(BeFalse())
	})

	It("removes a session from every room it had joined on RemoveSession", func() {
		sender := &fakeSender{}
		sess := hub.Register("sess-1", "", "", sender)
		hub.Join(sess.ID, "room-a", nil)
		hub.Join(sess.ID, "room-b", nil)

		hub.RemoveSession(sess.ID)

		_, okA := hub.RoomStats("room-a")
		_, okB := hub.RoomStats("room-b")
		Expect(okA).To(BeFalse())
		Expect(okB).To(BeFalse())
		Expect(sender.isClosed()).To(BeTrue())
	})
})

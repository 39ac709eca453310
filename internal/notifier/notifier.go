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

package notifier

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/notifier/adapter"
)

const notifierQueueGroup = "auditlog-notifier"

// egressSubjects is every subject the Notifier fans out to connected
// clients.
var egressSubjects = []string{
	bus.SubjectLogsCreated,
	bus.SubjectLogsBulkCreated,
	bus.SubjectLogsUpdated,
}

// eventTypeForSubject maps a bus subject to the named server event type
// a connected client receives it as.
func eventTypeForSubject(subject string) string {
	switch subject {
	case bus.SubjectLogsCreated:
		return "log-created"
	case bus.SubjectLogsBulkCreated:
		return "bulk-logs-created"
	case bus.SubjectLogsUpdated:
		return "log-updated"
	case bus.SubjectAuditWindowFinalized:
		return "audit-event"
	default:
		return subject
	}
}

// fanoutMessage is what one Notifier instance republishes on the
// Adapter channel after pulling an outcome event off the bus, so every
// instance (including the one that pulled it) can evaluate it against
// its own locally connected sessions.
type fanoutMessage struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// Notifier wires a Hub to the event bus (one shared subscription per
// cluster) and to an Adapter (broadcast to every instance in the
// cluster).
type Notifier struct {
	hub     *Hub
	adapter adapter.Adapter
	logger  *zap.Logger
}

// New constructs a Notifier.
func New(hub *Hub, ad adapter.Adapter, logger *zap.Logger) *Notifier {
	return &Notifier{hub: hub, adapter: ad, logger: logger}
}

// Run subscribes to every egress subject under one shared queue group
// (so exactly one instance in the cluster pulls any given message off
// the bus) and to the Adapter's fan-out channel (so every instance,
// including the one that pulled the message, evaluates it against its
// own local sessions).
func (n *Notifier) Run(ctx context.Context, sub bus.Subscriber, maxDeliver int) error {
	for _, subject := range egressSubjects {
		subject := subject
		durable := "auditlog-notifier-" + subject
		handler := n.busHandler(subject)
		if err := sub.Subscribe(ctx, subject, durable, notifierQueueGroup, maxDeliver, handler); err != nil {
			return err
		}
	}
	return n.adapter.Subscribe(ctx, adapter.OutcomeChannel, n.handleFanout)
}

func (n *Notifier) busHandler(subject string) bus.Handler {
	return func(ctx context.Context, env bus.Envelope, attempt int) (bus.Ack, error) {
		msg := fanoutMessage{Subject: subject, Data: env.Data}
		payload, err := json.Marshal(msg)
		if err != nil {
			return bus.AckTerminal, err
		}
		if err := n.adapter.Publish(ctx, adapter.OutcomeChannel, payload); err != nil {
			return bus.AckRetry, err
		}
		return bus.AckSuccess, nil
	}
}

func (n *Notifier) handleFanout(payload []byte) {
	var msg fanoutMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		n.logger.Error("failed to unmarshal fan-out envelope", zap.Error(err))
		return
	}

	var event map[string]interface{}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		n.logger.Error("failed to unmarshal outcome event", zap.Error(err))
		return
	}
	event["subject"] = msg.Subject

	n.hub.Deliver(eventTypeForSubject(msg.Subject), event, []byte(msg.Data))
}

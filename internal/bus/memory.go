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

package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus substitute: tests construct worker and
// notifier instances against it instead of a real JetStream connection,
// favoring constructor-injected, fake-able collaborators over
// module-level singletons.
type MemoryBus struct {
	mu         sync.Mutex
	queues     map[string][]Envelope
	dlq        map[string][]Envelope
	attempts   map[string]int
	maxDeliver map[string]int
	handlers   map[string]Handler
}

// NewMemoryBus constructs an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		queues:     make(map[string][]Envelope),
		dlq:        make(map[string][]Envelope),
		attempts:   make(map[string]int),
		maxDeliver: make(map[string]int),
		handlers:   make(map[string]Handler),
	}
}

// Publish appends env to subject's queue; nothing is delivered until
// Drain is called for that subject.
func (m *MemoryBus) Publish(ctx context.Context, subject string, env Envelope) error {
	m.mu.Lock()
	m.queues[subject] = append(m.queues[subject], env)
	m.mu.Unlock()
	return nil
}

// Subscribe is a synchronous, single-shot delivery model for tests:
// Drain must be called to push queued
// messages through handler, since there is no background fetch loop.
func (m *MemoryBus) Subscribe(ctx context.Context, subject, durable, queueGroup string, maxDeliver int, handler Handler) error {
	if maxDeliver <= 0 {
		maxDeliver = DefaultMaxDeliver
	}
	m.mu.Lock()
	m.maxDeliver[subject] = maxDeliver
	m.handlers[subject] = handler
	m.mu.Unlock()
	return nil
}

// Drain delivers every currently queued message on subject to its
// registered handler, honoring AckRetry/AckTerminal/max-deliver exactly
// like the NATS adapter, without network or timing dependencies.
func (m *MemoryBus) Drain(ctx context.Context, subject string) error {
	m.mu.Lock()
	handler, ok := m.handlers[subject]
	maxDeliver := m.maxDeliver[subject]
	pending := m.queues[subject]
	m.queues[subject] = nil
	m.mu.Unlock()

	if !ok {
		return nil
	}

	for _, env := range pending {
		m.deliver(ctx, subject, env, maxDeliver, handler)
	}
	return nil
}

func (m *MemoryBus) deliver(ctx context.Context, subject string, env Envelope, maxDeliver int, handler Handler) {
	m.mu.Lock()
	m.attempts[subject+"/"+env.ID]++
	attempt := m.attempts[subject+"/"+env.ID]
	m.mu.Unlock()

	ack, err := handler(ctx, env, attempt)
	switch ack {
	case AckSuccess:
		return
	case AckTerminal:
		m.mu.Lock()
		m.dlq[subject] = append(m.dlq[subject], env)
		m.mu.Unlock()
	case AckRetry:
		if attempt >= maxDeliver {
			m.mu.Lock()
			m.dlq[subject] = append(m.dlq[subject], env)
			m.mu.Unlock()
			return
		}
		m.mu.Lock()
		m.queues[subject] = append(m.queues[subject], env)
		m.mu.Unlock()
	}
	_ = err
}

// Published returns a copy of every envelope currently queued on subject
// (not yet drained).
func (m *MemoryBus) Published(subject string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.queues[subject]))
	copy(out, m.queues[subject])
	return out
}

// DeadLettered returns every envelope routed to subject's DLQ mirror.
func (m *MemoryBus) DeadLettered(subject string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.dlq[subject]))
	copy(out, m.dlq[subject])
	return out
}

// Health reports a zero-value snapshot; MemoryBus has no stream depth or
// consumer lag of its own.
func (m *MemoryBus) Health(ctx context.Context) ([]StreamHealth, error) {
	return nil, nil
}

// Close is a no-op for MemoryBus.
func (m *MemoryBus) Close() error { return nil }

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
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	sharederrors "github.com/jordigilh/auditlog/pkg/shared/errors"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

// NATSBus is the JetStream realization of Bus: durable streams, queue-group
// pull consumers, explicit ack/nak/term, and max-deliver + DLQ routing.
// Grounded on the platform's own global audit consumer (pull-subscribe,
// Fetch loop, Term on poison pills, Nak on transient failures, Ack only
// after the handler's side effect commits).
type NATSBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	stream string
	cb     *gobreaker.CircuitBreaker
}

// Config configures stream creation for NATSBus.
type Config struct {
	StreamName string
	Subjects   []string
}

// NewNATSBus connects to url, ensures the named stream carrying the given
// subjects exists, and returns a ready Bus.
func NewNATSBus(url string, cfg Config, logger *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url, nats.Name("auditlog"))
	if err != nil {
		return nil, sharederrors.NetworkError("connect to bus", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, sharederrors.NetworkError("acquire jetstream context", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: cfg.Subjects,
			Storage:  nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, sharederrors.FailedToWithDetails("create stream", "bus", cfg.StreamName, err)
		}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bus-publish",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	logger.Info("bus connected", logging.NewFields().Component("bus").Custom("stream", cfg.StreamName).ToZap()...)

	return &NATSBus{nc: nc, js: js, logger: logger, stream: cfg.StreamName, cb: cb}, nil
}

// Publish marshals env and publishes it to subject, behind a circuit
// breaker so a wedged bus surfaces fast as a transient error instead of
// hanging the caller.
func (b *NATSBus) Publish(ctx context.Context, subject string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = b.cb.Execute(func() (interface{}, error) {
		_, err := b.js.Publish(subject, payload, nats.Context(ctx))
		return nil, err
	})
	if err != nil {
		return sharederrors.FailedToWithDetails("publish", "bus", subject, err)
	}
	return nil
}

// Subscribe creates a durable pull consumer in queueGroup on subject and
// runs its fetch loop in a background goroutine until ctx is canceled.
func (b *NATSBus) Subscribe(ctx context.Context, subject, durable, queueGroup string, maxDeliver int, handler Handler) error {
	if maxDeliver <= 0 {
		maxDeliver = DefaultMaxDeliver
	}

	sub, err := b.js.PullSubscribe(subject, durable,
		nats.BindStream(b.stream),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(maxDeliver+1), // +1: let us own the DLQ decision on the last attempt
		nats.DeliverNew(),
	)
	if err != nil {
		return sharederrors.FailedToWithDetails("subscribe", "bus", subject, err)
	}

	go b.fetchLoop(ctx, sub, subject, maxDeliver, handler)
	return nil
}

func (b *NATSBus) fetchLoop(ctx context.Context, sub *nats.Subscription, subject string, maxDeliver int, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msgs, err := sub.Fetch(20, nats.MaxWait(2*time.Second))
			if err != nil {
				// nats.ErrTimeout on an empty queue is the steady state, not
				// a failure worth logging at volume.
				continue
			}
			for _, msg := range msgs {
				b.processMessage(ctx, msg, subject, maxDeliver, handler)
			}
		}
	}
}

func (b *NATSBus) processMessage(ctx context.Context, msg *nats.Msg, subject string, maxDeliver int, handler Handler) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("terminating malformed message", zap.String("subject", subject), zap.Error(err))
		b.routeToDLQ(ctx, subject, msg.Data, err, 0)
		_ = msg.Term()
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	ack, err := handler(ctx, env, attempt)
	switch ack {
	case AckSuccess:
		_ = msg.Ack()
	case AckTerminal:
		b.logger.Warn("routing message to DLQ (permanent failure)", zap.String("subject", subject), zap.Error(err))
		b.routeToDLQ(ctx, subject, msg.Data, err, attempt)
		_ = msg.Term()
	case AckRetry:
		if attempt >= maxDeliver {
			b.logger.Error("max-deliver exceeded, routing to DLQ", zap.String("subject", subject), zap.Int("attempt", attempt), zap.Error(err))
			b.routeToDLQ(ctx, subject, msg.Data, err, attempt)
			_ = msg.Term()
			return
		}
		b.logger.Warn("nak for retry", zap.String("subject", subject), zap.Int("attempt", attempt), zap.Error(err))
		_ = msg.NakWithDelay(BackoffFor(attempt))
	}
}

func (b *NATSBus) routeToDLQ(ctx context.Context, subject string, original []byte, cause error, retryCount int) {
	env := Envelope{
		ID:        fmt.Sprintf("dlq-%d", time.Now().UnixNano()),
		Timestamp: time.Now().UTC(),
		Data:      original,
		Metadata: map[string]interface{}{
			"failure": FailureMetadata{
				LastError:  errString(cause),
				RetryCount: retryCount,
				FailedAt:   time.Now().UTC(),
			},
		},
	}
	if err := b.Publish(ctx, DLQSubject(subject), env); err != nil {
		b.logger.Error("failed to route message to DLQ", zap.String("subject", subject), zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Health reports per-stream depth, consumer lag, and bytes.
func (b *NATSBus) Health(ctx context.Context) ([]StreamHealth, error) {
	info, err := b.js.StreamInfo(b.stream)
	if err != nil {
		return nil, sharederrors.NetworkError("stream info", err)
	}

	health := StreamHealth{
		Stream:   info.Config.Name,
		Messages: info.State.Msgs,
		Bytes:    info.State.Bytes,
		LastSeq:  info.State.LastSeq,
	}

	for ci := range b.js.ConsumersInfo(b.stream) {
		if ci == nil {
			continue
		}
		health.ConsumerCount++
		health.ConsumerLag += uint64(ci.NumPending)
	}

	return []StreamHealth{health}, nil
}

// Close closes the underlying NATS connection.
func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}

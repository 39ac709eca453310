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

package adapter

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisAdapter is the horizontal-scaling Adapter backed by Redis pub/sub.
type RedisAdapter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisAdapter constructs a RedisAdapter against an already-configured
// client; the caller owns the client's lifecycle beyond Close.
func NewRedisAdapter(client *redis.Client, logger *zap.Logger) *RedisAdapter {
	return &RedisAdapter{client: client, logger: logger}
}

// Publish broadcasts payload on channel to every subscribed instance.
func (a *RedisAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	return a.client.Publish(ctx, channel, payload).Err()
}

// Subscribe runs handler for every message received on channel until ctx
// is canceled. It spawns its own goroutine and returns immediately.
func (a *RedisAdapter) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	sub := a.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Close closes the underlying Redis client.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}

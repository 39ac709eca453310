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
	"sync"
)

// LocalAdapter is an in-process Adapter substitute for a single-instance
// deployment or for tests: Publish calls every registered handler
// synchronously, with no network hop.
type LocalAdapter struct {
	mu       sync.Mutex
	handlers map[string][]func(payload []byte)
}

// NewLocalAdapter constructs an empty LocalAdapter.
func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{handlers: make(map[string][]func(payload []byte))}
}

// Publish invokes every handler subscribed to channel with payload.
func (a *LocalAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	a.mu.Lock()
	handlers := append([]func(payload []byte){}, a.handlers[channel]...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers handler against channel.
func (a *LocalAdapter) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[channel] = append(a.handlers[channel], handler)
	return nil
}

// Close is a no-op for LocalAdapter.
func (a *LocalAdapter) Close() error { return nil }

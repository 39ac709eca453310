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

// Package adapter lets multiple Notifier instances stay broadcast-visible
// to each other: one instance's bus-derived outcome event is republished
// on a shared channel so every instance's locally connected sessions can
// be evaluated against it, regardless of which instance originally
// consumed it off the event bus.
package adapter

import "context"

// Adapter is a pub/sub fan-out between Notifier instances sharing a
// logical cluster.
type Adapter interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
	Close() error
}

// OutcomeChannel is the single channel every Notifier instance's
// outcome fan-out travels on.
const OutcomeChannel = "auditlog.notifier.outcomes"

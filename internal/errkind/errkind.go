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

// Package errkind unifies the mixed exception/error-return styles of the
// source material into the six error kinds the core surfaces, and defines
// how each kind is handled: retried, sent to the dead-letter queue, or
// escalated.
package errkind

import "errors"

// Kind classifies an error for both HTTP status translation and
// ack/nak/DLQ decisions at the worker layer.
type Kind int

const (
	// Unknown is the zero value; treated the same as Internal.
	Unknown Kind = iota
	Validation
	NotFound
	Conflict
	Integrity
	Transient
	Authorization
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Integrity:
		return "integrity"
	case Transient:
		return "transient"
	case Authorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Retryable reports whether the worker should return a message to
// redelivery for this kind rather than routing to the DLQ.
func (k Kind) Retryable() bool {
	return k == Transient
}

// Permanent reports whether the worker should route straight to the DLQ
// without retrying.
func (k Kind) Permanent() bool {
	return k == Validation
}

// Error wraps an underlying cause with a Kind, so callers across the
// HTTP, worker, and audit layers can classify failures uniformly.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a classified Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Unknown if err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

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

// Package errors supplies the shared error-construction helpers used across
// every component instead of ad-hoc fmt.Errorf call sites.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// OperationError describes a failed operation against a resource within a
// component, with an optional underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	switch {
	case e.Component != "" && e.Resource != "" && e.Cause != nil:
		return fmt.Sprintf("failed to %s, component: %s, resource: %s, cause: %s", e.Operation, e.Component, e.Resource, e.Cause)
	case e.Component != "" && e.Resource != "":
		return fmt.Sprintf("failed to %s, component: %s, resource: %s", e.Operation, e.Component, e.Resource)
	case e.Component != "" && e.Cause != nil:
		return fmt.Sprintf("failed to %s, component: %s, cause: %s", e.Operation, e.Component, e.Cause)
	case e.Component != "":
		return fmt.Sprintf("failed to %s, component: %s", e.Operation, e.Component)
	case e.Cause != nil:
		return fmt.Sprintf("failed to %s, cause: %s", e.Operation, e.Cause)
	default:
		return fmt.Sprintf("failed to %s", e.Operation)
	}
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a plain "failed to <action>[: <cause>]" error.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return fmt.Errorf("failed to %s", action)
	}
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// FailedToWithDetails builds a fully-populated OperationError.
func FailedToWithDetails(operation, component, resource string, cause error) error {
	return &OperationError{Operation: operation, Component: component, Resource: resource, Cause: cause}
}

// DatabaseError wraps a database-layer failure.
func DatabaseError(operation string, cause error) error {
	return &OperationError{Operation: operation, Component: "database", Cause: cause}
}

// NetworkError wraps a network-layer failure.
func NetworkError(operation string, cause error) error {
	return &OperationError{Operation: operation, Component: "network", Cause: cause}
}

// ValidationError reports a single field-level validation failure.
func ValidationError(field, message string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, message)
}

// ConfigurationError reports a misconfigured setting.
func ConfigurationError(setting, message string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, message)
}

// TimeoutError reports an operation that exceeded its deadline.
func TimeoutError(operation string, d time.Duration) error {
	return fmt.Errorf("timeout while %s after %s", operation, d)
}

// AuthenticationError reports a failed authentication attempt.
func AuthenticationError(message string) error {
	return fmt.Errorf("authentication failed: %s", message)
}

// AuthorizationError reports an authorization denial.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a failure to parse a payload of a given format.
func ParseError(what, format string, cause error) error {
	if cause == nil {
		return fmt.Errorf("failed to parse %s as %s", what, format)
	}
	return fmt.Errorf("failed to parse %s as %s: %w", what, format, cause)
}

// Wrapf wraps err with a formatted prefix, passing nil through unchanged.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"service unavailable",
	"connection reset",
	"broken pipe",
	"no such host",
}

// IsRetryable reports whether err looks like a transient failure worth
// retrying, based on well-known substrings in its message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Chain joins multiple non-nil errors into a single error, skipping nils.
func Chain(errs ...error) error {
	var msgs []string
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Error())
		}
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", msgs[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(msgs, "; "))
	}
}

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

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jordigilh/auditlog/internal/errkind"
)

const problemBaseURL = "https://auditlog.jordigilh.dev/errors/"

// Problem is an RFC 7807 "Problem Details for HTTP APIs" response body.
// Extensions are flattened into the top-level JSON object on marshal.
type Problem struct {
	Type       string                 `json:"-"`
	Title      string                 `json:"-"`
	Status     int                    `json:"-"`
	Detail     string                 `json:"-"`
	Instance   string                 `json:"-"`
	Extensions map[string]interface{} `json:"-"`
}

// MarshalJSON flattens the fixed RFC 7807 members and Extensions into a
// single JSON object, omitting Detail/Instance when empty.
func (p *Problem) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 5+len(p.Extensions))
	out["type"] = p.Type
	out["title"] = p.Title
	out["status"] = p.Status
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	for k, v := range p.Extensions {
		out[k] = v
	}
	return json.Marshal(out)
}

// NewValidationProblem builds a 400 problem carrying per-field validation
// errors as an "errors" extension.
func NewValidationProblem(resource string, fieldErrors map[string]string) *Problem {
	return &Problem{
		Type:     problemBaseURL + "validation-error",
		Title:    "Validation Error",
		Status:   http.StatusBadRequest,
		Detail:   fmt.Sprintf("validation failed for %s", resource),
		Instance: "/api/v1/" + resource,
		Extensions: map[string]interface{}{
			"resource": resource,
			"errors":   fieldErrors,
		},
	}
}

// NewNotFoundProblem builds a 404 problem for a missing (agent_id, step_id).
func NewNotFoundProblem(agentID string, stepID int64) *Problem {
	return &Problem{
		Type:     problemBaseURL + "not-found",
		Title:    "Resource Not Found",
		Status:   http.StatusNotFound,
		Detail:   fmt.Sprintf("no log for agent %s step %d", agentID, stepID),
		Instance: fmt.Sprintf("/api/v1/logs/%s/%d", agentID, stepID),
	}
}

// NewConflictProblem builds a 409 problem for an update rejected by the
// mutation-eligibility invariant.
func NewConflictProblem(agentID string, stepID int64, reason string) *Problem {
	return &Problem{
		Type:     problemBaseURL + "conflict",
		Title:    "Mutation Not Eligible",
		Status:   http.StatusConflict,
		Detail:   reason,
		Instance: fmt.Sprintf("/api/v1/logs/%s/%d", agentID, stepID),
	}
}

// NewAuthProblem builds a 401 or 403 problem for authentication/authorization
// failures.
func NewAuthProblem(status int, detail string) *Problem {
	title := "Unauthorized"
	if status == http.StatusForbidden {
		title = "Forbidden"
	}
	return &Problem{
		Type:   problemBaseURL + "authorization-error",
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewInternalProblem builds a 500 problem, flagged retryable.
func NewInternalProblem(detail string) *Problem {
	return &Problem{
		Type:       problemBaseURL + "internal-error",
		Title:      "Internal Error",
		Status:     http.StatusInternalServerError,
		Detail:     detail,
		Extensions: map[string]interface{}{"retry": true},
	}
}

// NewServiceUnavailableProblem builds a 503 problem for exhausted-retry
// transient failures (bus unavailable, store timeout, adapter outage).
func NewServiceUnavailableProblem(detail string) *Problem {
	return &Problem{
		Type:       problemBaseURL + "service-unavailable",
		Title:      "Service Unavailable",
		Status:     http.StatusServiceUnavailable,
		Detail:     detail,
		Extensions: map[string]interface{}{"retry": true},
	}
}

// FromKind projects an errkind.Kind into its HTTP status code, per the
// core's error-handling policy: retry only transient kinds, DLQ permanent
// kinds, integrity kinds alert and halt.
func FromKind(kind errkind.Kind, detail string) *Problem {
	switch kind {
	case errkind.Validation:
		return NewValidationProblem("request", map[string]string{"detail": detail})
	case errkind.NotFound:
		return &Problem{Type: problemBaseURL + "not-found", Title: "Resource Not Found", Status: http.StatusNotFound, Detail: detail}
	case errkind.Conflict:
		return &Problem{Type: problemBaseURL + "conflict", Title: "Conflict", Status: http.StatusConflict, Detail: detail}
	case errkind.Authorization:
		return NewAuthProblem(http.StatusForbidden, detail)
	case errkind.Transient:
		return NewServiceUnavailableProblem(detail)
	case errkind.Integrity:
		return &Problem{
			Type:       problemBaseURL + "integrity-error",
			Title:      "Integrity Violation",
			Status:     http.StatusInternalServerError,
			Detail:     detail,
			Extensions: map[string]interface{}{"retry": false, "halted": true},
		}
	default:
		return NewInternalProblem(detail)
	}
}

// WriteProblem renders p as application/problem+json at its own status.
func WriteProblem(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

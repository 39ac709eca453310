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
	"time"

	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/internal/worker"
)

// createLogRequest is the POST /logs body. Required-field validation
// mirrors worker.CreatePayload.Validate so a malformed request is
// rejected here instead of round-tripping through the bus.
type createLogRequest struct {
	AgentID string `json:"agentId" validate:"required"`
	// StepID carries no "required" validator: 0 is a valid monotonic
	// step id (only a negative one is an anomaly, per
	// classifier.StepIDNegative), but validator treats a zero value as
	// absent and would reject it.
	StepID    int64                  `json:"stepId"`
	TraceID   string                 `json:"traceId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	InputData interface{}            `json:"inputData" validate:"required"`
	Output    interface{}            `json:"output" validate:"required"`
	Reasoning string                 `json:"reasoning" validate:"required"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (r createLogRequest) toPayload() worker.CreatePayload {
	return worker.CreatePayload{
		AgentID:   r.AgentID,
		StepID:    r.StepID,
		TraceID:   r.TraceID,
		UserID:    r.UserID,
		Timestamp: r.Timestamp,
		InputData: r.InputData,
		Output:    r.Output,
		Reasoning: r.Reasoning,
		Metadata:  r.Metadata,
	}
}

// bulkLogRequest is the POST /logs/bulk body.
type bulkLogRequest struct {
	Logs []createLogRequest `json:"logs" validate:"required,min=1,dive"`
}

// updateLogRequest is the PUT /logs/{agent_id}/{step_id} body.
type updateLogRequest struct {
	Reviewed       bool   `json:"reviewed"`
	ReviewComments string `json:"reviewComments,omitempty"`
}

// acceptedReceipt is returned by every mutating endpoint: this is a
// 202-style asynchronous contract, so success here never implies
// persistence. Callers observe the matching outcome event or poll the
// read endpoints.
type acceptedReceipt struct {
	EventID string `json:"eventId"`
	Subject string `json:"subject"`
	AgentID string `json:"agentId,omitempty"`
	StepID  int64  `json:"stepId,omitempty"`
	BatchID string `json:"batchId,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// logResponse projects a model.Log onto the wire, as-is; Log's own JSON
// tags already define the public shape.
type logResponse = model.Log

// searchResponse wraps a paginated Search result with the total count.
type searchResponse struct {
	Logs  []model.Log `json:"logs"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// summaryResponse projects store.SummaryResult onto the wire.
type summaryResponse struct {
	AgentID       string                 `json:"agentId"`
	CountByStatus map[model.Status]int   `json:"countByStatus"`
	ReviewedCount int                    `json:"reviewedCount"`
	PendingCount  int                    `json:"pendingCount"`
}

// loginRequest is the POST /auth/login body.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// loginResponse carries the issued bearer token.
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

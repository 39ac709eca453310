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

package worker

import (
	"strconv"
	"time"

	"github.com/jordigilh/auditlog/internal/model"
)

// CreatePayload is the body of a logs.create envelope.
type CreatePayload struct {
	AgentID   string                 `json:"agentId"`
	StepID    int64                  `json:"stepId"`
	TraceID   string                 `json:"traceId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	InputData interface{}            `json:"inputData"`
	Output    interface{}            `json:"output"`
	Reasoning string                 `json:"reasoning"`
	Status    model.Status           `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate reports the first missing required field, or "" if the
// payload carries everything SubmitLog requires. Exported so the HTTP
// ingress layer can reject a malformed request before it ever reaches
// the bus, in addition to the Worker's own defensive re-validation.
func (p *CreatePayload) Validate() string {
	switch {
	case p.AgentID == "":
		return "agent_id is required"
	case p.InputData == nil:
		return "input_data is required"
	case p.Output == nil:
		return "output is required"
	case p.Reasoning == "":
		return "reasoning is required"
	default:
		return ""
	}
}

// ToLog converts an already-validated payload into the Log the store
// persists, applying the same timestamp/status/version defaults the
// Worker relies on.
func (p *CreatePayload) ToLog() *model.Log {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = model.StatusSuccess
	}
	return &model.Log{
		AgentID:   p.AgentID,
		StepID:    p.StepID,
		TraceID:   p.TraceID,
		UserID:    p.UserID,
		Timestamp: ts,
		InputData: p.InputData,
		Output:    p.Output,
		Reasoning: p.Reasoning,
		Status:    status,
		Metadata:  p.Metadata,
		Version:   1,
	}
}

// BulkPayload is the body of a logs.bulk envelope.
type BulkPayload struct {
	BatchID string          `json:"batchId"`
	Logs    []CreatePayload `json:"logs"`
}

// UpdatePayload is the body of a logs.update envelope.
type UpdatePayload struct {
	AgentID        string `json:"agentId"`
	StepID         int64  `json:"stepId"`
	Reviewed       bool   `json:"reviewed"`
	ReviewComments string `json:"reviewComments"`
}

// CreatedOutcome is the body published on logs.created.
type CreatedOutcome struct {
	LogID     string    `json:"logId"`
	AgentID   string    `json:"agentId"`
	StepID    int64     `json:"stepId"`
	Timestamp time.Time `json:"timestamp"`
	Status    model.Status `json:"status"`
}

// BulkCreatedOutcome is the body published on logs.bulk-created.
type BulkCreatedOutcome struct {
	BatchID      string   `json:"batchId"`
	AcceptedKeys []string `json:"acceptedKeys"`
	FailedCount  int      `json:"failedCount"`
}

// UpdatedOutcome is the body published on logs.updated.
type UpdatedOutcome struct {
	LogID   string `json:"logId"`
	AgentID string `json:"agentId"`
	StepID  int64  `json:"stepId"`
	Version int    `json:"version"`
}

func logID(agentID string, stepID int64) string {
	return agentID + "/" + strconv.FormatInt(stepID, 10)
}

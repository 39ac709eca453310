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

// Package store is the durable, time-partitioned log repository: bulk
// insert, bounded range scan, exact lookup by (agent_id, step_id), status
// and time aggregation, and retention-tier reclassification. Rows are
// never expired or deleted.
package store

import (
	"context"
	"time"

	"github.com/jordigilh/auditlog/internal/model"
)

// SearchParams binds the GET /logs/search query surface.
type SearchParams struct {
	AgentID  string
	Status   model.Status
	Reviewed *bool
	TraceID  string
	Keyword  string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
	Sort     string
	Order    string
}

// DefaultSearchWindow is applied when no From/To is given: last 30 days.
const DefaultSearchWindow = 30 * 24 * time.Hour

// BulkFailure records one item of a bulk insert that could not be
// persisted, keyed by its position in the submitted batch.
type BulkFailure struct {
	Index int
	Key   model.Key
	Err   error
}

// SummaryResult is the aggregation backing GET /logs/summary/{agent_id}.
type SummaryResult struct {
	AgentID        string
	CountByStatus  map[model.Status]int
	ReviewedCount  int
	PendingCount   int
}

// Repository is the Store's contract. The Worker is its only writer; the
// HTTP API only reads through it.
type Repository interface {
	Insert(ctx context.Context, log *model.Log) error
	BulkInsert(ctx context.Context, logs []*model.Log) ([]BulkFailure, error)
	Get(ctx context.Context, agentID string, stepID int64) (*model.Log, error)
	Update(ctx context.Context, log *model.Log) error
	Search(ctx context.Context, params SearchParams) ([]model.Log, int, error)
	Summary(ctx context.Context, agentID string, from, to *time.Time) (*SummaryResult, error)
	// RecomputeRetentionTiers re-derives retention_tier from age at the
	// rollover boundary. Logs are never deleted;
	// this only moves a log between hot/warm/cold classification, it does
	// not expire or remove rows.
	RecomputeRetentionTiers(ctx context.Context, now time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}

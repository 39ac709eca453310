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
	"context"
	"sync"
	"time"

	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/internal/store"
)

// fakeRepository is an in-memory store.Repository test double, good
// enough to exercise the Worker's create/bulk/update paths without a
// database.
type fakeRepository struct {
	mu   sync.Mutex
	logs map[model.Key]model.Log

	insertErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{logs: make(map[model.Key]model.Log)}
}

func (f *fakeRepository) Insert(ctx context.Context, log *model.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	key := model.Key{AgentID: log.AgentID, StepID: log.StepID}
	if _, exists := f.logs[key]; exists {
		return errkind.New(errkind.Conflict, "log already exists", nil)
	}
	f.logs[key] = *log
	return nil
}

func (f *fakeRepository) BulkInsert(ctx context.Context, logs []*model.Log) ([]store.BulkFailure, error) {
	var failures []store.BulkFailure
	for i, l := range logs {
		if err := f.Insert(ctx, l); err != nil {
			failures = append(failures, store.BulkFailure{Index: i, Key: model.Key{AgentID: l.AgentID, StepID: l.StepID}, Err: err})
		}
	}
	return failures, nil
}

func (f *fakeRepository) Get(ctx context.Context, agentID string, stepID int64) (*model.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.logs[model.Key{AgentID: agentID, StepID: stepID}]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "log not found", nil)
	}
	cp := l
	return &cp, nil
}

func (f *fakeRepository) Update(ctx context.Context, log *model.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.Key{AgentID: log.AgentID, StepID: log.StepID}
	if _, ok := f.logs[key]; !ok {
		return errkind.New(errkind.NotFound, "log not found", nil)
	}
	f.logs[key] = *log
	return nil
}

func (f *fakeRepository) Search(ctx context.Context, params store.SearchParams) ([]model.Log, int, error) {
	return nil, 0, nil
}

func (f *fakeRepository) Summary(ctx context.Context, agentID string, from, to *time.Time) (*store.SummaryResult, error) {
	return &store.SummaryResult{AgentID: agentID}, nil
}

func (f *fakeRepository) RecomputeRetentionTiers(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRepository) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeRepository) get(key model.Key) (model.Log, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.logs[key]
	return l, ok
}

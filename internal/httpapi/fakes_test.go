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
	"context"
	"sync"
	"time"

	"github.com/jordigilh/auditlog/internal/authtoken"
	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/internal/store"
)

// fakeRepository is an in-memory store.Repository test double, the same
// shape as the Worker's own test fake.
type fakeRepository struct {
	mu      sync.Mutex
	logs    map[model.Key]model.Log
	healthy error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{logs: make(map[model.Key]model.Log)}
}

func (f *fakeRepository) seed(l model.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[model.Key{AgentID: l.AgentID, StepID: l.StepID}] = l
}

func (f *fakeRepository) Insert(ctx context.Context, log *model.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[model.Key{AgentID: log.AgentID, StepID: log.StepID}] = *log
	return nil
}

func (f *fakeRepository) BulkInsert(ctx context.Context, logs []*model.Log) ([]store.BulkFailure, error) {
	for _, l := range logs {
		_ = f.Insert(ctx, l)
	}
	return nil, nil
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
	f.logs[model.Key{AgentID: log.AgentID, StepID: log.StepID}] = *log
	return nil
}

func (f *fakeRepository) Search(ctx context.Context, params store.SearchParams) ([]model.Log, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Log
	for _, l := range f.logs {
		if params.AgentID != "" && l.AgentID != params.AgentID {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

func (f *fakeRepository) Summary(ctx context.Context, agentID string, from, to *time.Time) (*store.SummaryResult, error) {
	return &store.SummaryResult{AgentID: agentID, CountByStatus: map[model.Status]int{}}, nil
}

func (f *fakeRepository) RecomputeRetentionTiers(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRepository) HealthCheck(ctx context.Context) error { return f.healthy }

// fakePublisher records every envelope published to it.
type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		subject string
		env     bus.Envelope
	}
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, env bus.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, struct {
		subject string
		env     bus.Envelope
	}{subject, env})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) lastSubject() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return ""
	}
	return f.published[len(f.published)-1].subject
}

// fakeVerifier accepts exactly one configured token.
type fakeVerifier struct {
	validToken string
}

func (f *fakeVerifier) Verify(token string) (*authtoken.Claims, error) {
	if token != f.validToken {
		return nil, errkind.New(errkind.Authorization, "invalid token", nil)
	}
	return &authtoken.Claims{Subject: "test-user", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// fakeIssuer issues a fixed token string.
type fakeIssuer struct {
	token string
}

func (f *fakeIssuer) Issue(subject string, roles []string) (string, error) {
	return f.token, nil
}

// fakeCreds accepts exactly one username/password pair.
type fakeCreds struct {
	username, password string
	roles              []string
}

func (f *fakeCreds) Authenticate(username, password string) ([]string, bool) {
	if username == f.username && password == f.password {
		return f.roles, true
	}
	return nil, false
}

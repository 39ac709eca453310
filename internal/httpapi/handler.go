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

// Package httpapi is the ingestion API: request validation, publish to
// the event bus, synchronous reads against the Store, and RFC 7807 error
// rendering. Every mutating endpoint is 202-style: acceptance here never
// implies persistence, only that the event has been handed to the bus.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/authtoken"
	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/classifier"
	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/internal/store"
	"github.com/jordigilh/auditlog/internal/worker"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

// TokenVerifier verifies a bearer token, returning its claims. Token
// issuance itself is an external collaborator (spec.md §1); this is the
// seam the auth middleware calls through.
type TokenVerifier interface {
	Verify(token string) (*authtoken.Claims, error)
}

// TokenIssuer issues a bearer token for POST /auth/login.
type TokenIssuer interface {
	Issue(subject string, roles []string) (string, error)
}

// CredentialChecker authenticates a username/password pair, returning the
// subject's roles.
type CredentialChecker interface {
	Authenticate(username, password string) ([]string, bool)
}

// Handler implements every operation in spec.md §4.1/§6. It depends only
// on interfaces (Repository, Publisher, TokenIssuer/Verifier/
// CredentialChecker) so tests substitute fakes for all of them.
type Handler struct {
	repo        store.Repository
	pub         bus.Publisher
	issuer      TokenIssuer
	creds       CredentialChecker
	tokenExpiry time.Duration
	validate    *validator.Validate
	logger      *zap.Logger
	clock       func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(repo store.Repository, pub bus.Publisher, issuer TokenIssuer, creds CredentialChecker, tokenExpiry time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		repo:        repo,
		pub:         pub,
		issuer:      issuer,
		creds:       creds,
		tokenExpiry: tokenExpiry,
		validate:    validator.New(),
		logger:      logger,
		clock:       time.Now,
	}
}

// SubmitLog implements POST /logs: validate, classify, publish
// logs.create, return a 202 accepted receipt.
func (h *Handler) SubmitLog(w http.ResponseWriter, r *http.Request) {
	var req createLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, NewValidationProblem("logs", map[string]string{"body": "malformed JSON"}))
		return
	}
	if msg := validationMessage(h.validate.Struct(req)); msg != "" {
		WriteProblem(w, NewValidationProblem("logs", map[string]string{"body": msg}))
		return
	}

	payload := req.toPayload()
	if msg := payload.Validate(); msg != "" {
		WriteProblem(w, NewValidationProblem("logs", map[string]string{"body": msg}))
		return
	}

	l := payload.ToLog()
	classifier.ApplyInitialStatus(l)

	eventID := uuid.NewString()
	if err := h.publish(r.Context(), bus.SubjectLogsCreate, eventID, worker.CreatePayload{
		AgentID: l.AgentID, StepID: l.StepID, TraceID: l.TraceID, UserID: l.UserID,
		Timestamp: l.Timestamp, InputData: l.InputData, Output: l.Output,
		Reasoning: l.Reasoning, Status: l.Status, Metadata: l.Metadata,
	}); err != nil {
		h.writeBusError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedReceipt{
		EventID: eventID, Subject: bus.SubjectLogsCreate, AgentID: l.AgentID, StepID: l.StepID,
	})
}

// SubmitBulk implements POST /logs/bulk: validate every entry, publish a
// single logs.bulk event carrying the array and a batch id.
func (h *Handler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, NewValidationProblem("logs.bulk", map[string]string{"body": "malformed JSON"}))
		return
	}
	if len(req.Logs) == 0 {
		WriteProblem(w, NewValidationProblem("logs.bulk", map[string]string{"logs": "at least one log is required"}))
		return
	}

	items := make([]worker.CreatePayload, 0, len(req.Logs))
	for i, item := range req.Logs {
		payload := item.toPayload()
		if msg := payload.Validate(); msg != "" {
			WriteProblem(w, NewValidationProblem("logs.bulk", map[string]string{strconv.Itoa(i): msg}))
			return
		}
		classified := payload.ToLog()
		classifier.ApplyInitialStatus(classified)
		payload.Status = classified.Status
		items = append(items, payload)
	}

	batchID := uuid.NewString()
	eventID := uuid.NewString()
	if err := h.publish(r.Context(), bus.SubjectLogsBulk, eventID, worker.BulkPayload{BatchID: batchID, Logs: items}); err != nil {
		h.writeBusError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedReceipt{
		EventID: eventID, Subject: bus.SubjectLogsBulk, BatchID: batchID, Count: len(items),
	})
}

// QueryByAgent implements GET /logs/{agent_id}: paginated list.
func (h *Handler) QueryByAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	params := store.SearchParams{AgentID: agentID}
	params.Page, params.Limit = pagination(r)
	params.Sort = r.URL.Query().Get("sort")
	params.Order = r.URL.Query().Get("order")

	logs, total, err := h.repo.Search(r.Context(), params)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Logs: logs, Total: total, Page: params.Page, Limit: params.Limit})
}

// QueryStep implements GET /logs/{agent_id}/{step_id}: exact lookup.
func (h *Handler) QueryStep(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	stepID, err := strconv.ParseInt(chi.URLParam(r, "step_id"), 10, 64)
	if err != nil {
		WriteProblem(w, NewValidationProblem("logs", map[string]string{"step_id": "must be an integer"}))
		return
	}

	l, err := h.repo.Get(r.Context(), agentID, stepID)
	if err != nil {
		if errkind.KindOf(err) == errkind.NotFound {
			WriteProblem(w, NewNotFoundProblem(agentID, stepID))
			return
		}
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// UpdateReview implements PUT /logs/{agent_id}/{step_id}: re-check the
// mutation-eligibility invariant against the current state, then publish
// logs.update.
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	stepID, err := strconv.ParseInt(chi.URLParam(r, "step_id"), 10, 64)
	if err != nil {
		WriteProblem(w, NewValidationProblem("logs", map[string]string{"step_id": "must be an integer"}))
		return
	}

	var req updateLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, NewValidationProblem("logs", map[string]string{"body": "malformed JSON"}))
		return
	}

	current, err := h.repo.Get(r.Context(), agentID, stepID)
	if err != nil {
		if errkind.KindOf(err) == errkind.NotFound {
			WriteProblem(w, NewNotFoundProblem(agentID, stepID))
			return
		}
		h.writeRepoError(w, err)
		return
	}
	if !current.IsMutationEligible() {
		WriteProblem(w, NewConflictProblem(agentID, stepID, "log is already reviewed and is not flagged anomaly"))
		return
	}

	eventID := uuid.NewString()
	if err := h.publish(r.Context(), bus.SubjectLogsUpdate, eventID, worker.UpdatePayload{
		AgentID: agentID, StepID: stepID, Reviewed: req.Reviewed, ReviewComments: req.ReviewComments,
	}); err != nil {
		h.writeBusError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedReceipt{
		EventID: eventID, Subject: bus.SubjectLogsUpdate, AgentID: agentID, StepID: stepID,
	})
}

// Search implements GET /logs/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := store.SearchParams{
		AgentID: q.Get("agent_id"),
		Status:  model.Status(q.Get("status")),
		TraceID: q.Get("trace_id"),
		Keyword: q.Get("keyword"),
	}
	if v := q.Get("reviewed"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			params.Reviewed = &b
		}
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from_date")); err == nil {
		params.From = &from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to_date")); err == nil {
		params.To = &to
	}
	params.Page, params.Limit = pagination(r)
	params.Sort = q.Get("sort")
	params.Order = q.Get("order")

	logs, total, err := h.repo.Search(r.Context(), params)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Logs: logs, Total: total, Page: params.Page, Limit: params.Limit})
}

// Summary implements GET /logs/summary/{agent_id}.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	q := r.URL.Query()
	var from, to *time.Time
	if t, err := time.Parse(time.RFC3339, q.Get("from_date")); err == nil {
		from = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to_date")); err == nil {
		to = &t
	}

	result, err := h.repo.Summary(r.Context(), agentID, from, to)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		AgentID:       result.AgentID,
		CountByStatus: result.CountByStatus,
		ReviewedCount: result.ReviewedCount,
		PendingCount:  result.PendingCount,
	})
}

// Login implements POST /auth/login: delegates to the injected
// CredentialChecker/TokenIssuer, the external token-issuer stand-in
// (spec.md §1 "out of scope").
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, NewValidationProblem("auth.login", map[string]string{"body": "malformed JSON"}))
		return
	}
	if msg := validationMessage(h.validate.Struct(req)); msg != "" {
		WriteProblem(w, NewValidationProblem("auth.login", map[string]string{"body": msg}))
		return
	}

	roles, ok := h.creds.Authenticate(req.Username, req.Password)
	if !ok {
		WriteProblem(w, NewAuthProblem(http.StatusUnauthorized, "invalid username or password"))
		return
	}
	token, err := h.issuer.Issue(req.Username, roles)
	if err != nil {
		WriteProblem(w, NewInternalProblem("failed to issue token"))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: h.clock().UTC().Add(h.tokenExpiry)})
}

// Healthz is the liveness probe: the process is up.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz is the readiness probe: the store must actually answer.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.HealthCheck(r.Context()); err != nil {
		WriteProblem(w, NewServiceUnavailableProblem("store not ready"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) publish(ctx context.Context, subject, eventID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errkind.New(errkind.Validation, "encode event payload", err)
	}
	if err := h.pub.Publish(ctx, subject, bus.Envelope{
		ID:        eventID,
		Timestamp: h.clock().UTC(),
		Data:      data,
	}); err != nil {
		return err
	}
	logsAcceptedTotal.WithLabelValues(subject).Inc()
	return nil
}

func (h *Handler) writeBusError(w http.ResponseWriter, err error) {
	h.logger.Error("bus publish failed",
		logging.NewFields().Component("httpapi").Operation("publish").Error(err).ToZap()...)
	WriteProblem(w, FromKind(errkind.KindOf(err), err.Error()))
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	if kind == errkind.Unknown {
		kind = errkind.Transient
	}
	WriteProblem(w, FromKind(kind, err.Error()))
}

func pagination(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	return page, limit
}

func validationMessage(err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
		}
		return strings.Join(parts, ", ")
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

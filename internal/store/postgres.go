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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/errkind"
	"github.com/jordigilh/auditlog/internal/model"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

const uniqueViolationCode = "23505"

// PostgresRepository is the sqlx/pgx-backed Repository implementation: a
// thin wrapper around *sqlx.DB, errors classified by pgconn.PgError
// code, sql.ErrNoRows translated to a not-found error kind.
type PostgresRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresRepository wraps an already-open *sqlx.DB (itself opened
// against the pgx/v5 stdlib driver).
func NewPostgresRepository(db *sqlx.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

const insertLogSQL = `
INSERT INTO logs (agent_id, step_id, trace_id, user_id, timestamp, input_data, output,
                   reasoning, status, reviewed, review_comments, metadata, version,
                   retention_tier, content_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`

// Insert persists a newly-accepted log. (agent_id, step_id) uniqueness
// is enforced by the table's primary key.
func (r *PostgresRepository) Insert(ctx context.Context, log *model.Log) error {
	inputJSON, err := marshalJSON(log.InputData)
	if err != nil {
		return errkind.New(errkind.Validation, "marshal input_data", err)
	}
	outputJSON, err := marshalJSON(log.Output)
	if err != nil {
		return errkind.New(errkind.Validation, "marshal output", err)
	}
	metaJSON, err := marshalJSON(log.Metadata)
	if err != nil {
		return errkind.New(errkind.Validation, "marshal metadata", err)
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(insertLogSQL),
		log.AgentID, log.StepID, log.TraceID, log.UserID, log.Timestamp,
		inputJSON, outputJSON, log.Reasoning, string(log.Status), log.Reviewed,
		log.ReviewComments, metaJSON, log.Version, string(log.RetentionTier), log.ContentHash)
	if err != nil {
		return classifyWriteError(err, "insert log")
	}
	return nil
}

// BulkInsert applies each log unordered to maximize throughput; a
// per-item failure is reported in the returned slice without aborting
// the remainder.
func (r *PostgresRepository) BulkInsert(ctx context.Context, logs []*model.Log) ([]BulkFailure, error) {
	var failures []BulkFailure
	for i, l := range logs {
		if err := r.Insert(ctx, l); err != nil {
			failures = append(failures, BulkFailure{Index: i, Key: model.Key{AgentID: l.AgentID, StepID: l.StepID}, Err: err})
		}
	}
	return failures, nil
}

const selectLogSQL = `
SELECT agent_id, step_id, trace_id, user_id, timestamp, input_data, output, reasoning,
       status, reviewed, review_comments, metadata, version, retention_tier, content_hash
FROM logs WHERE agent_id = $1 AND step_id = $2
`

type logRow struct {
	AgentID        string          `db:"agent_id"`
	StepID         int64           `db:"step_id"`
	TraceID        sql.NullString  `db:"trace_id"`
	UserID         sql.NullString  `db:"user_id"`
	Timestamp      time.Time       `db:"timestamp"`
	InputData      json.RawMessage `db:"input_data"`
	Output         json.RawMessage `db:"output"`
	Reasoning      string          `db:"reasoning"`
	Status         string          `db:"status"`
	Reviewed       bool            `db:"reviewed"`
	ReviewComments sql.NullString  `db:"review_comments"`
	Metadata       json.RawMessage `db:"metadata"`
	Version        int             `db:"version"`
	RetentionTier  string          `db:"retention_tier"`
	ContentHash    string          `db:"content_hash"`
}

func (row *logRow) toModel() (*model.Log, error) {
	l := &model.Log{
		AgentID:       row.AgentID,
		StepID:        row.StepID,
		TraceID:       row.TraceID.String,
		UserID:        row.UserID.String,
		Timestamp:     row.Timestamp,
		Reasoning:     row.Reasoning,
		Status:        model.Status(row.Status),
		Reviewed:      row.Reviewed,
		ReviewComments: row.ReviewComments.String,
		Version:       row.Version,
		RetentionTier: model.RetentionTier(row.RetentionTier),
		ContentHash:   row.ContentHash,
	}
	if err := json.Unmarshal(row.InputData, &l.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input_data: %w", err)
	}
	if err := json.Unmarshal(row.Output, &l.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &l.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return l, nil
}

// Get performs an exact lookup by (agent_id, step_id).
func (r *PostgresRepository) Get(ctx context.Context, agentID string, stepID int64) (*model.Log, error) {
	var row logRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(selectLogSQL), agentID, stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errkind.New(errkind.NotFound, fmt.Sprintf("no log for %s/%d", agentID, stepID), nil)
	}
	if err != nil {
		return nil, errkind.New(errkind.Transient, "retrieve log", err)
	}
	return row.toModel()
}

const updateLogSQL = `
UPDATE logs SET reviewed = $1, review_comments = $2, version = $3, content_hash = $4
WHERE agent_id = $5 AND step_id = $6
`

// Update applies a previously-validated mutation (review fields, bumped
// version, recomputed content_hash) to an existing row.
func (r *PostgresRepository) Update(ctx context.Context, log *model.Log) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(updateLogSQL),
		log.Reviewed, log.ReviewComments, log.Version, log.ContentHash, log.AgentID, log.StepID)
	if err != nil {
		return classifyWriteError(err, "update log")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errkind.New(errkind.Transient, "update log rows affected", err)
	}
	if n == 0 {
		return errkind.New(errkind.NotFound, fmt.Sprintf("no log for %s/%d", log.AgentID, log.StepID), nil)
	}
	return nil
}

// Search resolves the paginated, filtered read surface behind GET
// /logs/search and GET /logs/{agent_id}.
func (r *PostgresRepository) Search(ctx context.Context, params SearchParams) ([]model.Log, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.AgentID != "" {
		where = append(where, "agent_id = "+arg(params.AgentID))
	}
	if params.Status != "" {
		where = append(where, "status = "+arg(string(params.Status)))
	}
	if params.Reviewed != nil {
		where = append(where, "reviewed = "+arg(*params.Reviewed))
	}
	if params.TraceID != "" {
		where = append(where, "trace_id = "+arg(params.TraceID))
	}
	if params.Keyword != "" {
		where = append(where, "reasoning ILIKE "+arg("%"+params.Keyword+"%"))
	}

	from, to := resolveSearchWindow(params.From, params.To)
	where = append(where, "timestamp >= "+arg(from))
	where = append(where, "timestamp < "+arg(to))

	sortCol := "timestamp"
	switch params.Sort {
	case "version", "step_id", "agent_id":
		sortCol = params.Sort
	}
	order := "DESC"
	if strings.EqualFold(params.Order, "asc") {
		order = "ASC"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	countQuery := fmt.Sprintf("SELECT count(*) FROM logs WHERE %s", strings.Join(where, " AND "))
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(countQuery), args...); err != nil {
		return nil, 0, errkind.New(errkind.Transient, "count logs", err)
	}

	query := fmt.Sprintf(
		"SELECT agent_id, step_id, trace_id, user_id, timestamp, input_data, output, reasoning, status, reviewed, review_comments, metadata, version, retention_tier, content_hash FROM logs WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s",
		strings.Join(where, " AND "), sortCol, order, arg(limit), arg(offset))

	var rows []logRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, 0, errkind.New(errkind.Transient, "search logs", err)
	}

	out := make([]model.Log, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, 0, fmt.Errorf("decode search row: %w", err)
		}
		out = append(out, *m)
	}
	return out, total, nil
}

func resolveSearchWindow(from, to *time.Time) (time.Time, time.Time) {
	now := time.Now().UTC()
	end := now
	if to != nil {
		end = *to
	}
	start := now.Add(-DefaultSearchWindow)
	if from != nil {
		start = *from
	}
	return start, end
}

const summarySQL = `SELECT status, count(*) FROM logs WHERE agent_id = $1 AND timestamp >= $2 AND timestamp < $3 GROUP BY status`

// Summary aggregates counts by status, plus reviewed/pending totals.
func (r *PostgresRepository) Summary(ctx context.Context, agentID string, from, to *time.Time) (*SummaryResult, error) {
	start, end := resolveSearchWindow(from, to)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(summarySQL), agentID, start, end)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "summarize logs", err)
	}
	defer rows.Close()

	result := &SummaryResult{AgentID: agentID, CountByStatus: map[model.Status]int{}}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errkind.New(errkind.Transient, "scan summary row", err)
		}
		result.CountByStatus[model.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.New(errkind.Transient, "iterate summary rows", err)
	}

	reviewedRow := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT count(*) FILTER (WHERE reviewed), count(*) FILTER (WHERE NOT reviewed)
		 FROM logs WHERE agent_id = $1 AND timestamp >= $2 AND timestamp < $3`),
		agentID, start, end)
	if err := reviewedRow.Scan(&result.ReviewedCount, &result.PendingCount); err != nil {
		return nil, errkind.New(errkind.Transient, "summarize review state", err)
	}
	return result, nil
}

// recomputeTiersSQL compares row age against the two retention bounds.
// The bounds are bound as seconds (float8), not as a Go time.Duration's
// raw nanosecond count, and multiplied into an interval here — binding
// a time.Duration directly would hand Postgres a bigint to compare
// against an interval and fail.
const recomputeTiersSQL = `
UPDATE logs SET retention_tier = CASE
  WHEN now() - timestamp <= ($1 * interval '1 second') THEN 'hot'
  WHEN now() - timestamp <= ($2 * interval '1 second') THEN 'warm'
  ELSE 'cold'
END
WHERE retention_tier <> CASE
  WHEN now() - timestamp <= ($1 * interval '1 second') THEN 'hot'
  WHEN now() - timestamp <= ($2 * interval '1 second') THEN 'warm'
  ELSE 'cold'
END
`

// RecomputeRetentionTiers re-derives every row's retention_tier from its
// current age. Tier is pinned at save time and only recomputed here, on
// an operator-driven rollover sweep.
func (r *PostgresRepository) RecomputeRetentionTiers(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(recomputeTiersSQL), model.HotRetentionBound.Seconds(), model.WarmRetentionBound.Seconds())
	if err != nil {
		return 0, errkind.New(errkind.Transient, "recompute retention tiers", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errkind.New(errkind.Transient, "recompute retention tiers rows affected", err)
	}
	r.logger.Info("retention tiers recomputed", logging.NewFields().Component("store").Operation("recompute_retention_tiers").Count(int(n)).ToZap()...)
	return n, nil
}

// HealthCheck pings the underlying connection pool.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errkind.New(errkind.Transient, "store health check", err)
	}
	return nil
}

// classifyWriteError maps a unique-constraint violation to a Conflict
// kind and everything else to Transient, using pgconn.PgError's code.
func classifyWriteError(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return errkind.New(errkind.Conflict, operation+": duplicate key", err)
	}
	return errkind.New(errkind.Transient, operation, err)
}

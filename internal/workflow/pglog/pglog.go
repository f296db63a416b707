// Package pglog provides a PostgreSQL implementation of workflow.StepLog
// backed by the step_records table.
package pglog

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ticketflow/internal/workflow/pglog")

// Log persists step records in PostgreSQL. The pool is owned by the caller.
type Log struct {
	pool *pgxpool.Pool
}

// New returns a Log on pool. The schema must already be applied.
func New(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

const recordColumns = `event_id, step, status, result, error, degraded, attempts, recorded_at`

// Get retrieves the record for (eventID, step).
func (l *Log) Get(ctx context.Context, eventID, step string) (*workflow.StepRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "pglog.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rec, err := scanRecord(l.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM step_records WHERE event_id = $1 AND step = $2`,
		eventID, step,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get step record: %w", err)
	}
	return rec, true, nil
}

// Put inserts rec. An existing row for the key is left untouched and
// ErrRecordExists is returned.
func (l *Log) Put(ctx context.Context, rec *workflow.StepRecord) error {
	ctx, span := tracer.Start(ctx, "pglog.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	var result []byte
	if len(rec.Result) > 0 {
		result = rec.Result
	}
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO step_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id, step) DO NOTHING`,
		rec.EventID, rec.Step, string(rec.Status), result, rec.Error, rec.Degraded, rec.Attempts, rec.RecordedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert step record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrRecordExists
	}
	return nil
}

// List returns every record for eventID ordered by recorded_at.
func (l *Log) List(ctx context.Context, eventID string) ([]workflow.StepRecord, error) {
	ctx, span := tracer.Start(ctx, "pglog.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := l.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM step_records WHERE event_id = $1 ORDER BY recorded_at, step`,
		eventID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list step records: %w", err)
	}
	defer rows.Close()

	var out []workflow.StepRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*workflow.StepRecord, error) {
	var (
		rec    workflow.StepRecord
		status string
		result []byte
	)
	if err := row.Scan(&rec.EventID, &rec.Step, &status, &result, &rec.Error, &rec.Degraded, &rec.Attempts, &rec.RecordedAt); err != nil {
		return nil, err
	}
	rec.Status = workflow.RecordStatus(status)
	rec.Result = result
	rec.RecordedAt = rec.RecordedAt.UTC()
	return &rec, nil
}

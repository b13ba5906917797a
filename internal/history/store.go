// Package history keeps a log of every run in sqlite or a remote libsql database.
package history

import (
	"context"
	"database/sql"
	"discuz-signin/internal/checkin"
	configlibsql "discuz-signin/lib/configutil/libsql"
	_ "embed"
	"strings"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("history")

//go:embed schema.sql
var Schema string

// NewRunId returns a short random id for a run.
func NewRunId() string {
	id, err := random.String(12)
	if err != nil {
		return time.Now().UTC().Format("20060102T150405.000000000")
	}
	return id
}

type Store struct {
	db *sql.DB
}

// Open connects to the database described by config and applies the schema.
func Open(ctx context.Context, config configlibsql.Struct) (Store, error) {
	db, err := config.OpenDB()
	if err != nil {
		return Store{}, err
	}
	store, err := New(ctx, db)
	if err != nil {
		db.Close()
		return Store{}, err
	}
	return store, nil
}

// New applies the schema to an already open database.
func New(ctx context.Context, db *sql.DB) (Store, error) {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return Store{}, err
		}
	}
	return Store{db: db}, nil
}

func (s Store) Close() error {
	return s.db.Close()
}

// Record appends a report, assigning it a run id if it has none.
func (s Store) Record(ctx context.Context, report checkin.Report) error {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()

	if report.RunId == "" {
		report.RunId = NewRunId()
	}
	_, err := s.db.ExecContext(
		ctx,
		`insert into runs (
			id, host, username, logged_in, has_action_token,
			signin_status, signin_ok, visits, credit, coins,
			error, started_at, finished_at
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunId,
		report.Host,
		report.Username,
		report.LoggedIn,
		report.HasActionToken,
		report.SigninStatus,
		report.SigninOk,
		report.Visits,
		report.Credit,
		report.Coins,
		report.Error,
		report.StartedAt.UnixMilli(),
		report.FinishedAt.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert run")
		return err
	}
	return nil
}

// Publish lets a Store be used as a checkin.Sink.
func (s Store) Publish(ctx context.Context, report checkin.Report) error {
	return s.Record(ctx, report)
}

// Recent returns at most limit runs, newest first.
func (s Store) Recent(ctx context.Context, limit int) ([]checkin.Report, error) {
	ctx, span := tracer.Start(ctx, "Recent")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`select
			id, host, username, logged_in, has_action_token,
			signin_status, signin_ok, visits, credit, coins,
			error, started_at, finished_at
		from runs
		order by started_at desc, rowid desc
		limit ?`,
		limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query runs")
		return nil, err
	}
	defer rows.Close()

	var out []checkin.Report
	for rows.Next() {
		var report checkin.Report
		var startedAt, finishedAt int64
		err = rows.Scan(
			&report.RunId,
			&report.Host,
			&report.Username,
			&report.LoggedIn,
			&report.HasActionToken,
			&report.SigninStatus,
			&report.SigninOk,
			&report.Visits,
			&report.Credit,
			&report.Coins,
			&report.Error,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, err
		}
		report.StartedAt = time.UnixMilli(startedAt)
		report.FinishedAt = time.UnixMilli(finishedAt)
		out = append(out, report)
	}
	return out, rows.Err()
}

package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store drivers. Queries use $n placeholders, which all three accept.
const (
	DriverSQLite   = "sqlite3"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS spans (
	id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	metric TEXT NOT NULL,
	start_ns BIGINT NOT NULL,
	end_ns BIGINT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
)`

const indexSchema = `CREATE INDEX IF NOT EXISTS spans_trace_idx ON spans (trace_id)`

// Store is the relational index of ended spans.
type Store struct {
	db *sql.DB
}

// OpenStore opens dsn with driver and creates the schema.
func OpenStore(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPgx, DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown store driver: %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open span store: %w", err)
	}
	if driver == DriverSQLite {
		// an in-memory database exists per connection
		db.SetMaxOpenConns(1)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database. The schema is not created.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the spans table and its index when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, indexSchema} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create span schema: %w", err)
		}
	}
	return nil
}

// SpanStarted is a no-op: only ended spans are stored.
func (s *Store) SpanStarted(*Span) {}

// SpanEnded inserts s.
func (s *Store) SpanEnded(ctx context.Context, span *Span) error {
	parent := ""
	if span.ParentID != uuid.Nil {
		parent = span.ParentID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spans (id, trace_id, parent_id, message, metric, start_ns, end_ns, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		span.ID.String(), span.TraceID.String(), parent, span.Message, span.Metric,
		span.Start.UnixNano(), span.End.UnixNano(), span.Error)
	if err != nil {
		return fmt.Errorf("failed to store span %s: %w", span.ID, err)
	}
	return nil
}

// Recent returns up to limit spans, most recently ended first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Span, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, parent_id, message, metric, start_ns, end_ns, error
		FROM spans ORDER BY end_ns DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	return scanSpans(rows)
}

// Trace returns the spans of one trace in start order.
func (s *Store) Trace(ctx context.Context, traceID uuid.UUID) ([]*Span, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, parent_id, message, metric, start_ns, end_ns, error
		FROM spans WHERE trace_id = $1 ORDER BY start_ns`, traceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query trace %s: %w", traceID, err)
	}
	return scanSpans(rows)
}

func scanSpans(rows *sql.Rows) ([]*Span, error) {
	defer rows.Close()

	var out []*Span
	for rows.Next() {
		var (
			id, traceID, parentID string
			start, end            int64
			span                  Span
		)
		if err := rows.Scan(&id, &traceID, &parentID, &span.Message, &span.Metric, &start, &end, &span.Error); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		var err error
		if span.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("span id %q: %w", id, err)
		}
		if span.TraceID, err = uuid.Parse(traceID); err != nil {
			return nil, fmt.Errorf("trace id %q: %w", traceID, err)
		}
		if parentID != "" {
			if span.ParentID, err = uuid.Parse(parentID); err != nil {
				return nil, fmt.Errorf("parent id %q: %w", parentID, err)
			}
		}
		span.Start = time.Unix(0, start)
		span.End = time.Unix(0, end)
		out = append(out, &span)
	}
	return out, rows.Err()
}

// Shutdown closes the database.
func (s *Store) Shutdown(context.Context) error {
	return s.db.Close()
}

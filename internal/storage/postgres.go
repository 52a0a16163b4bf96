package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// Postgres implements DocStore and TimeSeriesStore on one database.
// Documents live in a single table keyed by collection with the body in a
// jsonb column, so filters hit real JSON instead of opaque strings.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgres(dsn string, log *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	return &Postgres{db: db, log: log}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the schema. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			collection TEXT NOT NULL,
			doc JSONB NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS documents_collection_idx
			ON documents (collection, inserted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS documents_doc_idx
			ON documents USING gin (doc)`,
		`CREATE TABLE IF NOT EXISTS logs (
			time TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL DEFAULT 'unknown',
			host TEXT NOT NULL DEFAULT 'unknown',
			level TEXT NOT NULL DEFAULT 'INFO',
			message TEXT NOT NULL DEFAULT '',
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS logs_time_idx ON logs (time DESC)`,
		`CREATE INDEX IF NOT EXISTS logs_source_time_idx ON logs (source, time DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// ============================================================================
// DocStore
// ============================================================================

func (p *Postgres) Insert(ctx context.Context, collection string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("doc marshal: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO documents (collection, doc) VALUES ($1, $2)`,
		collection, body)
	if err != nil {
		return fmt.Errorf("doc insert %s: %w", collection, err)
	}
	return nil
}

func (p *Postgres) Find(ctx context.Context, collection string, filter map[string]interface{}, opts FindOptions) ([]map[string]interface{}, error) {
	query := `SELECT doc FROM documents WHERE collection = $1`
	args := []interface{}{collection}

	if len(filter) > 0 {
		body, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("filter marshal: %w", err)
		}
		query += ` AND doc @> $2`
		args = append(args, body)
	}

	if opts.SortBy != "" {
		query += fmt.Sprintf(` ORDER BY doc->>$%d`, len(args)+1)
		args = append(args, opts.SortBy)
		if opts.SortDesc {
			query += ` DESC`
		}
	} else if opts.SortDesc {
		query += ` ORDER BY inserted_at DESC`
	} else {
		query += ` ORDER BY inserted_at`
	}

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Skip > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Skip)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("doc find %s: %w", collection, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("doc unmarshal: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (p *Postgres) Count(ctx context.Context, collection string, filter map[string]interface{}) (int64, error) {
	query := `SELECT count(*) FROM documents WHERE collection = $1`
	args := []interface{}{collection}

	if len(filter) > 0 {
		body, err := json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("filter marshal: %w", err)
		}
		query += ` AND doc @> $2`
		args = append(args, body)
	}

	var n int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("doc count %s: %w", collection, err)
	}
	return n, nil
}

// ============================================================================
// TimeSeriesStore
// ============================================================================

func (p *Postgres) InsertLog(ctx context.Context, row LogRow) error {
	var metadata []byte
	if row.Metadata != nil {
		var err error
		metadata, err = json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("metadata marshal: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO logs (time, source, host, level, message, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		row.Time, row.Source, row.Host, row.Level, row.Message, metadata)
	if err != nil {
		return fmt.Errorf("log insert: %w", err)
	}
	return nil
}

func (p *Postgres) QueryLogs(ctx context.Context, q LogQuery) ([]LogRow, error) {
	query := `SELECT time, source, host, level, message, metadata FROM logs
		 WHERE time >= $1 AND time < $2`
	args := []interface{}{q.Start, q.End}

	if q.Source != "" {
		query += ` AND source = $3`
		args = append(args, q.Source)
	}
	query += ` ORDER BY time DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("log query: %w", err)
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var row LogRow
		var metadata []byte
		if err := rows.Scan(&row.Time, &row.Source, &row.Host, &row.Level, &row.Message, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
				p.log.Error("log metadata unmarshal failed", "error", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

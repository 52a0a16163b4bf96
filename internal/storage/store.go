// Package storage defines the persistence interfaces the pipeline writes
// through and their Postgres and Redis implementations.
package storage

import (
	"context"
	"time"

	"github.com/gridshield/backend/internal/pipeline"
)

// DocStore persists schemaless documents by collection. Normalized logs,
// the alert history mirror and audit records all go through it.
type DocStore interface {
	Insert(ctx context.Context, collection string, doc map[string]interface{}) error
	Find(ctx context.Context, collection string, filter map[string]interface{}, opts FindOptions) ([]map[string]interface{}, error)
	Count(ctx context.Context, collection string, filter map[string]interface{}) (int64, error)
}

// FindOptions narrows and orders a Find call.
type FindOptions struct {
	SortBy   string // document key; empty sorts by insertion time
	SortDesc bool
	Skip     int
	Limit    int
}

// LogRow is one normalized log in the time-series store.
type LogRow struct {
	Time     time.Time
	Source   string
	Host     string
	Level    string
	Message  string
	Metadata map[string]interface{}
}

// TimeSeriesStore persists normalized logs for range queries.
type TimeSeriesStore interface {
	InsertLog(ctx context.Context, row LogRow) error
	QueryLogs(ctx context.Context, q LogQuery) ([]LogRow, error)
}

// LogQuery selects a time range of logs, optionally by source.
type LogQuery struct {
	Start  time.Time
	End    time.Time
	Source string
	Limit  int
}

// HealthProbe reports whether a store is reachable.
type HealthProbe interface {
	Ping(ctx context.Context) error
}

// RowFromRecord flattens a canonical record into a time-series row.
func RowFromRecord(rec *pipeline.Record) LogRow {
	return LogRow{
		Time:     rec.Timestamp,
		Source:   rec.Source,
		Host:     rec.Host,
		Level:    rec.Level,
		Message:  rec.Message,
		Metadata: rec.Metadata,
	}
}

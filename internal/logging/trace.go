package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// #region schema
const traceSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	sample         INTEGER NOT NULL,
	log_posterior  REAL,
	values_json    TEXT NOT NULL,
	operator       TEXT,
	decision       TEXT NOT NULL,
	reason         TEXT,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id, sample);
`

// #endregion schema

// #region trace-log
// TraceLog appends samples to the samples table of a SQLite database,
// usually the one holding the checkpoints.
type TraceLog struct {
	db *sql.DB
}

// NewTraceLog creates the samples table if needed.
func NewTraceLog(db *sql.DB) (*TraceLog, error) {
	if _, err := db.Exec(traceSchema); err != nil {
		return nil, fmt.Errorf("migrate samples: %w", err)
	}
	return &TraceLog{db: db}, nil
}

// LogSample writes one row.
func (t *TraceLog) LogSample(entry SampleEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	values, err := json.Marshal(entry.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}

	_, err = t.db.Exec(
		`INSERT INTO samples (run_id, sample, log_posterior, values_json, operator, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Sample,
		nullIfInf(entry.LogPosterior),
		string(values),
		nullIfEmpty(entry.Operator),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log sample: %w", err)
	}
	return nil
}

// Samples reads back the rows of a run in sample order.
func (t *TraceLog) Samples(runID string) ([]SampleEntry, error) {
	rows, err := t.db.Query(
		`SELECT run_id, sample, log_posterior, values_json, operator, decision, reason, created_at
		 FROM samples WHERE run_id = ? ORDER BY sample, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	defer rows.Close()

	var out []SampleEntry
	for rows.Next() {
		var e SampleEntry
		var logP sql.NullFloat64
		var values, createdStr string
		var op, reason sql.NullString
		if err := rows.Scan(&e.RunID, &e.Sample, &logP, &values, &op, &e.Decision, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.LogPosterior = math.Inf(-1)
		if logP.Valid {
			e.LogPosterior = logP.Float64
		}
		if err := json.Unmarshal([]byte(values), &e.Values); err != nil {
			return nil, fmt.Errorf("unmarshal values: %w", err)
		}
		e.Operator, e.Reason = op.String, reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion trace-log

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullIfInf stores non-finite log densities as NULL, read back as -Inf.
func nullIfInf(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

// #endregion helpers

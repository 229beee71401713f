package checkpoint

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id  TEXT PRIMARY KEY,
	parent_id      TEXT,
	run_id         TEXT NOT NULL,
	sample         INTEGER NOT NULL,
	log_posterior  REAL NOT NULL,
	node_values    BLOB,
	node_layout    TEXT NOT NULL,
	schedule_json  TEXT NOT NULL,
	rng            BLOB,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES checkpoints(checkpoint_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_sample ON checkpoints(sample);

CREATE TABLE IF NOT EXISTS active_checkpoint (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	checkpoint_id  TEXT NOT NULL,
	FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(checkpoint_id)
);
`

// #endregion schema

// #region store-struct
// SQLiteStore keeps checkpoint versions in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations. Use
// ":memory:" for a throwaway store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection, and ":memory:" is per connection too
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB so the sample trace can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region save
// Save inserts cp as a new version and makes it active. An empty ID is
// replaced by a fresh UUID; a zero CreatedAt by the current time.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) (err error) {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	ctx, span := startSpan(ctx, "checkpoint.SQLite.Save",
		attribute.String("checkpoint_id", cp.ID),
		attribute.Int64("sample", cp.Sample),
	)
	defer func() { endSpan(span, err) }()

	layout, values := flatten(cp.Nodes)
	layoutJSON, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshal layout: %w", err)
	}
	schedJSON, err := json.Marshal(cp.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr interface{}
	if cp.ParentID != "" {
		parentPtr = cp.ParentID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, parent_id, run_id, sample, log_posterior,
		 node_values, node_layout, schedule_json, rng, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, parentPtr, cp.RunID, cp.Sample, cp.LogPosterior,
		encodeVector(values), string(layoutJSON), string(schedJSON), cp.RNG,
		cp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_checkpoint (id, checkpoint_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET checkpoint_id = excluded.checkpoint_id`,
		cp.ID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion save

// #region latest
// Latest reads the active checkpoint.
func (s *SQLiteStore) Latest(ctx context.Context) (cp Checkpoint, err error) {
	ctx, span := startSpan(ctx, "checkpoint.SQLite.Latest")
	defer func() { endSpan(span, err) }()

	var id string
	err = s.db.QueryRowContext(ctx, `SELECT checkpoint_id FROM active_checkpoint WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get active: %w", err)
	}
	return s.get(ctx, id)
}

// #endregion latest

// #region get
// Get retrieves a checkpoint by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (cp Checkpoint, err error) {
	ctx, span := startSpan(ctx, "checkpoint.SQLite.Get", attribute.String("checkpoint_id", id))
	defer func() { endSpan(span, err) }()
	return s.get(ctx, id)
}

const selectColumns = `checkpoint_id, parent_id, run_id, sample, log_posterior,
	node_values, node_layout, schedule_json, rng, created_at`

func (s *SQLiteStore) get(ctx context.Context, id string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM checkpoints WHERE checkpoint_id = ?`, id)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", id, ErrNoCheckpoint)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// #endregion get

// #region activate
// Activate moves the active pointer to an existing checkpoint.
func (s *SQLiteStore) Activate(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "checkpoint.SQLite.Activate", attribute.String("checkpoint_id", id))
	defer func() { endSpan(span, err) }()

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE checkpoint_id = ?`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check checkpoint: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("activate %s: %w", id, ErrNoCheckpoint)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO active_checkpoint (id, checkpoint_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET checkpoint_id = excluded.checkpoint_id`,
		id,
	)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// #endregion activate

// #region list
// List returns up to limit checkpoints, most advanced sample first.
func (s *SQLiteStore) List(ctx context.Context, limit int) (out []Checkpoint, err error) {
	ctx, span := startSpan(ctx, "checkpoint.SQLite.List", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints ORDER BY sample DESC, created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// #endregion list

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(sc scanner) (Checkpoint, error) {
	var cp Checkpoint
	var parentID sql.NullString
	var valuesBlob []byte
	var layoutJSON, schedJSON, createdStr string

	err := sc.Scan(&cp.ID, &parentID, &cp.RunID, &cp.Sample, &cp.LogPosterior,
		&valuesBlob, &layoutJSON, &schedJSON, &cp.RNG, &createdStr)
	if err != nil {
		return Checkpoint{}, err
	}
	if parentID.Valid {
		cp.ParentID = parentID.String
	}
	var layout []nodeLayout
	if err := json.Unmarshal([]byte(layoutJSON), &layout); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal layout: %w", err)
	}
	cp.Nodes, err = unflatten(layout, decodeVector(valuesBlob))
	if err != nil {
		return Checkpoint{}, err
	}
	if err := json.Unmarshal([]byte(schedJSON), &cp.Schedule); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal schedule: %w", err)
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return cp, nil
}

// #endregion scan

// #region vector-encoding
type nodeLayout struct {
	ID  string `json:"id"`
	Dim int    `json:"dim"`
}

// flatten lays node values out in ID order.
func flatten(nodes map[string][]float64) ([]nodeLayout, []float64) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	layout := make([]nodeLayout, 0, len(ids))
	var values []float64
	for _, id := range ids {
		layout = append(layout, nodeLayout{ID: id, Dim: len(nodes[id])})
		values = append(values, nodes[id]...)
	}
	return layout, values
}

func unflatten(layout []nodeLayout, values []float64) (map[string][]float64, error) {
	out := make(map[string][]float64, len(layout))
	off := 0
	for _, l := range layout {
		if off+l.Dim > len(values) {
			return nil, fmt.Errorf("node %s: layout exceeds %d stored values", l.ID, len(values))
		}
		out[l.ID] = append([]float64(nil), values[off:off+l.Dim]...)
		off += l.Dim
	}
	return out, nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// #endregion vector-encoding

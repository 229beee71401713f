package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// #region badger-config
// BadgerConfig configures the embedded key-value checkpoint store.
type BadgerConfig struct {
	Path       string // directory; ignored when InMemory
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger // nil silences badger
}

// DefaultBadgerConfig returns a durable configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// #endregion badger-config

// #region badger-logger
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// #endregion badger-logger

// #region badger-store
const (
	checkpointPrefix = "cp/"
	activeKey        = "active"
)

// BadgerStore keeps checkpoint versions as JSON values under "cp/<id>" with
// the active ID under "active".
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent checkpoint store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func checkpointKey(id string) []byte {
	return []byte(checkpointPrefix + id)
}

// #endregion badger-store

// #region badger-ops
// Save writes cp and the active pointer in one transaction.
func (s *BadgerStore) Save(ctx context.Context, cp *Checkpoint) (err error) {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, span := startSpan(ctx, "checkpoint.Badger.Save",
		attribute.String("checkpoint_id", cp.ID),
		attribute.Int64("sample", cp.Sample),
	)
	defer func() { endSpan(span, err) }()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if cp.ParentID != "" {
			if _, err := txn.Get(checkpointKey(cp.ParentID)); err != nil {
				return fmt.Errorf("parent %s: %w", cp.ParentID, err)
			}
		}
		if err := txn.Set(checkpointKey(cp.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(activeKey), []byte(cp.ID))
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest reads the active checkpoint.
func (s *BadgerStore) Latest(ctx context.Context) (cp Checkpoint, err error) {
	_, span := startSpan(ctx, "checkpoint.Badger.Latest")
	defer func() { endSpan(span, err) }()

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(activeKey))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return readCheckpoint(txn, string(id), &cp)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

// Get retrieves a checkpoint by ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (cp Checkpoint, err error) {
	_, span := startSpan(ctx, "checkpoint.Badger.Get", attribute.String("checkpoint_id", id))
	defer func() { endSpan(span, err) }()

	err = s.db.View(func(txn *badger.Txn) error {
		return readCheckpoint(txn, id, &cp)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", id, ErrNoCheckpoint)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// List returns up to limit checkpoints, most advanced sample first.
func (s *BadgerStore) List(ctx context.Context, limit int) (out []Checkpoint, err error) {
	_, span := startSpan(ctx, "checkpoint.Badger.List", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	prefix := []byte(checkpointPrefix)
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &cp)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sample != out[j].Sample {
			return out[i].Sample > out[j].Sample
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Activate moves the active pointer to an existing checkpoint.
func (s *BadgerStore) Activate(ctx context.Context, id string) (err error) {
	_, span := startSpan(ctx, "checkpoint.Badger.Activate", attribute.String("checkpoint_id", id))
	defer func() { endSpan(span, err) }()

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(checkpointKey(id)); err != nil {
			return err
		}
		return txn.Set([]byte(activeKey), []byte(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("activate %s: %w", id, ErrNoCheckpoint)
	}
	if err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	return nil
}

func readCheckpoint(txn *badger.Txn, id string, cp *Checkpoint) error {
	item, err := txn.Get(checkpointKey(id))
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		if err := json.Unmarshal(v, cp); err != nil {
			return fmt.Errorf("decode checkpoint %s: %w", id, err)
		}
		return nil
	})
}

// #endregion badger-ops

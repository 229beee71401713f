package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/checkpoint"
)

// #region writer
// writer persists checkpoints off the sampling goroutine. At most one
// checkpoint waits; a newer one replaces it. Each saved checkpoint becomes
// the parent of the next, so a failed write never leaves a dangling parent.
type writer struct {
	store  checkpoint.Store
	logger *zap.Logger
	ch     chan *checkpoint.Checkpoint
	done   chan struct{}

	mu     sync.Mutex
	parent string
	errs   []error
}

func newWriter(ctx context.Context, store checkpoint.Store, parent string, logger *zap.Logger) *writer {
	w := &writer{
		store:  store,
		logger: logger,
		ch:     make(chan *checkpoint.Checkpoint, 1),
		done:   make(chan struct{}),
		parent: parent,
	}
	go w.loop(context.WithoutCancel(ctx))
	return w
}

func (w *writer) loop(ctx context.Context) {
	defer close(w.done)
	for cp := range w.ch {
		w.mu.Lock()
		cp.ParentID = w.parent
		w.mu.Unlock()

		if err := w.store.Save(ctx, cp); err != nil {
			checkpointWrites.WithLabelValues("failed").Inc()
			w.logger.Error("checkpoint write failed", zap.Int64("sample", cp.Sample), zap.Error(err))
			w.mu.Lock()
			w.errs = append(w.errs, fmt.Errorf("checkpoint at sample %d: %w", cp.Sample, err))
			w.mu.Unlock()
			continue
		}
		checkpointWrites.WithLabelValues("saved").Inc()
		w.logger.Debug("checkpoint written", zap.String("checkpoint_id", cp.ID), zap.Int64("sample", cp.Sample))
		w.mu.Lock()
		w.parent = cp.ID
		w.mu.Unlock()
	}
}

// submit hands cp to the writer without blocking the chain. Only the
// sampling goroutine may call it.
func (w *writer) submit(cp *checkpoint.Checkpoint) {
	select {
	case w.ch <- cp:
		return
	default:
	}
	select {
	case old := <-w.ch:
		checkpointWrites.WithLabelValues("dropped").Inc()
		w.logger.Debug("pending checkpoint superseded", zap.Int64("sample", old.Sample))
	default:
	}
	w.ch <- cp
}

// close waits for pending writes and returns the last saved ID and every
// write error.
func (w *writer) close() (string, error) {
	close(w.ch)
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parent, errors.Join(w.errs...)
}

// #endregion writer

package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/gate"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/logging"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/operator"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/schedule"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

var tracer = otel.Tracer("mcmc.chain")

// #region chain
// Chain is the Metropolis-Hastings sampler. It owns the random source and
// drives the store, propose, evaluate, accept-or-restore cycle.
type Chain struct {
	cfg     Config
	state   *state.State
	post    Posterior
	sched   *schedule.Schedule
	gate    *gate.Gate
	rng     *random.Source
	store   checkpoint.Store
	loggers []logging.SampleLogger
	logger  *zap.Logger

	sample   int64
	logP     float64
	started  bool
	parentID string
	lastOp   string
}

// New wires a chain. The state must have the posterior's calculation graph
// attached so rejected proposals roll its caches back.
func New(cfg Config, st *state.State, post Posterior, sched *schedule.Schedule, rng *random.Source) *Chain {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		cfg:    cfg,
		state:  st,
		post:   post,
		sched:  sched,
		gate:   gate.NewGate(gate.GateConfig{Temperature: cfg.Temperature}),
		rng:    rng,
		logger: logger.With(zap.String("component", "chain")),
		logP:   math.Inf(-1),
	}
}

// SetStore enables checkpointing.
func (c *Chain) SetStore(store checkpoint.Store) { c.store = store }

// AddLogger registers a sample logger.
func (c *Chain) AddLogger(l logging.SampleLogger) { c.loggers = append(c.loggers, l) }

// Sample reports the number of completed steps.
func (c *Chain) Sample() int64 { return c.sample }

// LogPosterior reports the log posterior of the committed state.
func (c *Chain) LogPosterior() float64 { return c.logP }

// #endregion chain

// #region step
// Step performs one proposal and its acceptance test. The state is committed
// or fully restored when Step returns, even on error.
func (c *Chain) Step(ctx context.Context) (gate.GateDecision, error) {
	op, err := c.sched.Select(c.rng)
	if err != nil {
		return gate.GateDecision{}, err
	}

	c.lastOp = op.ID()
	c.state.Store(op.Targets()...)
	hr, fault := operator.Propose(op, c.rng)
	if fault != nil {
		c.logger.Warn("operator fault", zap.String("operator", op.ID()), zap.Error(fault))
	}

	newLogP := math.Inf(-1)
	if hr != operator.Reject {
		newLogP, err = c.post.Evaluate(ctx)
		if err != nil {
			c.state.Restore()
			return gate.GateDecision{}, fmt.Errorf("evaluate posterior after %s: %w", op.ID(), err)
		}
	}

	logU := math.Log(c.rng.OpenFloat64())
	d := c.gate.Evaluate(c.logP, newLogP, hr, logU)
	if d.Committed() {
		c.state.Accept()
		c.sched.Accept(op)
		c.logP = newLogP
	} else {
		c.state.Restore()
		c.sched.Reject(op)
		rejectionsTotal.WithLabelValues(string(d.Veto)).Inc()
	}
	c.sched.Optimize(op, d.LogAlpha)

	if ce := c.logger.Check(zap.DebugLevel, "step"); ce != nil {
		ce.Write(
			zap.Int64("sample", c.sample+1),
			zap.String("operator", op.ID()),
			zap.String("action", d.Action),
			zap.Float64("log_alpha", d.LogAlpha),
		)
	}
	return d, nil
}

// #endregion step

// #region run
// Run samples until ChainLength or until ctx is cancelled. Cancellation is
// honoured between steps, so the chain always stops on a committed state.
// Checkpoint write failures do not stop sampling; they are joined into the
// returned error after the last write finished.
func (c *Chain) Run(ctx context.Context) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "chain.Run",
		trace.WithAttributes(
			attribute.String("run_id", c.cfg.RunID),
			attribute.Int64("start_sample", c.sample),
			attribute.Int64("chain_length", c.cfg.ChainLength),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("samples", c.sample), attribute.Bool("stopped", res.Stopped))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chain run failed")
		}
		span.End()
	}()

	if err := c.start(ctx); err != nil {
		return Result{}, err
	}

	var w *writer
	if c.store != nil {
		w = newWriter(ctx, c.store, c.parentID, c.logger)
	}

	began := time.Now()
	c.logger.Info("chain started",
		zap.String("run_id", c.cfg.RunID),
		zap.Int64("sample", c.sample),
		zap.Int64("chain_length", c.cfg.ChainLength),
		zap.Float64("log_posterior", c.logP),
	)

	var runErr error
	saved := c.sample
	for c.sample < c.cfg.ChainLength {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}
		d, stepErr := c.Step(ctx)
		if stepErr != nil {
			if ctx.Err() != nil {
				res.Stopped = true
			} else {
				runErr = stepErr
			}
			break
		}
		c.sample++
		samplesTotal.Inc()
		logPosterior.Set(c.logP)

		if c.cfg.LogEvery > 0 && c.sample%c.cfg.LogEvery == 0 {
			c.emit(d)
			c.progress(began)
		}
		if w != nil && c.cfg.CheckpointEvery > 0 && c.sample%c.cfg.CheckpointEvery == 0 {
			if cpErr := c.submit(w); cpErr != nil {
				runErr = cpErr
				break
			}
			saved = c.sample
		}
	}

	if w != nil {
		if runErr == nil && c.sample != saved {
			runErr = c.submit(w)
		}
		id, werr := w.close()
		res.CheckpointID = id
		c.parentID = id
		runErr = errors.Join(runErr, werr)
	}

	res.Samples = c.sample
	res.LogPosterior = c.logP
	c.logger.Info("chain finished",
		zap.Int64("sample", c.sample),
		zap.Bool("stopped", res.Stopped),
		zap.Float64("log_posterior", c.logP),
		zap.Duration("elapsed", time.Since(began)),
		zap.Error(runErr),
	)
	return res, runErr
}

// start evaluates the initial state once per chain.
func (c *Chain) start(ctx context.Context) error {
	if c.started {
		return nil
	}
	logP, err := c.post.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate initial state: %w", err)
	}
	if math.IsNaN(logP) || math.IsInf(logP, 0) {
		return fmt.Errorf("%w: log posterior %g", ErrInvalidStart, logP)
	}
	c.logP = logP
	c.started = true
	if c.sample == 0 && c.cfg.LogEvery > 0 {
		c.emit(gate.GateDecision{Action: "commit", Reason: "initial state"})
	}
	return nil
}

// #endregion run

// #region logging
func (c *Chain) emit(d gate.GateDecision) {
	if len(c.loggers) == 0 {
		return
	}
	entry := logging.SampleEntry{
		RunID:        c.cfg.RunID,
		Sample:       c.sample,
		LogPosterior: c.logP,
		Values:       c.state.Snapshot(),
		Operator:     c.lastOp,
		Decision:     d.Action,
		Reason:       d.Reason,
	}
	for _, l := range c.loggers {
		if err := l.LogSample(entry); err != nil {
			c.logger.Warn("sample logger failed", zap.Int64("sample", c.sample), zap.Error(err))
		}
	}
}

func (c *Chain) progress(began time.Time) {
	fields := []zap.Field{
		zap.Int64("sample", c.sample),
		zap.Float64("log_posterior", c.logP),
		zap.Duration("elapsed", time.Since(began)),
	}
	for _, row := range c.sched.Rows() {
		fields = append(fields, zap.Float64("acceptance."+row.ID, row.Acceptance))
	}
	c.logger.Info("chain progress", fields...)
}

// #endregion logging

// #region checkpoint
// snapshot captures the committed chain. It must be called between steps.
func (c *Chain) snapshot() (*checkpoint.Checkpoint, error) {
	sched, err := c.sched.Export()
	if err != nil {
		return nil, fmt.Errorf("export schedule: %w", err)
	}
	rng, err := c.rng.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal random source: %w", err)
	}
	return &checkpoint.Checkpoint{
		RunID:        c.cfg.RunID,
		Sample:       c.sample,
		LogPosterior: c.logP,
		Nodes:        c.state.Snapshot(),
		Schedule:     sched,
		RNG:          rng,
	}, nil
}

func (c *Chain) submit(w *writer) error {
	cp, err := c.snapshot()
	if err != nil {
		return err
	}
	w.submit(cp)
	return nil
}

// Resume restores the chain from the checkpoint with the given ID, or from
// the active checkpoint when id is empty. The operators registered in the
// schedule must match the ones that wrote the checkpoint.
func (c *Chain) Resume(ctx context.Context, id string) (err error) {
	if c.store == nil {
		return ErrNoStore
	}
	ctx, span := tracer.Start(ctx, "chain.Resume", trace.WithAttributes(attribute.String("checkpoint_id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resume failed")
		}
		span.End()
	}()

	var cp checkpoint.Checkpoint
	if id == "" {
		cp, err = c.store.Latest(ctx)
	} else {
		cp, err = c.store.Get(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	if err := c.state.Load(cp.Nodes); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := c.sched.Import(cp.Schedule); err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if err := c.rng.UnmarshalBinary(cp.RNG); err != nil {
		return fmt.Errorf("load random source: %w", err)
	}

	logP, err := c.post.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate resumed state: %w", err)
	}
	if math.IsNaN(logP) || math.IsInf(logP, 0) {
		return fmt.Errorf("%w: resumed log posterior %g", ErrInvalidStart, logP)
	}
	if logP != cp.LogPosterior {
		c.logger.Warn("resumed posterior differs from checkpoint",
			zap.Float64("checkpoint", cp.LogPosterior),
			zap.Float64("recomputed", logP),
		)
	}

	c.sample = cp.Sample
	c.logP = logP
	c.started = true
	c.parentID = cp.ID
	if c.cfg.RunID == "" {
		c.cfg.RunID = cp.RunID
	}
	span.SetAttributes(attribute.Int64("sample", cp.Sample))
	c.logger.Info("chain resumed", zap.String("checkpoint_id", cp.ID), zap.Int64("sample", cp.Sample))
	return nil
}

// #endregion checkpoint

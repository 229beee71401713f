package config

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/chain"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/graph"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/kernel"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/operator"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/posterior"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/remote"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/schedule"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/tree"
)

// #region model
// Model is a wired, ready-to-sample run.
type Model struct {
	State     *state.State
	Posterior *posterior.Model
	Schedule  *schedule.Schedule
	Source    *random.Source
	Chain     chain.Config

	closers []io.Closer
}

// NewChain creates the sampler over the built components.
func (m *Model) NewChain() *chain.Chain {
	return chain.New(m.Chain, m.State, m.Posterior, m.Schedule, m.Source)
}

// Close releases remote connections.
func (m *Model) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// #endregion model

// #region build
// Build constructs state, posterior, operators and schedule from cfg.
// Construction faults are returned wrapped in ErrConfig; structurally
// degenerate operators are logged as warnings.
func Build(cfg *Config, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &builder{
		cfg:    cfg,
		logger: logger,
		st:     state.New(),
		nodes:  make(map[string]*state.Node),
		trees:  make(map[string]*tree.Tree),
	}
	m, err := b.build()
	if err != nil {
		for _, c := range b.closers {
			c.Close()
		}
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return m, nil
}

type builder struct {
	cfg     *Config
	logger  *zap.Logger
	st      *state.State
	nodes   map[string]*state.Node
	trees   map[string]*tree.Tree
	closers []io.Closer
}

func (b *builder) build() (*Model, error) {
	if err := b.items(); err != nil {
		return nil, err
	}

	g := graph.New()
	post := posterior.NewModel(g)
	if err := b.priors(post); err != nil {
		return nil, err
	}
	if err := b.likelihood(post); err != nil {
		return nil, err
	}
	b.st.Attach(g)

	sched, err := b.schedule()
	if err != nil {
		return nil, err
	}

	runID := b.cfg.Chain.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return &Model{
		State:     b.st,
		Posterior: post,
		Schedule:  sched,
		Source:    random.New(b.cfg.Chain.Seed),
		Chain: chain.Config{
			ChainLength:     b.cfg.Chain.Length,
			LogEvery:        b.cfg.Chain.LogEvery,
			CheckpointEvery: b.cfg.Chain.CheckpointEvery,
			Temperature:     b.cfg.Chain.Temperature,
			RunID:           runID,
			Logger:          b.logger,
		},
		closers: b.closers,
	}, nil
}

// #endregion build

// #region items
func (b *builder) items() error {
	for _, p := range b.cfg.Parameters {
		dom := domain.Real
		if p.Domain != "" {
			d, err := domain.Parse(p.Domain)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", p.ID, err)
			}
			dom = d
		}
		var opts []state.NodeOption
		if p.Lower != nil || p.Upper != nil {
			lo, hi := math.Inf(-1), math.Inf(1)
			if p.Lower != nil {
				lo = *p.Lower
			}
			if p.Upper != nil {
				hi = *p.Upper
			}
			opts = append(opts, state.WithBounds(lo, hi))
		}
		n, err := state.NewNode(p.ID, p.Values, dom, opts...)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.ID, err)
		}
		b.nodes[p.ID] = n
		if err := b.st.Add(n); err != nil {
			return err
		}
	}
	for _, tc := range b.cfg.Trees {
		t, err := tree.ParseNewick(tc.ID, tc.Newick)
		if err != nil {
			return fmt.Errorf("tree %s: %w", tc.ID, err)
		}
		b.trees[tc.ID] = t
		if err := b.st.Add(t); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) item(id string) (operator.ScalableItem, error) {
	if n, ok := b.nodes[id]; ok {
		return n, nil
	}
	if t, ok := b.trees[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown item %q", id)
}

// target resolves one parameter, or a compound of several.
func (b *builder) target(ids []string) (state.Target, error) {
	parts := make([]*state.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := b.nodes[id]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", id)
		}
		parts = append(parts, n)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return state.NewCompound(parts...), nil
}

// #endregion items

// #region posterior
func (b *builder) priors(post *posterior.Model) error {
	for _, p := range b.cfg.Priors {
		if p.Distribution == "yule" {
			t, ok := b.trees[p.Tree]
			if !ok {
				return fmt.Errorf("prior %s: unknown tree %q", p.ID, p.Tree)
			}
			rate, ok := p.Params["birth_rate"]
			if !ok {
				return fmt.Errorf("prior %s: missing parameter \"birth_rate\"", p.ID)
			}
			if _, err := post.AddYulePrior(p.ID, t, rate); err != nil {
				return err
			}
			continue
		}
		n, ok := b.nodes[p.Parameter]
		if !ok {
			return fmt.Errorf("prior %s: unknown parameter %q", p.ID, p.Parameter)
		}
		d, err := posterior.NewDensity(p.Distribution, p.Params)
		if err != nil {
			return fmt.Errorf("prior %s: %w", p.ID, err)
		}
		if _, err := post.AddPrior(p.ID, n, d); err != nil {
			return fmt.Errorf("prior %s: %w", p.ID, err)
		}
	}
	return nil
}

func (b *builder) likelihood(post *posterior.Model) error {
	lc := b.cfg.Likelihood
	if lc == nil {
		return nil
	}
	if len(lc.Partitions) == 0 {
		client, deps, err := b.remoteClient(lc.Addr, lc.Inputs)
		if err != nil {
			return fmt.Errorf("likelihood: %w", err)
		}
		if _, err := post.AddExternal("likelihood", deps, lc.Inputs, client); err != nil {
			return fmt.Errorf("likelihood: %w", err)
		}
		return nil
	}

	// The graph term depends on the union of partition inputs, so any
	// change re-evaluates every partition.
	par := &posterior.Parallel{Limit: lc.Parallelism}
	var (
		ids  []string
		deps []state.Versioned
		seen = make(map[string]bool)
	)
	for _, p := range lc.Partitions {
		addr := p.Addr
		if addr == "" {
			addr = lc.Addr
		}
		client, pdeps, err := b.remoteClient(addr, p.Inputs)
		if err != nil {
			return fmt.Errorf("likelihood partition %s: %w", p.ID, err)
		}
		par.Parts = append(par.Parts, client)
		for i, id := range p.Inputs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
				deps = append(deps, pdeps[i])
			}
		}
	}
	if _, err := post.AddExternal("likelihood", deps, ids, par); err != nil {
		return fmt.Errorf("likelihood: %w", err)
	}
	return nil
}

// remoteClient dials a likelihood service over the named inputs. The client
// is closed with the model.
func (b *builder) remoteClient(addr string, inputs []string) (*remote.Client, []state.Versioned, error) {
	items := make([]state.Stateful, 0, len(inputs))
	deps := make([]state.Versioned, 0, len(inputs))
	for _, id := range inputs {
		it, err := b.item(id)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, it)
		deps = append(deps, it)
	}
	rc := remote.DefaultConfig(addr)
	if b.cfg.Likelihood.Timeout > 0 {
		rc.Timeout = b.cfg.Likelihood.Timeout
	}
	client, err := remote.NewClient(rc, items)
	if err != nil {
		return nil, nil, err
	}
	b.closers = append(b.closers, client)
	return client, deps, nil
}

// #endregion posterior

// #region operators
func (b *builder) schedule() (*schedule.Schedule, error) {
	sc := schedule.DefaultConfig()
	if b.cfg.Schedule.Transform != "" {
		sc.Transform = schedule.DeltaTransform(b.cfg.Schedule.Transform)
	}
	if b.cfg.Schedule.AutoOptimize != nil {
		sc.AutoOptimize = *b.cfg.Schedule.AutoOptimize
	}
	sc.AutoOptimizeDelay = b.cfg.Schedule.AutoOptimizeDelay
	sc.Logger = b.logger
	sched := schedule.New(sc)

	for _, oc := range b.cfg.Operators {
		op, err := b.operator(oc)
		if err != nil {
			return nil, fmt.Errorf("operator %s: %w", oc.ID, err)
		}
		if err := sched.Add(op); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func (b *builder) operator(oc OperatorConfig) (operator.Operator, error) {
	k, err := kernel.New(oc.Kernel)
	if err != nil {
		return nil, err
	}
	cfg := operator.Config{
		ID:     oc.ID,
		Weight: oc.Weight,
		Kernel: k,
		Logger: b.logger,
	}
	if oc.Tuning != nil {
		upper := math.Inf(1)
		if oc.Tuning.Upper != nil {
			upper = *oc.Tuning.Upper
		}
		cfg.Tuning = operator.TuningConfig{
			Initial: oc.Tuning.Initial,
			Lower:   oc.Tuning.Lower,
			Upper:   upper,
			Target:  oc.Tuning.Target,
			Fixed:   oc.Tuning.Fixed,
		}
	}

	switch oc.Type {
	case "scale":
		it, err := b.item(oc.Targets[0])
		if err != nil {
			return nil, err
		}
		mode := operator.ScaleMode(oc.Mode)
		if mode == "" {
			mode = operator.ScaleOne
			if _, isTree := it.(*tree.Tree); isTree {
				mode = operator.ScaleAll
			}
		}
		return operator.NewScale(cfg, it, mode, oc.DOF)
	case "random_walk":
		t, err := b.target(oc.Targets)
		if err != nil {
			return nil, err
		}
		return operator.NewRandomWalk(cfg, t, oc.All)
	case "delta_exchange":
		t, err := b.target(oc.Targets)
		if err != nil {
			return nil, err
		}
		return operator.NewDeltaExchange(cfg, t, oc.Weights)
	case "interval":
		t, err := b.target(oc.Targets)
		if err != nil {
			return nil, err
		}
		return operator.NewInterval(cfg, t, oc.Inclusive)
	case "up_down":
		up, err := b.scalables(oc.Targets)
		if err != nil {
			return nil, err
		}
		down, err := b.scalables(oc.Down)
		if err != nil {
			return nil, err
		}
		return operator.NewUpDown(cfg, up, down)
	case "tree_scale", "tree_interval":
		t, ok := b.trees[oc.Targets[0]]
		if !ok {
			return nil, fmt.Errorf("unknown tree %q", oc.Targets[0])
		}
		if oc.Type == "tree_scale" {
			return operator.NewTreeScale(cfg, t, oc.RootOnly)
		}
		return operator.NewTreeInterval(cfg, t)
	}
	return nil, fmt.Errorf("unknown operator type %q", oc.Type)
}

func (b *builder) scalables(ids []string) ([]operator.ScalableItem, error) {
	out := make([]operator.ScalableItem, 0, len(ids))
	for _, id := range ids {
		it, err := b.item(id)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// #endregion operators

// #region stores
// OpenStore opens the configured checkpoint backend. It returns nil for
// backend "none".
func OpenStore(cc CheckpointConfig, logger *zap.Logger) (checkpoint.Store, error) {
	switch cc.Backend {
	case "none":
		return nil, nil
	case "badger":
		cfg := checkpoint.DefaultBadgerConfig(cc.Path)
		cfg.Logger = logger
		s, err := checkpoint.OpenBadger(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "sqlite":
		s, err := checkpoint.NewSQLiteStore(cc.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown checkpoint backend %q", ErrConfig, cc.Backend)
}

// #endregion stores

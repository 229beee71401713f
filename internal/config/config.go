package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// #region load
// Load reads a YAML run file over DefaultConfig, applies environment
// fallbacks and validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrConfig, err)
	}
	applyEnv(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.Checkpoint.Path == "" {
		cfg.Checkpoint.Path = envOr("MCMC_CHECKPOINT", "mcmc_checkpoints.db")
	}
	if cfg.Likelihood != nil && cfg.Likelihood.Addr == "" {
		cfg.Likelihood.Addr = envOr("MCMC_LIKELIHOOD_ADDR", "localhost:50051")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
// Validate checks field constraints and cross references. Every problem is
// reported, joined, and wrapped in ErrConfig.
func Validate(cfg *Config) error {
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	kinds := make(map[string]string) // item id -> "parameter" | "tree"
	add := func(id, kind string) {
		if id == "" {
			return
		}
		if prev, dup := kinds[id]; dup {
			problems = append(problems, fmt.Sprintf("duplicate id %q (%s and %s)", id, prev, kind))
			return
		}
		kinds[id] = kind
	}
	for _, p := range cfg.Parameters {
		add(p.ID, "parameter")
		if p.Domain != "" {
			if _, err := domain.Parse(p.Domain); err != nil {
				problems = append(problems, fmt.Sprintf("parameter %s: %v", p.ID, err))
			}
		}
	}
	for _, t := range cfg.Trees {
		add(t.ID, "tree")
	}

	ref := func(owner, id, want string) {
		got, ok := kinds[id]
		switch {
		case !ok && want == "":
			problems = append(problems, fmt.Sprintf("%s: unknown item %q", owner, id))
		case !ok:
			problems = append(problems, fmt.Sprintf("%s: unknown %s %q", owner, want, id))
		case want != "" && got != want:
			problems = append(problems, fmt.Sprintf("%s: %q is a %s, not a %s", owner, id, got, want))
		}
	}
	for _, p := range cfg.Priors {
		owner := "prior " + p.ID
		switch {
		case p.Distribution == "yule":
			ref(owner, p.Tree, "tree")
		case p.Parameter != "":
			ref(owner, p.Parameter, "parameter")
		default:
			problems = append(problems, owner+": distribution "+p.Distribution+" needs a parameter")
		}
	}
	if cfg.Likelihood != nil {
		for _, id := range cfg.Likelihood.Inputs {
			ref("likelihood", id, "")
		}
		parts := make(map[string]bool)
		for _, p := range cfg.Likelihood.Partitions {
			owner := "likelihood partition " + p.ID
			if parts[p.ID] {
				problems = append(problems, "duplicate likelihood partition "+p.ID)
			}
			parts[p.ID] = true
			for _, id := range p.Inputs {
				ref(owner, id, "")
			}
		}
	}

	ops := make(map[string]bool)
	for _, op := range cfg.Operators {
		owner := "operator " + op.ID
		if ops[op.ID] {
			problems = append(problems, "duplicate operator "+op.ID)
		}
		ops[op.ID] = true
		switch op.Type {
		case "tree_scale", "tree_interval":
			if len(op.Targets) != 1 {
				problems = append(problems, owner+": needs exactly one tree target")
				continue
			}
			ref(owner, op.Targets[0], "tree")
		case "up_down":
			if len(op.Targets)+len(op.Down) == 0 {
				problems = append(problems, owner+": needs targets or down")
			}
			for _, id := range append(append([]string(nil), op.Targets...), op.Down...) {
				ref(owner, id, "")
			}
		case "scale":
			if len(op.Targets) != 1 {
				problems = append(problems, owner+": needs exactly one target")
				continue
			}
			ref(owner, op.Targets[0], "")
		default:
			if len(op.Targets) == 0 {
				problems = append(problems, owner+": needs targets")
			}
			for _, id := range op.Targets {
				ref(owner, id, "parameter")
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// #endregion validate

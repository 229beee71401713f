package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/chain"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/config"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/eval"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/logging"
)

var (
	resumeFrom string
	chainLen   int64
)

// #region commands
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sample(cmd.Context(), false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue a chain from its active (or a chosen) checkpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sample(cmd.Context(), true)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFrom, "checkpoint", "", "Checkpoint ID to resume from (default: active)")
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().Int64Var(&chainLen, "length", 0, "Override chain.length")
	}
}

// #endregion commands

// #region sample
func sample(ctx context.Context, resume bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer serveMetrics(metricsAddr)()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if chainLen > 0 {
		cfg.Chain.Length = chainLen
	}
	model, err := config.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer model.Close()

	store, err := config.OpenStore(cfg.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	c := model.NewChain()
	if store != nil {
		c.SetStore(store)
	}
	closeTrace, err := attachLoggers(c, cfg, store)
	if err != nil {
		return err
	}
	defer closeTrace()

	if resume {
		if err := c.Resume(ctx, resumeFrom); err != nil {
			return err
		}
	}

	res, err := c.Run(ctx)
	if res.Stopped {
		logger.Info("chain interrupted; resume with `mcmc resume`", zap.Int64("sample", res.Samples))
	}

	rows := model.Schedule.Rows()
	if rerr := eval.Report(os.Stdout, rows, eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(rows)); rerr != nil {
		logger.Warn("operator report failed", zap.Error(rerr))
	}
	return err
}

// attachLoggers adds the configured sample loggers. The returned function
// closes a trace database opened here; a trace sharing the checkpoint
// database is closed with the store.
func attachLoggers(c *chain.Chain, cfg *config.Config, store checkpoint.Store) (func(), error) {
	noop := func() {}
	if cfg.Trace.Screen {
		c.AddLogger(logging.NewScreenLogger(os.Stdout))
	}

	var db *sql.DB
	closeDB := noop
	switch {
	case cfg.Trace.Path != "":
		var err error
		db, err = sql.Open("sqlite", cfg.Trace.Path)
		if err != nil {
			return noop, fmt.Errorf("open trace db: %w", err)
		}
		db.SetMaxOpenConns(1)
		closeDB = func() {
			if err := db.Close(); err != nil {
				logger.Warn("close trace db failed", zap.Error(err))
			}
		}
	case store != nil:
		if sq, ok := store.(*checkpoint.SQLiteStore); ok {
			db = sq.DB()
		}
	}
	if db == nil {
		return noop, nil
	}
	tl, err := logging.NewTraceLog(db)
	if err != nil {
		closeDB()
		return noop, err
	}
	c.AddLogger(tl)
	return closeDB, nil
}

// #endregion sample

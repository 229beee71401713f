package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/config"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/eval"
)

var suggestFrom string

// #region suggest
var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Report operator acceptance and suggested tunables from a checkpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
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
		if store == nil {
			return errors.New("checkpointing is disabled in this configuration")
		}
		defer store.Close()

		var cp checkpoint.Checkpoint
		if suggestFrom != "" {
			cp, err = store.Get(ctx, suggestFrom)
		} else {
			cp, err = store.Latest(ctx)
		}
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if err := model.Schedule.Import(cp.Schedule); err != nil {
			return fmt.Errorf("import schedule: %w", err)
		}
		logger.Debug("schedule loaded",
			zap.String("checkpoint", cp.ID),
			zap.Int64("sample", cp.Sample),
		)

		rows := model.Schedule.Rows()
		result := eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(rows)
		if err := eval.Report(os.Stdout, rows, result); err != nil {
			return err
		}
		if !result.Passed {
			fmt.Fprintf(os.Stderr, "\n%s\n", result.Reason)
		}
		return nil
	},
}

func init() {
	suggestCmd.Flags().StringVar(&suggestFrom, "checkpoint", "", "Checkpoint ID (default: active)")
}

// #endregion suggest

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/config"
)

var (
	inspectDB   string
	inspectLast int
	inspectID   string
	jsonOut     bool
)

// #region inspect
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List checkpoints or show one in detail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInspectStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if inspectID != "" {
			return runDetail(ctx, store, inspectID)
		}
		return runList(ctx, store, inspectLast)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "SQLite checkpoint file (overrides --config)")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "Number of checkpoints to list")
	inspectCmd.Flags().StringVar(&inspectID, "checkpoint", "", "Show one checkpoint in detail")
	inspectCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
}

func openInspectStore() (checkpoint.Store, error) {
	if inspectDB != "" {
		return checkpoint.NewSQLiteStore(inspectDB)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := config.OpenStore(cfg.Checkpoint, logger)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("checkpointing is disabled in this configuration")
	}
	return store, nil
}

// #endregion inspect

// #region list-mode
type listEntry struct {
	ID           string  `json:"checkpoint_id"`
	ParentID     string  `json:"parent_id,omitempty"`
	RunID        string  `json:"run_id"`
	Sample       int64   `json:"sample"`
	LogPosterior float64 `json:"log_posterior"`
	CreatedAt    string  `json:"created_at"`
	Active       bool    `json:"active"`
}

func runList(ctx context.Context, store checkpoint.Store, limit int) error {
	cps, err := store.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	activeID := ""
	if active, err := store.Latest(ctx); err == nil {
		activeID = active.ID
	} else if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return fmt.Errorf("load active checkpoint: %w", err)
	}

	entries := make([]listEntry, 0, len(cps))
	for _, cp := range cps {
		entries = append(entries, listEntry{
			ID:           cp.ID,
			ParentID:     cp.ParentID,
			RunID:        cp.RunID,
			Sample:       cp.Sample,
			LogPosterior: cp.LogPosterior,
			CreatedAt:    cp.CreatedAt.Format("2006-01-02 15:04:05"),
			Active:       cp.ID == activeID,
		})
	}

	if jsonOut {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-10s %12s %16s  %-19s\n",
		"ID", "PARENT", "RUN", "SAMPLE", "LOG POSTERIOR", "CREATED")
	fmt.Println(strings.Repeat("-", 84))
	for _, e := range entries {
		marker := ""
		if e.Active {
			marker = "  *"
		}
		fmt.Printf("%-10s %-10s %-10s %12d %16.4f  %-19s%s\n",
			shortID(e.ID), shortID(e.ParentID), shortID(e.RunID), e.Sample, e.LogPosterior, e.CreatedAt, marker)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type detailOutput struct {
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Active     bool                   `json:"active"`
}

func runDetail(ctx context.Context, store checkpoint.Store, id string) error {
	cp, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get checkpoint: %w", err)
	}
	active := false
	if a, err := store.Latest(ctx); err == nil {
		active = a.ID == cp.ID
	}

	if jsonOut {
		return printJSON(detailOutput{Checkpoint: &cp, Active: active})
	}

	fmt.Printf("Checkpoint:    %s\n", cp.ID)
	fmt.Printf("Parent:        %s\n", orNone(cp.ParentID))
	fmt.Printf("Run:           %s\n", cp.RunID)
	fmt.Printf("Sample:        %d\n", cp.Sample)
	fmt.Printf("Log posterior: %.6f\n", cp.LogPosterior)
	fmt.Printf("Created:       %s\n", cp.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Active:        %t\n", active)

	ids := make([]string, 0, len(cp.Nodes))
	for nid := range cp.Nodes {
		ids = append(ids, nid)
	}
	sort.Strings(ids)
	fmt.Printf("\nNodes (%d):\n", len(ids))
	for _, nid := range ids {
		fmt.Printf("  %-16s %s\n", nid, formatVector(cp.Nodes[nid]))
	}

	fmt.Printf("\nSchedule (%d steps):\n", cp.Schedule.Steps)
	fmt.Printf("  %-20s %10s %10s %14s\n", "OPERATOR", "ACCEPTED", "REJECTED", "TUNABLE")
	for _, op := range cp.Schedule.Operators {
		tunable := "-"
		if op.Tunable != nil {
			tunable = fmt.Sprintf("%.6g", *op.Tunable)
		}
		fmt.Printf("  %-20s %10d %10d %14s\n", op.ID, op.Accepted, op.Rejected, tunable)
	}
	return nil
}

// #endregion detail-mode

// #region output-helpers
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// formatVector prints short vectors in full and elides the middle of long ones.
func formatVector(v []float64) string {
	const half = 4
	parts := make([]string, 0, 2*half+1)
	for i, x := range v {
		switch {
		case len(v) <= 2*half || i < half || i >= len(v)-half:
			parts = append(parts, fmt.Sprintf("%.6g", x))
		case i == half:
			parts = append(parts, fmt.Sprintf("... (%d more)", len(v)-2*half))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// #endregion output-helpers

// #region rollback
var rollbackCmd = &cobra.Command{
	Use:   "rollback <checkpoint-id>",
	Short: "Make an earlier checkpoint the one `resume` continues from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openInspectStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := store.Activate(ctx, args[0]); err != nil {
			return fmt.Errorf("activate checkpoint: %w", err)
		}
		fmt.Printf("Active checkpoint is now %s\n", args[0])
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&inspectDB, "db", "", "SQLite checkpoint file (overrides --config)")
}

// #endregion rollback

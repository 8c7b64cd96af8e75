package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/protocol-foundry/internal/tasks"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	c := &cobra.Command{
		Use:   "run <intent>",
		Short: "Run one pre-approved workflow and print the final draft",
		Long: `Run one workflow without halting for review. The run finalizes after
its first synthesis and the final draft is written to stdout.

Examples:
  foundry run "exposure hierarchy for social anxiety"
  foundry run --store memory --json "thought record for catastrophizing"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, strings.Join(args, " "), jsonOut)
		},
	}

	c.Flags().BoolVar(&jsonOut, "json", false, "print the full final state as JSON")
	c.Flags().String("store", "sqlite", "checkpoint store (sqlite, mysql, redis, memory)")
	_ = opts.v.BindPFlag("store.driver", c.Flags().Lookup("store"))
	return c
}

func runOnce(cmd *cobra.Command, opts *rootOptions, intent string, jsonOut bool) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			logger.Warn("closing resources", "error", err)
		}
	}()

	task, err := a.tasks.RunApproved(ctx, strings.TrimSpace(intent))
	if err != nil {
		if task.ThreadID == "" {
			return err
		}
		return fmt.Errorf("run %s: %w", task.ThreadID, err)
	}
	if task.Status != tasks.StatusCompleted || task.State == nil {
		msg := task.Error
		if msg == "" && task.State != nil {
			msg = task.State.ErrorMessage()
		}
		return fmt.Errorf("run %s ended %s: %s", task.ThreadID, task.Status, msg)
	}

	logger.Info("run completed",
		"thread_id", task.ThreadID,
		"iterations", task.State.IterationCount,
		"scores", task.State.Scores,
	)

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(task.State)
	}
	_, err = fmt.Fprintln(out, task.State.Draft)
	return err
}

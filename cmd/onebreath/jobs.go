package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Monitor.SweepTimeout)
				defer cancel()
				return a.monitor.Sweep(ctx)
			})
		},
	}
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a gzip JSON snapshot of all samples to blob storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				return a.backuper.Backup(ctx)
			})
		},
	}
}

// runJob wires the app, runs fn, and prints its result as JSON. The result
// is printed even when fn fails so partial sweep reports stay visible.
func runJob(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) (any, error)) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()
	result, runErr := fn(ctx, a)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return runErr
}

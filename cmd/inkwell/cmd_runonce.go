/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/inkwell/internal/scheduler"
	"github.com/friendsincode/inkwell/internal/server"
)

var runOnceTimeout time.Duration

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run a single batch pass and print its summary",
	Long: `Runs one batch pass against the configured database and exits.

Intended for external schedulers (cron, Kubernetes CronJob) when the
built-in trigger is disabled. Exits non-zero when another runner holds
the pass lock.

Examples:
  inkwell run-once
  inkwell run-once --timeout=2m
`,
	RunE: runRunOnce,
}

func init() {
	runOnceCmd.Flags().DurationVar(&runOnceTimeout, "timeout", 5*time.Minute, "Abort the pass after this long")
	rootCmd.AddCommand(runOnceCmd)
}

func runRunOnce(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	srv, err := server.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	srv.StartBackground(false)
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), runOnceTimeout)
	defer cancel()

	summary, err := srv.Processor().RunOnce(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("run pass: %w", err)
	}
	return printSummary(cmd, summary)
}

func printSummary(cmd *cobra.Command, summary scheduler.Summary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

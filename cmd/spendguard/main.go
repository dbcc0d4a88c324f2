// SpendGuard - Spending anomaly detection on isolation forests.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/spendguard/internal/config"
	"github.com/opensource-finance/spendguard/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// app carries state shared by subcommands.
type app struct {
	configPath string
	cfg        *domain.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "spendguard",
		Short:         "Spending anomaly detection",
		Long:          "SpendGuard generates synthetic spending data, trains an isolation forest over it and serves anomaly verdicts.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			slog.SetDefault(config.NewLogger(cfg.Logging))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file (default spendguard.yaml if present)")

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newTrainCmd(a),
		newScoreCmd(a),
	)
	return root
}

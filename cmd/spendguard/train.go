package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/spendguard/internal/artifact"
	"github.com/opensource-finance/spendguard/internal/config"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/generator"
	"github.com/opensource-finance/spendguard/internal/repository"
	"github.com/opensource-finance/spendguard/internal/training"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		in       string
		version  string
		out      string
		noRemote bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model bundle from a CSV dataset and publish it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if out == "" {
				out = a.cfg.Model.ArtifactDir
			}
			loc := config.Location(a.cfg)

			txs, err := readDataset(in, loc)
			if err != nil {
				return err
			}

			bundle, report, err := training.NewTrainer(a.cfg.Training, loc).Train(ctx, txs, version)
			if err != nil {
				return err
			}

			var remote artifact.Remote
			if !noRemote {
				repo, err := repository.New(a.cfg.Repository)
				if err != nil {
					return fmt.Errorf("open repository: %w", err)
				}
				defer repo.Close()
				remote = artifact.NewRepositoryRemote(repo)
			}

			store := artifact.NewStore(artifact.NewFileStore(out), remote, artifact.StoreConfig{})
			if err := store.Publish(ctx, bundle); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "version=%s rows=%d skipped=%d flagged=%d cutoff=%.6f duration=%s\n",
				report.Version, report.Rows, len(report.Skipped), report.Flagged, report.Cutoff, report.Duration)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "input CSV produced by generate")
	cmd.Flags().StringVar(&version, "version", "", "bundle version (generated when empty)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "local artifact directory (default from config)")
	cmd.Flags().BoolVar(&noRemote, "no-remote", false, "only write the local artifact directory")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func readDataset(path string, loc *time.Location) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	rows, rowErrs, err := generator.ReadCSV(f, loc)
	if err != nil {
		return nil, err
	}
	for _, re := range rowErrs {
		slog.Warn("dataset row skipped",
			"line", re.Line,
			"error", re.Err,
		)
	}

	txs := make([]domain.Transaction, len(rows))
	for i := range rows {
		txs[i] = rows[i].Transaction
	}
	slog.Info("dataset loaded",
		"path", path,
		"rows", len(txs),
		"bad_rows", len(rowErrs),
	)
	return txs, nil
}

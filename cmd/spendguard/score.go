package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/spendguard/internal/bus"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/worker"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		in      string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a JSON batch through a running worker over the event bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.EventBus.Type != "nats" {
				return fmt.Errorf("score needs a shared event bus, got %q", a.cfg.EventBus.Type)
			}

			var r io.Reader = cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return fmt.Errorf("open batch: %w", err)
				}
				defer f.Close()
				r = f
			}
			records, err := readBatch(r)
			if err != nil {
				return err
			}

			eventBus, err := bus.New(a.cfg.EventBus)
			if err != nil {
				return fmt.Errorf("connect event bus: %w", err)
			}
			defer eventBus.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reply, err := worker.RequestScore(ctx, eventBus, records)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reply)
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "-", "JSON batch file, - for stdin")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the worker")
	return cmd
}

// readBatch accepts either {"transactions": [...]} or a bare array of records.
func readBatch(r io.Reader) ([]domain.InferenceRecord, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	var records []domain.InferenceRecord
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &records)
	} else {
		var batch domain.Batch
		err = json.Unmarshal(raw, &batch)
		records = batch.Transactions
	}
	if err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidTransaction)
	}
	return records, nil
}

// Package training fits the encoder, scaler and forest that make up a
// model bundle.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/spendguard/internal/artifact"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/features"
	"github.com/opensource-finance/spendguard/internal/forest"
)

var tracer = otel.Tracer("spendguard-training")

// Report summarizes a training run.
type Report struct {
	Version  string             `json:"version"`
	Rows     int                `json:"rows"`
	Skipped  []domain.ItemError `json:"skipped,omitempty"`
	Flagged  int                `json:"flagged"`
	Cutoff   float64            `json:"cutoff"`
	Duration time.Duration      `json:"duration"`
}

// Trainer runs the offline training procedure.
type Trainer struct {
	cfg domain.TrainingConfig
	loc *time.Location
}

// NewTrainer creates a trainer deriving day and hour in loc.
func NewTrainer(cfg domain.TrainingConfig, loc *time.Location) *Trainer {
	return &Trainer{cfg: cfg, loc: loc}
}

// Train fits a bundle over txs. Rows that cannot be featurized are skipped
// and reported. version may be empty, in which case one is generated.
func (t *Trainer) Train(ctx context.Context, txs []domain.Transaction, version string) (*artifact.Bundle, *Report, error) {
	ctx, span := tracer.Start(ctx, "training.Train")
	defer span.End()

	start := time.Now()
	if version == "" {
		version = time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	}

	categories := make([]string, 0, len(txs))
	for i := range txs {
		if txs[i].Category != "" {
			categories = append(categories, txs[i].Category)
		}
	}
	encoder := features.NewCategoryEncoder()
	if err := encoder.Fit(categories); err != nil {
		return nil, nil, err
	}

	extractor := features.NewExtractor(encoder, t.loc)
	matrix, _, skipped := extractor.ExtractAll(txs)
	for _, s := range skipped {
		slog.Debug("training row skipped",
			"index", s.Index,
			"tx_id", s.TransactionID,
			"reason", s.Reason,
		)
	}

	scaler := &features.Scaler{}
	if err := scaler.Fit(matrix); err != nil {
		return nil, nil, err
	}
	scaled, err := scaler.TransformAll(matrix)
	if err != nil {
		return nil, nil, err
	}

	sampleSize := t.cfg.SampleSize
	if sampleSize > len(scaled) {
		sampleSize = len(scaled)
	}

	f := forest.New(
		forest.WithTrees(t.cfg.NumTrees),
		forest.WithSampleSize(sampleSize),
		forest.WithContamination(t.cfg.Contamination),
		forest.WithBootstrap(t.cfg.Bootstrap),
		forest.WithSeed(t.cfg.Seed),
		forest.WithWorkers(t.cfg.Workers),
	)
	if err := f.Fit(ctx, scaled); err != nil {
		return nil, nil, fmt.Errorf("fit forest: %w", err)
	}

	scores, err := f.ScoreAll(ctx, scaled)
	if err != nil {
		return nil, nil, err
	}
	flagged := 0
	for _, s := range scores {
		if s >= f.Cutoff() {
			flagged++
		}
	}

	bundle := &artifact.Bundle{
		Manifest: artifact.NewManifest(version, t.loc.String(), len(scaled), f),
		Encoder:  encoder,
		Scaler:   scaler,
		Forest:   f,
	}

	report := &Report{
		Version:  version,
		Rows:     len(scaled),
		Skipped:  skipped,
		Flagged:  flagged,
		Cutoff:   f.Cutoff(),
		Duration: time.Since(start),
	}

	span.SetAttributes(
		attribute.String("model.version", version),
		attribute.Int("training.rows", report.Rows),
		attribute.Int("training.skipped", len(skipped)),
		attribute.Int("training.flagged", flagged),
	)

	slog.Info("training complete",
		"version", version,
		"rows", report.Rows,
		"skipped", len(skipped),
		"flagged", flagged,
		"cutoff", report.Cutoff,
		"duration_ms", report.Duration.Milliseconds(),
	)

	return bundle, report, nil
}

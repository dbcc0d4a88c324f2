// Package scoring runs transactions through the loaded model bundle:
// feature extraction, scaling, then the forest verdict.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/spendguard/internal/artifact"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/features"
	"github.com/opensource-finance/spendguard/internal/metrics"
)

var tracer = otel.Tracer("spendguard-scoring")

// ArtifactStore supplies the trained bundle.
type ArtifactStore interface {
	EnsureLoaded(ctx context.Context) (*artifact.Bundle, error)
}

// model is an immutable bundle plus the extractor bound to its encoder.
type model struct {
	bundle    *artifact.Bundle
	extractor *features.Extractor
}

// Service scores batches against one loaded bundle. Scoring never mutates
// the bundle, so concurrent calls need no locking.
type Service struct {
	store    ArtifactStore
	loc      *time.Location
	validate *validator.Validate

	model  atomic.Pointer[model]
	loadMu sync.Mutex
}

// NewService creates a service. loc is used when a bundle does not name its zone.
func NewService(store ArtifactStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		loc:      loc,
		validate: validator.New(),
	}
}

// EnsureLoaded loads the bundle on first call. Later calls are no-ops.
func (s *Service) EnsureLoaded(ctx context.Context) error {
	if s.model.Load() != nil {
		return nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.model.Load() != nil {
		return nil
	}
	return s.load(ctx)
}

// Reload replaces the loaded bundle. The old bundle keeps serving if the
// new one fails to load.
func (s *Service) Reload(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) error {
	b, err := s.store.EnsureLoaded(ctx)
	if err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}

	loc := s.loc
	if b.Manifest.Timezone != "" {
		l, err := time.LoadLocation(b.Manifest.Timezone)
		if err != nil {
			return fmt.Errorf("%w: bundle timezone %q: %v", domain.ErrArtifactLoad, b.Manifest.Timezone, err)
		}
		if l.String() != s.loc.String() {
			slog.Warn("bundle timezone differs from configured timezone",
				"bundle_timezone", l.String(),
				"configured_timezone", s.loc.String(),
			)
		}
		loc = l
	}

	s.model.Store(&model{
		bundle:    b,
		extractor: features.NewExtractor(b.Encoder, loc),
	})
	return nil
}

// Ready reports whether a bundle is loaded.
func (s *Service) Ready() bool {
	return s.model.Load() != nil
}

// Manifest returns the loaded bundle's manifest.
func (s *Service) Manifest() (artifact.Manifest, error) {
	m := s.model.Load()
	if m == nil {
		return artifact.Manifest{}, domain.ErrModelNotLoaded
	}
	return m.bundle.Manifest, nil
}

// Location returns the zone the loaded bundle derives day and hour in.
func (s *Service) Location() *time.Location {
	if m := s.model.Load(); m != nil {
		return m.extractor.Location()
	}
	return s.loc
}

// item is a transaction with its position in the caller's batch.
type item struct {
	index int
	tx    domain.Transaction
}

// ScoreBatch scores txs. Items that fail feature extraction are skipped and
// reported; a dimension mismatch fails the whole call.
func (s *Service) ScoreBatch(ctx context.Context, txs []domain.Transaction) (*domain.BatchResult, error) {
	items := make([]item, len(txs))
	for i := range txs {
		items[i] = item{index: i, tx: txs[i]}
	}
	return s.score(ctx, items, nil)
}

// ScoreRecords validates and converts ingestion records, then scores them.
// Invalid records and malformed timestamps are skipped per item.
func (s *Service) ScoreRecords(ctx context.Context, records []domain.InferenceRecord) (*domain.BatchResult, error) {
	items := make([]item, 0, len(records))
	var skipped []domain.ItemError

	for i := range records {
		rec := &records[i]
		if err := s.validate.Struct(rec); err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidTransaction, err)
			skipped = append(skipped, itemError(i, rec.ID, err))
			continue
		}
		tx, err := features.FromRecord(rec)
		if err != nil {
			skipped = append(skipped, itemError(i, rec.ID, err))
			continue
		}
		items = append(items, item{index: i, tx: tx})
	}

	return s.score(ctx, items, skipped)
}

func (s *Service) score(ctx context.Context, items []item, skipped []domain.ItemError) (*domain.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "scoring.ScoreBatch")
	defer span.End()

	m := s.model.Load()
	if m == nil {
		span.SetStatus(codes.Error, domain.ErrModelNotLoaded.Error())
		return nil, domain.ErrModelNotLoaded
	}

	start := time.Now()
	b := m.bundle
	res := &domain.BatchResult{
		Results:      make([]domain.ScoringResult, 0, len(items)),
		Transactions: make([]domain.Transaction, 0, len(items)),
		ModelVersion: b.Manifest.Version,
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec, err := m.extractor.Extract(&it.tx)
		if err != nil {
			skipped = append(skipped, itemError(it.index, it.tx.ID, err))
			continue
		}

		scaled, err := b.Scaler.Transform(vec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		anomalous, score, err := b.Forest.IsAnomalous(scaled)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		res.Results = append(res.Results, domain.ScoringResult{
			TransactionID: it.tx.ID,
			AnomalyScore:  score,
			IsAnomalous:   anomalous,
			ModelVersion:  b.Manifest.Version,
			ScoredAt:      time.Now().UTC(),
		})
		res.Transactions = append(res.Transactions, it.tx)

		verdict := metrics.VerdictNormal
		if anomalous {
			verdict = metrics.VerdictAnomalous
		}
		metrics.TransactionsScored.WithLabelValues(verdict).Inc()
		metrics.AnomalyScore.Observe(score)
	}

	res.Skipped = skipped
	metrics.TransactionsSkipped.Add(float64(len(skipped)))
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	for _, sk := range skipped {
		slog.Debug("transaction skipped",
			"index", sk.Index,
			"tx_id", sk.TransactionID,
			"reason", sk.Reason,
		)
	}

	span.SetAttributes(
		attribute.String("model.version", b.Manifest.Version),
		attribute.Int("batch.scored", len(res.Results)),
		attribute.Int("batch.skipped", len(skipped)),
	)
	return res, nil
}

func itemError(index int, txID string, err error) domain.ItemError {
	return domain.ItemError{
		Index:         index,
		TransactionID: txID,
		Reason:        reason(err),
		Err:           err,
	}
}

// reason maps an item error onto a stable label.
func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownCategory):
		return "unknown_category: " + err.Error()
	case errors.Is(err, domain.ErrMalformedTimestamp):
		return "malformed_timestamp: " + err.Error()
	default:
		return "invalid_transaction: " + err.Error()
	}
}

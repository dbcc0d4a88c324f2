// Package worker runs the post-scoring pipeline: persistence, caching,
// result publication and alerting. It serves both the async ingestion
// topic and the synchronous scoring endpoint.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/spendguard/internal/alerting"
	"github.com/opensource-finance/spendguard/internal/bus"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/metrics"
	"github.com/opensource-finance/spendguard/internal/notify"
)

// Scorer turns inference records into verdicts.
type Scorer interface {
	ScoreRecords(ctx context.Context, records []domain.InferenceRecord) (*domain.BatchResult, error)
	Location() *time.Location
}

// Deps are the collaborators of a Worker. Repo, Cache, Bus and Notifier are optional.
type Deps struct {
	Scorer   Scorer
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Policy   *alerting.Policy
	Notifier notify.Notifier
}

// Config holds worker configuration.
type Config struct {
	// ResultTTL is how long results stay in the cache.
	ResultTTL time.Duration
}

// ResultMessage is published on the scoring result topic for every batch.
type ResultMessage struct {
	ModelVersion string              `json:"modelVersion"`
	Predictions  []domain.Prediction `json:"predictions"`
	Skipped      []domain.ItemError  `json:"skipped,omitempty"`
}

// ScoreReply answers a request on the scoring request topic.
type ScoreReply struct {
	ModelVersion string                 `json:"modelVersion,omitempty"`
	Predictions  []domain.Prediction    `json:"predictions,omitempty"`
	Results      []domain.ScoringResult `json:"results,omitempty"`
	Skipped      []domain.ItemError     `json:"skipped,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Worker processes scoring batches.
type Worker struct {
	deps      Deps
	resultTTL time.Duration

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker. A nil policy alerts on every anomalous result.
func NewWorker(deps Deps, cfg Config) (*Worker, error) {
	if deps.Scorer == nil {
		return nil, fmt.Errorf("worker requires a scorer")
	}
	if deps.Policy == nil {
		policy, err := alerting.NewPolicy(alerting.DefaultExpression)
		if err != nil {
			return nil, err
		}
		deps.Policy = policy
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNoOpNotifier()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		deps:      deps,
		resultTTL: cfg.ResultTTL,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start subscribes to the ingestion and scoring request topics.
func (w *Worker) Start() error {
	if w.deps.Bus == nil {
		return fmt.Errorf("worker requires an event bus to start")
	}

	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicTransactionIngested, w.handleMessage},
		{domain.TopicScoringRequest, w.handleRequest},
	}
	for _, h := range handlers {
		sub, err := w.deps.Bus.Subscribe(w.ctx, h.topic, h.handler)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started",
		"topics", []string{domain.TopicTransactionIngested, domain.TopicScoringRequest},
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var batch domain.Batch
	if err := bus.DecodeJSON(msg, &batch); err != nil {
		slog.Error("failed to parse ingested batch",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	_, err := w.Process(ctx, batch.Transactions)
	return err
}

// handleRequest scores a batch and answers on the message's reply topic.
func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	replyTo := msg.Metadata[domain.MetadataReplyTo]
	if replyTo == "" {
		slog.Warn("scoring request without reply topic dropped", "message_id", msg.ID)
		return nil
	}

	var reply ScoreReply
	var batch domain.Batch
	if err := bus.DecodeJSON(msg, &batch); err != nil {
		reply.Error = err.Error()
	} else if res, err := w.Process(ctx, batch.Transactions); err != nil {
		reply.Error = err.Error()
	} else {
		reply.ModelVersion = res.ModelVersion
		reply.Predictions = res.Predictions()
		reply.Results = res.Results
		reply.Skipped = res.Skipped
	}

	if err := bus.PublishJSON(ctx, w.deps.Bus, replyTo, reply); err != nil {
		slog.Error("failed to send scoring reply",
			"message_id", msg.ID,
			"reply_to", replyTo,
			"error", err,
		)
		return err
	}
	return nil
}

// RequestScore sends records to a running worker over the bus and waits
// for its verdicts.
func RequestScore(ctx context.Context, b domain.EventBus, records []domain.InferenceRecord) (*ScoreReply, error) {
	payload, err := json.Marshal(domain.Batch{Transactions: records})
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}

	raw, err := b.Request(ctx, domain.TopicScoringRequest, payload)
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}

	var reply ScoreReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode scoring reply: %w", err)
	}
	if reply.Error != "" {
		return &reply, errors.New(reply.Error)
	}
	return &reply, nil
}

// Process scores records and fans the results out to storage, cache, bus
// and notifier. Only scoring errors are returned; downstream failures are
// logged so one broken sink does not drop the batch.
func (w *Worker) Process(ctx context.Context, records []domain.InferenceRecord) (*domain.BatchResult, error) {
	start := time.Now()

	res, err := w.deps.Scorer.ScoreRecords(ctx, records)
	if err != nil {
		slog.Error("batch scoring failed",
			"batch_size", len(records),
			"error", err,
		)
		return nil, err
	}

	loc := w.deps.Scorer.Location()
	alerts := 0
	for i := range res.Results {
		result := &res.Results[i]
		tx := &res.Transactions[i]

		w.persist(ctx, result, tx)

		if w.alert(ctx, result, tx, loc) {
			alerts++
		}
	}

	w.publishResults(ctx, res)

	slog.Info("batch processed",
		"model_version", res.ModelVersion,
		"scored", len(res.Results),
		"skipped", len(res.Skipped),
		"alerts", alerts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (w *Worker) persist(ctx context.Context, result *domain.ScoringResult, tx *domain.Transaction) {
	if w.deps.Repo != nil {
		if err := w.deps.Repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if err := w.deps.Repo.SaveScoringResult(ctx, result); err != nil {
			slog.Error("failed to save scoring result",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	if w.deps.Cache != nil {
		if err := w.deps.Cache.SetResult(ctx, result, w.resultTTL); err != nil {
			slog.Warn("failed to cache scoring result",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}
}

func (w *Worker) alert(ctx context.Context, result *domain.ScoringResult, tx *domain.Transaction, loc *time.Location) bool {
	ok, err := w.deps.Policy.ShouldAlert(result, tx, loc)
	if err != nil {
		slog.Error("alert policy failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return false
	}
	if !ok {
		return false
	}

	alert := alerting.NewAlert(result, tx, loc)

	outcome := "sent"
	if err := w.deps.Notifier.Notify(ctx, alert); err != nil {
		outcome = "failed"
		slog.Error("failed to notify",
			"tx_id", tx.ID,
			"error", err,
		)
	}
	metrics.AlertsSent.WithLabelValues(outcome).Inc()

	if w.deps.Bus != nil {
		if err := bus.PublishJSON(ctx, w.deps.Bus, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}
	return true
}

func (w *Worker) publishResults(ctx context.Context, res *domain.BatchResult) {
	if w.deps.Bus == nil {
		return
	}

	msg := ResultMessage{
		ModelVersion: res.ModelVersion,
		Predictions:  res.Predictions(),
		Skipped:      res.Skipped,
	}
	if err := bus.PublishJSON(ctx, w.deps.Bus, domain.TopicScoringResult, msg); err != nil {
		slog.Error("failed to publish results",
			"model_version", res.ModelVersion,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	AlertExpression   string   `json:"alertExpression"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		AlertExpression:   w.deps.Policy.Expression(),
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/spendguard/internal/artifact"
	"github.com/opensource-finance/spendguard/internal/bus"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/repository"
)

const (
	// MaxBodyBytes caps scoring and ingestion request bodies.
	MaxBodyBytes = 16 << 20

	defaultAnomalyLimit = 50
	maxAnomalyLimit     = 1000
)

// Model reports the state of the loaded bundle.
type Model interface {
	Ready() bool
	Manifest() (artifact.Manifest, error)
}

// Pipeline scores a batch and fans the results out.
type Pipeline interface {
	Process(ctx context.Context, records []domain.InferenceRecord) (*domain.BatchResult, error)
}

// Deps are the collaborators of the API. Repo, Cache and Bus are optional.
type Deps struct {
	Model    Model
	Pipeline Pipeline
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus

	// ResultTTL is used when a repository hit is copied back into the cache.
	ResultTTL time.Duration
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps    Deps
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	if deps.ResultTTL <= 0 {
		deps.ResultTTL = 24 * time.Hour
	}
	return &Handler{deps: deps, version: version}
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Predictions  []domain.Prediction    `json:"predictions"`
	Results      []domain.ScoringResult `json:"results"`
	Skipped      []domain.ItemError     `json:"skipped"`
	ModelVersion string                 `json:"modelVersion"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func decodeBatch(w http.ResponseWriter, r *http.Request) (*domain.Batch, bool) {
	var batch domain.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}
	return &batch, true
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	batch, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	res, err := h.deps.Pipeline.Process(ctx, batch.Transactions)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrModelNotLoaded) {
			status = http.StatusServiceUnavailable
		}
		slog.Error("scoring failed",
			"batch_size", len(batch.Transactions),
			"error", err,
		)
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	resp := ScoreResponse{
		Predictions:  res.Predictions(),
		Results:      res.Results,
		Skipped:      res.Skipped,
		ModelVersion: res.ModelVersion,
	}
	if resp.Skipped == nil {
		resp.Skipped = []domain.ItemError{}
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Ingest handles POST /ingest by publishing the batch for async scoring.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	batch, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	if err := bus.PublishJSON(r.Context(), h.deps.Bus, domain.TopicTransactionIngested, batch); err != nil {
		slog.Error("failed to publish batch", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue batch",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": len(batch.Transactions),
		"traceId":  GetTraceID(r.Context()),
	})
}

// GetResult retrieves a scoring result by transaction ID, cache first.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if h.deps.Cache != nil {
		cached, err := h.deps.Cache.GetResult(ctx, txID)
		if err != nil {
			slog.Warn("result cache read failed", "tx_id", txID, "error", err)
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if h.deps.Repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "result not found",
		})
		return
	}

	result, err := h.deps.Repo.GetScoringResult(ctx, txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "result not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get result", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get result",
		})
		return
	}

	if h.deps.Cache != nil {
		_ = h.deps.Cache.SetResult(ctx, result, h.deps.ResultTTL)
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAnomalies returns the highest scoring flagged results.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := defaultAnomalyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAnomalyLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	results, err := h.deps.Repo.ListAnomalies(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list anomalies", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list anomalies",
		})
		return
	}
	if results == nil {
		results = []*domain.ScoringResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": results,
		"count":     len(results),
	})
}

// GetModel returns the manifest of the loaded bundle.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.deps.Model.Manifest()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.deps.Bus != nil {
		if err := h.deps.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether a model is loaded and traffic can be scored.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Model.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

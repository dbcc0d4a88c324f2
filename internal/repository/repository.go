// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction. Re-delivered transactions overwrite
// the earlier copy.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, amount, timestamp, category, vendor,
			distance_from_last, time_since_last, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			timestamp = excluded.timestamp,
			category = excluded.category,
			vendor = excluded.vendor,
			distance_from_last = excluded.distance_from_last,
			time_since_last = excluded.time_since_last
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Amount, tx.Timestamp.UTC(), tx.Category, tx.Vendor,
		tx.DistanceFromLast, tx.TimeSinceLast, time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, amount, timestamp, category, vendor,
			   distance_from_last, time_since_last
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.Amount, &tx.Timestamp, &tx.Category, &tx.Vendor,
		&tx.DistanceFromLast, &tx.TimeSinceLast,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// SaveScoringResult stores the verdict for a transaction, replacing any
// earlier verdict.
func (r *SQLRepository) SaveScoringResult(ctx context.Context, result *domain.ScoringResult) error {
	if result == nil || result.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	anomalous := 0
	if result.IsAnomalous {
		anomalous = 1
	}

	query := `
		INSERT INTO scoring_results (
			tx_id, anomaly_score, is_anomalous, model_version, scored_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			anomaly_score = excluded.anomaly_score,
			is_anomalous = excluded.is_anomalous,
			model_version = excluded.model_version,
			scored_at = excluded.scored_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.TransactionID, result.AnomalyScore, anomalous,
		result.ModelVersion, result.ScoredAt.UTC(),
	)
	return err
}

// GetScoringResult retrieves the verdict for a transaction.
func (r *SQLRepository) GetScoringResult(ctx context.Context, txID string) (*domain.ScoringResult, error) {
	query := `
		SELECT tx_id, anomaly_score, is_anomalous, model_version, scored_at
		FROM scoring_results
		WHERE tx_id = ?
	`

	var res domain.ScoringResult
	var anomalous int

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&res.TransactionID, &res.AnomalyScore, &anomalous, &res.ModelVersion, &res.ScoredAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.IsAnomalous = anomalous == 1
	return &res, nil
}

// ListAnomalies returns flagged results, highest score first.
func (r *SQLRepository) ListAnomalies(ctx context.Context, limit int) ([]*domain.ScoringResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT tx_id, anomaly_score, is_anomalous, model_version, scored_at
		FROM scoring_results
		WHERE is_anomalous = 1
		ORDER BY anomaly_score DESC, tx_id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScoringResult
	for rows.Next() {
		var res domain.ScoringResult
		var anomalous int

		if err := rows.Scan(
			&res.TransactionID, &res.AnomalyScore, &anomalous, &res.ModelVersion, &res.ScoredAt,
		); err != nil {
			return nil, err
		}

		res.IsAnomalous = anomalous == 1
		results = append(results, &res)
	}

	return results, rows.Err()
}

// SaveArtifact stores one bundle blob, replacing an existing blob of the
// same version and kind.
func (r *SQLRepository) SaveArtifact(ctx context.Context, blob *domain.ArtifactBlob) error {
	if blob == nil || blob.Version == "" || blob.Kind == "" {
		return fmt.Errorf("%w: artifact version and kind are required", ErrInvalidInput)
	}

	createdAt := blob.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO model_artifacts (version, kind, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(version, kind) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		blob.Version, blob.Kind, blob.Data, createdAt.UTC(),
	)
	return err
}

// GetArtifact retrieves one bundle blob.
func (r *SQLRepository) GetArtifact(ctx context.Context, version string, kind string) (*domain.ArtifactBlob, error) {
	query := `
		SELECT version, kind, data, created_at
		FROM model_artifacts
		WHERE version = ? AND kind = ?
	`

	var blob domain.ArtifactBlob
	err := r.db.QueryRowContext(ctx, r.rebind(query), version, kind).Scan(
		&blob.Version, &blob.Kind, &blob.Data, &blob.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &blob, nil
}

// LatestArtifactVersion returns the newest version with a stored manifest.
func (r *SQLRepository) LatestArtifactVersion(ctx context.Context) (string, error) {
	query := `
		SELECT version
		FROM model_artifacts
		WHERE kind = 'manifest'
		ORDER BY created_at DESC, version DESC
		LIMIT 1
	`

	var version string
	err := r.db.QueryRowContext(ctx, query).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	return version, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

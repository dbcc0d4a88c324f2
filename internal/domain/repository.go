// Package domain defines the core interfaces and types for SpendGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Scoring results
	SaveScoringResult(ctx context.Context, result *ScoringResult) error
	GetScoringResult(ctx context.Context, txID string) (*ScoringResult, error)
	ListAnomalies(ctx context.Context, limit int) ([]*ScoringResult, error)

	// Trained artifact blobs, versioned together
	SaveArtifact(ctx context.Context, blob *ArtifactBlob) error
	GetArtifact(ctx context.Context, version string, kind string) (*ArtifactBlob, error)
	LatestArtifactVersion(ctx context.Context) (string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ArtifactBlob is one opaque part of a trained bundle.
type ArtifactBlob struct {
	Version   string    `json:"version"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" koanf:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" koanf:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" koanf:"postgres_port"`
	PostgresUser     string `json:"postgresUser" koanf:"postgres_user"`
	PostgresPassword string `json:"-" koanf:"postgres_password"`
	PostgresDB       string `json:"postgresDB" koanf:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSSLMode" koanf:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" koanf:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" koanf:"conn_max_lifetime"`
}

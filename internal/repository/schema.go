package repository

import "strings"

// Schema definitions for the SpendGuard database.
// Compatible with both SQLite and PostgreSQL; binary columns are declared
// as {{BLOB}} and resolved per driver.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    category TEXT NOT NULL,
    vendor TEXT NOT NULL DEFAULT '',
    distance_from_last REAL NOT NULL,
    time_since_last REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category);
`

const schemaScoringResults = `
CREATE TABLE IF NOT EXISTS scoring_results (
    tx_id TEXT PRIMARY KEY,
    anomaly_score REAL NOT NULL,
    is_anomalous INTEGER NOT NULL,
    model_version TEXT NOT NULL,
    scored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scoring_results_anomalous ON scoring_results(is_anomalous, anomaly_score);
`

// schemaModelArtifacts stores trained bundle blobs, one row per (version, kind).
const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    version TEXT NOT NULL,
    kind TEXT NOT NULL,
    data {{BLOB}} NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (version, kind)
);

CREATE INDEX IF NOT EXISTS idx_model_artifacts_created ON model_artifacts(kind, created_at);
`

// AllSchemas returns all schema statements in order for driver.
func AllSchemas(driver string) []string {
	blob := "BLOB"
	if driver == "postgres" {
		blob = "BYTEA"
	}

	schemas := []string{
		schemaTransactions,
		schemaScoringResults,
		schemaModelArtifacts,
	}
	for i, s := range schemas {
		schemas[i] = strings.ReplaceAll(s, "{{BLOB}}", blob)
	}
	return schemas
}

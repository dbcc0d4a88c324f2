package domain

import "time"

// ScoringResult is the model verdict for one transaction.
type ScoringResult struct {
	TransactionID string    `json:"transactionId"`
	AnomalyScore  float64   `json:"anomalyScore"`
	IsAnomalous   bool      `json:"isAnomalous"`
	ModelVersion  string    `json:"modelVersion,omitempty"`
	ScoredAt      time.Time `json:"scoredAt"`
}

// Prediction is the outward-facing verdict consumed by notification and persistence.
type Prediction struct {
	ID           string `json:"id"`
	IsFraudulent bool   `json:"isFraudulent"`
}

// ItemError reports a record that was dropped from a batch.
type ItemError struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason"`
	Err           error  `json:"-"`
}

// BatchResult holds one result per successfully featurized input, in input order.
type BatchResult struct {
	Results      []ScoringResult `json:"results"`
	Transactions []Transaction   `json:"-"`
	Skipped      []ItemError     `json:"skipped,omitempty"`
	ModelVersion string          `json:"modelVersion"`
}

// Predictions converts results into the {id, isFraudulent} output shape.
func (b *BatchResult) Predictions() []Prediction {
	out := make([]Prediction, len(b.Results))
	for i, r := range b.Results {
		out[i] = Prediction{ID: r.TransactionID, IsFraudulent: r.IsAnomalous}
	}
	return out
}

// Alert is the payload sent to notification collaborators for a flagged transaction.
type Alert struct {
	ID           string    `json:"id"`
	IsFraudulent bool      `json:"isFraudulent"`
	AnomalyScore float64   `json:"anomalyScore"`
	Amount       float64   `json:"amount"`
	Category     string    `json:"category"`
	Vendor       string    `json:"vendor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	LocalTime    string    `json:"localTime"`
	ModelVersion string    `json:"modelVersion"`
}

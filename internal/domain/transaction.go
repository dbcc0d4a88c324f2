package domain

import (
	"encoding/json"
	"time"
)

// Transaction is a single spending event, either synthetic or live.
type Transaction struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Vendor    string    `json:"vendor,omitempty"`

	// DistanceFromLast is the distance in km from the previous transaction.
	DistanceFromLast float64 `json:"distanceFromLast"`

	// TimeSinceLast is the gap in minutes since the previous transaction.
	TimeSinceLast float64 `json:"timeSinceLast"`
}

// Speed is the derived movement feature in km per minute.
// The +1 keeps back-to-back purchases finite.
func (t *Transaction) Speed() float64 {
	return t.DistanceFromLast / (t.TimeSinceLast + 1)
}

// InferenceRecord is the transaction-like record handed over by the ingestion layer.
// Timestamp is kept raw so a malformed value only fails its own record.
type InferenceRecord struct {
	ID                       string          `json:"id" validate:"required"`
	Amount                   float64         `json:"amount" validate:"gte=0"`
	Timestamp                json.RawMessage `json:"timestamp" validate:"required"`
	Category                 string          `json:"category" validate:"required"`
	Vendor                   string          `json:"vendor,omitempty"`
	DistanceFromPrevious     float64         `json:"distanceFromPreviousTransaction" validate:"gte=0"`
	TimeSinceLastTransaction float64         `json:"timeSinceLastTransaction" validate:"gte=0"`
}

// Batch is the envelope used by the ingestion topic and the scoring endpoint.
type Batch struct {
	Transactions []InferenceRecord `json:"transactions"`
}

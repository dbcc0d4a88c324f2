// Package features turns transactions into the ordered feature vectors the
// anomaly forest is trained and queried on.
package features

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// Feature indexes. The order is part of every trained artifact.
const (
	FeatureAmount = iota
	FeatureSpeed
	FeatureDayOfWeek
	FeatureHourOfDay
	FeatureCategory

	NumFeatures
)

var featureNames = [NumFeatures]string{
	"amount",
	"speed",
	"day_of_week",
	"hour_of_day",
	"category_code",
}

// FeatureNames returns the feature order.
func FeatureNames() []string {
	return featureNames[:]
}

// Signature fingerprints the feature order. Bundles carry it so a reordered
// extractor refuses to load an old model.
func Signature() string {
	sum := sha256.Sum256([]byte(strings.Join(featureNames[:], ",")))
	return hex.EncodeToString(sum[:8])
}

// Extractor builds feature vectors with a fitted encoder.
type Extractor struct {
	encoder *CategoryEncoder
	loc     *time.Location
}

// NewExtractor returns an extractor deriving day and hour in loc.
func NewExtractor(encoder *CategoryEncoder, loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{encoder: encoder, loc: loc}
}

// Location returns the zone day and hour are derived in.
func (e *Extractor) Location() *time.Location {
	return e.loc
}

// Extract returns [amount, speed, day_of_week, hour_of_day, category_code].
func (e *Extractor) Extract(tx *domain.Transaction) ([]float64, error) {
	if !validQuantity(tx.Amount) || !validQuantity(tx.DistanceFromLast) || !validQuantity(tx.TimeSinceLast) {
		return nil, fmt.Errorf("%w: negative or non-finite field", domain.ErrInvalidTransaction)
	}
	if tx.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", domain.ErrMalformedTimestamp)
	}

	code, err := e.encoder.Encode(tx.Category)
	if err != nil {
		return nil, err
	}

	local := tx.Timestamp.In(e.loc)
	v := make([]float64, NumFeatures)
	v[FeatureAmount] = tx.Amount
	v[FeatureSpeed] = tx.Speed()
	v[FeatureDayOfWeek] = float64(Weekday(local))
	v[FeatureHourOfDay] = float64(local.Hour())
	v[FeatureCategory] = float64(code)
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: feature %s is not finite", domain.ErrInvalidTransaction, featureNames[i])
		}
	}
	return v, nil
}

// validQuantity reports whether x is a finite, non-negative amount, distance or gap.
func validQuantity(x float64) bool {
	return x >= 0 && !math.IsInf(x, 1)
}

// ExtractAll extracts every transaction, dropping and reporting the ones that fail.
// The returned kept slice holds the input index of each row of the matrix.
func (e *Extractor) ExtractAll(txs []domain.Transaction) (matrix [][]float64, kept []int, skipped []domain.ItemError) {
	matrix = make([][]float64, 0, len(txs))
	kept = make([]int, 0, len(txs))
	for i := range txs {
		v, err := e.Extract(&txs[i])
		if err != nil {
			skipped = append(skipped, domain.ItemError{
				Index:         i,
				TransactionID: txs[i].ID,
				Reason:        err.Error(),
				Err:           err,
			})
			continue
		}
		matrix = append(matrix, v)
		kept = append(kept, i)
	}
	return matrix, kept, skipped
}

// Weekday returns the day of week with Monday as 0 and Sunday as 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Epoch-millisecond bounds of years 0001 through 9999.
var (
	minEpochMillis = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxEpochMillis = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()
)

// ParseTimestamp accepts epoch milliseconds, as a JSON number or numeric
// string, or an RFC 3339 string.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: empty", domain.ErrMalformedTimestamp)
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", domain.ErrMalformedTimestamp, err)
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
	}

	ms, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrMalformedTimestamp, s)
	}
	if ms < float64(minEpochMillis) || ms > float64(maxEpochMillis) {
		return time.Time{}, fmt.Errorf("%w: %q out of range", domain.ErrMalformedTimestamp, s)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// FromRecord converts an ingestion record into a Transaction.
func FromRecord(rec *domain.InferenceRecord) (domain.Transaction, error) {
	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:               rec.ID,
		Amount:           rec.Amount,
		Timestamp:        ts,
		Category:         rec.Category,
		Vendor:           rec.Vendor,
		DistanceFromLast: rec.DistanceFromPrevious,
		TimeSinceLast:    rec.TimeSinceLastTransaction,
	}, nil
}

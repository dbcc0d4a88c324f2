//go:build integration
// +build integration

// Package integration provides end-to-end tests for a running SpendGuard server.
//
// These tests verify the scoring path as a client sees it:
//
//	Batch → Validation → Features → Forest → Cutoff → Prediction
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A consumer purchase with amount, time, category and the
// distance and gap since the previous purchase.
//
// 2. FEATURES: [amount, speed, day_of_week, hour, category_code], scaled with
// the statistics stored in the trained bundle.
//
// 3. SCORE: Isolation forest anomaly score in (0, 1]. Higher is stranger.
//
// 4. CUTOFF: Stored in the bundle at training time. Score above cutoff → anomalous.
//
// REQUIRED SETUP (a bundle must be trained before running tests):
//
//	go run ./cmd/spendguard generate -n 10000 -o train.csv
//	go run ./cmd/spendguard train -i train.csv --no-remote
//	go run ./cmd/spendguard serve
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("SPENDGUARD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching SpendGuard's API contract)
// ============================================================================

// Record is one transaction sent to POST /score.
type Record struct {
	ID                       string  `json:"id"`
	Amount                   float64 `json:"amount"`
	Timestamp                any     `json:"timestamp"`
	Category                 string  `json:"category"`
	Vendor                   string  `json:"vendor,omitempty"`
	DistanceFromPrevious     float64 `json:"distanceFromPreviousTransaction"`
	TimeSinceLastTransaction float64 `json:"timeSinceLastTransaction"`
}

type Batch struct {
	Transactions []Record `json:"transactions"`
}

type Prediction struct {
	ID           string `json:"id"`
	IsFraudulent bool   `json:"isFraudulent"`
}

type Result struct {
	TransactionID string    `json:"transactionId"`
	AnomalyScore  float64   `json:"anomalyScore"`
	IsAnomalous   bool      `json:"isAnomalous"`
	ModelVersion  string    `json:"modelVersion"`
	ScoredAt      time.Time `json:"scoredAt"`
}

type Skipped struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// ScoreResponse is what POST /score returns
type ScoreResponse struct {
	Predictions  []Prediction     `json:"predictions"`
	Results      []Result         `json:"results"`
	Skipped      []Skipped        `json:"skipped"`
	ModelVersion string           `json:"modelVersion"`
	Metadata     ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

type Manifest struct {
	Version      string   `json:"version"`
	FeatureOrder []string `json:"featureOrder"`
	Signature    string   `json:"signature"`
	Timezone     string   `json:"timezone"`
	NumTrees     int      `json:"numTrees"`
	SampleSize   int      `json:"sampleSize"`
	Cutoff       float64  `json:"cutoff"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doRequest(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func score(t *testing.T, config TestConfig, records ...Record) ScoreResponse {
	t.Helper()

	status, body := doRequest(t, http.MethodPost, config.BaseURL+"/score", Batch{Transactions: records})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result ScoreResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func normalRecord(id string) Record {
	return Record{
		ID:                       id,
		Amount:                   12.50,
		Timestamp:                "2024-05-15T12:30:00-05:00",
		Category:                 "Food",
		Vendor:                   "Corner Deli",
		DistanceFromPrevious:     1.2,
		TimeSinceLastTransaction: 180,
	}
}

// ============================================================================
// SCENARIO 1: Readiness and Model Contract
// ============================================================================

func TestReadyAndModel(t *testing.T) {
	/*
	   SCENARIO: The server has loaded a bundle

	   EXPECTED BEHAVIOR:
	   - /ready returns 200
	   - /model exposes the feature order the forest was trained on
	*/
	config := getTestConfig()

	status, body := doRequest(t, http.MethodGet, config.BaseURL+"/ready", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected /ready 200, got %d: %s", status, string(body))
	}

	status, body = doRequest(t, http.MethodGet, config.BaseURL+"/model", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected /model 200, got %d: %s", status, string(body))
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("Failed to unmarshal manifest: %v", err)
	}

	want := []string{"amount", "speed", "day_of_week", "hour", "category_code"}
	if len(m.FeatureOrder) != len(want) {
		t.Fatalf("Expected feature order %v, got %v", want, m.FeatureOrder)
	}
	for i := range want {
		if m.FeatureOrder[i] != want[i] {
			t.Errorf("Feature %d: expected %s, got %s", i, want[i], m.FeatureOrder[i])
		}
	}
	if m.Version == "" || m.Signature == "" {
		t.Error("Manifest missing version or signature")
	}
	if m.Cutoff <= 0 || m.Cutoff > 1 {
		t.Errorf("Cutoff out of range: %.4f", m.Cutoff)
	}

	t.Logf("✓ Model loaded: version=%s, trees=%d, cutoff=%.4f", m.Version, m.NumTrees, m.Cutoff)
}

// ============================================================================
// SCENARIO 2: Normal Purchase
// ============================================================================

func TestNormalPurchase_NotFlagged(t *testing.T) {
	/*
	   SCENARIO: A $12.50 lunch at noon, close to the previous purchase

	   EXPECTED BEHAVIOR:
	   - Every feature sits near the middle of the training distribution
	   - Score stays below the cutoff → isFraudulent=false
	*/
	config := getTestConfig()
	id := uniqueID("normal")

	result := score(t, config, normalRecord(id))

	if len(result.Predictions) != 1 {
		t.Fatalf("Expected 1 prediction, got %d (skipped: %v)", len(result.Predictions), result.Skipped)
	}
	if result.Predictions[0].ID != id {
		t.Errorf("Expected prediction for %s, got %s", id, result.Predictions[0].ID)
	}
	if result.Predictions[0].IsFraudulent {
		t.Errorf("Expected normal purchase not flagged, score=%.4f", result.Results[0].AnomalyScore)
	}

	t.Logf("✓ Normal purchase: score=%.4f", result.Results[0].AnomalyScore)
}

// ============================================================================
// SCENARIO 3: Extreme Purchase
// ============================================================================

func TestExtremePurchase_Flagged(t *testing.T) {
	/*
	   SCENARIO: $250,000 in Entertainment at 3 AM, 4,000 km from a purchase
	   made one minute earlier

	   EXPECTED BEHAVIOR:
	   - Amount and speed are far outside anything the generator produces
	   - Isolated in very few splits → score above cutoff → isFraudulent=true
	*/
	config := getTestConfig()
	id := uniqueID("extreme")

	rec := Record{
		ID:                       id,
		Amount:                   250000,
		Timestamp:                "2024-05-15T03:30:00-05:00",
		Category:                 "Entertainment",
		DistanceFromPrevious:     4000,
		TimeSinceLastTransaction: 1,
	}
	result := score(t, config, rec, normalRecord(id+"-n"))

	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(result.Results))
	}
	if !result.Predictions[0].IsFraudulent {
		t.Errorf("Expected extreme purchase flagged, score=%.4f", result.Results[0].AnomalyScore)
	}
	if result.Results[0].AnomalyScore <= result.Results[1].AnomalyScore {
		t.Errorf("Expected extreme score %.4f above normal score %.4f",
			result.Results[0].AnomalyScore, result.Results[1].AnomalyScore)
	}

	t.Logf("✓ Extreme purchase: score=%.4f", result.Results[0].AnomalyScore)
}

// ============================================================================
// SCENARIO 4: Timestamp Formats
// ============================================================================

func TestEpochMillisTimestamp_Accepted(t *testing.T) {
	/*
	   SCENARIO: The same purchase sent once as RFC 3339 and once as epoch ms

	   EXPECTED BEHAVIOR:
	   - Both decode to the same instant
	   - Both produce the same score
	*/
	config := getTestConfig()

	ts := time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC)
	a := normalRecord(uniqueID("rfc"))
	a.Timestamp = ts.Format(time.RFC3339)
	b := normalRecord(uniqueID("epoch"))
	b.Timestamp = ts.UnixMilli()

	result := score(t, config, a, b)

	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d (skipped: %v)", len(result.Results), result.Skipped)
	}
	if result.Results[0].AnomalyScore != result.Results[1].AnomalyScore {
		t.Errorf("Expected equal scores, got %.6f and %.6f",
			result.Results[0].AnomalyScore, result.Results[1].AnomalyScore)
	}
}

// ============================================================================
// SCENARIO 5: Partial Batches
// ============================================================================

func TestInvalidRecords_SkippedNotFailed(t *testing.T) {
	/*
	   SCENARIO: One good record, one unknown category, one bad timestamp

	   EXPECTED BEHAVIOR:
	   - HTTP 200, the batch is not rejected
	   - The good record is scored
	   - The two bad records appear in skipped with their index
	*/
	config := getTestConfig()

	good := normalRecord(uniqueID("good"))
	unknown := normalRecord(uniqueID("unknown"))
	unknown.Category = "Spaceflight"
	badTime := normalRecord(uniqueID("badtime"))
	badTime.Timestamp = "yesterday"

	result := score(t, config, good, unknown, badTime)

	if len(result.Predictions) != 1 || result.Predictions[0].ID != good.ID {
		t.Errorf("Expected only %s scored, got %v", good.ID, result.Predictions)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("Expected 2 skipped, got %d: %v", len(result.Skipped), result.Skipped)
	}
	indexes := map[int]bool{}
	for _, sk := range result.Skipped {
		indexes[sk.Index] = true
	}
	if !indexes[1] || !indexes[2] {
		t.Errorf("Expected skipped indexes 1 and 2, got %v", result.Skipped)
	}

	t.Logf("✓ Partial batch: skipped=%v", result.Skipped)
}

func TestEmptyBatch_EmptyResult(t *testing.T) {
	config := getTestConfig()

	result := score(t, config)

	if len(result.Predictions) != 0 {
		t.Errorf("Expected no predictions, got %d", len(result.Predictions))
	}
}

func TestMalformedBody_BadRequest(t *testing.T) {
	config := getTestConfig()

	httpReq, _ := http.NewRequest(http.MethodPost, config.BaseURL+"/score", bytes.NewReader([]byte("{not json")))
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

// ============================================================================
// SCENARIO 6: Persistence
// ============================================================================

func TestScoredResult_Retrievable(t *testing.T) {
	/*
	   SCENARIO: Score a purchase, then fetch it by id

	   EXPECTED BEHAVIOR:
	   - GET /results/{id} returns the same score
	   - An unknown id returns 404
	*/
	config := getTestConfig()
	id := uniqueID("persist")

	scored := score(t, config, normalRecord(id))
	if len(scored.Results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(scored.Results))
	}

	status, body := doRequest(t, http.MethodGet, config.BaseURL+"/results/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, string(body))
	}

	var got Result
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
	if got.AnomalyScore != scored.Results[0].AnomalyScore {
		t.Errorf("Expected stored score %.6f, got %.6f", scored.Results[0].AnomalyScore, got.AnomalyScore)
	}

	status, _ = doRequest(t, http.MethodGet, config.BaseURL+"/results/"+uniqueID("missing"), nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", status)
	}
}

func TestAnomalies_Listed(t *testing.T) {
	config := getTestConfig()

	status, body := doRequest(t, http.MethodGet, config.BaseURL+"/anomalies?limit=10", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, string(body))
	}

	var resp struct {
		Anomalies []Result `json:"anomalies"`
		Count     int      `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal anomalies: %v", err)
	}
	if resp.Count != len(resp.Anomalies) {
		t.Errorf("Count %d does not match %d anomalies", resp.Count, len(resp.Anomalies))
	}
	for i := 1; i < len(resp.Anomalies); i++ {
		if resp.Anomalies[i].AnomalyScore > resp.Anomalies[i-1].AnomalyScore {
			t.Errorf("Anomalies not ordered by score at %d", i)
		}
	}

	status, _ = doRequest(t, http.MethodGet, config.BaseURL+"/anomalies?limit=abc", nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", status)
	}
}

// ============================================================================
// SCENARIO 7: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := score(t, config, normalRecord(uniqueID("meta")))

	if result.ModelVersion == "" {
		t.Error("Missing modelVersion")
	}
	if result.Skipped == nil {
		t.Error("Expected skipped to be an empty array, not null")
	}
	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}
	for _, r := range result.Results {
		if r.AnomalyScore <= 0 || r.AnomalyScore > 1 {
			t.Errorf("Score out of range: %.4f (expected (0, 1])", r.AnomalyScore)
		}
		if r.ModelVersion != result.ModelVersion {
			t.Errorf("Result version %s differs from batch version %s", r.ModelVersion, result.ModelVersion)
		}
	}

	t.Logf("✓ Metadata complete: version=%s, traceId=%s, totalMs=%d",
		result.ModelVersion, result.Metadata.TraceID, result.Metadata.TotalMs)
}

// Benchmark tool for evaluating SpendGuard against a labeled dataset.
//
// Usage:
//
//	go run ./cmd/benchmark -csv test_dataset.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a generator CSV with an extra actual_anomaly column (1 normal, -1 anomaly)
//  2. Sends the rows to POST /score in batches
//  3. Compares each prediction with its label
//  4. Prints accuracy, the confusion matrix and per-class precision, recall and F1
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/generator"
)

// LabelColumn holds the ground truth in the labeled dataset.
const LabelColumn = "actual_anomaly"

// LabeledRecord is one dataset row with its ground truth.
type LabeledRecord struct {
	Record    domain.InferenceRecord
	Line      int
	Anomalous bool
}

// ScoreResponse is the subset of the /score response the benchmark reads.
type ScoreResponse struct {
	Predictions  []domain.Prediction `json:"predictions"`
	Skipped      []domain.ItemError  `json:"skipped"`
	ModelVersion string              `json:"modelVersion"`
}

// Metrics tracks benchmark results. Positive means anomalous.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalSkipped   int64
	TotalErrors    int64

	ProcessingTimeMs int64
	Batches          int64
}

// outcome is the prediction for one row, kept for the optional results file.
type outcome struct {
	rec       LabeledRecord
	predicted bool
	scored    bool
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "SpendGuard base URL")
	tz := flag.String("tz", "America/Chicago", "IANA zone the DateTime column is written in")
	batchSize := flag.Int("batch", 500, "Records per /score request")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	limit := flag.Int("limit", 0, "Maximum rows to evaluate (0 = all)")
	out := flag.String("out", "", "Optional CSV file to write predictions to")
	verbose := flag.Bool("verbose", false, "Print each misclassified row")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/test_dataset.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Printf("ERROR: invalid timezone %q: %v\n", *tz, err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            SPENDGUARD BENCHMARK - Labeled Dataset             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Timezone:    %s\n", loc)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkReady(*baseURL); err != nil {
		fmt.Printf("ERROR: SpendGuard not ready at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure a model is trained and the server is running:")
		fmt.Println("  go run ./cmd/spendguard serve")
		os.Exit(1)
	}
	fmt.Println("✓ SpendGuard is ready")

	records, err := readLabeledCSV(*csvPath, loc, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}

	anomalies := 0
	for _, r := range records {
		if r.Anomalous {
			anomalies++
		}
	}
	fmt.Printf("✓ Loaded %d labeled rows\n", len(records))
	if len(records) > 0 {
		fmt.Printf("  - Anomalous: %d (%.2f%%)\n", anomalies, 100*float64(anomalies)/float64(len(records)))
		fmt.Printf("  - Normal:    %d (%.2f%%)\n", len(records)-anomalies, 100*float64(len(records)-anomalies)/float64(len(records)))
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics, outcomes := runBenchmark(records, *baseURL, *batchSize, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *out != "" {
		if err := writeOutcomes(*out, outcomes); err != nil {
			fmt.Printf("ERROR: Failed to write results: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Results saved to %s\n", *out)
	}
}

func checkReady(baseURL string) error {
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

// parseLabel accepts the 1/-1 convention and 0/1 booleans.
func parseLabel(raw string) (anomalous bool, err error) {
	switch strings.TrimSpace(raw) {
	case "-1", "true", "True":
		return true, nil
	case "1", "0", "false", "False":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s value %q", LabelColumn, raw)
	}
}

func readLabeledCSV(path string, loc *time.Location, limit int) ([]LabeledRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, rowErrs, err := generator.ReadCSV(file, loc)
	if err != nil {
		return nil, err
	}
	for _, re := range rowErrs {
		fmt.Printf("  skipping line %d: %v\n", re.Line, re.Err)
	}

	records := make([]LabeledRecord, 0, len(rows))
	for _, row := range rows {
		raw, ok := row.Fields[LabelColumn]
		if !ok {
			return nil, fmt.Errorf("%w: %s", generator.ErrMissingColumn, LabelColumn)
		}
		anomalous, err := parseLabel(raw)
		if err != nil {
			fmt.Printf("  skipping line %d: %v\n", row.Line, err)
			continue
		}

		tx := row.Transaction
		ts, _ := json.Marshal(tx.Timestamp.Format(time.RFC3339))
		records = append(records, LabeledRecord{
			Line:      row.Line,
			Anomalous: anomalous,
			Record: domain.InferenceRecord{
				ID:                       tx.ID,
				Amount:                   tx.Amount,
				Timestamp:                ts,
				Category:                 tx.Category,
				Vendor:                   tx.Vendor,
				DistanceFromPrevious:     tx.DistanceFromLast,
				TimeSinceLastTransaction: tx.TimeSinceLast,
			},
		})

		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func runBenchmark(records []LabeledRecord, baseURL string, batchSize, numWorkers int, verbose bool) (*Metrics, []outcome) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	metrics := &Metrics{}
	outcomes := make([]outcome, len(records))
	for i := range records {
		outcomes[i].rec = records[i]
	}

	type chunk struct{ lo, hi int }
	work := make(chan chunk, numWorkers)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for c := range work {
				batch := make([]domain.InferenceRecord, 0, c.hi-c.lo)
				for i := c.lo; i < c.hi; i++ {
					batch = append(batch, records[i].Record)
				}

				start := time.Now()
				resp, err := scoreBatch(client, baseURL, batch)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.Batches, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, int64(c.hi-c.lo))
					fmt.Printf("ERROR: batch %d-%d -> %v\n", c.lo, c.hi, err)
					continue
				}

				predicted := make(map[string]bool, len(resp.Predictions))
				for _, p := range resp.Predictions {
					predicted[p.ID] = p.IsFraudulent
				}
				atomic.AddInt64(&metrics.TotalSkipped, int64(len(resp.Skipped)))

				for i := c.lo; i < c.hi; i++ {
					p, ok := predicted[records[i].Record.ID]
					if !ok {
						continue
					}
					outcomes[i].predicted = p
					outcomes[i].scored = true
					metrics.record(p, records[i].Anomalous)

					if verbose && p != records[i].Anomalous {
						r := records[i].Record
						fmt.Printf("✗ line %-6d | %-10s | $%10.2f | actual: %-5v | predicted: %v\n",
							records[i].Line, r.Category, r.Amount, records[i].Anomalous, p)
					}
				}
			}
		}()
	}

	for lo := 0; lo < len(records); lo += batchSize {
		work <- chunk{lo, min(lo+batchSize, len(records))}
	}
	close(work)
	wg.Wait()

	return metrics, outcomes
}

func (m *Metrics) record(predicted, actual bool) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func scoreBatch(client *http.Client, baseURL string, batch []domain.InferenceRecord) (*ScoreResponse, error) {
	body, err := json.Marshal(domain.Batch{Transactions: batch})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// classReport holds precision, recall and F1 for one class.
type classReport struct {
	Precision, Recall, F1 float64
	Support               int64
}

func report(tp, fp, fn int64) classReport {
	r := classReport{Support: tp + fn}
	if tp+fp > 0 {
		r.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		r.Recall = float64(tp) / float64(tp+fn)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r
}

// Accuracy is the share of correct predictions.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Scored:    %d\n", m.TotalProcessed)
	fmt.Printf("   Skipped:   %d\n", m.TotalSkipped)
	fmt.Printf("   Errors:    %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                           Predicted")
	fmt.Println("                    Anomaly      Normal")
	fmt.Println("              ┌────────────┬────────────┐")
	fmt.Printf("   Actual  A  │ %10d │ %10d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├────────────┼────────────┤")
	fmt.Printf("           N  │ %10d │ %10d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └────────────┴────────────┘")

	anomaly := report(m.TruePositives, m.FalsePositives, m.FalseNegatives)
	normal := report(m.TrueNegatives, m.FalseNegatives, m.FalsePositives)

	fmt.Printf("\n🎯 CLASSIFICATION REPORT\n")
	fmt.Printf("   %-10s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	fmt.Printf("   %-10s %10.4f %10.4f %10.4f %10d\n", "anomaly", anomaly.Precision, anomaly.Recall, anomaly.F1, anomaly.Support)
	fmt.Printf("   %-10s %10.4f %10.4f %10.4f %10d\n", "normal", normal.Precision, normal.Recall, normal.F1, normal.Support)
	fmt.Printf("\n   Accuracy:  %.4f\n", m.Accuracy())

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Batches > 0 {
		fmt.Printf("   Avg Batch Time:   %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.Batches))
	}
	if m.TotalProcessed > 0 && duration > 0 {
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}

func label(anomalous bool) string {
	if anomalous {
		return "-1"
	}
	return "1"
}

func writeOutcomes(path string, outcomes []outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"line", "id", "amount", "category", LabelColumn, "predicted_anomaly"}); err != nil {
		return err
	}
	for _, o := range outcomes {
		pred := ""
		if o.scored {
			pred = label(o.predicted)
		}
		r := o.rec.Record
		if err := w.Write([]string{
			strconv.Itoa(o.rec.Line),
			r.ID,
			strconv.FormatFloat(r.Amount, 'f', 2, 64),
			r.Category,
			label(o.rec.Anomalous),
			pred,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

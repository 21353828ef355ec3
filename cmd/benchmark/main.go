// Benchmark tool for replaying historical loans against CreditTwin.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/export.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a corpus written by GET /data/export or "twinctl export"
//  2. Sends each loan's application fields to CreditTwin for evaluation
//  3. Compares the verdict with what actually happened to the loan
//  4. Calculates precision, recall, F1-score, and confusion matrix
//
// Replay a corpus the server has not ingested; replaying its own corpus
// finds every loan as its own nearest twin.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/ingest"
)

// Metrics tracks benchmark results. A loan is "risky" when it defaulted or
// paid late; a verdict is "risky" when it does not approve.
type Metrics struct {
	TruePositives  int64 // Risky loan, not approved
	FalsePositives int64 // Repaid loan, not approved
	TrueNegatives  int64 // Repaid loan, approved
	FalseNegatives int64 // Risky loan approved (missed risk!)

	TotalProcessed int64
	TotalRisky     int64
	TotalRepaid    int64
	TotalErrors    int64
	Anomalies      int64
	FraudFlags     int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to an exported corpus CSV")
	baseURL := flag.String("url", "http://localhost:8080", "CreditTwin base URL")
	limit := flag.Int("limit", 5000, "Maximum loans to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each loan result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/export.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          CREDITTWIN BENCHMARK - Historical Replay             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:        %s\n", *csvPath)
	fmt.Printf("CreditTwin URL:  %s\n", *baseURL)
	fmt.Printf("Workers:         %d\n", *workers)
	fmt.Printf("Limit:           %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: CreditTwin not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure CreditTwin is running:")
		fmt.Println("  go run ./cmd/credittwin")
		os.Exit(1)
	}
	fmt.Println("✓ CreditTwin is healthy")

	fmt.Printf("\nReading corpus from %s...\n", *csvPath)
	cases, err := readCases(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(cases) == 0 {
		fmt.Println("ERROR: no labelled loans in file")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d labelled loans\n", len(cases))

	risky := 0
	for _, c := range cases {
		if isRisky(c.Outcome) {
			risky++
		}
	}
	fmt.Printf("  - Risky:  %d (%.2f%%)\n", risky, 100*float64(risky)/float64(len(cases)))
	fmt.Printf("  - Repaid: %d (%.2f%%)\n", len(cases)-risky, 100*float64(len(cases)-risky)/float64(len(cases)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readCases keeps loans with a repayment label.
func readCases(path string, limit int) ([]*domain.HistoricalCase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	loaded, err := ingest.LoadExport(file)
	if err != nil {
		return nil, err
	}

	var cases []*domain.HistoricalCase
	for _, c := range loaded.Cases {
		switch c.Outcome {
		case domain.OutcomeSuccess, domain.OutcomeDefault, domain.OutcomeLatePayments:
		default:
			continue
		}
		if len(c.Validate()) > 0 {
			continue
		}
		cases = append(cases, c)
		if limit > 0 && len(cases) >= limit {
			break
		}
	}
	return cases, nil
}

func isRisky(o domain.Outcome) bool {
	return o == domain.OutcomeDefault || o == domain.OutcomeLatePayments
}

func runBenchmark(cases []*domain.HistoricalCase, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan *domain.HistoricalCase, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for c := range work {
				start := time.Now()
				d, err := evaluateCase(client, baseURL, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.ApplicationID, err)
					}
					continue
				}

				actual := isRisky(c.Outcome)
				if actual {
					atomic.AddInt64(&metrics.TotalRisky, 1)
				} else {
					atomic.AddInt64(&metrics.TotalRepaid, 1)
				}
				if d.Verdict == domain.VerdictAnomalyDetected {
					atomic.AddInt64(&metrics.Anomalies, 1)
				}
				if d.IsFraudSuspect {
					atomic.AddInt64(&metrics.FraudFlags, 1)
				}

				predicted := !d.Verdict.IsApproval()
				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-22s | Amount: $%10.2f | FICO: %3.0f | Outcome: %-13s | Verdict: %-24s (%.2f)\n",
						status,
						c.ApplicationID,
						domain.Value(c.RequestedAmount),
						domain.Value(c.FICO),
						c.Outcome,
						d.Verdict,
						d.Confidence,
					)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateCase(client *http.Client, baseURL string, c *domain.HistoricalCase) (*domain.Decision, error) {
	app := c.ApplicationRecord
	// Keep the replayed loan out of its own applicant history
	app.ApplicantID = ""

	body, err := json.Marshal(app)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var d domain.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Risky Loans:      %d\n", m.TotalRisky)
	fmt.Printf("   Repaid Loans:     %d\n", m.TotalRepaid)
	fmt.Printf("   Anomalies:        %d\n", m.Anomalies)
	fmt.Printf("   Fraud Suspects:   %d\n", m.FraudFlags)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  NOT APPROVED  APPROVED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  R  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           OK │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 AGREEMENT METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of non-approvals, how many loans went bad)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of bad loans, how many were not approved)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (verdict agrees with outcome)\n", accuracy)

	fmt.Printf("\n🔍 RISK ANALYSIS\n")
	if m.TotalRisky > 0 {
		caught := float64(m.TruePositives) / float64(m.TotalRisky) * 100
		missed := float64(m.FalseNegatives) / float64(m.TotalRisky) * 100
		fmt.Printf("   Risk Caught:       %d / %d (%.2f%%)\n", m.TruePositives, m.TotalRisky, caught)
		fmt.Printf("   Risk Approved:     %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalRisky, missed)
	}
	if m.TotalRepaid > 0 {
		declined := float64(m.FalsePositives) / float64(m.TotalRepaid) * 100
		fmt.Printf("   Good Declined:     %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalRepaid, declined)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f evals/sec\n", tps)
	}

	fmt.Println()
}

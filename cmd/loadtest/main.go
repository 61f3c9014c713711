package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQuestions = []string{
	"how do I reset the lab switch",
	"what is the vlan layout",
	"which ports does the management network use",
	"how are backups scheduled",
	"where are the firmware images stored",
	"what is the patching procedure",
	"how do I rotate service credentials",
	"what does the incident checklist say",
	"which hosts run the monitoring stack",
	"how is the air gap transfer station used",
}

type recorder struct {
	total     atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newRecorder() *recorder {
	return &recorder{
		latencies: make([]time.Duration, 0, 1<<16),
		codes:     make(map[int]int64),
	}
}

func (r *recorder) record(d time.Duration, status int, cacheHit bool, err error) {
	r.total.Add(1)
	if err != nil || status < 200 || status >= 300 {
		r.failed.Add(1)
	}
	if cacheHit {
		r.cacheHits.Add(1)
	}
	if err != nil {
		return
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.codes[status]++
	r.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the service")
	endpoint := flag.String("endpoint", "search", "endpoint to exercise: search or ask")
	concurrency := flag.Int("concurrency", 8, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	topK := flag.Int("k", 4, "top_k sent with every request")
	questionsFile := flag.String("questions", "", "file with one question per line")
	flag.Parse()

	if *endpoint != "search" && *endpoint != "ask" {
		fmt.Fprintf(os.Stderr, "unknown endpoint %q\n", *endpoint)
		os.Exit(2)
	}
	questions := defaultQuestions
	if *questionsFile != "" {
		var err error
		if questions, err = readQuestions(*questionsFile); err != nil {
			fmt.Fprintf(os.Stderr, "reading questions: %v\n", err)
			os.Exit(1)
		}
	}

	target := strings.TrimRight(*baseURL, "/") + "/" + *endpoint
	fmt.Println("=== AirGap Lab AI Load Test ===")
	fmt.Printf("Target:      %s\n", target)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Questions:   %d unique\n\n", len(questions))

	rec := run(target, questions, *topK, *concurrency, *duration)
	if !report(rec, *duration) {
		os.Exit(1)
	}
}

func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" {
			out = append(out, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no questions", path)
	}
	return out, nil
}

func run(target string, questions []string, topK, concurrency int, d time.Duration) *recorder {
	rec := newRecorder()
	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				body, _ := json.Marshal(map[string]any{
					"question": questions[i%len(questions)],
					"top_k":    topK,
				})
				start := time.Now()
				status, hit, err := post(ctx, client, target, body)
				if ctx.Err() != nil {
					return nil
				}
				rec.record(time.Since(start), status, hit, err)
			}
			return nil
		})
	}
	g.Wait()
	return rec
}

func post(ctx context.Context, client *http.Client, target string, body []byte) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, resp.Header.Get("X-Cache") == "HIT", nil
}

// report prints the summary and reports whether any request completed.
func report(rec *recorder, d time.Duration) bool {
	total := rec.total.Load()
	failed := rec.failed.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Failed:          %d\n", failed)
	fmt.Printf("Cache Hits:      %d\n", rec.cacheHits.Load())
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/d.Seconds())
	}

	rec.mu.Lock()
	latencies := append([]time.Duration(nil), rec.latencies...)
	codes := make(map[int]int64, len(rec.codes))
	for k, v := range rec.codes {
		codes[k] = v
	}
	rec.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sq += diff * diff
		}

		fmt.Println("\n=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Printf("P%-2.0f:    %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Println("\n=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	for _, code := range keys {
		fmt.Printf("  %d: %d\n", code, codes[code])
	}

	if total == 0 {
		fmt.Println("\nWARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

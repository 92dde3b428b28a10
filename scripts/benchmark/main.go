// Benchmark driver for the task API: submits a fixed set of representative
// tasks, repeats each run, and reports duration / step-count / status averages
// as a table and a JSON file.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "Browser Brain API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per task for averaging")
	fast   = flag.Bool("accelerated", false, "Use accelerated session timing")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Benchmark tasks covering navigation, extraction, and multi-step flows.
var testTasks = []struct {
	Label string
	Task  string
}{
	{"Static", "Open https://example.com and report the page heading."},
	{"Docs", "Open https://go.dev/doc/effective_go and name the first three section headings."},
	{"Search", "On https://pkg.go.dev search for 'rod' and report the top result's import path."},
	{"Extract", "Open https://go.dev/blog and list the titles of the two most recent posts."},
}

// --- Request / Response types (mirrors models package) ---

type taskRequest struct {
	Task        string `json:"task"`
	Timeout     int    `json:"timeout"`
	Accelerated bool   `json:"accelerated,omitempty"`
}

type taskResponse struct {
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	RawOutput  string          `json:"raw_output"`
	Steps      int             `json:"steps"`
	DurationMs int64           `json:"duration_ms"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Benchmark result types ---

type runResult struct {
	Run        int    `json:"run"`
	DurationMs int64  `json:"duration_ms"`
	Steps      int    `json:"steps"`
	Status     string `json:"status"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type taskAverages struct {
	DurationMs  float64 `json:"duration_ms"`
	Steps       float64 `json:"steps"`
	SuccessRate float64 `json:"success_rate"`
}

type taskResult struct {
	Task     string        `json:"task"`
	Label    string        `json:"label"`
	Runs     []runResult   `json:"runs"`
	Averages *taskAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp   string       `json:"timestamp"`
	APIURL      string       `json:"api_url"`
	RunsPerTask int          `json:"runs_per_task"`
	Accelerated bool         `json:"accelerated"`
	Results     []taskResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== Browser Brain Benchmark Suite ===")
	fmt.Printf("API URL:    %s\n", *apiURL)
	fmt.Printf("Runs/task:  %d\n", *runs)
	fmt.Printf("Accelerated: %v\n", *fast)
	fmt.Printf("Output:     %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure the service is running (e.g. make run)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		RunsPerTask: *runs,
		Accelerated: *fast,
	}

	for _, t := range testTasks {
		fmt.Printf("Benchmarking [%s] %s\n", t.Label, t.Task)
		tr := taskResult{Task: t.Task, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkTask(t.Task, i)
			if rr.Success {
				fmt.Printf("OK  %dms  %d steps\n", rr.DurationMs, rr.Steps)
			} else {
				fmt.Printf("FAILED (%s): %s\n", rr.Status, rr.Error)
			}
			tr.Runs = append(tr.Runs, rr)
		}

		tr.Averages = computeAverages(tr.Runs)
		report.Results = append(report.Results, tr)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkTask(task string, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(taskRequest{
		Task:        task,
		Timeout:     180,
		Accelerated: *fast,
	})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/tasks", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	client := &http.Client{Timeout: 300 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("HTTP error: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var tr taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Status = tr.Status
	rr.Steps = tr.Steps
	rr.DurationMs = tr.DurationMs
	if rr.DurationMs == 0 {
		rr.DurationMs = time.Since(start).Milliseconds()
	}
	rr.Success = tr.Status == "success"
	if tr.Error != nil {
		rr.Error = fmt.Sprintf("[%s] %s", tr.Error.Code, tr.Error.Message)
	}
	return rr
}

func computeAverages(runs []runResult) *taskAverages {
	if len(runs) == 0 {
		return nil
	}
	avg := &taskAverages{}
	succeeded := 0
	for _, r := range runs {
		avg.DurationMs += float64(r.DurationMs)
		avg.Steps += float64(r.Steps)
		if r.Success {
			succeeded++
		}
	}
	n := float64(len(runs))
	avg.DurationMs /= n
	avg.Steps /= n
	avg.SuccessRate = float64(succeeded) / n * 100
	return avg
}

func printTable(results []taskResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tAVG MS\tAVG STEPS\tSUCCESS")
	for _, r := range results {
		if r.Averages == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%.0f\t%.1f\t%.0f%%\n",
			r.Label, r.Averages.DurationMs, r.Averages.Steps, r.Averages.SuccessRate)
	}
	w.Flush()
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

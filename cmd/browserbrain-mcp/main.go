package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// taskResult mirrors the Browser Brain API task result model.
type taskResult struct {
	TaskIndex   int             `json:"task_index"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	RawOutput   string          `json:"raw_output"`
	Steps       int             `json:"steps"`
	VisitedURLs []string        `json:"visited_urls"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	DurationMs int64 `json:"duration_ms"`
}

// chainResponse mirrors the Browser Brain chain API response.
type chainResponse struct {
	Results   []taskResult `json:"results"`
	Attempted int          `json:"attempted"`
	Requested int          `json:"requested"`
}

// parallelJob mirrors the Browser Brain parallel job creation response.
type parallelJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// parallelStatus mirrors the Browser Brain parallel status API response.
type parallelStatus struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Results   []taskResult `json:"results"`
}

// linksResponse mirrors the Browser Brain link check API response.
type linksResponse struct {
	Results []struct {
		URL        string `json:"url"`
		OK         bool   `json:"ok"`
		StatusCode int    `json:"status_code"`
		FinalURL   string `json:"final_url"`
		Error      string `json:"error"`
	} `json:"results"`
}

func main() {
	apiURL := os.Getenv("BRAIN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("BRAIN_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "BRAIN_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"browser-brain",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	runTaskTool := mcp.NewTool("run_task",
		mcp.WithDescription("Run a natural-language task against a fresh isolated browser session and return the agent's answer. The browser is launched with anti-fingerprint defenses and destroyed after the task."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("The natural-language task to perform, e.g. 'Find the cheapest direct flight from Berlin to Lisbon on example.com'"),
		),
		mcp.WithString("output_schema",
			mcp.Description("Optional JSON schema string describing the desired structured output"),
		),
		mcp.WithNumber("max_steps",
			mcp.Description("Maximum agent steps before giving up (default: 20, max: 100)"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Task timeout in seconds (default: 180, max: 600)"),
		),
		mcp.WithBoolean("accelerated",
			mcp.Description("Use accelerated timing (shorter page-settle waits); faster but riskier on slow sites"),
		),
	)
	s.AddTool(runTaskTool, handleRunTask(apiURL, apiKey))

	runChainTool := mcp.NewTool("run_chain",
		mcp.WithDescription("Run a sequence of tasks in one shared browser session, carrying answers forward as context. Stops at the first task that does not succeed."),
		mcp.WithArray("tasks",
			mcp.Required(),
			mcp.Description("Ordered list of natural-language task strings"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Per-task timeout in seconds (default: 180, max: 600)"),
		),
		mcp.WithBoolean("accelerated",
			mcp.Description("Use accelerated timing for the shared session"),
		),
	)
	s.AddTool(runChainTool, handleRunChain(apiURL, apiKey))

	runParallelTool := mcp.NewTool("run_parallel",
		mcp.WithDescription("Run multiple independent tasks concurrently, each in its own isolated browser session. Returns results in task order once all slots finish."),
		mcp.WithArray("tasks",
			mcp.Required(),
			mcp.Description("List of natural-language task strings, one per browser"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Per-task timeout in seconds (default: 180, max: 600)"),
		),
		mcp.WithBoolean("accelerated",
			mcp.Description("Use accelerated timing for all sessions"),
		),
	)
	s.AddTool(runParallelTool, handleRunParallel(apiURL, apiKey))

	checkLinksTool := mcp.NewTool("check_links",
		mcp.WithDescription("Check a list of URLs for reachability using a browser-like TLS fingerprint. Returns status per URL without rendering pages."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to check (max 50)"),
		),
	)
	s.AddTool(checkLinksTool, handleCheckLinks(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the Browser Brain API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			req.Header.Set("X-API-Key", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

// formatTaskResult renders a single task result as readable text.
func formatTaskResult(sb *strings.Builder, r *taskResult) {
	sb.WriteString(fmt.Sprintf("Status: %s (%d steps, %dms)\n", r.Status, r.Steps, r.DurationMs))
	if r.Error != nil {
		sb.WriteString(fmt.Sprintf("Error: [%s] %s\n", r.Error.Code, r.Error.Message))
	}
	if len(r.Payload) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, r.Payload, "", "  "); err != nil {
			pretty.Write(r.Payload)
		}
		sb.WriteString("Answer:\n" + pretty.String() + "\n")
	} else if r.RawOutput != "" {
		sb.WriteString("Answer:\n" + r.RawOutput + "\n")
	}
	if len(r.VisitedURLs) > 0 {
		sb.WriteString("Visited: " + strings.Join(r.VisitedURLs, ", ") + "\n")
	}
}

func handleRunTask(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 620 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := request.RequireString("task")
		if err != nil {
			return mcp.NewToolResultError("task is required"), nil
		}

		payload := map[string]interface{}{
			"task": task,
		}
		if schemaStr := request.GetString("output_schema", ""); schemaStr != "" {
			var schemaJSON json.RawMessage
			if err := json.Unmarshal([]byte(schemaStr), &schemaJSON); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("output_schema must be valid JSON: %v", err)), nil
			}
			payload["output_schema"] = schemaJSON
		}
		args := request.GetArguments()
		if maxSteps, ok := args["max_steps"]; ok {
			payload["max_steps"] = maxSteps
		}
		if timeout, ok := args["timeout"]; ok {
			payload["timeout"] = timeout
		}
		if accelerated, ok := args["accelerated"]; ok {
			payload["accelerated"] = accelerated
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/tasks", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("task request failed: %v", err)), nil
		}

		var result taskResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse task response: %v", err)), nil
		}

		var sb strings.Builder
		formatTaskResult(&sb, &result)
		if result.Status != "success" {
			return mcp.NewToolResultError(sb.String()), nil
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleRunChain(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 620 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := request.RequireStringSlice("tasks")
		if err != nil {
			return mcp.NewToolResultError("tasks is required and must be an array of strings"), nil
		}

		payload := buildTaskListPayload(request, tasks)

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/chains", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("chain request failed: %v", err)), nil
		}

		var chainResp chainResponse
		if err := json.Unmarshal(respBody, &chainResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse chain response: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Chain: %d/%d tasks attempted\n\n", chainResp.Attempted, chainResp.Requested))
		for i := range chainResp.Results {
			sb.WriteString(fmt.Sprintf("--- Task %d ---\n", i+1))
			formatTaskResult(&sb, &chainResp.Results[i])
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleRunParallel(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 620 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := request.RequireStringSlice("tasks")
		if err != nil {
			return mcp.NewToolResultError("tasks is required and must be an array of strings"), nil
		}

		payload := buildTaskListPayload(request, tasks)

		// POST to create the parallel job.
		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/parallel", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parallel request failed: %v", err)), nil
		}

		var job parallelJob
		if err := json.Unmarshal(respBody, &job); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse parallel response: %v", err)), nil
		}
		if job.ID == "" {
			return mcp.NewToolResultError("parallel job creation failed"), nil
		}

		// Poll for completion.
		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/parallel/"+job.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling parallel job failed: %v", err)), nil
		}

		var statusResp parallelStatus
		if err := json.Unmarshal(resultBody, &statusResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse parallel status: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Parallel %s: %s (%d/%d completed)\n\n", statusResp.ID, statusResp.Status, statusResp.Completed, statusResp.Total))
		for i := range statusResp.Results {
			sb.WriteString(fmt.Sprintf("--- Slot %d ---\n", i+1))
			formatTaskResult(&sb, &statusResp.Results[i])
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

// buildTaskListPayload assembles the shared request body for the chain and
// parallel endpoints: one TaskRequest per task string plus session options.
func buildTaskListPayload(request mcp.CallToolRequest, tasks []string) map[string]interface{} {
	taskReqs := make([]map[string]interface{}, len(tasks))
	args := request.GetArguments()
	for i, t := range tasks {
		tr := map[string]interface{}{"task": t}
		if timeout, ok := args["timeout"]; ok {
			tr["timeout"] = timeout
		}
		taskReqs[i] = tr
	}

	payload := map[string]interface{}{"tasks": taskReqs}
	if accelerated, ok := args["accelerated"]; ok {
		payload["accelerated"] = accelerated
	}
	return payload
}

func handleCheckLinks(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/links/check", map[string]interface{}{"urls": urls})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("link check request failed: %v", err)), nil
		}

		var linksResp linksResponse
		if err := json.Unmarshal(respBody, &linksResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse link check response: %v", err)), nil
		}

		var sb strings.Builder
		for _, r := range linksResp.Results {
			if r.OK {
				sb.WriteString(fmt.Sprintf("OK   %d  %s\n", r.StatusCode, r.URL))
			} else if r.Error != "" {
				sb.WriteString(fmt.Sprintf("FAIL      %s (%s)\n", r.URL, r.Error))
			} else {
				sb.WriteString(fmt.Sprintf("FAIL %d  %s\n", r.StatusCode, r.URL))
			}
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

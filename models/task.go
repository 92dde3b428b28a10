package models

import "encoding/json"

// Status is the terminal outcome class of one executed task.
type Status string

const (
	// StatusSuccess: the agent finished and reported the task achieved.
	StatusSuccess Status = "success"

	// StatusError: the agent finished without achieving the task, or the
	// reasoning backend returned an error.
	StatusError Status = "error"

	// StatusException: the task never ran to completion — timeout expiry,
	// a panic, or a session/setup failure.
	StatusException Status = "exception"
)

// TaskRequest is one unit of work submitted against a session.
// It is immutable once submitted; runners never modify it.
type TaskRequest struct {
	// Task is the natural-language task description. Required.
	Task string `json:"task" binding:"required"`

	// OutputSchema optionally describes the structured output the agent
	// should produce. It is passed to the agent verbatim; the executor does
	// not enforce it (see TaskResult.Payload / RawOutput).
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	// MaxSteps is the agent step budget. Default: 20.
	MaxSteps int `json:"max_steps,omitempty" binding:"omitempty,min=1,max=100"`

	// Timeout is the wall-clock limit in seconds for the whole task.
	// Default: 180. Max: 600.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=600"`

	// UseVision lets the agent send page screenshots to the reasoning
	// backend in addition to the text snapshot. Default: false.
	UseVision bool `json:"use_vision,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *TaskRequest) Defaults() {
	if r.MaxSteps == 0 {
		r.MaxSteps = 20
	}
	if r.Timeout == 0 {
		r.Timeout = 180
	}
}

// TaskResult is the immutable outcome of exactly one executor invocation.
type TaskResult struct {
	// TaskIndex is the position of the originating request within a chain
	// run or a parallel batch. Zero for standalone tasks.
	TaskIndex int `json:"task_index"`

	Status Status `json:"status"`

	// Payload holds the agent's final answer when it parsed as JSON.
	// Nil when the agent produced nothing or an unstructured answer —
	// callers must tolerate its absence.
	Payload json.RawMessage `json:"payload,omitempty"`

	// RawOutput holds the final answer verbatim when it was not valid JSON.
	// It is surfaced as-is, never coerced.
	RawOutput string `json:"raw_output,omitempty"`

	// Steps is the number of steps the agent took.
	Steps int `json:"steps"`

	// VisitedURLs is the ordered trail of locations the agent visited.
	VisitedURLs []string `json:"visited_urls,omitempty"`

	// Error is populated for every non-success status.
	Error *ErrorDetail `json:"error,omitempty"`

	// DurationMs is the end-to-end execution time in milliseconds.
	DurationMs int64 `json:"duration_ms"`
}

// StepTrace is the per-step diagnostic record of a task execution.
// Entries are emitted incrementally and never mutated afterwards; they feed
// the diagnostics sink only and have no effect on control flow.
type StepTrace struct {
	Index      int    `json:"index"`
	Evaluation string `json:"evaluation,omitempty"`
	NextGoal   string `json:"next_goal,omitempty"`
	URL        string `json:"url,omitempty"`

	// Derived flags from case-insensitive keyword scans of Evaluation.
	ChallengeDetected   bool `json:"challenge_detected"`
	SecurityRestriction bool `json:"security_restriction"`
	StepFailed          bool `json:"step_failed"`
}

// Package executor runs exactly one task against exactly one session,
// bounded by a wall-clock timeout, and reports every outcome as a structured
// TaskResult — it never lets a task failure escape as a panic or error.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cshiyuan/browser-brain/agent"
	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// Executor binds the agent capability to sessions.
type Executor struct {
	capability agent.Capability
	sink       TraceSink
	maxTimeout time.Duration
}

// New creates an Executor. A nil sink falls back to SlogSink.
func New(capability agent.Capability, sink TraceSink, cfg config.ExecutorConfig) *Executor {
	if sink == nil {
		sink = SlogSink{}
	}
	maxTimeout := cfg.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = 600 * time.Second
	}
	return &Executor{capability: capability, sink: sink, maxTimeout: maxTimeout}
}

type runOutcome struct {
	hist *agent.History
	err  error
}

// Execute runs one task on the session and always returns a TaskResult:
// success when the agent finished and achieved the task, error when it
// finished without achieving it or the backend failed, exception on timeout,
// panic, or session failure.
//
// The executor never closes the session: lifecycle belongs to the layer
// above, so a recovery retry can re-run the identical request against the
// still-open session. After a timeout the session's internal state is
// undefined and the owner should force-close it.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, req *models.TaskRequest) *models.TaskResult {
	start := time.Now()

	task := *req
	task.Defaults()
	timeout := time.Duration(task.Timeout) * time.Second
	if timeout > e.maxTimeout {
		timeout = e.maxTimeout
	}

	if err := sess.Acquire(); err != nil {
		return e.finish(sess, &models.TaskResult{
			Status:     models.StatusException,
			Error:      toDetail(err),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}
	defer sess.Release()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcomes := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomes <- runOutcome{err: models.NewAgentError(
					models.ErrCodeSlotPanic,
					fmt.Sprintf("agent run panicked: %v", r),
					nil,
				)}
			}
		}()
		hist, err := e.capability.Run(runCtx, sess, &task)
		outcomes <- runOutcome{hist: hist, err: err}
	}()

	select {
	case <-runCtx.Done():
		// Timeout or caller cancellation. The capability goroutine may still
		// be unwinding; whatever it leaves behind in the session is undefined.
		result := &models.TaskResult{
			Status: models.StatusException,
			Error: &models.ErrorDetail{
				Code:    models.ErrCodeTimeout,
				Message: fmt.Sprintf("task exceeded %s timeout", timeout),
			},
			DurationMs: time.Since(start).Milliseconds(),
		}
		return e.finish(sess, result)

	case out := <-outcomes:
		result := e.buildResult(sess, &task, out)
		result.DurationMs = time.Since(start).Milliseconds()
		e.emitTrace(sess, out.hist)
		return e.finish(sess, result)
	}
}

// buildResult converts a completed capability run into an immutable result.
func (e *Executor) buildResult(sess *session.Session, req *models.TaskRequest, out runOutcome) *models.TaskResult {
	result := &models.TaskResult{}
	if out.hist != nil {
		result.Steps = len(out.hist.Steps)
		result.VisitedURLs = out.hist.VisitedURLs
	}

	if out.err != nil {
		result.Status = models.StatusError
		if isExceptional(out.err) {
			result.Status = models.StatusException
		}
		result.Error = toDetail(out.err)
		return result
	}

	hist := out.hist
	// The final answer is surfaced as-is: valid JSON lands in Payload,
	// anything else stays raw in RawOutput, never coerced.
	answer := strings.TrimSpace(hist.FinalAnswer)
	if answer != "" {
		if json.Valid([]byte(answer)) {
			result.Payload = json.RawMessage(answer)
		} else {
			result.RawOutput = hist.FinalAnswer
		}
	}

	if hist.Achieved {
		result.Status = models.StatusSuccess
		if sess.KeepAlive() {
			sess.AppendNote(req.Task, answer)
		}
	} else {
		result.Status = models.StatusError
		result.Error = &models.ErrorDetail{
			Code:    models.ErrCodeAgentFailure,
			Message: "agent finished without achieving the task",
		}
	}
	return result
}

// emitTrace sends one record per step to the diagnostics sink, with flags
// derived from the step's evaluation text.
func (e *Executor) emitTrace(sess *session.Session, hist *agent.History) {
	if hist == nil {
		return
	}
	for i, step := range hist.Steps {
		challenge, security, failed := deriveFlags(step.Evaluation)
		e.sink.Step(sess.ID(), models.StepTrace{
			Index:               i + 1,
			Evaluation:          step.Evaluation,
			NextGoal:            step.NextGoal,
			URL:                 step.URL,
			ChallengeDetected:   challenge,
			SecurityRestriction: security,
			StepFailed:          failed,
		})
	}
}

func (e *Executor) finish(sess *session.Session, result *models.TaskResult) *models.TaskResult {
	e.sink.Summary(sess.ID(), result)
	return result
}

// isExceptional reports whether an error means the task never ran to
// completion, as opposed to the agent failing at it.
func isExceptional(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var agentErr *models.AgentError
	if errors.As(err, &agentErr) {
		switch agentErr.Code {
		case models.ErrCodeBrowserCrash, models.ErrCodeSessionBusy, models.ErrCodeSlotPanic, models.ErrCodeTimeout:
			return true
		}
	}
	return false
}

func toDetail(err error) *models.ErrorDetail {
	var agentErr *models.AgentError
	if errors.As(err, &agentErr) {
		return agentErr.ToDetail()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: err.Error()}
	}
	return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
}

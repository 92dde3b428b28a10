package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Cshiyuan/browser-brain/agent"
	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// fakeCapability is a scriptable agent backend.
type fakeCapability struct {
	hist  *agent.History
	err   error
	delay time.Duration
	panic bool
}

func (f *fakeCapability) Run(ctx context.Context, sess *session.Session, req *models.TaskRequest) (*agent.History, error) {
	if f.panic {
		panic("capability exploded")
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.hist, f.err
}

// recordingSink captures trace records for assertions.
type recordingSink struct {
	mu      sync.Mutex
	steps   []models.StepTrace
	summary *models.TaskResult
}

func (s *recordingSink) Step(sessionID string, entry models.StepTrace) {
	s.mu.Lock()
	s.steps = append(s.steps, entry)
	s.mu.Unlock()
}

func (s *recordingSink) Summary(sessionID string, result *models.TaskResult) {
	s.mu.Lock()
	s.summary = result
	s.mu.Unlock()
}

func newTestExecutor(cap agent.Capability) (*Executor, *recordingSink) {
	sink := &recordingSink{}
	return New(cap, sink, config.ExecutorConfig{MaxTimeout: 600 * time.Second}), sink
}

func newSession(t *testing.T, keepAlive bool) *session.Session {
	t.Helper()
	factory := session.NewFactory(config.BrowserConfig{})
	sess := factory.New(session.Options{Headless: true, KeepAlive: keepAlive})
	t.Cleanup(sess.Shutdown)
	return sess
}

func TestExecute_AchievedJSONAnswer(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{
		Steps:       []agent.Step{{Evaluation: "found the price table", URL: "https://example.com/prices"}},
		VisitedURLs: []string{"https://example.com/prices"},
		FinalAnswer: `{"price": 42}`,
		Achieved:    true,
	}}
	exec, _ := newTestExecutor(cap)

	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "find the price"})

	if result.Status != models.StatusSuccess {
		t.Fatalf("status = %q, want success (error: %+v)", result.Status, result.Error)
	}
	if string(result.Payload) != `{"price": 42}` {
		t.Errorf("payload = %q, want the JSON answer", result.Payload)
	}
	if result.RawOutput != "" {
		t.Errorf("valid JSON must not leak into RawOutput, got %q", result.RawOutput)
	}
	if result.Steps != 1 {
		t.Errorf("steps = %d, want 1", result.Steps)
	}
}

func TestExecute_MalformedAnswerPassesThroughRaw(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{
		FinalAnswer: "The price is 42 euros, see {broken json",
		Achieved:    true,
	}}
	exec, _ := newTestExecutor(cap)

	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "find the price"})

	if result.Status != models.StatusSuccess {
		t.Fatalf("status = %q, want success", result.Status)
	}
	if len(result.Payload) != 0 {
		t.Errorf("malformed answer must not be coerced into Payload, got %q", result.Payload)
	}
	if result.RawOutput != "The price is 42 euros, see {broken json" {
		t.Errorf("raw output altered: %q", result.RawOutput)
	}
}

func TestExecute_NotAchievedIsError(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{
		FinalAnswer: "could not find it",
		Achieved:    false,
	}}
	exec, _ := newTestExecutor(cap)

	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "find it"})

	if result.Status != models.StatusError {
		t.Fatalf("status = %q, want error", result.Status)
	}
	if result.Error == nil || result.Error.Code != models.ErrCodeAgentFailure {
		t.Errorf("error = %+v, want code %s", result.Error, models.ErrCodeAgentFailure)
	}
}

func TestExecute_TimeoutIsException(t *testing.T) {
	cap := &fakeCapability{delay: 5 * time.Second}
	exec, _ := newTestExecutor(cap)

	start := time.Now()
	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{
		Task:    "slow task",
		Timeout: 1,
	})
	elapsed := time.Since(start)

	if result.Status != models.StatusException {
		t.Fatalf("status = %q, want exception", result.Status)
	}
	if result.Error == nil || result.Error.Code != models.ErrCodeTimeout {
		t.Errorf("error = %+v, want code %s", result.Error, models.ErrCodeTimeout)
	}
	if elapsed >= 5*time.Second {
		t.Errorf("executor waited for the slow capability instead of timing out: %v", elapsed)
	}
}

func TestExecute_PanicIsException(t *testing.T) {
	cap := &fakeCapability{panic: true}
	exec, _ := newTestExecutor(cap)

	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "explode"})

	if result.Status != models.StatusException {
		t.Fatalf("status = %q, want exception", result.Status)
	}
	if result.Error == nil || result.Error.Code != models.ErrCodeSlotPanic {
		t.Errorf("error = %+v, want code %s", result.Error, models.ErrCodeSlotPanic)
	}
	if result.Error != nil && !strings.Contains(result.Error.Message, "capability exploded") {
		t.Errorf("panic value missing from message: %q", result.Error.Message)
	}
}

func TestExecute_LLMFailureIsError(t *testing.T) {
	cap := &fakeCapability{err: models.NewAgentError(models.ErrCodeLLMFailure, "backend returned 500", errors.New("500"))}
	exec, _ := newTestExecutor(cap)

	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "ask"})

	if result.Status != models.StatusError {
		t.Fatalf("LLM failure is an agent failure, not an exception; status = %q", result.Status)
	}
	if result.Error == nil || result.Error.Code != models.ErrCodeLLMFailure {
		t.Errorf("error = %+v, want code %s", result.Error, models.ErrCodeLLMFailure)
	}
}

func TestExecute_BrowserCrashIsException(t *testing.T) {
	cap := &fakeCapability{err: models.NewAgentError(models.ErrCodeBrowserCrash, "browser went away", nil)}
	exec, _ := newTestExecutor(cap)

	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "navigate"})

	if result.Status != models.StatusException {
		t.Fatalf("status = %q, want exception", result.Status)
	}
}

func TestExecute_BusySessionIsException(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{Achieved: true}}
	exec, _ := newTestExecutor(cap)
	sess := newSession(t, true)

	if err := sess.Acquire(); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	defer sess.Release()

	result := exec.Execute(context.Background(), sess, &models.TaskRequest{Task: "second task"})

	if result.Status != models.StatusException {
		t.Fatalf("status = %q, want exception", result.Status)
	}
	if result.Error == nil || result.Error.Code != models.ErrCodeSessionBusy {
		t.Errorf("error = %+v, want code %s", result.Error, models.ErrCodeSessionBusy)
	}
}

func TestExecute_LeavesSessionOpenForOwner(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{Achieved: true}}
	exec, _ := newTestExecutor(cap)
	factory := session.NewFactory(config.BrowserConfig{})
	sess := factory.New(session.Options{Headless: true, KeepAlive: false})
	t.Cleanup(sess.Shutdown)

	exec.Execute(context.Background(), sess, &models.TaskRequest{Task: "one shot"})

	// Closing is the owner's job: the session must still accept work, or a
	// recovery retry against it could never run.
	if err := sess.Acquire(); err != nil {
		t.Fatalf("session unusable after execution: %v", err)
	}
	sess.Release()
	if n := factory.Active(); n != 1 {
		t.Errorf("factory counts %d active sessions, want 1", n)
	}
}

func TestExecute_KeepAliveSessionSurvivesTask(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{FinalAnswer: "done", Achieved: true}}
	exec, _ := newTestExecutor(cap)
	sess := newSession(t, true)

	exec.Execute(context.Background(), sess, &models.TaskRequest{Task: "first task"})

	if err := sess.Acquire(); err != nil {
		t.Fatalf("keep-alive session unusable after task: %v", err)
	}
	sess.Release()

	notes := sess.Notes()
	if len(notes) != 1 {
		t.Fatalf("expected 1 note on the retained session, got %d", len(notes))
	}
	if !strings.Contains(notes[0], "first task") || !strings.Contains(notes[0], "done") {
		t.Errorf("note missing task or answer: %q", notes[0])
	}
}

func TestExecute_EmitsStepTraces(t *testing.T) {
	cap := &fakeCapability{hist: &agent.History{
		Steps: []agent.Step{
			{Evaluation: "page loaded fine", URL: "https://example.com"},
			{Evaluation: "hit a CAPTCHA wall", URL: "https://example.com/captcha"},
			{Evaluation: "security restriction banner shown", URL: "https://example.com/blocked"},
			{Evaluation: "click failed, element gone", URL: "https://example.com"},
		},
		Achieved: false,
	}}
	exec, sink := newTestExecutor(cap)

	exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{Task: "browse"})

	if len(sink.steps) != 4 {
		t.Fatalf("expected 4 step traces, got %d", len(sink.steps))
	}
	if sink.steps[0].ChallengeDetected || sink.steps[0].SecurityRestriction || sink.steps[0].StepFailed {
		t.Errorf("clean step carries flags: %+v", sink.steps[0])
	}
	if !sink.steps[1].ChallengeDetected {
		t.Error("captcha step not flagged as challenge")
	}
	if !sink.steps[2].SecurityRestriction {
		t.Error("security step not flagged as restriction")
	}
	if !sink.steps[3].StepFailed {
		t.Error("failed step not flagged")
	}
	for i, s := range sink.steps {
		if s.Index != i+1 {
			t.Errorf("step trace index = %d, want %d (1-based)", s.Index, i+1)
		}
	}
	if sink.summary == nil {
		t.Error("no summary emitted")
	}
}

func TestDeriveFlags(t *testing.T) {
	tests := []struct {
		name                         string
		eval                         string
		challenge, security, failure bool
	}{
		{"empty", "", false, false, false},
		{"captcha upper", "Blocked by CAPTCHA", true, false, false},
		{"security", "Security check appeared", false, true, false},
		{"restriction", "access restriction in place", false, true, false},
		{"failed", "the click Failed", false, false, true},
		{"failure word", "navigation failure", false, false, true},
		{"combined", "captcha caused the step to fail", true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s, f := deriveFlags(tt.eval)
			if c != tt.challenge || s != tt.security || f != tt.failure {
				t.Errorf("deriveFlags(%q) = (%v,%v,%v), want (%v,%v,%v)",
					tt.eval, c, s, f, tt.challenge, tt.security, tt.failure)
			}
		})
	}
}

func TestExecute_TimeoutClampedToMax(t *testing.T) {
	cap := &fakeCapability{delay: 3 * time.Second}
	sink := &recordingSink{}
	exec := New(cap, sink, config.ExecutorConfig{MaxTimeout: time.Second})

	start := time.Now()
	result := exec.Execute(context.Background(), newSession(t, false), &models.TaskRequest{
		Task:    "slow",
		Timeout: 500,
	})

	if result.Status != models.StatusException {
		t.Fatalf("status = %q, want exception", result.Status)
	}
	if elapsed := time.Since(start); elapsed >= 3*time.Second {
		t.Errorf("requested timeout not clamped to the configured maximum, ran %v", elapsed)
	}
}

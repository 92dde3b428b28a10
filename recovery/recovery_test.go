package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/Cshiyuan/browser-brain/agent"
	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/executor"
	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// fakeClock fires every wait immediately and records the requested slices.
type fakeClock struct {
	slices []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.slices = append(c.slices, d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// fakeExec replays canned results in order and records every call.
type fakeExec struct {
	results []*models.TaskResult
	calls   int
}

func (f *fakeExec) Execute(ctx context.Context, sess *session.Session, req *models.TaskRequest) *models.TaskResult {
	r := f.results[f.calls]
	f.calls++
	return r
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	factory := session.NewFactory(config.BrowserConfig{})
	sess := factory.New(session.Options{Headless: true})
	t.Cleanup(sess.Shutdown)
	return sess
}

func newTestRecoverer(exec TaskExecutor) (*Recoverer, *fakeClock, *[]time.Duration) {
	r := New(exec, config.RecoveryConfig{
		Keyword:        "captcha",
		Wait:           60 * time.Second,
		NotifyInterval: 10 * time.Second,
	})
	clock := &fakeClock{}
	r.Clock = clock
	var notified []time.Duration
	r.Notify = func(sessionID string, remaining time.Duration) {
		notified = append(notified, remaining)
	}
	return r, clock, &notified
}

func successResult(urls ...string) *models.TaskResult {
	return &models.TaskResult{Status: models.StatusSuccess, VisitedURLs: urls}
}

func TestExecute_NoChallengeNoRetry(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult("https://example.com/home", "https://example.com/results"),
	}}
	r, _, notified := newTestRecoverer(exec)

	result := r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "look around"})

	if exec.calls != 1 {
		t.Errorf("expected 1 execution, got %d", exec.calls)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("status = %q, want success", result.Status)
	}
	if len(*notified) != 0 {
		t.Errorf("expected no notifications, got %d", len(*notified))
	}
}

func TestExecute_ChallengeTriggersOneRetry(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult("https://example.com/captcha-check"),
		successResult("https://example.com/results"),
	}}
	r, _, _ := newTestRecoverer(exec)

	result := r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

	if exec.calls != 2 {
		t.Errorf("expected exactly 2 executions (original + one retry), got %d", exec.calls)
	}
	if len(result.VisitedURLs) != 1 || result.VisitedURLs[0] != "https://example.com/results" {
		t.Errorf("expected the retry's result to be returned, got urls %v", result.VisitedURLs)
	}
}

func TestExecute_CountdownNotifications(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult("https://example.com/CAPTCHA"),
		successResult("https://example.com/ok"),
	}}
	r, clock, notified := newTestRecoverer(exec)

	r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

	want := []time.Duration{60, 50, 40, 30, 20, 10}
	if len(*notified) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %v", len(want), len(*notified), *notified)
	}
	for i, w := range want {
		if (*notified)[i] != w*time.Second {
			t.Errorf("notification[%d] = %v, want %v", i, (*notified)[i], w*time.Second)
		}
	}
	for i, slice := range clock.slices {
		if slice != 10*time.Second {
			t.Errorf("wait slice[%d] = %v, want 10s", i, slice)
		}
	}
}

func TestExecute_ChallengeOnRetryNotRecoveredAgain(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult("https://example.com/captcha"),
		successResult("https://example.com/captcha"),
	}}
	r, _, _ := newTestRecoverer(exec)

	result := r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

	if exec.calls != 2 {
		t.Errorf("retry must happen at most once per execution, got %d calls", exec.calls)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("retry result must be returned as-is, got status %q", result.Status)
	}
}

func TestExecute_MultipleMatchingURLsStillOneRetry(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult(
			"https://example.com/captcha",
			"https://example.com/captcha-retry",
			"https://example.com/verify-captcha",
		),
		successResult("https://example.com/ok"),
	}}
	r, _, notified := newTestRecoverer(exec)

	r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

	if exec.calls != 2 {
		t.Errorf("detection fires once per execution, got %d calls", exec.calls)
	}
	if len(*notified) != 6 {
		t.Errorf("expected one countdown (6 notifications), got %d", len(*notified))
	}
}

func TestExecute_NoRetryOnFailure(t *testing.T) {
	for _, status := range []models.Status{models.StatusError, models.StatusException} {
		exec := &fakeExec{results: []*models.TaskResult{
			{Status: status, VisitedURLs: []string{"https://example.com/captcha"}},
		}}
		r, _, _ := newTestRecoverer(exec)

		result := r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

		if exec.calls != 1 {
			t.Errorf("status %q: recovery only applies to successful runs, got %d calls", status, exec.calls)
		}
		if result.Status != status {
			t.Errorf("status %q: result passed through unchanged, got %q", status, result.Status)
		}
	}
}

func TestExecute_CancelledCountdownReturnsOriginal(t *testing.T) {
	original := successResult("https://example.com/captcha")
	exec := &fakeExec{results: []*models.TaskResult{original}}
	r, _, _ := newTestRecoverer(exec)

	// A clock that never fires forces ctx cancellation to end the wait.
	r.Clock = blockedClock{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.Execute(ctx, newTestSession(t), &models.TaskRequest{Task: "search"})

	if exec.calls != 1 {
		t.Errorf("aborted countdown must not retry, got %d calls", exec.calls)
	}
	if result != original {
		t.Error("aborted countdown must hand back the original result")
	}
}

type blockedClock struct{}

func (blockedClock) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestExecute_UnevenFinalSlice(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult("https://example.com/captcha"),
		successResult("https://example.com/ok"),
	}}
	r, clock, notified := newTestRecoverer(exec)
	r.Wait = 25 * time.Second
	r.Interval = 10 * time.Second

	r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

	wantNotify := []time.Duration{25 * time.Second, 15 * time.Second, 5 * time.Second}
	if len(*notified) != len(wantNotify) {
		t.Fatalf("expected %d notifications, got %v", len(wantNotify), *notified)
	}
	for i, w := range wantNotify {
		if (*notified)[i] != w {
			t.Errorf("notification[%d] = %v, want %v", i, (*notified)[i], w)
		}
	}
	wantSlices := []time.Duration{10 * time.Second, 10 * time.Second, 5 * time.Second}
	for i, w := range wantSlices {
		if clock.slices[i] != w {
			t.Errorf("slice[%d] = %v, want %v", i, clock.slices[i], w)
		}
	}
}

// countingCapability replays canned histories and records how often the
// agent actually ran.
type countingCapability struct {
	hists []*agent.History
	runs  int
}

func (c *countingCapability) Run(ctx context.Context, sess *session.Session, req *models.TaskRequest) (*agent.History, error) {
	h := c.hists[c.runs]
	c.runs++
	return h, nil
}

func TestExecute_RetryRunsOnStillOpenSingleUseSession(t *testing.T) {
	cap := &countingCapability{hists: []*agent.History{
		{Achieved: true, VisitedURLs: []string{"https://example.com/captcha"}},
		{Achieved: true, VisitedURLs: []string{"https://example.com/results"}, FinalAnswer: `{"found": true}`},
	}}
	exec := executor.New(cap, nil, config.ExecutorConfig{})
	factory := session.NewFactory(config.BrowserConfig{})
	sess := factory.New(session.Options{Headless: true, KeepAlive: false})
	t.Cleanup(sess.Shutdown)
	r, _, _ := newTestRecoverer(exec)

	result := r.Execute(context.Background(), sess, &models.TaskRequest{Task: "search"})

	// The session a human clears the challenge in must stay open across the
	// countdown, so the retry re-runs the agent instead of hitting a closed
	// session.
	if cap.runs != 2 {
		t.Fatalf("agent ran %d times, want 2 (original + retry on the same session)", cap.runs)
	}
	if result.Status != models.StatusSuccess {
		t.Fatalf("retry status = %q, want success (error: %+v)", result.Status, result.Error)
	}
	if len(result.VisitedURLs) != 1 || result.VisitedURLs[0] != "https://example.com/results" {
		t.Errorf("expected the retry's result, got urls %v", result.VisitedURLs)
	}

	// Once recovery is over, the single-use session is gone.
	if err := sess.Acquire(); err == nil {
		t.Error("single-use session must be destroyed after recovery completes")
		sess.Release()
	}
	if n := factory.Active(); n != 0 {
		t.Errorf("factory still counts %d active sessions", n)
	}
}

func TestExecute_KeepAliveSessionSurvivesRecovery(t *testing.T) {
	cap := &countingCapability{hists: []*agent.History{
		{Achieved: true, VisitedURLs: []string{"https://example.com/captcha"}},
		{Achieved: true, VisitedURLs: []string{"https://example.com/ok"}},
	}}
	exec := executor.New(cap, nil, config.ExecutorConfig{})
	factory := session.NewFactory(config.BrowserConfig{})
	sess := factory.New(session.Options{Headless: true, KeepAlive: true})
	t.Cleanup(sess.Shutdown)
	r, _, _ := newTestRecoverer(exec)

	r.Execute(context.Background(), sess, &models.TaskRequest{Task: "search"})

	if err := sess.Acquire(); err != nil {
		t.Fatalf("keep-alive session unusable after recovery: %v", err)
	}
	sess.Release()
}

func TestKeywordPredicate(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"exact", "https://example.com/captcha", true},
		{"mixed case", "https://example.com/CaPtChA/verify", true},
		{"substring of path", "https://example.com/geetest-captcha-v4", true},
		{"absent", "https://example.com/results?page=2", false},
		{"empty url", "", false},
	}

	detect := KeywordPredicate("captcha")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detect(tt.url); got != tt.want {
				t.Errorf("detect(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestCustomPredicate(t *testing.T) {
	exec := &fakeExec{results: []*models.TaskResult{
		successResult("https://example.com/security/interstitial"),
		successResult("https://example.com/ok"),
	}}
	r, _, _ := newTestRecoverer(exec)
	r.Detect = func(url string) bool {
		return url == "https://example.com/security/interstitial"
	}

	r.Execute(context.Background(), newTestSession(t), &models.TaskRequest{Task: "search"})

	if exec.calls != 2 {
		t.Errorf("custom predicate did not trigger recovery, got %d calls", exec.calls)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNormal, "NORMAL"},
		{StateChallengeDetected, "CHALLENGE_DETECTED"},
		{StateWaiting, "WAITING"},
		{StateRetrying, "RETRYING"},
		{StateDone, "DONE"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(&fakeExec{}, config.RecoveryConfig{})

	if r.Wait != 60*time.Second {
		t.Errorf("default wait = %v, want 60s", r.Wait)
	}
	if r.Interval != 10*time.Second {
		t.Errorf("default interval = %v, want 10s", r.Interval)
	}
	if !r.Detect("https://example.com/captcha") {
		t.Error("default predicate should match 'captcha'")
	}
}

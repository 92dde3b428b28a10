package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/Cshiyuan/browser-brain/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Session is one isolated browsing context: its own browser process, cookies
// and storage. It is exclusively owned by whoever created it and executes at
// most one task at a time.
//
// The underlying browser is launched lazily on the first Page call, so a
// Session can be constructed cheaply and handed around before any process
// exists.
type Session struct {
	id     string
	opts   Options
	timing TimingProfile

	mu      sync.Mutex
	l       *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
	started bool
	closed  bool
	busy    bool

	// notes accumulate task→answer pairs on keep-alive sessions so chained
	// tasks carry forward what earlier tasks learned.
	notes []string

	onClose func()
}

// ID returns the session's identity. It is stable for the whole lifetime of
// the underlying browsing context.
func (s *Session) ID() string { return s.id }

// KeepAlive reports whether the session retains state across tasks.
func (s *Session) KeepAlive() bool { return s.opts.KeepAlive }

// Timing returns the session's timing profile.
func (s *Session) Timing() TimingProfile { return s.timing }

// Headless reports the session's visibility mode.
func (s *Session) Headless() bool { return s.opts.Headless }

// Acquire reserves the session for one task. It fails when another task is
// already in flight or the session has been closed.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.NewAgentError(models.ErrCodeBrowserCrash, "session is closed", nil)
	}
	if s.busy {
		return models.NewAgentError(models.ErrCodeSessionBusy, "session already has a task in flight", nil)
	}
	s.busy = true
	return nil
}

// Release returns the session to idle after a task completes.
func (s *Session) Release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Page returns the session's page, launching the browser process on first use.
// A launch failure is fatal for the session and is never retried silently.
func (s *Session) Page(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, models.NewAgentError(models.ErrCodeBrowserCrash, "session is closed", nil)
	}
	if s.started {
		return s.page, nil
	}

	controlURL, err := s.l.Launch()
	if err != nil {
		return nil, models.NewAgentError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		s.l.Kill()
		return nil, models.NewAgentError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		s.l.Kill()
		return nil, models.NewAgentError(models.ErrCodeBrowserCrash, "failed to create page", err)
	}

	// Stealth JS, the UA override and the extra headers must be installed
	// before the first navigation or they never take effect.
	if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
		slog.Warn("stealth injection failed, proceeding without stealth",
			"session", s.id, "error", evalErr)
	}
	_ = proto.NetworkSetUserAgentOverride{UserAgent: chromeUA}.Call(page)
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(map[string]string{
		"Accept-Language": "en-US,en;q=0.9",
	})}.Call(page)

	s.browser = browser
	s.page = page
	s.started = true
	slog.Info("session started",
		"session", s.id,
		"headless", s.opts.Headless,
		"keepAlive", s.opts.KeepAlive,
		"controlURL", controlURL,
	)
	return s.page, nil
}

// CurrentURL reports the page's current location, or "" before first use.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	page, started := s.page, s.started
	s.mu.Unlock()
	if !started {
		return ""
	}
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// AppendNote records what a completed task learned so subsequent tasks on the
// same retained session can build on it.
func (s *Session) AppendNote(task, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, fmt.Sprintf("task: %s\noutcome: %s", task, answer))
}

// Notes returns the accumulated context of earlier tasks, oldest first.
func (s *Session) Notes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notes))
	copy(out, s.notes)
	return out
}

// Close releases the session's resources. With force=false a keep-alive
// session survives (no-op); force=true always tears it down. Teardown
// failures are logged and swallowed so they never block the caller.
// Close is idempotent.
func (s *Session) Close(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if !force && s.opts.KeepAlive {
		slog.Debug("session close skipped (keep-alive)", "session", s.id)
		return
	}
	if !force && s.busy {
		// A rejected caller's cleanup must not tear the session down under
		// the task that actually holds it.
		slog.Debug("session close skipped (task in flight)", "session", s.id)
		return
	}
	s.closed = true

	if s.started {
		if err := s.browser.Close(); err != nil {
			slog.Warn("session teardown: browser close failed", "session", s.id, "error", err)
		}
		s.l.Kill()
		s.l.Cleanup()
	}
	if s.onClose != nil {
		s.onClose()
	}
	slog.Info("session closed", "session", s.id, "forced", force)
}

// Shutdown unconditionally releases the session's resources. It is the single
// teardown capability every owner can rely on regardless of the keep-alive flag.
func (s *Session) Shutdown() {
	s.Close(true)
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

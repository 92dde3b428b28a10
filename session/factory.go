package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/Cshiyuan/browser-brain/config"
)

// TimingProfile bundles the waits that pace a session's interaction with a
// page. The standard profile mimics human pacing; the accelerated profile
// minimises every wait, trading detection risk for throughput.
type TimingProfile struct {
	// SettleWait is how long to let a page settle after navigation.
	SettleWait time.Duration

	// MaxLoadWait bounds waiting for a page load to finish.
	MaxLoadWait time.Duration

	// ActionWait is the pause between consecutive agent actions.
	ActionWait time.Duration
}

// StandardTiming paces interactions like a patient human.
func StandardTiming() TimingProfile {
	return TimingProfile{
		SettleWait:  2 * time.Second,
		MaxLoadWait: 15 * time.Second,
		ActionWait:  time.Second,
	}
}

// AcceleratedTiming minimises all waits.
func AcceleratedTiming() TimingProfile {
	return TimingProfile{
		SettleWait:  100 * time.Millisecond,
		MaxLoadWait: 5 * time.Second,
		ActionWait:  100 * time.Millisecond,
	}
}

// Options selects a session's configuration.
type Options struct {
	// Headless controls browser visibility.
	Headless bool

	// Accelerated selects AcceleratedTiming instead of StandardTiming.
	Accelerated bool

	// KeepAlive makes the session survive Close(false) so it can be reused
	// across tasks. Non-retained sessions die after their single task.
	KeepAlive bool

	// Window optionally positions and sizes a headed window, used to tile
	// multiple visible sessions across the screen.
	Window *WindowRect
}

// Factory builds isolated sessions hardened against automation fingerprinting.
type Factory struct {
	cfg    config.BrowserConfig
	active atomic.Int32
}

// NewFactory creates a session factory from the browser configuration.
func NewFactory(cfg config.BrowserConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Active reports how many sessions built by this factory are currently open.
func (f *Factory) Active() int {
	return int(f.active.Load())
}

// New builds a session. The underlying browser process is not launched until
// the session's first task touches its page.
func (f *Factory) New(opts Options) *Session {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(f.cfg.NoSandbox)

	if f.cfg.BrowserBin != "" {
		l = l.Bin(f.cfg.BrowserBin)
	}
	if f.cfg.DefaultProxy != "" {
		l = l.Proxy(f.cfg.DefaultProxy)
	}

	// ── Anti-fingerprinting flags ────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-infobars"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("no-first-run"))

	// ── Window geometry per visibility mode ──────────────────────────
	switch {
	case opts.Headless:
		l.Set(flags.Flag("window-size"), "1920,1080")
	case opts.Window != nil:
		l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", opts.Window.Width, opts.Window.Height))
		l.Set(flags.Flag("window-position"), fmt.Sprintf("%d,%d", opts.Window.X, opts.Window.Y))
	default:
		l.Set(flags.Flag("start-maximized"))
	}

	timing := StandardTiming()
	if opts.Accelerated {
		timing = AcceleratedTiming()
	}

	s := &Session{
		id:     "sess-" + randomID(),
		opts:   opts,
		timing: timing,
		l:      l,
	}
	f.active.Add(1)
	s.onClose = func() { f.active.Add(-1) }
	return s
}

// randomID generates a short random hex string for session IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

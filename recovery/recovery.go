// Package recovery wraps task execution with challenge detection and a
// one-shot, fixed-delay retry. When a successful run's visited-location trail
// matches the challenge predicate, the recoverer holds the still-open session
// for a countdown — giving a human operator time to clear the challenge in a
// visible browser — then re-runs the identical request once against the same
// session. The retry's result is returned as-is: this is a fixed-count (=1)
// policy, not a backoff loop.
package recovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// State is the recovery state machine position, exposed for diagnostics.
type State int

const (
	StateNormal State = iota
	StateChallengeDetected
	StateWaiting
	StateRetrying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateChallengeDetected:
		return "CHALLENGE_DETECTED"
	case StateWaiting:
		return "WAITING"
	case StateRetrying:
		return "RETRYING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Predicate decides whether a visited location indicates a challenge.
type Predicate func(url string) bool

// KeywordPredicate matches locations whose URL contains the keyword,
// case-insensitively. Known limitations, accepted as-is: a legitimate path
// segment containing the keyword is a false positive, and challenges that
// never show up in the URL (in-page modals) are false negatives.
func KeywordPredicate(keyword string) Predicate {
	lowered := strings.ToLower(keyword)
	return func(url string) bool {
		return strings.Contains(strings.ToLower(url), lowered)
	}
}

// Clock abstracts waiting so the countdown is testable without real time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock waits on real time.
func SystemClock() Clock { return systemClock{} }

// Notifier receives the remaining wait time at each countdown interval.
type Notifier func(sessionID string, remaining time.Duration)

// TaskExecutor is the execution surface the recoverer wraps.
type TaskExecutor interface {
	Execute(ctx context.Context, sess *session.Session, req *models.TaskRequest) *models.TaskResult
}

// Recoverer implements TaskExecutor itself, so runners can use it in place of
// the bare executor. Detect, Clock and Notify may be replaced before first use.
type Recoverer struct {
	exec TaskExecutor

	// Detect is the pluggable challenge predicate.
	Detect Predicate

	// Wait is the total countdown before the retry.
	Wait time.Duration

	// Interval is the notification cadence during the countdown.
	Interval time.Duration

	// Clock drives the countdown.
	Clock Clock

	// Notify reports remaining wait time to the out-of-band observer.
	Notify Notifier
}

// New creates a Recoverer around exec with defaults from cfg.
func New(exec TaskExecutor, cfg config.RecoveryConfig) *Recoverer {
	keyword := cfg.Keyword
	if keyword == "" {
		keyword = "captcha"
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = 60 * time.Second
	}
	interval := cfg.NotifyInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Recoverer{
		exec:     exec,
		Detect:   KeywordPredicate(keyword),
		Wait:     wait,
		Interval: interval,
		Clock:    SystemClock(),
		Notify: func(sessionID string, remaining time.Duration) {
			slog.Info("challenge wait", "session", sessionID, "remaining", remaining)
		},
	}
}

// Execute runs the task and recovers from at most one detected challenge.
// Detection fires once per originating execution no matter how many visited
// locations matched. A challenge detected again on the retry result is
// returned to the caller unrecovered.
func (r *Recoverer) Execute(ctx context.Context, sess *session.Session, req *models.TaskRequest) *models.TaskResult {
	// A non-retained session is destroyed here, once recovery is over —
	// never between the original run and the retry, which must both hit the
	// same open session.
	defer sess.Close(false)

	result := r.exec.Execute(ctx, sess, req)

	if result.Status != models.StatusSuccess || !r.challenged(result.VisitedURLs) {
		return result
	}

	slog.Warn("recovery state change",
		"session", sess.ID(),
		"state", StateChallengeDetected.String(),
		"wait", r.Wait,
	)

	if err := r.countdown(ctx, sess.ID()); err != nil {
		// Countdown aborted by the caller: hand back the original result.
		slog.Warn("challenge countdown aborted", "session", sess.ID(), "error", err)
		return result
	}

	slog.Info("recovery state change", "session", sess.ID(), "state", StateRetrying.String())
	retry := r.exec.Execute(ctx, sess, req)
	slog.Info("recovery state change",
		"session", sess.ID(),
		"state", StateDone.String(),
		"retryStatus", retry.Status,
	)
	return retry
}

// challenged reports whether any visited location matches the predicate.
func (r *Recoverer) challenged(urls []string) bool {
	for _, u := range urls {
		if r.Detect(u) {
			return true
		}
	}
	return false
}

// countdown waits r.Wait in r.Interval slices, notifying the remaining time
// before each slice. Cancellable through ctx.
func (r *Recoverer) countdown(ctx context.Context, sessionID string) error {
	for remaining := r.Wait; remaining > 0; remaining -= r.Interval {
		r.Notify(sessionID, remaining)
		slice := r.Interval
		if slice > remaining {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.Clock.After(slice):
		}
	}
	return nil
}

package executor

import (
	"log/slog"
	"strings"

	"github.com/Cshiyuan/browser-brain/models"
)

// TraceSink receives diagnostic records: one per step trace entry and one
// summary per completed task. Sinks are for human diagnosis only — nothing in
// the execution path branches on what they are told.
type TraceSink interface {
	Step(sessionID string, entry models.StepTrace)
	Summary(sessionID string, result *models.TaskResult)
}

// SlogSink writes trace records to the default structured logger.
type SlogSink struct{}

func (SlogSink) Step(sessionID string, entry models.StepTrace) {
	slog.Info("task step",
		"session", sessionID,
		"step", entry.Index,
		"evaluation", entry.Evaluation,
		"nextGoal", entry.NextGoal,
		"url", entry.URL,
		"challengeDetected", entry.ChallengeDetected,
		"securityRestriction", entry.SecurityRestriction,
		"stepFailed", entry.StepFailed,
	)
}

func (SlogSink) Summary(sessionID string, result *models.TaskResult) {
	slog.Info("task finished",
		"session", sessionID,
		"status", result.Status,
		"steps", result.Steps,
		"hasPayload", len(result.Payload) > 0,
		"durationMs", result.DurationMs,
	)
}

// deriveFlags scans a step's evaluation text for challenge, security
// restriction, and failure keywords. Case-insensitive substring matches;
// purely diagnostic.
func deriveFlags(evaluation string) (challenge, security, failed bool) {
	lower := strings.ToLower(evaluation)
	challenge = strings.Contains(lower, "captcha")
	security = strings.Contains(lower, "security") || strings.Contains(lower, "restriction")
	failed = strings.Contains(lower, "fail")
	return challenge, security, failed
}

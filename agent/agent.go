// Package agent provides the automated reasoning capability that drives a
// session: it consumes a natural-language task and produces a step history
// with a final answer. The concrete backend is an injected strategy chosen
// once at wiring time.
package agent

import (
	"context"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// Capability is the opaque automated-agent strategy. Implementations own the
// decision loop; callers only see the resulting history.
type Capability interface {
	Run(ctx context.Context, sess *session.Session, req *models.TaskRequest) (*History, error)
}

// Step is one decision the agent took.
type Step struct {
	// Evaluation is the agent's judgement of the previous step's outcome.
	Evaluation string

	// NextGoal is what the agent intends to do next.
	NextGoal string

	// URL is the page location at the time of the decision.
	URL string
}

// History is the full record of one agent run.
type History struct {
	Steps []Step

	// VisitedURLs is the ordered trail of locations, one per step.
	VisitedURLs []string

	// FinalAnswer is the agent's answer text, possibly structured JSON,
	// possibly free text, possibly empty. It is surfaced as-is.
	FinalAnswer string

	// Achieved reports whether the agent declared the task accomplished.
	Achieved bool
}

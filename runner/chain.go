// Package runner provides the two multi-task execution strategies: chained
// tasks sharing one retained session, and parallel tasks on fully isolated
// per-slot sessions. The runners build on the executor and the session
// factory but never on each other.
package runner

import (
	"context"
	"log/slog"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// TaskExecutor is the execution surface the runners drive. In the wired
// application this is the recovery-wrapped executor, so every task run gets
// challenge handling.
type TaskExecutor interface {
	Execute(ctx context.Context, sess *session.Session, req *models.TaskRequest) *models.TaskResult
}

// RunChain executes the tasks strictly in order against the one session,
// stopping at the first non-success result. The returned list holds one entry
// per attempted task — a prefix of the request list on failure. The session is
// never closed here; its lifecycle belongs to the caller.
//
// The session should be keep-alive so state (and the agent's accumulated
// context) carries from task to task.
func RunChain(ctx context.Context, exec TaskExecutor, sess *session.Session, reqs []*models.TaskRequest) []*models.TaskResult {
	results := make([]*models.TaskResult, 0, len(reqs))

	for i, req := range reqs {
		slog.Info("chain task starting", "session", sess.ID(), "index", i, "total", len(reqs))

		result := exec.Execute(ctx, sess, req)
		result.TaskIndex = i
		results = append(results, result)

		if result.Status != models.StatusSuccess {
			slog.Warn("chain aborted on non-success result",
				"session", sess.ID(),
				"index", i,
				"status", result.Status,
				"attempted", len(results),
				"requested", len(reqs),
			)
			break
		}
	}

	return results
}

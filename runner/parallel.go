package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/session"
)

// ParallelOptions is the session configuration shared by every slot. The
// keep-alive flag is not offered: parallel slots always get single-use
// sessions.
type ParallelOptions struct {
	Headless    bool
	Accelerated bool

	// ScreenWidth/ScreenHeight size the window grid for headed slots.
	// Zero values fall back to a 1920x1080 screen.
	ScreenWidth  int
	ScreenHeight int
}

// RunParallel fans the tasks out concurrently, each slot bound to its own
// freshly created, fully isolated session. The returned batch always has one
// entry per requested task, in request order; a failure — including a panic —
// in one slot is captured into that slot's result and never touches the
// others. Each slot's session is force-closed as soon as its task finishes.
//
// Bounding concurrent resource usage by batching large task lists is the
// caller's job; every task here starts at once.
func RunParallel(ctx context.Context, factory *session.Factory, exec TaskExecutor, reqs []*models.TaskRequest, opts ParallelOptions) []*models.TaskResult {
	results := make([]*models.TaskResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(slot int, req *models.TaskRequest) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[slot] = slotFailure(slot, fmt.Sprintf("parallel slot panicked: %v", r))
				}
			}()
			results[slot] = runSlot(ctx, factory, exec, slot, len(reqs), req, opts)
		}(i, req)
	}
	wg.Wait()

	return results
}

// runSlot creates the slot's isolated session, runs the task, and guarantees
// the session is gone afterwards. The Shutdown defer is installed immediately
// after the session exists, so a setup failure later in the slot can neither
// leak the session nor free it twice.
func runSlot(ctx context.Context, factory *session.Factory, exec TaskExecutor, slot, total int, req *models.TaskRequest, opts ParallelOptions) *models.TaskResult {
	sessOpts := session.Options{
		Headless:    opts.Headless,
		Accelerated: opts.Accelerated,
		KeepAlive:   false,
	}
	if !opts.Headless {
		rect := session.GridLayout(slot, total, opts.ScreenWidth, opts.ScreenHeight)
		sessOpts.Window = &rect
	}

	sess := factory.New(sessOpts)
	defer sess.Shutdown()

	slog.Info("parallel slot starting", "session", sess.ID(), "slot", slot, "total", total)

	result := exec.Execute(ctx, sess, req)
	result.TaskIndex = slot
	return result
}

// slotFailure builds the exception result for a slot that died before
// producing one.
func slotFailure(slot int, msg string) *models.TaskResult {
	return &models.TaskResult{
		TaskIndex: slot,
		Status:    models.StatusException,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeSlotPanic,
			Message: msg,
		},
	}
}

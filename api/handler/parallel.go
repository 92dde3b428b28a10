package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/notify"
	"github.com/Cshiyuan/browser-brain/runner"
	"github.com/Cshiyuan/browser-brain/session"
)

// jobStore holds all in-flight and completed parallel jobs.
var jobStore sync.Map

func init() {
	// Background goroutine to expire jobs older than 1 hour.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-1 * time.Hour).Unix()
			jobStore.Range(func(key, value any) bool {
				job := value.(*models.ParallelJob)
				if job.CreatedAt < cutoff {
					jobStore.Delete(key)
				}
				return true
			})
		}
	}()
}

// PostParallel returns a handler for POST /api/v1/parallel. It validates the
// request, registers a job, and launches the batch in the background; clients
// poll GET /api/v1/parallel/:id for results.
func PostParallel(factory *session.Factory, exec runner.TaskExecutor, defaultHeadless bool, maxTasks int, webhookSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ParallelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		if maxTasks > 0 && len(req.Tasks) > maxTasks {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "too many tasks for one batch; split the batch",
				},
			})
			return
		}

		jobID := "par-" + randomID()
		job := &models.ParallelJob{
			ID:        jobID,
			Status:    "processing",
			Total:     len(req.Tasks),
			Results:   make([]*models.TaskResult, len(req.Tasks)),
			CreatedAt: time.Now().Unix(),
		}
		jobStore.Store(jobID, job)

		go runParallelJob(factory, exec, job, req, defaultHeadless, webhookSecret)

		c.JSON(http.StatusOK, models.ParallelResponse{
			ID:     jobID,
			Status: "processing",
			Total:  len(req.Tasks),
		})
	}
}

// GetParallel returns a handler for GET /api/v1/parallel/:id.
func GetParallel() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		val, ok := jobStore.Load(jobID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "parallel job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*models.ParallelJob))
	}
}

// runParallelJob executes the batch and finalises the job record.
func runParallelJob(factory *session.Factory, exec runner.TaskExecutor, job *models.ParallelJob, req models.ParallelRequest, defaultHeadless bool, webhookSecret string) {
	reqs := make([]*models.TaskRequest, len(req.Tasks))
	for i := range req.Tasks {
		reqs[i] = &req.Tasks[i]
	}

	results := runner.RunParallel(context.Background(), factory, exec, reqs, runner.ParallelOptions{
		Headless:    resolveHeadless(req.Headless, defaultHeadless),
		Accelerated: req.Accelerated,
	})

	succeeded := 0
	for _, r := range results {
		if r.Status == models.StatusSuccess {
			succeeded++
		}
	}

	// A job record is never mutated once stored: GetParallel may be encoding
	// it concurrently. The finished state goes in as a fresh record under the
	// same ID.
	done := *job
	done.Results = results
	done.Completed = len(results)
	switch {
	case succeeded == 0:
		done.Status = "failed"
	case succeeded < len(results):
		done.Status = "partial"
	default:
		done.Status = "completed"
	}
	jobStore.Store(done.ID, &done)

	slog.Info("parallel job finished",
		"id", done.ID,
		"status", done.Status,
		"succeeded", succeeded,
		"total", done.Total,
	)

	if req.WebhookURL != "" {
		notify.DeliverAsync(req.WebhookURL, webhookSecret, &notify.Event{
			Type:  notify.EventBatchCompleted,
			JobID: done.ID,
			Data: gin.H{
				"status":    done.Status,
				"succeeded": succeeded,
				"total":     done.Total,
			},
		})
	}
}

// randomID generates a short random hex string for job IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

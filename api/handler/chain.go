package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/runner"
	"github.com/Cshiyuan/browser-brain/session"
)

// RunChain returns a handler for POST /api/v1/chains. All tasks share one
// keep-alive session so state accumulates; the response holds one result per
// attempted task, truncated at the first non-success. The chain runner never
// closes the session — this handler owns it and force-closes on the way out.
func RunChain(factory *session.Factory, exec runner.TaskExecutor, defaultHeadless bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		sess := factory.New(session.Options{
			Headless:    resolveHeadless(req.Headless, defaultHeadless),
			Accelerated: req.Accelerated,
			KeepAlive:   true,
		})
		defer sess.Shutdown()

		reqs := make([]*models.TaskRequest, len(req.Tasks))
		for i := range req.Tasks {
			reqs[i] = &req.Tasks[i]
		}

		results := runner.RunChain(c.Request.Context(), exec, sess, reqs)
		c.JSON(http.StatusOK, models.ChainResponse{
			Results:   results,
			Attempted: len(results),
			Requested: len(reqs),
		})
	}
}

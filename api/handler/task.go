package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cshiyuan/browser-brain/models"
	"github.com/Cshiyuan/browser-brain/runner"
	"github.com/Cshiyuan/browser-brain/session"
)

// RunTask returns a handler for POST /api/v1/tasks. It runs one task on a
// fresh single-use session and responds with the task result once the run
// finishes. The session is force-closed on the way out regardless of outcome,
// so a timed-out session never lingers.
func RunTask(factory *session.Factory, exec runner.TaskExecutor, defaultHeadless bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TaskRunRequest
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
			KeepAlive:   false,
		})
		defer sess.Shutdown()

		result := exec.Execute(c.Request.Context(), sess, &req.TaskRequest)
		c.JSON(http.StatusOK, result)
	}
}

// resolveHeadless applies the configured default when the request left the
// visibility mode unset.
func resolveHeadless(requested *bool, fallback bool) bool {
	if requested == nil {
		return fallback
	}
	return *requested
}

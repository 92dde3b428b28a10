package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cshiyuan/browser-brain/linkcheck"
	"github.com/Cshiyuan/browser-brain/models"
)

// linksRequest is the payload for POST /api/v1/links/check.
type linksRequest struct {
	URLs          []string `json:"urls" binding:"required,min=1,max=50"`
	MaxConcurrent int      `json:"max_concurrent,omitempty" binding:"omitempty,min=1,max=20"`
}

// CheckLinks returns a handler for POST /api/v1/links/check. It validates the
// links extracted by agent tasks without opening a browser session.
func CheckLinks(checker *linkcheck.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req linksRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		results := checker.CheckAll(c.Request.Context(), req.URLs, req.MaxConcurrent)
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

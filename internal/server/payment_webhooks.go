package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HandleMollieWebhook receives the form-encoded payment id Mollie posts on
// every status change.
func (s *Server) HandleMollieWebhook(c *gin.Context) {
	id := strings.TrimSpace(c.PostForm("id"))
	if id == "" {
		AbortWithError(c, newValidationError("id", "required", "id is required"))
		return
	}

	if err := s.webhooks.HandleMollieWebhook(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

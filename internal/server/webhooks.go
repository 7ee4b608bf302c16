package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.gatewaySvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := "processed"
	switch {
	case result.Duplicate:
		status = "duplicate"
	case result.Ignored:
		status = "ignored"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"provider": result.Provider,
		"event_id": result.EventID,
	})
}

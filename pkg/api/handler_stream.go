package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamDecisions serves the SSE decision stream: one `data:` frame per
// published decision message, until the client disconnects.
func (s *Server) StreamDecisions(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("Failed to encode stream message", "decision_id", msg.DecisionID, "error", err)
			continue
		}
		if _, err := c.Writer.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
			return
		}
		flusher.Flush()
	}
}

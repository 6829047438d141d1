package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/store"
)

// PostEvent ingests a new browsing event and returns its decision message.
func (s *Server) PostEvent(c *gin.Context) {
	s.processEvent(c, false)
}

// PostEventUpgrade resubmits an existing event with screenshots attached.
func (s *Server) PostEventUpgrade(c *gin.Context) {
	s.processEvent(c, true)
}

func (s *Server) processEvent(c *gin.Context, upgrade bool) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if upgrade && req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upgrade requires the prior event id"})
		return
	}

	event := &models.Event{
		ID:       req.ID,
		ChildID:  req.ChildID,
		TS:       req.TS,
		Kind:     req.Kind,
		URL:      req.URL,
		Title:    req.Title,
		TabID:    req.TabID,
		Referrer: req.Referrer,
		DataJSON: req.DataJSON,
	}

	msg, err := s.pipeline.ProcessEvent(c.Request.Context(), event, upgrade)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown event id"})
			return
		}
		slog.Error("Event processing failed", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

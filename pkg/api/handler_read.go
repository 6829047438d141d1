package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/store"
)

const defaultListLimit = 50

// ListEvents returns recent events, newest first.
func (s *Server) ListEvents(c *gin.Context) {
	events, err := s.store.RecentEvents(c.Request.Context(), c.Query("child_id"), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListDecisions returns recent decisions joined to their events.
func (s *Server) ListDecisions(c *gin.Context) {
	decisions, err := s.store.RecentDecisions(c.Request.Context(), c.Query("child_id"), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if decisions == nil {
		decisions = []store.DecisionWithEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

// ListChildren returns all child profiles.
func (s *Server) ListChildren(c *gin.Context) {
	children, err := s.store.Children(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if children == nil {
		children = []models.ChildProfile{}
	}
	c.JSON(http.StatusOK, gin.H{"children": children})
}

// UpdateChild mutates a profile's strictness and/or age.
func (s *Server) UpdateChild(c *gin.Context) {
	var req ChildUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var strictness *models.Strictness
	if req.Strictness != nil {
		norm := models.NormalizeStrictness(*req.Strictness)
		if string(norm) != *req.Strictness {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strictness " + *req.Strictness})
			return
		}
		strictness = &norm
	}
	if req.Age != nil && (*req.Age < 3 || *req.Age > 18) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "age must be between 3 and 18"})
		return
	}

	err := s.store.UpdateChild(c.Request.Context(), c.Param("id"), strictness, req.Age)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown child id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	child, err := s.store.GetChild(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown child id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, child)
}

// SyncNow runs one replication cycle on demand.
func (s *Server) SyncNow(c *gin.Context) {
	if s.replicator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mirror DSN is not configured"})
		return
	}
	counts, err := s.replicator.SyncOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func listLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

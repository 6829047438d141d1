package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/watchit-dev/watchit/pkg/models"
	"github.com/watchit-dev/watchit/pkg/store"
)

// indefinitePause is the horizon used when no duration is given.
const indefinitePause = 10 * 365 * 24 * time.Hour

// ControlPause records a pause horizon; the policy engine allows everything
// until it passes.
func (s *Server) ControlPause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.checkPIN(c, req.PIN) {
		return
	}

	duration := time.Duration(req.Minutes) * time.Minute
	if req.Minutes <= 0 {
		duration = indefinitePause
	}
	until := time.Now().Add(duration).UnixMilli()
	if err := s.store.SetSetting(c.Request.Context(), store.SettingPausedUntil, strconv.FormatInt(until, 10)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Info("Monitoring paused", "paused_until", until)
	c.JSON(http.StatusOK, gin.H{"ok": true, "paused_until": until})
}

// ControlResume clears the pause horizon.
func (s *Server) ControlResume(c *gin.Context) {
	var req PinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.checkPIN(c, req.PIN) {
		return
	}
	if err := s.store.DeleteSetting(c.Request.Context(), store.SettingPausedUntil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Info("Monitoring resumed")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ControlOverride applies a manual action to a decision and triggers an
// opportunistic guardian-feedback refresh.
func (s *Server) ControlOverride(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action := models.Action(req.Action)
	if !models.ValidAction(action) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action " + req.Action})
		return
	}

	if err := s.store.OverrideDecision(c.Request.Context(), req.DecisionID, action); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown decision id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Must not block the response path.
	s.guardian.Refresh()
	slog.Info("Decision overridden", "decision_id", req.DecisionID, "action", action)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) checkPIN(c *gin.Context, pin string) bool {
	if pin != s.parentPIN {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid PIN"})
		return false
	}
	return true
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// emergencyStopBudget bounds the cancel-everything path.
const emergencyStopBudget = 10 * time.Second

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.ctrl.Stop(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	// detached context: the stop must finish even if the caller goes away
	ctx, cancel := context.WithTimeout(context.Background(), emergencyStopBudget)
	defer cancel()

	s.log.Warn().Str("client_ip", c.ClientIP()).Msg("Emergency stop requested")
	if err := s.ctrl.EmergencyStop(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "halted"})
}

type breakerResetRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	var req breakerResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	s.log.Warn().Str("reason", req.Reason).Str("client_ip", c.ClientIP()).
		Msg("Manual circuit breaker reset")
	if err := s.ctrl.ResetBreaker(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleConfigReload(c *gin.Context) {
	applied, skipped, err := s.ctrl.ReloadConfig()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied, "skipped": skipped})
}

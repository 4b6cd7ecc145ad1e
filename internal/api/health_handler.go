package api

import (
	"github.com/gin-gonic/gin"

	"github.com/iff-guardian/siem-platform/internal/health"
)

// handleHealthSummary implements GET /health: status + timestamp only
// (spec §6), backed by the scheduler's cached report.
func (s *Server) handleHealthSummary(c *gin.Context) {
	report := s.scheduler.Last()
	c.JSON(health.HTTPStatusFor(report.Overall), gin.H{
		"status":    report.Overall,
		"timestamp": report.Timestamp,
	})
}

// handleHealthDetailed implements GET /health/detailed: the full report.
func (s *Server) handleHealthDetailed(c *gin.Context) {
	report := s.scheduler.Last()
	c.JSON(health.HTTPStatusFor(report.Overall), report)
}

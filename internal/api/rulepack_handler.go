package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/iff-guardian/siem-platform/internal/rulepack"
	"github.com/iff-guardian/siem-platform/internal/siemerr"
)

// handleUploadRulePack implements POST /rule-packs (multipart upload).
func (s *Server) handleUploadRulePack(c *gin.Context) {
	fileHeader, err := c.FormFile("archive")
	if err != nil {
		writeError(c, siemerr.Validation("MISSING_ARCHIVE", "multipart field 'archive' is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		writeError(c, siemerr.Internal("ARCHIVE_OPEN_FAILED", "failed to open uploaded archive", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, siemerr.Internal("ARCHIVE_READ_FAILED", "failed to read uploaded archive", err))
		return
	}

	result, err := s.uploader.Upload(c.Request.Context(), data,
		c.PostForm("name"), c.PostForm("version"), c.PostForm("source"), c.PostForm("uploader"))
	if err != nil {
		writeError(c, siemerr.Validation("UPLOAD_FAILED", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, result)
}

// PlanRequest is the body of POST /rule-packs/:pack_id/plan.
type PlanRequest struct {
	TenantID string            `json:"tenant_id" validate:"required"`
	Strategy rulepack.Strategy `json:"strategy"`
	MatchBy  rulepack.MatchBy  `json:"match_by"`
}

func (s *Server) handlePlanRulePack(c *gin.Context) {
	packID := c.Param("pack_id")
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}
	if req.Strategy == "" {
		req.Strategy = rulepack.StrategySafe
	}
	if req.MatchBy == "" {
		req.MatchBy = rulepack.MatchByRuleID
	}

	result, err := s.planner.Plan(c.Request.Context(), req.TenantID, packID, req.Strategy, req.MatchBy, uuid.NewString())
	if err != nil {
		writeError(c, siemerr.Validation("PLAN_FAILED", err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

// ApplyRequestBody is the body of POST /rule-packs/:pack_id/apply.
type ApplyRequestBody struct {
	TenantID    string                   `json:"tenant_id" validate:"required"`
	PlanID      string                   `json:"plan_id" validate:"required"`
	Actor       string                   `json:"actor"`
	DryRun      bool                     `json:"dry_run"`
	Canary      *rulepack.CanaryConfig   `json:"canary,omitempty"`
	Force       bool                     `json:"force"`
	ForceReason string                   `json:"force_reason"`
}

// handleApplyRulePack implements POST /rule-packs/:pack_id/apply,
// requiring an Idempotency-Key header (spec §6).
func (s *Server) handleApplyRulePack(c *gin.Context) {
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		writeError(c, siemerr.Validation("MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"))
		return
	}
	var req ApplyRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}

	result, err := s.applier.Apply(c.Request.Context(), rulepack.ApplyRequest{
		TenantID:       req.TenantID,
		PlanID:         req.PlanID,
		IdempotencyKey: idemKey,
		Actor:          req.Actor,
		DryRun:         req.DryRun,
		Canary:         req.Canary,
		Force:          req.Force,
		ForceReason:    req.ForceReason,
	})
	if err != nil {
		writeError(c, siemerr.Validation("APPLY_FAILED", err.Error()))
		return
	}
	if s.dom != nil {
		outcome := "success"
		if len(result.Errors) > 0 {
			outcome = "partial_error"
		}
		s.dom.RulePackApplyTotal.WithLabelValues(req.TenantID, outcome).Inc()
	}
	c.JSON(http.StatusOK, result)
}

// RollbackRequestBody is the body of POST /deployments/:deploy_id/rollback.
type RollbackRequestBody struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Reason   string `json:"reason"`
}

func (s *Server) handleRollback(c *gin.Context) {
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		writeError(c, siemerr.Validation("MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"))
		return
	}
	deployID := c.Param("deploy_id")
	var req RollbackRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}

	result, err := s.applier.Rollback(c.Request.Context(), rulepack.RollbackRequest{
		TenantID:       req.TenantID,
		DeployID:       deployID,
		IdempotencyKey: idemKey,
		Reason:         req.Reason,
	})
	if err != nil {
		writeError(c, siemerr.Validation("ROLLBACK_FAILED", err.Error()))
		return
	}
	if s.dom != nil {
		s.dom.RulePackRollbackTotal.WithLabelValues(req.TenantID).Inc()
	}
	c.JSON(http.StatusOK, result)
}

// CanaryControlRequest is the body of POST /deployments/:deploy_id/canary.
type CanaryControlRequest struct {
	Action rulepack.CanaryAction `json:"action" validate:"required"`
}

func (s *Server) handleCanaryControl(c *gin.Context) {
	deployID := c.Param("deploy_id")
	var req CanaryControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, siemerr.Validation("INVALID_BODY", err.Error()))
		return
	}
	result, err := s.applier.CanaryControl(c.Request.Context(), deployID, req.Action)
	if err != nil {
		writeError(c, siemerr.Validation("CANARY_CONTROL_FAILED", err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

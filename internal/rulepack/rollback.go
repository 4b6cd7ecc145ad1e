package rulepack

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iff-guardian/siem-platform/pkg/distlock"
)

// Rollback reloads a deployment's snapshots and, under a new deploy-id,
// records one ROLLBACK change-log entry per snapshot (counted as an
// update). The snapshot bodies are not written back to the rule table.
func (a *Applier) Rollback(ctx context.Context, req RollbackRequest) (*RollbackResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("rulepack: rollback requires an Idempotency-Key")
	}

	var cached RollbackResult
	if hit, err := a.idempotent.get(ctx, "rollback", req.TenantID, req.IdempotencyKey, &cached); err != nil {
		return nil, err
	} else if hit {
		return &cached, nil
	}

	lock, err := distlock.AcquireWithRetry(ctx, a.kv, applyLockName(req.TenantID), applyLockTTL, applyLockTimeout, applyLockPoll)
	if err != nil {
		return nil, fmt.Errorf("rulepack: acquire apply lock: %w", err)
	}
	defer lock.Release(ctx)

	deployment, err := a.store.GetDeployment(ctx, req.DeployID)
	if err != nil {
		return nil, err
	}
	if deployment == nil {
		return nil, fmt.Errorf("rulepack: deployment %s not found", req.DeployID)
	}

	snapshots, err := a.store.GetSnapshots(ctx, req.DeployID)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("rulepack: no snapshots found for deployment %s", req.DeployID)
	}

	rollbackDeployID := uuid.NewString()
	rollbackDeployment := Deployment{
		DeployID: rollbackDeployID,
		PackID:   deployment.PackID,
		Strategy: "rollback",
		CanaryState: "disabled",
	}
	if err := a.store.CreateDeployment(ctx, rollbackDeployment, "rollback", "system", req.IdempotencyKey, "", 0); err != nil {
		return nil, err
	}

	summary := DeploySummary{}
	for _, snap := range snapshots {
		summary.RulesUpdated = append(summary.RulesUpdated, snap.RuleID)
		if err := a.store.AppendChangeLog(ctx, req.TenantID, "system", "ROLLBACK", snap.RuleID, "", snap.SHA256, rollbackDeployID); err != nil {
			return nil, err
		}
	}

	totals := Totals{Update: len(summary.RulesUpdated)}
	if err := a.store.FinishDeployment(ctx, rollbackDeployID, summary, totals, nil); err != nil {
		return nil, err
	}

	result := &RollbackResult{
		RollbackDeployID: rollbackDeployID,
		OriginalDeployID: req.DeployID,
		Summary:          summary,
		Totals:           totals,
	}

	artifact := map[string]any{
		"rollback_deploy_id": rollbackDeployID,
		"original_deploy_id": req.DeployID,
		"reason":             req.Reason,
		"snapshots_restored": len(snapshots),
		"summary":            summary,
	}
	if err := a.store.SaveArtifact(ctx, rollbackDeployID, "rollback", artifact); err != nil {
		return nil, err
	}
	if err := a.idempotent.put(ctx, "rollback", req.TenantID, req.IdempotencyKey, result); err != nil {
		return nil, err
	}

	return result, nil
}

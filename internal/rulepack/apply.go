package rulepack

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iff-guardian/siem-platform/pkg/distlock"
	"github.com/iff-guardian/siem-platform/pkg/kv"
)

const (
	applyLockTTL     = 30 * time.Second
	applyLockTimeout = 10 * time.Second
	applyLockPoll    = 200 * time.Millisecond
)

func applyLockName(tenantID string) string {
	return fmt.Sprintf("rulepacks:apply:%s", tenantID)
}

// Applier executes plans (spec §4.8 step 3): idempotency replay, a
// per-tenant distributed lock, snapshotting, and one change-log entry per
// CREATE/UPDATE/DISABLE plan entry. The rules themselves are not created,
// updated or disabled here; the change log is the only record written.
type Applier struct {
	store      Store
	idempotent *idempotencyCache
	kv         *kv.Client
}

func NewApplier(store Store, kvClient *kv.Client) *Applier {
	return &Applier{store: store, idempotent: newIdempotencyCache(kvClient), kv: kvClient}
}

// Apply implements spec §4.8 step 3 end to end.
func (a *Applier) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("rulepack: apply requires an Idempotency-Key")
	}

	var cached ApplyResult
	if hit, err := a.idempotent.get(ctx, "apply", req.TenantID, req.IdempotencyKey, &cached); err != nil {
		return nil, err
	} else if hit {
		cached.Replayed = true
		return &cached, nil
	}

	if req.Canary != nil {
		if req.Canary.IntervalSec < 30 {
			return nil, fmt.Errorf("rulepack: canary interval must be at least 30 seconds")
		}
		if len(req.Canary.Stages) == 0 || len(req.Canary.Stages) > 10 {
			return nil, fmt.Errorf("rulepack: canary must have 1-10 stages")
		}
	}

	lock, err := distlock.AcquireWithRetry(ctx, a.kv, applyLockName(req.TenantID), applyLockTTL, applyLockTimeout, applyLockPoll)
	if err != nil {
		return nil, fmt.Errorf("rulepack: acquire apply lock: %w", err)
	}
	defer lock.Release(ctx)

	plan, err := a.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("rulepack: plan %s not found", req.PlanID)
	}

	deployID := uuid.NewString()

	if err := a.takeSnapshots(ctx, plan.Entries, plan.PackID, deployID); err != nil {
		return nil, err
	}

	canaryEnabled := req.Canary != nil && req.Canary.Enabled
	canaryState := "disabled"
	var stages []int
	if canaryEnabled {
		canaryState = "running"
		stages = req.Canary.Stages
	}

	deployment := Deployment{
		DeployID:      deployID,
		PackID:        plan.PackID,
		Strategy:      plan.Strategy,
		CanaryEnabled: canaryEnabled,
		CanaryStages:  stages,
		CanaryState:   canaryState,
	}
	if err := a.store.CreateDeployment(ctx, deployment, plan.Strategy, req.Actor, req.IdempotencyKey, req.ForceReason, plan.Totals.BlastRadius()); err != nil {
		return nil, err
	}

	summary := DeploySummary{}
	var errs []string

	if !req.DryRun {
		for _, e := range plan.Entries {
			switch e.Action {
			case ActionCreate:
				summary.RulesCreated = append(summary.RulesCreated, e.RuleID)
				if err := a.store.AppendChangeLog(ctx, req.TenantID, req.Actor, string(ActionCreate), e.RuleID, "", e.ToSHA, deployID); err != nil {
					errs = append(errs, err.Error())
				}
			case ActionUpdate:
				summary.RulesUpdated = append(summary.RulesUpdated, e.RuleID)
				if err := a.store.AppendChangeLog(ctx, req.TenantID, req.Actor, string(ActionUpdate), e.RuleID, e.FromSHA, e.ToSHA, deployID); err != nil {
					errs = append(errs, err.Error())
				}
			case ActionDisable:
				summary.RulesDisabled = append(summary.RulesDisabled, e.RuleID)
				if err := a.store.AppendChangeLog(ctx, req.TenantID, req.Actor, string(ActionDisable), e.RuleID, e.FromSHA, "", deployID); err != nil {
					errs = append(errs, err.Error())
				}
			case ActionSkip:
				// no-op
			}
		}
	}

	if err := a.store.FinishDeployment(ctx, deployID, summary, plan.Totals, errs); err != nil {
		return nil, err
	}

	result := &ApplyResult{
		DeployID: deployID,
		Summary:  summary,
		Totals:   plan.Totals,
		Errors:   errs,
		Replayed: false,
	}
	if canaryEnabled {
		result.Canary = &CanaryStatus{Enabled: true, CurrentStage: 0, Stages: stages, State: "running"}
	}

	if err := a.store.SaveArtifact(ctx, deployID, "apply", result); err != nil {
		return nil, err
	}
	if err := a.idempotent.put(ctx, "apply", req.TenantID, req.IdempotencyKey, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (a *Applier) takeSnapshots(ctx context.Context, entries []PlanEntry, packID, deployID string) error {
	for _, e := range entries {
		if e.FromSHA == "" {
			continue
		}
		body, found, err := a.store.GetRuleBody(ctx, e.RuleID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		snap := Snapshot{SnapshotID: uuid.NewString(), RuleID: e.RuleID, SHA256: e.FromSHA, Body: body}
		if err := a.store.SaveSnapshot(ctx, snap, packID, deployID); err != nil {
			return err
		}
	}
	return nil
}

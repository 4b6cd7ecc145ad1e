package rulepack

import (
	"context"
	"fmt"
)

// CanaryAction is a control-endpoint request (spec §4.8).
type CanaryAction string

const (
	CanaryAdvance CanaryAction = "advance"
	CanaryPause   CanaryAction = "pause"
	CanaryCancel  CanaryAction = "cancel"
)

// CanaryControlResult is returned from CanaryControl.
type CanaryControlResult struct {
	DeployID     string
	CanaryState  string
	CurrentStage int
	Message      string
}

// CanaryControl advances, pauses, or cancels an in-flight canary rollout.
func (a *Applier) CanaryControl(ctx context.Context, deployID string, action CanaryAction) (*CanaryControlResult, error) {
	deployment, err := a.store.GetDeployment(ctx, deployID)
	if err != nil {
		return nil, err
	}
	if deployment == nil {
		return nil, fmt.Errorf("rulepack: deployment %s not found", deployID)
	}
	if !deployment.CanaryEnabled {
		return nil, fmt.Errorf("rulepack: deployment %s does not have canary enabled", deployID)
	}

	switch action {
	case CanaryAdvance:
		if deployment.CanaryState != "running" {
			return nil, fmt.Errorf("rulepack: canary is not running")
		}
		nextStage := nextCanaryStage(deployment.CanaryStages, deployment.CanaryCurrentStage)
		state := "running"
		if nextStage >= 100 {
			state = "completed"
		}
		if err := a.store.UpdateCanary(ctx, deployID, nextStage, state); err != nil {
			return nil, err
		}
		return &CanaryControlResult{DeployID: deployID, CanaryState: state, CurrentStage: nextStage, Message: fmt.Sprintf("advanced to stage %d", nextStage)}, nil

	case CanaryPause:
		if deployment.CanaryState != "running" {
			return nil, fmt.Errorf("rulepack: canary is not running")
		}
		if err := a.store.UpdateCanary(ctx, deployID, deployment.CanaryCurrentStage, "paused"); err != nil {
			return nil, err
		}
		return &CanaryControlResult{DeployID: deployID, CanaryState: "paused", CurrentStage: deployment.CanaryCurrentStage, Message: "canary paused"}, nil

	case CanaryCancel:
		if err := a.store.UpdateCanary(ctx, deployID, deployment.CanaryCurrentStage, "failed"); err != nil {
			return nil, err
		}
		return &CanaryControlResult{DeployID: deployID, CanaryState: "failed", CurrentStage: deployment.CanaryCurrentStage, Message: "canary cancelled"}, nil

	default:
		return nil, fmt.Errorf("rulepack: invalid canary action %q", action)
	}
}

// nextCanaryStage returns the next configured stage strictly greater than
// current, or 100 if current is already at or past the last stage.
func nextCanaryStage(stages []int, current int) int {
	for _, s := range stages {
		if s > current {
			return s
		}
	}
	return 100
}

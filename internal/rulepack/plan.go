package rulepack

import (
	"context"
	"fmt"
)

// Planner computes deployment plans and their guardrails.
type Planner struct {
	store Store
}

func NewPlanner(store Store) *Planner { return &Planner{store: store} }

// Plan implements spec §4.8 step 2: diff the pack's items against the
// tenant's currently-active rules.
func (p *Planner) Plan(ctx context.Context, tenantID, packID string, strategy Strategy, matchBy MatchBy, newPlanID string) (*PlanResult, error) {
	if strategy != StrategySafe && strategy != StrategyForce {
		return nil, fmt.Errorf("rulepack: strategy must be %q or %q", StrategySafe, StrategyForce)
	}

	items, err := p.store.GetItems(ctx, packID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("rulepack: pack %s not found or has no items", packID)
	}

	existing, err := p.store.GetExistingRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	existingByID := make(map[string]ExistingRule, len(existing))
	existingByName := make(map[string]ExistingRule, len(existing))
	for _, r := range existing {
		existingByID[r.RuleID] = r
		existingByName[r.Name] = r
	}

	var hot map[string]bool
	if strategy == StrategySafe {
		hot, err = p.store.GetHotRuleIDs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}

	var entries []PlanEntry
	totals := Totals{}
	packRuleIDs := make(map[string]bool, len(items))

	for _, it := range items {
		packRuleIDs[it.RuleID] = true
		var match ExistingRule
		var found bool
		if matchBy == MatchByRuleID {
			match, found = existingByID[it.RuleID]
		} else {
			match, found = existingByName[it.Name]
		}

		var warnings []string
		if !it.CompileResult.OK {
			warnings = append(warnings, "Compilation failed")
		}

		switch {
		case !found:
			totals.Create++
			entries = append(entries, PlanEntry{Action: ActionCreate, RuleID: it.RuleID, Name: it.Name, ToSHA: it.SHA256, Warnings: warnings})
		case match.SHA256 != it.SHA256:
			totals.Update++
			entries = append(entries, PlanEntry{Action: ActionUpdate, RuleID: it.RuleID, Name: it.Name, FromSHA: match.SHA256, ToSHA: it.SHA256, Warnings: warnings})
		default:
			totals.Skip++
			entries = append(entries, PlanEntry{Action: ActionSkip, RuleID: it.RuleID, Name: it.Name, FromSHA: it.SHA256, ToSHA: it.SHA256, Warnings: warnings})
		}
	}

	for ruleID, r := range existingByID {
		if packRuleIDs[ruleID] {
			continue
		}
		if strategy == StrategySafe && hot[ruleID] {
			continue
		}
		totals.Disable++
		entries = append(entries, PlanEntry{Action: ActionDisable, RuleID: ruleID, Name: r.Name, FromSHA: r.SHA256})
	}

	totalRules, err := p.store.TotalRuleCount(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	guardrails := calculateGuardrails(entries, totals, strategy, totalRules)

	result := &PlanResult{
		PlanID:     newPlanID,
		PackID:     packID,
		Strategy:   strategy,
		MatchBy:    matchBy,
		Entries:    entries,
		Totals:     totals,
		Guardrails: guardrails,
	}
	if err := p.store.SavePlan(ctx, *result); err != nil {
		return nil, err
	}
	return result, nil
}

// calculateGuardrails implements spec §4.8's guardrail computation.
func calculateGuardrails(entries []PlanEntry, totals Totals, strategy Strategy, totalRules int) GuardrailStatus {
	var blocked []string

	compilationClean := true
	for _, e := range entries {
		for _, w := range e.Warnings {
			if w == "Compilation failed" {
				compilationClean = false
			}
		}
	}
	if !compilationClean {
		blocked = append(blocked, "compilation_error")
	}

	hotDisableSafe := true // enforced upstream by excluding hot rules from DISABLE in safe mode

	quotaOK := true
	if totalRules > 0 {
		updatePct := float64(totals.Update) / float64(totalRules) * 100.0
		quotaOK = updatePct <= MaxUpdatePercent
	}
	if !quotaOK {
		blocked = append(blocked, "quota_exceeded")
	}

	blastRadiusOK := totals.BlastRadius() <= MaxBlastRadius || strategy == StrategyForce
	if !blastRadiusOK {
		blocked = append(blocked, "blast_radius_too_large")
	}

	return GuardrailStatus{
		CompilationClean: compilationClean,
		HotDisableSafe:   hotDisableSafe,
		QuotaOK:          quotaOK,
		BlastRadiusOK:    blastRadiusOK,
		HealthOK:         true,
		LockOK:           true,
		IdempotencyOK:    true,
		BlockedReasons:   blocked,
	}
}

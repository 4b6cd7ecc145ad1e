package rulepack

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iff-guardian/siem-platform/pkg/kv"
)

// fakeStore is an in-memory Store for tests.
type fakeStore struct {
	mu sync.Mutex

	packs         map[string]Pack
	items         map[string][]Item
	existingRules map[string][]ExistingRule
	hotRules      map[string]map[string]bool
	totalRules    map[string]int
	plans         map[string]PlanResult
	deployments   map[string]Deployment
	snapshots     map[string][]Snapshot
	ruleBodies    map[string]string
	changeLog     []changeLogEntry
	artifacts     []artifactEntry
}

type changeLogEntry struct {
	tenantID, actor, action, ruleID, fromSHA, toSHA, deployID string
}

type artifactEntry struct {
	deployID, kind string
	content        any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		packs:         map[string]Pack{},
		items:         map[string][]Item{},
		existingRules: map[string][]ExistingRule{},
		hotRules:      map[string]map[string]bool{},
		totalRules:    map[string]int{},
		plans:         map[string]PlanResult{},
		deployments:   map[string]Deployment{},
		snapshots:     map[string][]Snapshot{},
		ruleBodies:    map[string]string{},
	}
}

func (f *fakeStore) CreatePack(ctx context.Context, p Pack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packs[p.PackID] = p
	return nil
}

func (f *fakeStore) InsertItems(ctx context.Context, packID string, items []Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[packID] = items
	return nil
}

func (f *fakeStore) GetItems(ctx context.Context, packID string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[packID], nil
}

func (f *fakeStore) GetPack(ctx context.Context, packID string) (*Pack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packs[packID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) ListPacks(ctx context.Context, limit int) ([]Pack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Pack
	for _, p := range f.packs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetExistingRules(ctx context.Context, tenantID string) ([]ExistingRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existingRules[tenantID], nil
}

func (f *fakeStore) GetHotRuleIDs(ctx context.Context, tenantID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hotRules[tenantID], nil
}

func (f *fakeStore) TotalRuleCount(ctx context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalRules[tenantID], nil
}

func (f *fakeStore) SavePlan(ctx context.Context, r PlanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[r.PlanID] = r
	return nil
}

func (f *fakeStore) GetPlan(ctx context.Context, planID string) (*PlanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[planID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) CreateDeployment(ctx context.Context, d Deployment, strategy Strategy, actor, idempotencyKey, forceReason string, blastRadius int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.Strategy = strategy
	f.deployments[d.DeployID] = d
	return nil
}

func (f *fakeStore) FinishDeployment(ctx context.Context, deployID string, summary DeploySummary, totals Totals, errs []string) error {
	return nil
}

func (f *fakeStore) GetDeployment(ctx context.Context, deployID string) (*Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[deployID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeStore) UpdateCanary(ctx context.Context, deployID string, stage int, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deployments[deployID]
	d.CanaryCurrentStage = stage
	d.CanaryState = state
	f.deployments[deployID] = d
	return nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, s Snapshot, packID, deployID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[deployID] = append(f.snapshots[deployID], s)
	return nil
}

func (f *fakeStore) GetSnapshots(ctx context.Context, deployID string) ([]Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[deployID], nil
}

func (f *fakeStore) GetRuleBody(ctx context.Context, ruleID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.ruleBodies[ruleID]
	return body, ok, nil
}

func (f *fakeStore) AppendChangeLog(ctx context.Context, tenantID, actor, action, ruleID, fromSHA, toSHA, deployID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeLog = append(f.changeLog, changeLogEntry{tenantID, actor, action, ruleID, fromSHA, toSHA, deployID})
	return nil
}

func (f *fakeStore) SaveArtifact(ctx context.Context, deployID, kind string, content any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, artifactEntry{deployID, kind, content})
	return nil
}

func newTestKV(t *testing.T) *kv.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client, err := kv.New(fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func buildZipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const sampleSigmaRule = `
title: Suspicious PowerShell
id: rule-ps-1
level: high
tags: [attack.execution]
detection:
  selection:
    EventID: 4104
  condition: selection
`

func TestUploader_Upload_ValidZip(t *testing.T) {
	store := newFakeStore()
	u := NewUploader(store)
	archive := buildZipArchive(t, map[string]string{"rules/ps.yml": sampleSigmaRule})

	result, err := u.Upload(context.Background(), archive, "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Items)
	assert.Empty(t, result.Errors)

	items, err := store.GetItems(context.Background(), result.PackID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rule-ps-1", items[0].RuleID)
	assert.True(t, items[0].CompileResult.OK)
}

func TestUploader_Upload_RejectsEmptyArchive(t *testing.T) {
	store := newFakeStore()
	u := NewUploader(store)
	_, err := u.Upload(context.Background(), []byte{}, "", "", "", "")
	assert.Error(t, err)
}

func TestUploader_Upload_RejectsOversizedArchive(t *testing.T) {
	store := newFakeStore()
	u := NewUploader(store)
	big := make([]byte, MaxUploadSize+1)
	_, err := u.Upload(context.Background(), big, "", "", "", "")
	assert.Error(t, err)
}

func TestUploader_Upload_NoValidRulesRejected(t *testing.T) {
	store := newFakeStore()
	u := NewUploader(store)
	archive := buildZipArchive(t, map[string]string{"readme.txt": "hello"})
	_, err := u.Upload(context.Background(), archive, "", "", "", "")
	assert.Error(t, err)
}

func TestPlanner_Plan_CreateUpdateSkipDisable(t *testing.T) {
	store := newFakeStore()
	store.items["pack1"] = []Item{
		{RuleID: "r1", Name: "Rule One", SHA256: "newsha1", CompileResult: CompileResult{OK: true}},
		{RuleID: "r2", Name: "Rule Two", SHA256: "sha2", CompileResult: CompileResult{OK: true}},
	}
	store.existingRules["acme"] = []ExistingRule{
		{RuleID: "r1", Name: "Rule One", SHA256: "oldsha1"},
		{RuleID: "r2", Name: "Rule Two", SHA256: "sha2"},
		{RuleID: "r3", Name: "Rule Three", SHA256: "sha3"},
	}
	// One update among four tenant rules is 25%, within the 30% update quota.
	store.totalRules["acme"] = 4

	p := NewPlanner(store)
	result, err := p.Plan(context.Background(), "acme", "pack1", StrategySafe, MatchByRuleID, "plan1")
	require.NoError(t, err)

	assert.Equal(t, 0, result.Totals.Create)
	assert.Equal(t, 1, result.Totals.Update)
	assert.Equal(t, 1, result.Totals.Skip)
	assert.Equal(t, 1, result.Totals.Disable)
	assert.True(t, result.Guardrails.Passed())
}

func TestPlanner_Plan_SafeStrategyProtectsHotRules(t *testing.T) {
	store := newFakeStore()
	store.items["pack1"] = []Item{{RuleID: "r1", Name: "Rule One", SHA256: "sha1", CompileResult: CompileResult{OK: true}}}
	store.existingRules["acme"] = []ExistingRule{
		{RuleID: "r1", Name: "Rule One", SHA256: "sha1"},
		{RuleID: "r2", Name: "Hot Rule", SHA256: "sha2"},
	}
	store.hotRules["acme"] = map[string]bool{"r2": true}
	store.totalRules["acme"] = 2

	p := NewPlanner(store)
	result, err := p.Plan(context.Background(), "acme", "pack1", StrategySafe, MatchByRuleID, "plan1")
	require.NoError(t, err)

	for _, e := range result.Entries {
		assert.NotEqual(t, ActionDisable, e.Action, "hot rule must not be disabled under safe strategy")
	}
}

func TestPlanner_Plan_ForceStrategyDisablesHotRules(t *testing.T) {
	store := newFakeStore()
	store.items["pack1"] = []Item{{RuleID: "r1", Name: "Rule One", SHA256: "sha1", CompileResult: CompileResult{OK: true}}}
	store.existingRules["acme"] = []ExistingRule{
		{RuleID: "r1", Name: "Rule One", SHA256: "sha1"},
		{RuleID: "r2", Name: "Hot Rule", SHA256: "sha2"},
	}
	store.hotRules["acme"] = map[string]bool{"r2": true}
	store.totalRules["acme"] = 2

	p := NewPlanner(store)
	result, err := p.Plan(context.Background(), "acme", "pack1", StrategyForce, MatchByRuleID, "plan1")
	require.NoError(t, err)

	found := false
	for _, e := range result.Entries {
		if e.RuleID == "r2" && e.Action == ActionDisable {
			found = true
		}
	}
	assert.True(t, found, "force strategy must allow disabling hot rules")
}

func TestPlanner_Plan_BlastRadiusGuardrail(t *testing.T) {
	store := newFakeStore()
	var items []Item
	var existing []ExistingRule
	for i := 0; i < MaxBlastRadius+1; i++ {
		id := fmt.Sprintf("r%d", i)
		items = append(items, Item{RuleID: id, Name: id, SHA256: "s", CompileResult: CompileResult{OK: true}})
	}
	store.items["pack1"] = items
	store.existingRules["acme"] = existing
	store.totalRules["acme"] = MaxBlastRadius + 1

	p := NewPlanner(store)
	result, err := p.Plan(context.Background(), "acme", "pack1", StrategySafe, MatchByRuleID, "plan1")
	require.NoError(t, err)
	assert.False(t, result.Guardrails.BlastRadiusOK)
	assert.False(t, result.Guardrails.Passed())
}

func TestPlanner_Plan_CompilationFailedWarningBlocksGuardrail(t *testing.T) {
	store := newFakeStore()
	store.items["pack1"] = []Item{{RuleID: "r1", Name: "Rule One", SHA256: "sha1", CompileResult: CompileResult{OK: false}}}
	store.totalRules["acme"] = 1

	p := NewPlanner(store)
	result, err := p.Plan(context.Background(), "acme", "pack1", StrategySafe, MatchByRuleID, "plan1")
	require.NoError(t, err)
	assert.False(t, result.Guardrails.CompilationClean)
	assert.Contains(t, result.Guardrails.BlockedReasons, "compilation_error")
}

func TestPlanner_Plan_RejectsUnknownStrategy(t *testing.T) {
	store := newFakeStore()
	p := NewPlanner(store)
	_, err := p.Plan(context.Background(), "acme", "pack1", "bogus", MatchByRuleID, "plan1")
	assert.Error(t, err)
}

func TestApplier_Apply_CreatesDeploymentAndChangeLog(t *testing.T) {
	store := newFakeStore()
	store.plans["plan1"] = PlanResult{
		PlanID: "plan1", PackID: "pack1", Strategy: StrategySafe,
		Entries: []PlanEntry{
			{Action: ActionCreate, RuleID: "r1", ToSHA: "sha1"},
			{Action: ActionUpdate, RuleID: "r2", FromSHA: "old", ToSHA: "new"},
			{Action: ActionDisable, RuleID: "r3", FromSHA: "sha3"},
			{Action: ActionSkip, RuleID: "r4"},
		},
		Totals: Totals{Create: 1, Update: 1, Disable: 1, Skip: 1},
	}
	store.ruleBodies["r2"] = "body-r2"
	store.ruleBodies["r3"] = "body-r3"

	applier := NewApplier(store, newTestKV(t))
	result, err := applier.Apply(context.Background(), ApplyRequest{
		TenantID: "acme", PlanID: "plan1", IdempotencyKey: "key-1", Actor: "alice",
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, []string{"r1"}, result.Summary.RulesCreated)
	assert.Equal(t, []string{"r2"}, result.Summary.RulesUpdated)
	assert.Equal(t, []string{"r3"}, result.Summary.RulesDisabled)
	assert.Len(t, store.changeLog, 3)
	assert.Len(t, store.snapshots[result.DeployID], 2, "snapshots only taken for entries with a from_sha")
}

func TestApplier_Apply_IdempotentReplay(t *testing.T) {
	store := newFakeStore()
	store.plans["plan1"] = PlanResult{PlanID: "plan1", PackID: "pack1", Strategy: StrategySafe}

	applier := NewApplier(store, newTestKV(t))
	req := ApplyRequest{TenantID: "acme", PlanID: "plan1", IdempotencyKey: "dup-key", Actor: "alice"}

	first, err := applier.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := applier.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.DeployID, second.DeployID)
}

func TestApplier_Apply_RequiresIdempotencyKey(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, newTestKV(t))
	_, err := applier.Apply(context.Background(), ApplyRequest{TenantID: "acme", PlanID: "plan1"})
	assert.Error(t, err)
}

func TestApplier_Apply_RejectsShortCanaryInterval(t *testing.T) {
	store := newFakeStore()
	store.plans["plan1"] = PlanResult{PlanID: "plan1"}
	applier := NewApplier(store, newTestKV(t))
	_, err := applier.Apply(context.Background(), ApplyRequest{
		TenantID: "acme", PlanID: "plan1", IdempotencyKey: "k1",
		Canary: &CanaryConfig{Enabled: true, Stages: []int{10, 50, 100}, IntervalSec: 5},
	})
	assert.Error(t, err)
}

func TestApplier_Apply_DryRunSkipsChangeLog(t *testing.T) {
	store := newFakeStore()
	store.plans["plan1"] = PlanResult{
		PlanID: "plan1",
		Entries: []PlanEntry{{Action: ActionCreate, RuleID: "r1", ToSHA: "sha1"}},
		Totals:  Totals{Create: 1},
	}
	applier := NewApplier(store, newTestKV(t))
	result, err := applier.Apply(context.Background(), ApplyRequest{
		TenantID: "acme", PlanID: "plan1", IdempotencyKey: "k1", DryRun: true,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Summary.RulesCreated)
	assert.Empty(t, store.changeLog)
}

func TestApplier_Rollback_RestoresSnapshots(t *testing.T) {
	store := newFakeStore()
	store.deployments["deploy1"] = Deployment{DeployID: "deploy1", PackID: "pack1"}
	store.snapshots["deploy1"] = []Snapshot{{RuleID: "r1", SHA256: "oldsha", Body: "old body"}}

	applier := NewApplier(store, newTestKV(t))
	result, err := applier.Rollback(context.Background(), RollbackRequest{
		TenantID: "acme", DeployID: "deploy1", IdempotencyKey: "rb-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, result.Summary.RulesUpdated)
	assert.NotEqual(t, "deploy1", result.RollbackDeployID)
}

func TestApplier_Rollback_RejectsMissingSnapshots(t *testing.T) {
	store := newFakeStore()
	store.deployments["deploy1"] = Deployment{DeployID: "deploy1"}
	applier := NewApplier(store, newTestKV(t))
	_, err := applier.Rollback(context.Background(), RollbackRequest{
		TenantID: "acme", DeployID: "deploy1", IdempotencyKey: "rb-1",
	})
	assert.Error(t, err)
}

func TestApplier_CanaryControl_AdvancePauseCancel(t *testing.T) {
	store := newFakeStore()
	store.deployments["deploy1"] = Deployment{
		DeployID: "deploy1", CanaryEnabled: true, CanaryStages: []int{10, 50, 100}, CanaryState: "running",
	}
	applier := NewApplier(store, newTestKV(t))

	res, err := applier.CanaryControl(context.Background(), "deploy1", CanaryAdvance)
	require.NoError(t, err)
	assert.Equal(t, 10, res.CurrentStage)
	assert.Equal(t, "running", res.CanaryState)

	res, err = applier.CanaryControl(context.Background(), "deploy1", CanaryPause)
	require.NoError(t, err)
	assert.Equal(t, "paused", res.CanaryState)

	store.deployments["deploy1"] = Deployment{DeployID: "deploy1", CanaryEnabled: true, CanaryState: "running"}
	res, err = applier.CanaryControl(context.Background(), "deploy1", CanaryCancel)
	require.NoError(t, err)
	assert.Equal(t, "failed", res.CanaryState)
}

func TestApplier_CanaryControl_RejectsWhenNotEnabled(t *testing.T) {
	store := newFakeStore()
	store.deployments["deploy1"] = Deployment{DeployID: "deploy1", CanaryEnabled: false}
	applier := NewApplier(store, newTestKV(t))
	_, err := applier.CanaryControl(context.Background(), "deploy1", CanaryAdvance)
	assert.Error(t, err)
}

// Package rulepack implements rule-pack deployment (C10): upload, plan,
// apply (with idempotency and a per-tenant distributed lock), rollback,
// and canary control, per spec §4.8.
package rulepack

import "time"

const (
	MaxUploadSize    = 50 * 1024 * 1024 // 50 MiB
	MaxItemsPerPack  = 5000
	MaxUpdatePercent = 30.0
	MaxBlastRadius   = 500
)

// Item is one parsed rule within an uploaded pack.
type Item struct {
	ItemID        string
	Kind          string // SIGMA or NATIVE
	RuleID        string
	Name          string
	Severity      string
	Tags          []string
	Body          string
	SHA256        string
	CompileResult CompileResult
}

// CompileResult is the outcome of attempting to compile one rule item.
type CompileResult struct {
	OK    bool   `json:"ok"`
	SQL   string `json:"sql,omitempty"`
	Error string `json:"error,omitempty"`
}

// Pack is a stored rule-pack's metadata.
type Pack struct {
	PackID     string
	Name       string
	Version    string
	Source     string
	Uploader   string
	UploadedAt time.Time
	Items      int
	SHA256     string
}

// UploadResult is returned from Upload.
type UploadResult struct {
	PackID string
	Items  int
	SHA256 string
	Errors []UploadError
}

// UploadError names one item that failed to parse or compile.
type UploadError struct {
	ItemID string
	RuleID string
	Error  string
}

// Action is a plan entry's disposition.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDisable Action = "DISABLE"
	ActionSkip    Action = "SKIP"
)

// Strategy controls whether hot rules may be disabled.
type Strategy string

const (
	StrategySafe  Strategy = "safe"
	StrategyForce Strategy = "force"
)

// MatchBy selects the key used to diff pack items against existing rules.
type MatchBy string

const (
	MatchByRuleID MatchBy = "rule_id"
	MatchByName   MatchBy = "name"
)

// PlanEntry is one diffed rule.
type PlanEntry struct {
	Action   Action
	RuleID   string
	Name     string
	FromSHA  string
	ToSHA    string
	Warnings []string
}

// Totals summarizes a plan or deployment's action counts.
type Totals struct {
	Create  int
	Update  int
	Disable int
	Skip    int
}

func (t Totals) BlastRadius() int { return t.Create + t.Update + t.Disable }

// GuardrailStatus is the set of pre-apply safety checks (spec §4.8).
type GuardrailStatus struct {
	CompilationClean bool
	HotDisableSafe   bool
	QuotaOK          bool
	BlastRadiusOK    bool
	HealthOK         bool
	LockOK           bool
	IdempotencyOK    bool
	BlockedReasons   []string
}

// Passed reports whether every guardrail allows the apply to proceed.
func (g GuardrailStatus) Passed() bool {
	return g.CompilationClean && g.HotDisableSafe && g.QuotaOK && g.BlastRadiusOK &&
		g.HealthOK && g.LockOK && g.IdempotencyOK
}

// PlanResult is the output of Plan.
type PlanResult struct {
	PlanID     string
	PackID     string
	Strategy   Strategy
	MatchBy    MatchBy
	Entries    []PlanEntry
	Totals     Totals
	Guardrails GuardrailStatus
}

// CanaryConfig requests staged rollout for an Apply.
type CanaryConfig struct {
	Enabled     bool
	Stages      []int // e.g. [10, 25, 50, 100]
	IntervalSec int   // minimum 30
}

// CanaryStatus reports an in-flight canary's state.
type CanaryStatus struct {
	Enabled      bool
	CurrentStage int
	Stages       []int
	State        string // running, paused, failed, completed
}

// DeploySummary lists the rule_ids affected by a deployment.
type DeploySummary struct {
	RulesCreated  []string
	RulesUpdated  []string
	RulesDisabled []string
}

// ApplyRequest is Apply's input.
type ApplyRequest struct {
	TenantID       string
	PlanID         string
	IdempotencyKey string
	Actor          string
	DryRun         bool
	Canary         *CanaryConfig
	Force          bool
	ForceReason    string
}

// ApplyResult is Apply's output.
type ApplyResult struct {
	DeployID string
	Summary  DeploySummary
	Totals   Totals
	Errors   []string
	Replayed bool
	Canary   *CanaryStatus
}

// RollbackRequest is Rollback's input.
type RollbackRequest struct {
	TenantID       string
	DeployID       string
	IdempotencyKey string
	Reason         string
}

// RollbackResult is Rollback's output.
type RollbackResult struct {
	RollbackDeployID string
	OriginalDeployID string
	Summary          DeploySummary
	Totals           Totals
}

// Deployment is a stored deployment record, as needed by rollback/canary.
type Deployment struct {
	DeployID           string
	PackID             string
	Strategy           Strategy
	CanaryEnabled      bool
	CanaryStages       []int
	CanaryCurrentStage int
	CanaryState        string
}

// Snapshot is a pre-apply rule body captured for rollback.
type Snapshot struct {
	SnapshotID string
	RuleID     string
	SHA256     string
	Body       string
}

// ExistingRule is a currently-active rule for a tenant.
type ExistingRule struct {
	RuleID string
	Name   string
	SHA256 string
	Body   string
}

package rulepack

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store is the persistence surface rulepack needs. The concrete
// implementation (*PostgresStore) talks to Postgres via lib/pq; tests use
// an in-memory fake satisfying the same interface.
type Store interface {
	CreatePack(ctx context.Context, p Pack) error
	InsertItems(ctx context.Context, packID string, items []Item) error
	GetItems(ctx context.Context, packID string) ([]Item, error)
	GetPack(ctx context.Context, packID string) (*Pack, error)
	ListPacks(ctx context.Context, limit int) ([]Pack, error)

	GetExistingRules(ctx context.Context, tenantID string) ([]ExistingRule, error)
	GetHotRuleIDs(ctx context.Context, tenantID string) (map[string]bool, error)
	TotalRuleCount(ctx context.Context, tenantID string) (int, error)

	SavePlan(ctx context.Context, r PlanResult) error
	GetPlan(ctx context.Context, planID string) (*PlanResult, error)

	CreateDeployment(ctx context.Context, d Deployment, strategy Strategy, actor, idempotencyKey, forceReason string, blastRadius int) error
	FinishDeployment(ctx context.Context, deployID string, summary DeploySummary, totals Totals, errs []string) error
	GetDeployment(ctx context.Context, deployID string) (*Deployment, error)
	UpdateCanary(ctx context.Context, deployID string, stage int, state string) error

	SaveSnapshot(ctx context.Context, s Snapshot, packID, deployID string) error
	GetSnapshots(ctx context.Context, deployID string) ([]Snapshot, error)
	GetRuleBody(ctx context.Context, ruleID string) (string, bool, error)

	AppendChangeLog(ctx context.Context, tenantID, actor, action, ruleID, fromSHA, toSHA, deployID string) error
	SaveArtifact(ctx context.Context, deployID, kind string, content any) error
}

// PostgresStore implements Store against Postgres via database/sql + lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool to dsn (a postgres:// URL) and
// verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("rulepack: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("rulepack: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreatePack(ctx context.Context, p Pack) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_packs (pack_id, name, version, source, uploader, items, sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.PackID, p.Name, p.Version, p.Source, p.Uploader, p.Items, p.SHA256)
	if err != nil {
		return fmt.Errorf("rulepack: insert pack: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertItems(ctx context.Context, packID string, items []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rulepack: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, it := range items {
		tagsJSON, _ := json.Marshal(it.Tags)
		compileJSON, _ := json.Marshal(it.CompileResult)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rule_pack_items
				(pack_id, item_id, kind, rule_id, name, severity, tags, body, sha256, compile_result)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			packID, it.ItemID, it.Kind, it.RuleID, it.Name, it.Severity, tagsJSON, it.Body, it.SHA256, compileJSON)
		if err != nil {
			return fmt.Errorf("rulepack: insert item %s: %w", it.ItemID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetItems(ctx context.Context, packID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, kind, rule_id, name, severity, tags, body, sha256, compile_result
		FROM rule_pack_items WHERE pack_id = $1`, packID)
	if err != nil {
		return nil, fmt.Errorf("rulepack: query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var tagsJSON, compileJSON []byte
		if err := rows.Scan(&it.ItemID, &it.Kind, &it.RuleID, &it.Name, &it.Severity, &tagsJSON, &it.Body, &it.SHA256, &compileJSON); err != nil {
			return nil, fmt.Errorf("rulepack: scan item: %w", err)
		}
		_ = json.Unmarshal(tagsJSON, &it.Tags)
		_ = json.Unmarshal(compileJSON, &it.CompileResult)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetPack(ctx context.Context, packID string) (*Pack, error) {
	var p Pack
	err := s.db.QueryRowContext(ctx, `
		SELECT pack_id, name, version, source, uploader, uploaded_at, items, sha256
		FROM rule_packs WHERE pack_id = $1`, packID).
		Scan(&p.PackID, &p.Name, &p.Version, &p.Source, &p.Uploader, &p.UploadedAt, &p.Items, &p.SHA256)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulepack: get pack: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPacks(ctx context.Context, limit int) ([]Pack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pack_id, name, version, source, uploader, uploaded_at, items, sha256
		FROM rule_packs ORDER BY uploaded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("rulepack: list packs: %w", err)
	}
	defer rows.Close()
	var packs []Pack
	for rows.Next() {
		var p Pack
		if err := rows.Scan(&p.PackID, &p.Name, &p.Version, &p.Source, &p.Uploader, &p.UploadedAt, &p.Items, &p.SHA256); err != nil {
			return nil, fmt.Errorf("rulepack: scan pack: %w", err)
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

func (s *PostgresStore) GetExistingRules(ctx context.Context, tenantID string) ([]ExistingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, name, sha256, body FROM alert_rules
		WHERE tenant_id = $1 AND deleted = false`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rulepack: query existing rules: %w", err)
	}
	defer rows.Close()
	var rules []ExistingRule
	for rows.Next() {
		var r ExistingRule
		if err := rows.Scan(&r.RuleID, &r.Name, &r.SHA256, &r.Body); err != nil {
			return nil, fmt.Errorf("rulepack: scan existing rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) GetHotRuleIDs(ctx context.Context, tenantID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT rule_id FROM rule_fire_events
		WHERE tenant_id = $1 AND fired_at > now() - interval '30 days'`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rulepack: query hot rules: %w", err)
	}
	defer rows.Close()
	hot := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rulepack: scan hot rule: %w", err)
		}
		hot[id] = true
	}
	return hot, rows.Err()
}

func (s *PostgresStore) TotalRuleCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM alert_rules WHERE tenant_id = $1 AND deleted = false`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rulepack: count rules: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, r PlanResult) error {
	entriesJSON, _ := json.Marshal(r.Entries)
	totalsJSON, _ := json.Marshal(r.Totals)
	guardrailsJSON, _ := json.Marshal(r.Guardrails)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_pack_plans (plan_id, pack_id, strategy, match_by, plan_data, totals)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.PlanID, r.PackID, r.Strategy, r.MatchBy, entriesJSON, totalsJSON)
	if err != nil {
		return fmt.Errorf("rulepack: save plan: %w", err)
	}
	return s.SaveArtifact(ctx, r.PlanID, "plan", guardrailsJSON)
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (*PlanResult, error) {
	var r PlanResult
	var entriesJSON, totalsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_id, pack_id, strategy, match_by, plan_data, totals
		FROM rule_pack_plans WHERE plan_id = $1`, planID).
		Scan(&r.PlanID, &r.PackID, &r.Strategy, &r.MatchBy, &entriesJSON, &totalsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulepack: get plan: %w", err)
	}
	_ = json.Unmarshal(entriesJSON, &r.Entries)
	_ = json.Unmarshal(totalsJSON, &r.Totals)
	return &r, nil
}

func (s *PostgresStore) CreateDeployment(ctx context.Context, d Deployment, strategy Strategy, actor, idempotencyKey, forceReason string, blastRadius int) error {
	stagesJSON, _ := json.Marshal(d.CanaryStages)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_pack_deployments
			(deploy_id, pack_id, status, strategy, actor, idempotency_key, canary, canary_stages,
			 canary_current_stage, canary_state, force_reason, blast_radius)
		VALUES ($1, $2, 'APPLIED', $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.DeployID, d.PackID, strategy, actor, idempotencyKey, d.CanaryEnabled, stagesJSON,
		d.CanaryCurrentStage, d.CanaryState, forceReason, blastRadius)
	if err != nil {
		return fmt.Errorf("rulepack: create deployment: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishDeployment(ctx context.Context, deployID string, summary DeploySummary, totals Totals, errs []string) error {
	summaryJSON, _ := json.Marshal(summary)
	_, err := s.db.ExecContext(ctx, `
		UPDATE rule_pack_deployments SET
			finished_at = now(), summary = $1, created = $2, updated = $3,
			disabled = $4, skipped = $5, errors = $6
		WHERE deploy_id = $7`,
		summaryJSON, totals.Create, totals.Update, totals.Disable, totals.Skip, len(errs), deployID)
	if err != nil {
		return fmt.Errorf("rulepack: finish deployment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDeployment(ctx context.Context, deployID string) (*Deployment, error) {
	var d Deployment
	var stagesJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT deploy_id, pack_id, strategy, canary, canary_stages, canary_current_stage, canary_state
		FROM rule_pack_deployments WHERE deploy_id = $1`, deployID).
		Scan(&d.DeployID, &d.PackID, &d.Strategy, &d.CanaryEnabled, &stagesJSON, &d.CanaryCurrentStage, &d.CanaryState)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulepack: get deployment: %w", err)
	}
	_ = json.Unmarshal(stagesJSON, &d.CanaryStages)
	return &d, nil
}

func (s *PostgresStore) UpdateCanary(ctx context.Context, deployID string, stage int, state string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rule_pack_deployments SET canary_current_stage = $1, canary_state = $2
		WHERE deploy_id = $3`, stage, state, deployID)
	if err != nil {
		return fmt.Errorf("rulepack: update canary: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, sn Snapshot, packID, deployID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_snapshots (snapshot_id, rule_id, sha256, body, by_pack, deploy_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sn.SnapshotID, sn.RuleID, sn.SHA256, sn.Body, packID, deployID)
	if err != nil {
		return fmt.Errorf("rulepack: save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshots(ctx context.Context, deployID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, rule_id, sha256, body FROM rule_snapshots WHERE deploy_id = $1`, deployID)
	if err != nil {
		return nil, fmt.Errorf("rulepack: query snapshots: %w", err)
	}
	defer rows.Close()
	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.SnapshotID, &sn.RuleID, &sn.SHA256, &sn.Body); err != nil {
			return nil, fmt.Errorf("rulepack: scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) GetRuleBody(ctx context.Context, ruleID string) (string, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM alert_rules WHERE rule_id = $1`, ruleID).Scan(&body)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rulepack: get rule body: %w", err)
	}
	return body, true, nil
}

func (s *PostgresStore) AppendChangeLog(ctx context.Context, tenantID, actor, action, ruleID, fromSHA, toSHA, deployID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_change_log (tenant_id, actor, action, rule_id, from_sha, to_sha, deploy_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tenantID, actor, action, ruleID, fromSHA, toSHA, deployID)
	if err != nil {
		return fmt.Errorf("rulepack: append change log: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, deployID, kind string, content any) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("rulepack: marshal artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_pack_artifacts (deploy_id, kind, content) VALUES ($1, $2, $3)`,
		deployID, kind, contentJSON)
	if err != nil {
		return fmt.Errorf("rulepack: save artifact: %w", err)
	}
	return nil
}

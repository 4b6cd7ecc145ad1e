package rulepack

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// sigmaRule is the minimal shape Upload needs from a SIGMA YAML rule body
// to derive rule_id/name/severity.
type sigmaRule struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Level    string   `yaml:"level"`
	Tags     []string `yaml:"tags"`
	Detection any     `yaml:"detection"`
}

// Uploader handles rule-pack upload (spec §4.8 step 1).
type Uploader struct {
	store Store
}

func NewUploader(store Store) *Uploader { return &Uploader{store: store} }

// Upload extracts rule items from a zip or tar.gz archive, compiles each,
// and persists the pack.
func (u *Uploader) Upload(ctx context.Context, archive []byte, name, version, source, uploader string) (*UploadResult, error) {
	if len(archive) == 0 {
		return nil, fmt.Errorf("rulepack: empty upload")
	}
	if len(archive) > MaxUploadSize {
		return nil, fmt.Errorf("rulepack: archive exceeds maximum size of %d MiB", MaxUploadSize/1024/1024)
	}

	items, errs, err := extractItems(archive)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("rulepack: no valid rules found in pack")
	}
	if len(items) > MaxItemsPerPack {
		return nil, fmt.Errorf("rulepack: pack contains %d items, maximum is %d", len(items), MaxItemsPerPack)
	}

	sum := sha256.Sum256(archive)
	packSHA := hex.EncodeToString(sum[:])
	packID := uuid.NewString()

	if name == "" {
		name = fmt.Sprintf("pack_%s", time.Now().UTC().Format("20060102_150405"))
	}
	if version == "" {
		version = "1.0.0"
	}
	if source == "" {
		source = "upload"
	}
	if uploader == "" {
		uploader = "system"
	}

	for i := range items {
		items[i].CompileResult = compileRule(items[i].Kind, items[i].Body)
	}

	pack := Pack{PackID: packID, Name: name, Version: version, Source: source, Uploader: uploader, Items: len(items), SHA256: packSHA}
	if err := u.store.CreatePack(ctx, pack); err != nil {
		return nil, err
	}
	if err := u.store.InsertItems(ctx, packID, items); err != nil {
		return nil, err
	}

	return &UploadResult{PackID: packID, Items: len(items), SHA256: packSHA, Errors: errs}, nil
}

func extractItems(archive []byte) ([]Item, []UploadError, error) {
	if isZip(archive) {
		return extractZip(archive)
	}
	return extractTarGz(archive)
}

func isZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}

func extractZip(data []byte) ([]Item, []UploadError, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("rulepack: invalid zip archive: %w", err)
	}
	var items []Item
	var errs []UploadError
	idx := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isRuleFile(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			errs = append(errs, UploadError{ItemID: f.Name, Error: err.Error()})
			continue
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			errs = append(errs, UploadError{ItemID: f.Name, Error: err.Error()})
			continue
		}
		item, err := parseRuleItem(fmt.Sprintf("%04d", idx), f.Name, body)
		if err != nil {
			errs = append(errs, UploadError{ItemID: f.Name, Error: err.Error()})
			continue
		}
		items = append(items, item)
		idx++
	}
	return items, errs, nil
}

func extractTarGz(data []byte) ([]Item, []UploadError, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("rulepack: invalid tar.gz archive: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var items []Item
	var errs []UploadError
	idx := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("rulepack: reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !isRuleFile(hdr.Name) {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			errs = append(errs, UploadError{ItemID: hdr.Name, Error: err.Error()})
			continue
		}
		item, err := parseRuleItem(fmt.Sprintf("%04d", idx), hdr.Name, body)
		if err != nil {
			errs = append(errs, UploadError{ItemID: hdr.Name, Error: err.Error()})
			continue
		}
		items = append(items, item)
		idx++
	}
	return items, errs, nil
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml" || ext == ".json"
}

func parseRuleItem(itemID, filename string, body []byte) (Item, error) {
	var rule sigmaRule
	if err := yaml.Unmarshal(body, &rule); err != nil {
		return Item{}, fmt.Errorf("parsing %s: %w", filename, err)
	}

	ruleID := rule.ID
	if ruleID == "" {
		ruleID = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	severity := strings.ToUpper(rule.Level)
	if severity == "" {
		severity = "MEDIUM"
	}

	sum := sha256.Sum256(body)
	return Item{
		ItemID:   itemID,
		Kind:     "SIGMA",
		RuleID:   ruleID,
		Name:     rule.Title,
		Severity: severity,
		Tags:     rule.Tags,
		Body:     string(body),
		SHA256:   hex.EncodeToString(sum[:]),
	}, nil
}

// compileRule performs a shallow structural check: a SIGMA rule compiles
// cleanly if its body parses as YAML and has a detection block; items of
// any other kind always compile.
func compileRule(kind, body string) CompileResult {
	if kind == "SIGMA" {
		var rule sigmaRule
		if err := yaml.Unmarshal([]byte(body), &rule); err != nil {
			return CompileResult{OK: false, Error: err.Error()}
		}
		if rule.Detection == nil {
			return CompileResult{OK: false, Error: "missing detection block"}
		}
	}
	return CompileResult{OK: true}
}

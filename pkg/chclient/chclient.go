// Package chclient implements a plain HTTP client for a ClickHouse-style
// columnar store, matching the original Rust consumer's access pattern
// (siem_consumer posts JSONEachRow bodies over HTTP rather than using a
// native driver) and the health-probe contract of spec §4.7 (GET /ping,
// POST / body="SELECT 1").
package chclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type Client struct {
	baseURL  string
	database string
	http     *http.Client
}

func New(baseURL, database string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		database: database,
		http:     &http.Client{Timeout: timeout},
	}
}

// tableNameRe and the SQL-keyword blocklist implement the destination
// name validation of spec §4.4.
var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_.]{1,64}$`)

var forbiddenKeywords = []string{"DROP", "DELETE", "INSERT", "UPDATE", "CREATE", "ALTER", "TRUNCATE"}

func ValidateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("table name %q does not match %s", name, tableNameRe.String())
	}
	upper := strings.ToUpper(name)
	for _, kw := range forbiddenKeywords {
		if strings.Contains(upper, kw) {
			return fmt.Errorf("table name %q contains forbidden keyword %q", name, kw)
		}
	}
	return nil
}

// InsertRows performs a single JSONEachRow batch insert; each element of
// rows is a pre-marshaled JSON object (one per line).
func (c *Client) InsertRows(ctx context.Context, table string, rows [][]byte) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, r := range rows {
		body.Write(r)
		body.WriteByte('\n')
	}

	query := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", c.database, table)
	return c.exec(ctx, query, &body)
}

// Query runs an arbitrary read query and returns the raw response body
// (used by C6's query builder, which renders its own SQL).
func (c *Client) Query(ctx context.Context, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", strings.NewReader(query))
	if err != nil {
		return nil, err
	}
	q := url.Values{"database": {c.database}}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chclient: query failed: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chclient: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chclient: query returned status %d: %s", resp.StatusCode, string(b))
	}
	return b, nil
}

func (c *Client) exec(ctx context.Context, query string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/?query="+url.QueryEscape(query), body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chclient: exec failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chclient: exec returned status %d: %s", resp.StatusCode, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping implements the GET /ping health probe (spec §4.7).
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chclient: ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chclient: ping returned status %d", resp.StatusCode)
	}
	return nil
}

// SelectOne implements the POST / body="SELECT 1" probe variant (spec §4.7).
func (c *Client) SelectOne(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1")
	return err
}

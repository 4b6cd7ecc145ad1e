// Package query implements the SQL query builder (C6): it turns a Request
// into a parameterized SQL statement against the allow-listed event
// schema, per spec §4.5.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Error is the builder's typed failure mode (spec §4.5: InvalidField,
// InvalidTableName, UnsupportedAggregation, RegexDisabled).
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errInvalidField(field string) error {
	return &Error{Code: "InvalidField", Message: fmt.Sprintf("field %q is not in the allow-list", field)}
}

func errUnsupportedAggregation(kind AggKind) error {
	return &Error{Code: "UnsupportedAggregation", Message: fmt.Sprintf("unsupported aggregation kind %q", kind)}
}

func errRegexDisabled(field string) error {
	return &Error{Code: "RegexDisabled", Message: fmt.Sprintf("regex filtering is disabled (field %q)", field)}
}

// tenantSanitizeRe matches the '-' that TableFor replaces with '_' when
// substituting a tenant id into events_{tenant}.
var tenantSanitizeRe = regexp.MustCompile(`-`)

// TableFor implements spec §4.5's table routing.
func TableFor(tenantID string) string {
	if tenantID == "" {
		return ""
	}
	return "events_" + tenantSanitizeRe.ReplaceAllString(tenantID, "_")
}

// Built is the builder's output: the rendered SQL and its bound parameters.
type Built struct {
	SQL    string
	Params map[string]any
}

// BuildOptions controls builder behavior not carried on the request itself.
type BuildOptions struct {
	RegexEnabled bool
}

// Build implements spec §4.5 end to end.
func Build(req Request, opts BuildOptions) (*Built, error) {
	params := map[string]any{}

	table, err := fromClause(req.TenantID)
	if err != nil {
		return nil, err
	}

	projection := "*"
	if len(req.Fields) > 0 {
		for _, f := range req.Fields {
			if !IsAllowedField(f) {
				return nil, errInvalidField(f)
			}
		}
		projection = strings.Join(req.Fields, ", ")
	} else {
		projection = strings.Join(DefaultProjection, ", ")
	}

	where, err := whereClause(req, opts, params)
	if err != nil {
		return nil, err
	}

	orderBy := "event_timestamp DESC"
	if len(req.Sort) > 0 {
		parts := make([]string, 0, len(req.Sort))
		for _, s := range req.Sort {
			if !IsAllowedField(s.Field) {
				return nil, errInvalidField(s.Field)
			}
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("%s %s", s.Field, dir))
		}
		orderBy = strings.Join(parts, ", ")
	}

	size := req.Pagination.Size
	if size <= 0 {
		size = 50
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	page := req.Pagination.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size

	sql := fmt.Sprintf("SELECT %s FROM %s", projection, table)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", orderBy, size, offset)

	return &Built{SQL: sql, Params: params}, nil
}

func fromClause(tenantID string) (string, error) {
	if tenantID != "" {
		table := TableFor(tenantID)
		if !regexp.MustCompile(`^events_[A-Za-z0-9_]+$`).MatchString(table) {
			return "", &Error{Code: "InvalidTableName", Message: fmt.Sprintf("tenant %q does not map to a valid table name", tenantID)}
		}
		return table, nil
	}
	// UNION ALL over every table matching events_%, excluding events_v2
	// (spec §4.5): ClickHouse's merge() table function unions every
	// table in the current database whose name matches the regex into
	// one queryable relation with the same event columns as each member
	// table. merge()'s regex is RE2 and has no negative lookahead, so
	// events_v2 is excluded via the _table virtual column merge()
	// exposes, filtered in whereClause instead of the regex itself.
	return "merge(currentDatabase(), '^events_')", nil
}

func whereClause(req Request, opts BuildOptions, params map[string]any) (string, error) {
	var clauses []string

	if req.TenantID != "" {
		clauses = append(clauses, "tenant_id = :tenant")
		params["tenant"] = req.TenantID
	} else {
		clauses = append(clauses, "_table != 'events_v2'")
	}

	if req.TimeStart != nil {
		clauses = append(clauses, "event_timestamp >= :start")
		params["start"] = *req.TimeStart
	}
	if req.TimeEnd != nil {
		clauses = append(clauses, "event_timestamp < :end")
		params["end"] = *req.TimeEnd
	}

	if req.Query != "" {
		// spec §4.5: free-text inputs are URL-encoded before binding.
		q := url.QueryEscape(req.Query)
		if req.Options.FullTextSearch {
			clauses = append(clauses, "hasToken(message, :q)")
			params["q"] = q
		} else {
			clauses = append(clauses, "message ILIKE :q_like")
			params["q_like"] = "%" + q + "%"
		}
	}

	for i, f := range req.Filters {
		clause, err := renderFilter(i, f, opts, params)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	return strings.Join(clauses, " AND "), nil
}

func renderFilter(idx int, f Filter, opts BuildOptions, params map[string]any) (string, error) {
	if !IsAllowedField(f.Field) {
		return "", errInvalidField(f.Field)
	}
	p := fmt.Sprintf("f%d", idx)

	switch f.Op {
	case OpEquals:
		params[p] = f.Value
		return fmt.Sprintf("%s = :%s", f.Field, p), nil
	case OpNotEquals:
		params[p] = f.Value
		return fmt.Sprintf("%s != :%s", f.Field, p), nil
	case OpContains:
		params[p] = "%" + f.Value + "%"
		return fmt.Sprintf("%s ILIKE :%s", f.Field, p), nil
	case OpNotContains:
		params[p] = "%" + f.Value + "%"
		return fmt.Sprintf("%s NOT ILIKE :%s", f.Field, p), nil
	case OpStartsWith:
		params[p] = f.Value + "%"
		return fmt.Sprintf("%s ILIKE :%s", f.Field, p), nil
	case OpEndsWith:
		params[p] = "%" + f.Value
		return fmt.Sprintf("%s ILIKE :%s", f.Field, p), nil
	case OpRegex:
		if !opts.RegexEnabled {
			return "", errRegexDisabled(f.Field)
		}
		params[p] = f.Value
		return fmt.Sprintf("match(%s, :%s)", f.Field, p), nil
	case OpIn:
		names := make([]string, len(f.Values))
		for i, v := range f.Values {
			name := fmt.Sprintf("%s_%d", p, i)
			params[name] = v
			names[i] = ":" + name
		}
		return fmt.Sprintf("%s IN (%s)", f.Field, strings.Join(names, ",")), nil
	case OpNotIn:
		names := make([]string, len(f.Values))
		for i, v := range f.Values {
			name := fmt.Sprintf("%s_%d", p, i)
			params[name] = v
			names[i] = ":" + name
		}
		return fmt.Sprintf("%s NOT IN (%s)", f.Field, strings.Join(names, ",")), nil
	case OpGt:
		params[p] = f.Value
		return fmt.Sprintf("%s > :%s", f.Field, p), nil
	case OpGte:
		params[p] = f.Value
		return fmt.Sprintf("%s >= :%s", f.Field, p), nil
	case OpLt:
		params[p] = f.Value
		return fmt.Sprintf("%s < :%s", f.Field, p), nil
	case OpLte:
		params[p] = f.Value
		return fmt.Sprintf("%s <= :%s", f.Field, p), nil
	case OpBetween:
		aName := p + "_a"
		bName := p + "_b"
		params[aName] = f.Low
		params[bName] = f.High
		return fmt.Sprintf("%s BETWEEN :%s AND :%s", f.Field, aName, bName), nil
	case OpExists:
		return fmt.Sprintf("%s IS NOT NULL", f.Field), nil
	case OpNotExists:
		return fmt.Sprintf("%s IS NULL", f.Field), nil
	default:
		return "", &Error{Code: "InvalidField", Message: fmt.Sprintf("unsupported operator %q", f.Op)}
	}
}

// BuildAggregation renders one named aggregation per spec §4.5.
func BuildAggregation(tenantID string, agg AggRequest, opts BuildOptions) (*Built, error) {
	table, err := fromClause(tenantID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	var where string
	if tenantID != "" {
		where = " WHERE tenant_id = :tenant"
		params["tenant"] = tenantID
	} else {
		where = " WHERE _table != 'events_v2'"
	}

	switch agg.Kind {
	case AggCount:
		return &Built{SQL: fmt.Sprintf("SELECT count() FROM %s%s", table, where), Params: params}, nil
	case AggTerms:
		if !IsAllowedField(agg.Field) {
			return nil, errInvalidField(agg.Field)
		}
		size := agg.Size
		if size <= 0 {
			size = 10
		}
		sql := fmt.Sprintf(
			"SELECT %s, count() AS doc_count FROM %s%s GROUP BY %s ORDER BY doc_count DESC LIMIT %d",
			agg.Field, table, where, agg.Field, size,
		)
		return &Built{SQL: sql, Params: params}, nil
	case AggDateHistogram:
		sql := fmt.Sprintf(
			"SELECT toStartOfInterval(toDateTime(event_timestamp), INTERVAL %s) AS bucket, count() FROM %s%s GROUP BY bucket ORDER BY bucket",
			agg.Interval, table, where,
		)
		return &Built{SQL: sql, Params: params}, nil
	default:
		return nil, errUnsupportedAggregation(agg.Kind)
	}
}

// EscapeLiteral doubles single quotes for the rare case a literal must be
// inlined instead of bound (spec §4.5: "every inlined literal... must
// double single quotes").
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

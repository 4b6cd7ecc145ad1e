package api

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/iff-guardian/siem-platform/internal/query"
	"github.com/iff-guardian/siem-platform/internal/siemerr"
)

// parseSearchRequest decodes GET /events/search's query-parameter
// SearchRequest (spec §6/§3). Simple scalar fields are named params;
// structured fields (filters, sort, aggregations) accept a single
// JSON-encoded query parameter each, since a flat query string cannot
// express nested structures cleanly.
func parseSearchRequest(c *gin.Context) (*query.Request, error) {
	req := &query.Request{
		TenantID: c.Query("tenant_id"),
		Query:    c.Query("q"),
	}
	if req.TenantID == "" {
		return nil, siemerr.Validation("MISSING_TENANT", "tenant_id is required")
	}

	if v := c.Query("time_start"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, siemerr.Validation("INVALID_TIME_START", "time_start must be a unix timestamp")
		}
		t := uint32(n)
		req.TimeStart = &t
	}
	if v := c.Query("time_end"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, siemerr.Validation("INVALID_TIME_END", "time_end must be a unix timestamp")
		}
		t := uint32(n)
		req.TimeEnd = &t
	}

	if v := c.Query("filters"); v != "" {
		var filters []query.Filter
		if err := json.Unmarshal([]byte(v), &filters); err != nil {
			return nil, siemerr.Validation("INVALID_FILTERS", "filters must be a JSON array")
		}
		req.Filters = filters
	}

	if v := c.Query("sort"); v != "" {
		for _, part := range strings.Split(v, ",") {
			fieldDir := strings.SplitN(part, ":", 2)
			sf := query.SortField{Field: fieldDir[0]}
			if len(fieldDir) == 2 && strings.EqualFold(fieldDir[1], "desc") {
				sf.Desc = true
			}
			req.Sort = append(req.Sort, sf)
		}
	}

	if v := c.Query("fields"); v != "" {
		req.Fields = strings.Split(v, ",")
	}

	if v := c.Query("aggregations"); v != "" {
		var aggs map[string]query.AggRequest
		if err := json.Unmarshal([]byte(v), &aggs); err != nil {
			return nil, siemerr.Validation("INVALID_AGGREGATIONS", "aggregations must be a JSON object")
		}
		req.Aggregations = aggs
	}

	page := 1
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	size := 50
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, siemerr.Validation("INVALID_SIZE", "size must be a positive integer")
		}
		size = n
	}
	req.Pagination = query.Pagination{
		Page:         page,
		Size:         size,
		IncludeTotal: c.Query("include_total") == "true",
	}

	req.Options = query.Options{
		EnableCaching:  c.Query("enable_caching") == "true",
		Explain:        c.Query("explain") == "true",
		FullTextSearch: c.Query("full_text_search") == "true",
	}
	if v := c.Query("cache_ttl_secs"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Options.CacheTTLSecs = n
		}
	}

	return req, nil
}

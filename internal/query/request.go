package query

// FilterOp enumerates the operators spec §3/§4.5 supports.
type FilterOp string

const (
	OpEquals      FilterOp = "Equals"
	OpNotEquals   FilterOp = "NotEquals"
	OpContains    FilterOp = "Contains"
	OpNotContains FilterOp = "NotContains"
	OpStartsWith  FilterOp = "StartsWith"
	OpEndsWith    FilterOp = "EndsWith"
	OpRegex       FilterOp = "Regex"
	OpIn          FilterOp = "In"
	OpNotIn       FilterOp = "NotIn"
	OpGt          FilterOp = "Gt"
	OpGte         FilterOp = "Gte"
	OpLt          FilterOp = "Lt"
	OpLte         FilterOp = "Lte"
	OpBetween     FilterOp = "Between"
	OpExists      FilterOp = "Exists"
	OpNotExists   FilterOp = "NotExists"
)

// Filter is one entry of SearchRequest.filters (spec §3).
type Filter struct {
	Field  string
	Op     FilterOp
	Value  string   // used by Equals/NotEquals/Contains/.../Gt.../Regex
	Values []string // used by In/NotIn
	Low    string   // used by Between
	High   string   // used by Between
}

// SortField is one entry of SearchRequest.sort.
type SortField struct {
	Field string
	Desc  bool
}

// Pagination is SearchRequest.pagination.
type Pagination struct {
	Page         int
	Size         int
	IncludeTotal bool
}

// AggKind enumerates the three aggregation shapes of spec §4.5.
type AggKind string

const (
	AggCount         AggKind = "Count"
	AggTerms         AggKind = "Terms"
	AggDateHistogram AggKind = "DateHistogram"
)

// AggRequest is one entry of SearchRequest.aggregations.
type AggRequest struct {
	Kind     AggKind
	Field    string // Terms
	Size     int    // Terms, default 10
	Interval string // DateHistogram, e.g. "1 hour"
}

// Options is SearchRequest.options.
type Options struct {
	EnableCaching  bool
	CacheTTLSecs   int
	Explain        bool
	FullTextSearch bool // enables hasToken() instead of ILIKE for free text
}

// Request is the query builder's input (spec §3 SearchRequest).
type Request struct {
	TenantID      string
	Query         string // free text
	TimeStart     *uint32
	TimeEnd       *uint32
	Filters       []Filter
	Sort          []SortField
	Pagination    Pagination
	Fields        []string // projection override
	Aggregations  map[string]AggRequest
	Options       Options
}

const MaxPageSize = 1000

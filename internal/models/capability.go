package models

import (
	"encoding/json"
	"time"
)

// CapabilityID names one of the backends a turn can invoke.
type CapabilityID string

const (
	CapabilityStructuredQuery CapabilityID = "structured_query"
	CapabilityRawQuery        CapabilityID = "raw_query"
	CapabilitySchemaLookup    CapabilityID = "schema_lookup"
	CapabilityWebSearch       CapabilityID = "web_search"
)

// ErrorKind buckets capability failures so replies can give targeted guidance.
type ErrorKind string

const (
	ErrKindNone          ErrorKind = ""
	ErrKindMissingObject ErrorKind = "missing_object"
	ErrKindPermission    ErrorKind = "permission"
	ErrKindSyntax        ErrorKind = "syntax"
	ErrKindForbidden     ErrorKind = "forbidden"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindUnavailable   ErrorKind = "unavailable"
	ErrKindEmpty         ErrorKind = "empty"
	ErrKindOther         ErrorKind = "other"
)

// CapabilityRequest is a closed sum over the four request shapes.
type CapabilityRequest interface {
	Capability() CapabilityID
	isCapabilityRequest()
}

// CapabilityResult is a closed sum over the four result shapes.
type CapabilityResult interface {
	Capability() CapabilityID
	isCapabilityResult()
}

// StructuredQueryRequest asks the generator to turn a question into SQL.
type StructuredQueryRequest struct {
	Question      string `json:"question"`
	Schema        string `json:"schema"`
	SemanticModel bool   `json:"semantic_model"`
}

// RawQueryRequest executes SQL as given.
type RawQueryRequest struct {
	Query string `json:"query"`
}

// SchemaLookupRequest lists the catalog. Filter is empty, a table name, or "search:<keyword>".
type SchemaLookupRequest struct {
	Filter string `json:"filter,omitempty"`
}

// WebSearchRequest queries the external search service.
type WebSearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (StructuredQueryRequest) Capability() CapabilityID { return CapabilityStructuredQuery }
func (RawQueryRequest) Capability() CapabilityID        { return CapabilityRawQuery }
func (SchemaLookupRequest) Capability() CapabilityID    { return CapabilitySchemaLookup }
func (WebSearchRequest) Capability() CapabilityID       { return CapabilityWebSearch }

func (StructuredQueryRequest) isCapabilityRequest() {}
func (RawQueryRequest) isCapabilityRequest()        {}
func (SchemaLookupRequest) isCapabilityRequest()    {}
func (WebSearchRequest) isCapabilityRequest()       {}

// StructuredQueryResult carries the generated SQL.
type StructuredQueryResult struct {
	Query   string `json:"query"`
	Warning string `json:"warning,omitempty"`
}

// RawQueryResult always carries the submitted query, with a table only on success.
type RawQueryResult struct {
	Query string `json:"query"`
	Table *Table `json:"table,omitempty"`
}

// SchemaLookupResult carries the (possibly filtered) catalog.
type SchemaLookupResult struct {
	Catalog *Catalog `json:"catalog"`
}

// WebSearchResult carries ranked snippets.
type WebSearchResult struct {
	Query    string    `json:"query"`
	Answer   string    `json:"answer,omitempty"`
	Snippets []Snippet `json:"snippets"`
}

func (StructuredQueryResult) Capability() CapabilityID { return CapabilityStructuredQuery }
func (RawQueryResult) Capability() CapabilityID        { return CapabilityRawQuery }
func (SchemaLookupResult) Capability() CapabilityID    { return CapabilitySchemaLookup }
func (WebSearchResult) Capability() CapabilityID       { return CapabilityWebSearch }

func (StructuredQueryResult) isCapabilityResult() {}
func (RawQueryResult) isCapabilityResult()        {}
func (SchemaLookupResult) isCapabilityResult()    {}
func (WebSearchResult) isCapabilityResult()       {}

// Snippet is one ranked web search hit.
type Snippet struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Invocation records one capability call within a turn.
// Result may be set on failure too (raw queries keep the attempted SQL).
type Invocation struct {
	Seq        int               `json:"seq"`
	Capability CapabilityID      `json:"capability"`
	Request    CapabilityRequest `json:"request"`
	Result     CapabilityResult  `json:"result,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	ErrKind    ErrorKind         `json:"error_kind,omitempty"`
	Latency    time.Duration     `json:"latency"`
}

// InvocationRecord is the persisted form of an Invocation.
type InvocationRecord struct {
	Turn       int           `json:"turn"`
	Seq        int           `json:"seq"`
	Capability CapabilityID  `json:"capability"`
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Error      string        `json:"error,omitempty"`
	ErrKind    ErrorKind     `json:"error_kind,omitempty"`
}

// Record flattens the invocation into its persisted form.
func (i Invocation) Record(turn int) InvocationRecord {
	return InvocationRecord{
		Turn:       turn,
		Seq:        i.Seq,
		Capability: i.Capability,
		Success:    i.Success,
		Latency:    i.Latency,
		Input:      marshalPayload(i.Request),
		Output:     marshalPayload(i.Result),
		Error:      i.Error,
		ErrKind:    i.ErrKind,
	}
}

func marshalPayload(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// CapabilityLatency is one entry of a performance breakdown.
type CapabilityLatency struct {
	Seq        int           `json:"seq"`
	Capability CapabilityID  `json:"capability"`
	Latency    time.Duration `json:"latency"`
}

// PerformanceSample is written once per completed turn.
type PerformanceSample struct {
	Turn          int                 `json:"turn"`
	Total         time.Duration       `json:"total"`
	Breakdown     []CapabilityLatency `json:"breakdown"`
	Mix           []CapabilityID      `json:"mix"`
	SemanticModel bool                `json:"semantic_model"`
	Success       bool                `json:"success"`
	RowsReturned  int                 `json:"rows_returned"`
}

// NewPerformanceSample derives breakdown, mix, success and row count from the turn's invocations.
func NewPerformanceSample(turn int, total time.Duration, semanticModel bool, invocations []Invocation) PerformanceSample {
	sample := PerformanceSample{
		Turn:          turn,
		Total:         total,
		Breakdown:     make([]CapabilityLatency, 0, len(invocations)),
		Mix:           make([]CapabilityID, 0, len(invocations)),
		SemanticModel: semanticModel,
		Success:       true,
	}
	seen := make(map[CapabilityID]bool)
	for _, inv := range invocations {
		sample.Breakdown = append(sample.Breakdown, CapabilityLatency{
			Seq:        inv.Seq,
			Capability: inv.Capability,
			Latency:    inv.Latency,
		})
		if !seen[inv.Capability] {
			seen[inv.Capability] = true
			sample.Mix = append(sample.Mix, inv.Capability)
		}
		if !inv.Success {
			sample.Success = false
		}
		if res, ok := inv.Result.(RawQueryResult); ok && res.Table != nil {
			sample.RowsReturned += len(res.Table.Rows)
		}
	}
	return sample
}

// TurnRecord is the unit committed atomically at the end of a turn.
type TurnRecord struct {
	SessionID      string            `json:"session_id"`
	Turn           int               `json:"turn"`
	UserMessage    Message           `json:"user_message"`
	Reply          Message           `json:"reply"`
	Classification Classification    `json:"classification"`
	Invocations    []Invocation      `json:"invocations"`
	Performance    PerformanceSample `json:"performance"`
}

// Package capability runs the individual operations a turn can use: SQL
// generation, query execution, schema lookup and web search. Every call comes
// back as a models.Invocation; failures are recorded, never returned.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/llm"
	"github.com/xaenox/analyst-bot/internal/models"
	"github.com/xaenox/analyst-bot/internal/warehouse"
	"github.com/xaenox/analyst-bot/internal/websearch"
)

const (
	DefaultTimeout = 30 * time.Second

	NoSemanticModelWarning = "no semantic model configured; generated against raw schema"
)

var (
	ErrNoWarehouse    = errors.New("capability: no warehouse connection")
	ErrNoBackend      = errors.New("capability: reasoning backend not configured")
	ErrNoSearch       = errors.New("capability: web search not available")
	ErrNoSQLGenerated = errors.New("capability: no SQL generated")
	ErrEmptyQuery     = errors.New("capability: empty query")
)

// Target is the session-scoped state an invocation runs against.
type Target struct {
	Warehouse warehouse.Client
	Tier      models.Tier
}

type Options struct {
	Timeout  time.Duration
	ReadOnly bool
}

type Dispatcher struct {
	backend  llm.Backend
	searcher websearch.Searcher
	timeout  time.Duration
	readOnly bool
	logger   *zap.Logger
}

func NewDispatcher(backend llm.Backend, searcher websearch.Searcher, opts Options, logger *zap.Logger) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		backend:  backend,
		searcher: searcher,
		timeout:  timeout,
		readOnly: opts.ReadOnly,
		logger:   logger,
	}
}

// SearchAvailable reports whether web search requests can succeed.
func (d *Dispatcher) SearchAvailable() bool {
	return d.searcher != nil && d.searcher.Available()
}

// Invoke runs one request under the per-invocation timeout.
func (d *Dispatcher) Invoke(ctx context.Context, target Target, seq int, req models.CapabilityRequest) (inv models.Invocation) {
	inv = models.Invocation{Seq: seq, Request: req}
	if req != nil {
		inv.Capability = req.Capability()
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			inv.Success = false
			inv.Error = fmt.Sprintf("capability panicked: %v", r)
			inv.ErrKind = models.ErrKindOther
			d.logger.Error("Capability panicked",
				zap.String("capability", string(inv.Capability)),
				zap.Any("panic", r))
		}
		inv.Latency = time.Since(start)
	}()

	var (
		result models.CapabilityResult
		kind   models.ErrorKind
		err    error
	)
	switch r := req.(type) {
	case models.StructuredQueryRequest:
		result, kind, err = d.generate(ctx, target, r)
	case models.RawQueryRequest:
		result, kind, err = d.execute(ctx, target, r)
	case models.SchemaLookupRequest:
		result, kind, err = d.lookupSchema(ctx, target, r)
	case models.WebSearchRequest:
		result, kind, err = d.search(ctx, r)
	default:
		err, kind = fmt.Errorf("unsupported capability request %T", req), models.ErrKindOther
	}

	inv.Result = result
	if err == nil {
		inv.Success = true
		return inv
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = models.ErrKindTimeout
		err = fmt.Errorf("timed out after %s: %w", d.timeout, err)
	}
	inv.Error = err.Error()
	inv.ErrKind = kind
	d.logger.Warn("Capability failed",
		zap.String("capability", string(inv.Capability)),
		zap.Int("seq", seq),
		zap.String("error_kind", string(kind)),
		zap.Error(err))
	return inv
}

func (d *Dispatcher) generate(ctx context.Context, target Target, req models.StructuredQueryRequest) (models.CapabilityResult, models.ErrorKind, error) {
	result := models.StructuredQueryResult{}
	if !req.SemanticModel {
		result.Warning = NoSemanticModelWarning
	}
	if d.backend == nil {
		return result, models.ErrKindUnavailable, ErrNoBackend
	}

	text, err := d.backend.Complete(ctx, buildGenerationPrompt(req), target.Tier)
	if err != nil {
		return result, models.ErrKindUnavailable, fmt.Errorf("error generating SQL: %w", err)
	}

	result.Query = ExtractSQL(text)
	if result.Query == "" {
		return result, models.ErrKindEmpty, ErrNoSQLGenerated
	}
	return result, models.ErrKindNone, nil
}

func buildGenerationPrompt(req models.StructuredQueryRequest) string {
	return fmt.Sprintf(`You translate analytics questions into a single read-only SQL query.

%s

Question: %s
Generate a SQL query to answer this question. Return only the SQL query without any explanations.`,
		req.Schema, req.Question)
}

func (d *Dispatcher) execute(ctx context.Context, target Target, req models.RawQueryRequest) (models.CapabilityResult, models.ErrorKind, error) {
	result := models.RawQueryResult{Query: req.Query}
	if req.Query == "" {
		return result, models.ErrKindEmpty, ErrEmptyQuery
	}
	if d.readOnly {
		if err := CheckReadOnly(req.Query); err != nil {
			return result, models.ErrKindForbidden, err
		}
	}
	if target.Warehouse == nil {
		return result, models.ErrKindUnavailable, ErrNoWarehouse
	}

	table, err := target.Warehouse.Execute(ctx, req.Query)
	if err != nil {
		return result, warehouse.Classify(err), err
	}
	result.Table = table
	return result, models.ErrKindNone, nil
}

func (d *Dispatcher) lookupSchema(ctx context.Context, target Target, req models.SchemaLookupRequest) (models.CapabilityResult, models.ErrorKind, error) {
	if target.Warehouse == nil {
		return nil, models.ErrKindUnavailable, ErrNoWarehouse
	}
	catalog, err := target.Warehouse.DescribeSchema(ctx)
	if err != nil {
		return nil, warehouse.Classify(err), fmt.Errorf("error getting schema information: %w", err)
	}
	return models.SchemaLookupResult{Catalog: catalog.Filter(req.Filter)}, models.ErrKindNone, nil
}

func (d *Dispatcher) search(ctx context.Context, req models.WebSearchRequest) (models.CapabilityResult, models.ErrorKind, error) {
	if !d.SearchAvailable() {
		return nil, models.ErrKindUnavailable, ErrNoSearch
	}
	res, err := d.searcher.Search(ctx, req.Query, req.MaxResults)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.ErrKindTimeout, err
		}
		return nil, models.ErrKindOther, err
	}
	if res == nil {
		res = &models.WebSearchResult{Query: req.Query}
	}
	return *res, models.ErrKindNone, nil
}

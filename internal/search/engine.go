package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/recordsync/internal/errors"
	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/store"
	"github.com/Aman-CERP/recordsync/internal/telemetry"
)

// Engine answers API reads for one document kind against one index or alias.
type Engine struct {
	client     store.Client
	target     string
	kind       record.Kind
	translator *Translator
	config     EngineConfig
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Target is the index or alias queried.
	Target string

	// DefaultLimit and MaxLimit bound the page size.
	DefaultLimit int
	MaxLimit     int

	// Timeout bounds every call made to the index.
	Timeout time.Duration

	// Name, Stack and Table are echoed back in response meta.
	Name  string
	Stack string
	Table string
}

// DefaultEngineConfig returns the built-in read settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Target:       "records-alias",
		DefaultLimit: 10,
		MaxLimit:     100,
		Timeout:      30 * time.Second,
		Name:         "records-api",
	}
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records query latency and failures.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine for kind. mapping is the kind's desired type
// mapping and decides how filter values are typed.
func NewEngine(client store.Client, kind record.Kind, mapping store.TypeMapping, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("search engine: nil client")
	}
	if cfg.Target == "" {
		return nil, fmt.Errorf("search engine: empty target")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEngineConfig().Timeout
	}
	e := &Engine{
		client:     client,
		target:     cfg.Target,
		kind:       kind,
		translator: NewTranslator(kind, mapping, cfg.DefaultLimit, cfg.MaxLimit),
		config:     cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Kind returns the document kind the engine reads.
func (e *Engine) Kind() record.Kind {
	return e.kind
}

// Meta describes the page a response carries.
type Meta struct {
	Name  string `json:"name"`
	Stack string `json:"stack"`
	Table string `json:"table,omitempty"`
	Limit int    `json:"limit"`
	Page  int    `json:"page"`
	Count uint64 `json:"count"`
}

// QueryResult is one page of query results.
type QueryResult struct {
	Meta    Meta              `json:"meta"`
	Results []record.Document `json:"results"`
}

func (e *Engine) meta(t *Translated, count uint64) Meta {
	m := Meta{
		Name:  e.config.Name,
		Stack: e.config.Stack,
		Table: e.config.Table,
		Count: count,
	}
	if t != nil {
		m.Limit = t.Limit
		m.Page = t.Page
	}
	return m
}

// Query runs a paged, filtered search. An empty page is a normal result.
// Invalid parameters return a validation error; index failures return a
// transient index error.
func (e *Engine) Query(ctx context.Context, params Params) (*QueryResult, error) {
	started := time.Now()

	t, err := e.translator.Translate(params)
	if err != nil {
		return nil, errors.ValidationError(err.Error(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.Search(ctx, store.SearchRequest{
		Target: e.target,
		Query:  t.Query,
		Size:   t.Limit,
		From:   t.From,
		Sort:   t.Sort,
		Fields: t.Fields,
	})
	e.metrics.ObserveQuery("query", started, err)
	if err != nil {
		return nil, e.indexError("query", err)
	}

	results := make([]record.Document, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		results = append(results, h.Source)
	}

	e.logger.Debug("query_completed",
		slog.String("kind", e.kind.Type),
		slog.Int("page", t.Page),
		slog.Int("results", len(results)),
		slog.Uint64("count", resp.Total),
		slog.Duration("took", time.Since(started)))

	return &QueryResult{Meta: e.meta(t, resp.Total), Results: results}, nil
}

// GetStatus is the outcome of a single-record lookup.
type GetStatus int

const (
	// Found means exactly one record matched.
	Found GetStatus = iota
	// NotFound means no record matched.
	NotFound
	// MultipleMatches means more than one record carries the id.
	MultipleMatches
)

// String returns the status name.
func (s GetStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case MultipleMatches:
		return "multiple_matches"
	default:
		return fmt.Sprintf("GetStatus(%d)", int(s))
	}
}

// GetResult is a lookup result. Record is set only when Status is Found.
type GetResult struct {
	Status GetStatus
	Record record.Document
}

// Detail returns the API message for a status other than Found.
func (r GetResult) Detail() string {
	switch r.Status {
	case NotFound:
		return "Record not found"
	case MultipleMatches:
		return "More than one record was found!"
	}
	return ""
}

// Body returns what the API returns for this result: the record, or a
// {detail} object.
func (r GetResult) Body() any {
	if r.Status == Found {
		return r.Record
	}
	return map[string]string{"detail": r.Detail()}
}

// Get looks up one record by id. For kinds with a parent, a non-empty parent
// narrows the match. Zero or several matches are results, not errors.
func (e *Engine) Get(ctx context.Context, id, parent string) (GetResult, error) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	hits, err := e.client.Get(ctx, e.target, e.kind.Type, id)
	e.metrics.ObserveQuery("get", started, err)
	if err != nil {
		return GetResult{}, e.indexError("get", err)
	}

	if parent != "" {
		matched := hits[:0:0]
		for _, h := range hits {
			if h.Parent == parent {
				matched = append(matched, h)
			}
		}
		hits = matched
	}

	switch len(hits) {
	case 0:
		return GetResult{Status: NotFound}, nil
	case 1:
		return GetResult{Status: Found, Record: hits[0].Source}, nil
	default:
		e.logger.Warn("get_multiple_matches",
			slog.String("kind", e.kind.Type),
			slog.String("id", id),
			slog.Int("matches", len(hits)))
		return GetResult{Status: MultipleMatches}, nil
	}
}

// indexError classifies a store failure and logs it.
func (e *Engine) indexError(op string, err error) error {
	var out *errors.Error
	switch {
	case stderrors.Is(err, store.ErrIndexNotFound), stderrors.Is(err, store.ErrAliasNotFound):
		out = errors.New(errors.ErrCodeIndexMissing, fmt.Sprintf("%s: %s is not available", op, e.target), err)
	default:
		out = errors.TransientIndexError(fmt.Sprintf("%s against %s failed", op, e.target), err)
	}
	out.WithDetail("kind", e.kind.Type)
	e.logger.Warn("query_failed",
		slog.String("operation", op),
		slog.String("kind", e.kind.Type),
		slog.String("target", e.target),
		slog.String("code", out.Code),
		slog.String("error", err.Error()))
	return out
}

// Package store provides the indexed-search technology the rest of recordsync
// consumes: named indices, per-type mappings, aliases with an atomic
// multi-action update, filtered search with scroll continuation, aggregation,
// and bulk copy between indices. The only implementation is backed by Bleve.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/recordsync/internal/record"
)

// Reserved stored fields carried by every indexed document.
const (
	// KindField holds the document's index type name.
	KindField = "_kind"
	// ParentField holds the document's parent id, if any.
	ParentField = "_parent"
	// SourceField holds the original document as JSON.
	SourceField = "_source"
	// IDField is the document id used for sorting and tiebreaks.
	IDField = "_id"
)

// Sentinel errors returned by Client implementations.
var (
	ErrIndexNotFound  = errors.New("index not found")
	ErrIndexExists    = errors.New("index already exists")
	ErrAliasNotFound  = errors.New("alias not found")
	ErrAliasFanout    = errors.New("alias resolves to more than one index")
	ErrScrollExpired  = errors.New("scroll context expired or unknown")
	ErrInvalidAction  = errors.New("invalid alias action")
	ErrHostLocked     = errors.New("index host is locked by another process")
	ErrClientClosed   = errors.New("client is closed")
	ErrInvalidMapping = errors.New("invalid mapping")
)

// Query is a search query. Callers build queries with the bleve constructors.
type Query = query.Query

// AliasActionType is the kind of change an AliasAction makes.
type AliasActionType string

const (
	// AliasAdd attaches an alias to an index.
	AliasAdd AliasActionType = "add"
	// AliasRemove detaches an alias from an index.
	AliasRemove AliasActionType = "remove"
)

// AliasAction is one step of an atomic alias update.
type AliasAction struct {
	Type  AliasActionType `json:"type"`
	Index string          `json:"index"`
	Alias string          `json:"alias"`
}

// SearchRequest is a filtered search against an index or alias.
type SearchRequest struct {
	// Target is an index or alias name.
	Target string

	// Query filters the documents. Nil matches everything.
	Query Query

	// Size is the page size. Zero means DefaultSearchSize.
	Size int

	// From is the offset for plain (non-scroll) searches.
	From int

	// Sort uses bleve sort syntax: "field" ascending, "-field" descending.
	Sort []string

	// Fields restricts the returned source to these top-level fields.
	// Empty returns the whole source.
	Fields []string

	// Scroll opens a scroll context that lives this long. Zero disables scrolling.
	Scroll time.Duration
}

// DefaultSearchSize is the page size used when a request leaves Size unset.
const DefaultSearchSize = 10

// Hit is one matching document.
type Hit struct {
	Index  string          `json:"index"`
	Kind   string          `json:"kind"`
	ID     string          `json:"id"`
	Parent string          `json:"parent,omitempty"`
	Source record.Document `json:"source"`

	sort []string
}

// SearchResponse is one page of results.
type SearchResponse struct {
	// Total is the number of documents matching the query.
	Total uint64

	// Hits holds the documents of this page.
	Hits []Hit

	// ScrollID continues a scroll. Empty for plain searches.
	ScrollID string
}

// AggregationType selects how an Aggregation summarizes a field.
type AggregationType string

const (
	// AggTerms buckets documents by field value.
	AggTerms AggregationType = "terms"
	// AggCardinality counts distinct field values.
	AggCardinality AggregationType = "cardinality"
	// AggAvg averages a numeric field.
	AggAvg AggregationType = "avg"
)

// Aggregation describes one aggregation over the matching set.
type Aggregation struct {
	Name  string
	Type  AggregationType
	Field string
	// Size limits the number of terms buckets. Zero returns all.
	Size int
}

// Bucket is one terms bucket.
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// AggregationResult holds the outcome of one Aggregation.
type AggregationResult struct {
	Buckets []Bucket `json:"buckets,omitempty"`
	Value   float64  `json:"value"`
}

// ReindexStats summarizes a bulk copy.
type ReindexStats struct {
	TaskID  string        `json:"task_id"`
	Total   int           `json:"total"`
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Batches int           `json:"batches"`
	Took    time.Duration `json:"took"`
}

// Task is a long-running operation recorded in the task ledger.
type Task struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	Dest      string    `json:"dest"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Copied    int       `json:"copied"`
}

// Task statuses.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// ReindexAction is the task action name of a bulk copy.
const ReindexAction = "indices:data/write/reindex"

// Client is the indexed-search surface consumed by recordsync.
type Client interface {
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mappings map[string]TypeMapping) error
	DeleteIndex(ctx context.Context, index string) error
	ListIndices(ctx context.Context) ([]string, error)

	GetMapping(ctx context.Context, index string) (map[string]TypeMapping, error)
	PutMapping(ctx context.Context, index, typeName string, m TypeMapping) error

	// GetAlias returns the indices behind alias, or ErrAliasNotFound.
	GetAlias(ctx context.Context, alias string) ([]string, error)
	PutAlias(ctx context.Context, index, alias string) error
	// UpdateAliases applies every action or none.
	UpdateAliases(ctx context.Context, actions []AliasAction) error

	Index(ctx context.Context, target, typeName, id, parent string, doc record.Document) error
	Delete(ctx context.Context, target, typeName, id string) error
	Get(ctx context.Context, target, typeName, id string) ([]Hit, error)

	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	Scroll(ctx context.Context, scrollID string, lifetime time.Duration) (*SearchResponse, error)
	ClearScroll(ctx context.Context, scrollID string) error
	Count(ctx context.Context, target string, q Query) (uint64, error)
	Aggregate(ctx context.Context, target string, q Query, aggs []Aggregation) (map[string]AggregationResult, error)

	Reindex(ctx context.Context, source, dest string) (*ReindexStats, error)
	Tasks(ctx context.Context, actionPattern string) ([]Task, error)

	Close() error
}

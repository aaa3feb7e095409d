// Package queue turns scroll cursors into typed FIFO queues for
// reconciliation and reporting jobs.
//
// A queue pulls one page at a time and holds only the current page in
// memory. Empty is the exception: it drains the whole result set and is
// bounded only by the number of matches.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/scroll"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// Config configures a queue's underlying cursor.
type Config struct {
	// Target is the index or alias read.
	Target string
	// PageSize is the number of hits fetched per page.
	PageSize int
	// Lifetime keeps the scroll context alive between pages.
	Lifetime time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) cursor() scroll.Config {
	return scroll.Config{PageSize: c.PageSize, Lifetime: c.Lifetime, Logger: c.Logger}
}

// Convert maps one hit to the items it contributes. It may return none.
type Convert[T any] func(store.Hit) ([]T, error)

// SearchQueue is a FIFO over the items produced from a cursor's hits.
// It is single-consumer and not safe for concurrent use.
type SearchQueue[T any] struct {
	cursor  *scroll.Cursor
	convert Convert[T]
	items   []T
}

// NewSearchQueue creates a queue reading hits from cursor.
func NewSearchQueue[T any](cursor *scroll.Cursor, convert Convert[T]) *SearchQueue[T] {
	return &SearchQueue[T]{cursor: cursor, convert: convert}
}

// fill fetches pages until the buffer holds an item or the cursor runs dry.
func (q *SearchQueue[T]) fill(ctx context.Context) error {
	for len(q.items) == 0 && !q.cursor.Exhausted() {
		hits, err := q.cursor.FetchNextPage(ctx)
		if err != nil {
			return err
		}
		for _, h := range hits {
			items, err := q.convert(h)
			if err != nil {
				return err
			}
			q.items = append(q.items, items...)
		}
	}
	return nil
}

// Peek returns the next item without consuming it. ok is false once the
// queue is drained. Repeated peeks return the same item.
func (q *SearchQueue[T]) Peek(ctx context.Context) (item T, ok bool, err error) {
	if err := q.fill(ctx); err != nil {
		return item, false, err
	}
	if len(q.items) == 0 {
		return item, false, nil
	}
	return q.items[0], true, nil
}

// Shift consumes and returns the next item. ok is false once the queue is
// drained.
func (q *SearchQueue[T]) Shift(ctx context.Context) (item T, ok bool, err error) {
	if err := q.fill(ctx); err != nil {
		return item, false, err
	}
	if len(q.items) == 0 {
		return item, false, nil
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true, nil
}

// Empty drains every remaining item into memory. Its footprint grows with the
// result set; iterate with Shift for large sets.
func (q *SearchQueue[T]) Empty(ctx context.Context) ([]T, error) {
	var out []T
	for {
		item, ok, err := q.Shift(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// Pages is the number of page fetches made so far.
func (q *SearchQueue[T]) Pages() int {
	return q.cursor.Pages()
}

func sources(h store.Hit) ([]record.Document, error) {
	return []record.Document{h.Source}, nil
}

func kindQuery(kind record.Kind, filter store.Query) store.Query {
	k := bleve.NewTermQuery(kind.Type)
	k.SetField(store.KindField)
	if filter == nil {
		return k
	}
	return bleve.NewConjunctionQuery(k, filter)
}

// NewRecordQueue queues the documents of kind matching filter, in sort order.
// A nil filter matches every document of the kind.
func NewRecordQueue(client store.Client, kind record.Kind, filter store.Query, sort []string, cfg Config) *SearchQueue[record.Document] {
	req := store.SearchRequest{Target: cfg.Target, Query: kindQuery(kind, filter), Sort: sort}
	return NewSearchQueue(scroll.NewCursor(client, req, cfg.cursor()), sources)
}

// NewHitQueue queues the raw hits of kind, keeping stored ids and parents.
func NewHitQueue(client store.Client, kind record.Kind, cfg Config) *SearchQueue[store.Hit] {
	req := store.SearchRequest{Target: cfg.Target, Query: kindQuery(kind, nil), Sort: []string{store.IDField}}
	return NewSearchQueue(scroll.NewCursor(client, req, cfg.cursor()), func(h store.Hit) ([]store.Hit, error) {
		return []store.Hit{h}, nil
	})
}

// NewCollectionGranuleQueue queues the granules of one collection ordered by
// granuleId ascending, so two drains of the same collection line up.
func NewCollectionGranuleQueue(client store.Client, collectionID string, filter store.Query, cfg Config) *SearchQueue[record.Document] {
	coll := bleve.NewTermQuery(collectionID)
	coll.SetField("collectionId")
	q := store.Query(coll)
	if filter != nil {
		q = bleve.NewConjunctionQuery(coll, filter)
	}
	return NewRecordQueue(client, record.Granule, q, []string{"granuleId"}, cfg)
}

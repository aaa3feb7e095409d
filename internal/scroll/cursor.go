// Package scroll pages through every match of a search with a server-side
// scroll context.
package scroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/recordsync/internal/store"
)

// Defaults for cursors built without explicit settings.
const (
	DefaultPageSize = 1000
	DefaultLifetime = 2 * time.Minute
)

// Config configures a Cursor.
type Config struct {
	// PageSize is the number of hits fetched per page.
	PageSize int
	// Lifetime keeps the scroll context alive between fetches.
	Lifetime time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Cursor walks the pages of one search. The first fetch opens the scroll and
// later fetches continue it; the continuation token never leaves the cursor.
//
// A Cursor is single-consumer and not safe for concurrent use. There is no
// close: an abandoned cursor's scroll context expires after Lifetime.
type Cursor struct {
	client   store.Client
	req      store.SearchRequest
	lifetime time.Duration
	logger   *slog.Logger

	token     string
	started   bool
	exhausted bool
	pages     int
}

// NewCursor creates a cursor over req. req.Size, req.From and req.Scroll are
// replaced by the cursor's own paging.
func NewCursor(client store.Client, req store.SearchRequest, cfg Config) *Cursor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	req.Size = cfg.PageSize
	req.From = 0
	req.Scroll = cfg.Lifetime
	return &Cursor{
		client:   client,
		req:      req,
		lifetime: cfg.Lifetime,
		logger:   cfg.Logger,
	}
}

// FetchNextPage returns the next page of hits. A page with no hits exhausts
// the cursor; every later call returns an empty page without querying.
func (c *Cursor) FetchNextPage(ctx context.Context) ([]store.Hit, error) {
	if c.exhausted {
		return nil, nil
	}

	var (
		resp *store.SearchResponse
		err  error
	)
	if !c.started {
		resp, err = c.client.Search(ctx, c.req)
	} else {
		resp, err = c.client.Scroll(ctx, c.token, c.lifetime)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch page %d of %s: %w", c.pages+1, c.req.Target, err)
	}

	c.started = true
	c.pages++
	if resp.ScrollID != "" {
		c.token = resp.ScrollID
	}
	if len(resp.Hits) == 0 {
		c.exhausted = true
		c.logger.Debug("scroll_exhausted",
			slog.String("target", c.req.Target),
			slog.Int("pages", c.pages))
		return nil, nil
	}
	return resp.Hits, nil
}

// Exhausted reports whether the last fetch came back empty.
func (c *Cursor) Exhausted() bool {
	return c.exhausted
}

// Pages is the number of fetches made against the index.
func (c *Cursor) Pages() int {
	return c.pages
}

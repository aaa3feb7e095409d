package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// scrollContext is the server-side state of one open scroll.
type scrollContext struct {
	req     SearchRequest
	after   []string
	done    bool
	expires time.Time
}

// scrollRegistry tracks open scroll contexts. Expired contexts are reaped lazily.
type scrollRegistry struct {
	mu       sync.Mutex
	contexts map[string]*scrollContext
	now      func() time.Time
}

func newScrollRegistry() *scrollRegistry {
	return &scrollRegistry{
		contexts: make(map[string]*scrollContext),
		now:      time.Now,
	}
}

func (r *scrollRegistry) put(sc *scrollContext) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapLocked()
	r.contexts[id] = sc
	return id
}

// get returns the live context for id, or nil if it expired or never existed.
func (r *scrollRegistry) get(id string) *scrollContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapLocked()
	return r.contexts[id]
}

// touch extends a context's lifetime.
func (r *scrollRegistry) touch(sc *scrollContext, lifetime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc.expires = r.now().Add(lifetime)
}

func (r *scrollRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.contexts[id]
	delete(r.contexts, id)
	return ok
}

func (r *scrollRegistry) reapLocked() {
	now := r.now()
	for id, sc := range r.contexts {
		if now.After(sc.expires) {
			delete(r.contexts, id)
		}
	}
}

func (r *scrollRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// withTiebreak appends the id sort so search-after positions are unique.
func withTiebreak(sortBy []string) []string {
	if slices.Contains(sortBy, IDField) || slices.Contains(sortBy, "-"+IDField) {
		return sortBy
	}
	return append(append([]string(nil), sortBy...), IDField)
}

// openScroll runs the first page of a scroll and registers its context.
func (c *BleveClient) openScroll(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Size <= 0 {
		req.Size = DefaultSearchSize
	}
	req.From = 0
	req.Sort = withTiebreak(req.Sort)

	resp, err := c.search(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	sc := &scrollContext{req: req}
	c.advance(sc, resp)
	sc.expires = c.scrolls.now().Add(req.Scroll)
	resp.ScrollID = c.scrolls.put(sc)
	return resp, nil
}

// advance moves the context past the page just returned.
func (c *BleveClient) advance(sc *scrollContext, resp *SearchResponse) {
	if len(resp.Hits) == 0 {
		sc.done = true
		return
	}
	sc.after = resp.Hits[len(resp.Hits)-1].sort
	if len(resp.Hits) < sc.req.Size {
		sc.done = true
	}
}

// Scroll returns the next page of an open scroll and keeps it alive for
// lifetime (zero keeps the lifetime it was opened with). An exhausted scroll
// returns empty pages until it expires or is cleared. A scroll id must not be
// continued from two goroutines at once.
func (c *BleveClient) Scroll(ctx context.Context, scrollID string, lifetime time.Duration) (*SearchResponse, error) {
	sc := c.scrolls.get(scrollID)
	if sc == nil {
		return nil, ErrScrollExpired
	}
	if lifetime <= 0 {
		lifetime = sc.req.Scroll
	}
	c.scrolls.touch(sc, lifetime)

	if sc.done {
		return &SearchResponse{Hits: []Hit{}, ScrollID: scrollID}, nil
	}

	resp, err := c.search(ctx, sc.req, sc.after)
	if err != nil {
		return nil, err
	}
	c.advance(sc, resp)
	resp.ScrollID = scrollID
	return resp, nil
}

// ClearScroll releases a scroll context. Clearing an unknown id is not an error.
func (c *BleveClient) ClearScroll(_ context.Context, scrollID string) error {
	c.scrolls.remove(scrollID)
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/recordsync/internal/record"
)

// MemoryHost is the host address of a purely in-memory client.
const MemoryHost = "memory://"

// BleveClient implements Client on top of Bleve indices.
// Safe for concurrent use.
type BleveClient struct {
	mu      sync.RWMutex
	dir     string // empty for in-memory hosts
	lock    *hostLock
	catalog *catalog
	indices map[string]bleve.Index
	scrolls *scrollRegistry
	tasks   *taskLedger
	logger  *slog.Logger
	closed  bool
}

// Verify interface implementation at compile time
var _ Client = (*BleveClient)(nil)

// Option configures a BleveClient.
type Option func(*BleveClient)

// WithLogger sets the logger used by the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *BleveClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// resolveHost turns a host address into a directory. Memory hosts return "".
func resolveHost(host string) (string, error) {
	switch {
	case host == "", host == MemoryHost, host == "memory":
		return "", nil
	case strings.HasPrefix(host, "file://"):
		u, err := url.Parse(host)
		if err != nil {
			return "", fmt.Errorf("invalid host %q: %w", host, err)
		}
		return u.Path, nil
	case strings.Contains(host, "://"):
		return "", fmt.Errorf("unsupported host scheme %q", host)
	default:
		return host, nil
	}
}

// Open connects to the index host. An empty host or MemoryHost keeps every
// index in memory; a directory path (or file:// URL) persists indices, the
// alias catalog, and the task ledger under that directory.
func Open(host string, opts ...Option) (*BleveClient, error) {
	dir, err := resolveHost(host)
	if err != nil {
		return nil, err
	}

	c := &BleveClient{
		dir:     dir,
		indices: make(map[string]bleve.Index),
		scrolls: newScrollRegistry(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if dir == "" {
		c.catalog = newCatalog()
		c.tasks, err = openTaskLedger("")
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	c.lock = newHostLock(dir)
	if err := c.lock.tryLock(); err != nil {
		return nil, err
	}

	if err := c.openDisk(); err != nil {
		_ = c.closeAll()
		return nil, err
	}
	return c, nil
}

// openDisk loads the catalog and opens every index it lists.
func (c *BleveClient) openDisk() error {
	cat, err := loadCatalog(c.dir)
	if err != nil {
		return err
	}
	c.catalog = cat

	for _, name := range cat.Indices {
		idx, err := bleve.Open(c.indexPath(name))
		if err != nil {
			return fmt.Errorf("open index %s: %w", name, err)
		}
		idx.SetName(name)
		c.indices[name] = idx
	}

	c.tasks, err = openTaskLedger(filepath.Join(c.dir, "tasks.db"))
	return err
}

func (c *BleveClient) indexPath(name string) string {
	return filepath.Join(c.dir, name+".bleve")
}

// persist writes the staged catalog and makes it current. Caller holds c.mu.
func (c *BleveClient) persist(next *catalog) error {
	if c.dir != "" {
		if err := next.save(c.dir); err != nil {
			return err
		}
	}
	c.catalog = next
	return nil
}

// docKey is the Bleve document id: ids are unique per type, not per index.
func docKey(typeName, id string) string {
	return typeName + "/" + id
}

func (c *BleveClient) checkOpen() error {
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// resolve returns the indices behind an index or alias name. Caller holds c.mu.
func (c *BleveClient) resolve(target string) ([]bleve.Index, error) {
	if idx, ok := c.indices[target]; ok {
		return []bleve.Index{idx}, nil
	}
	names, ok := c.catalog.Aliases[target]
	if !ok || len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, target)
	}
	out := make([]bleve.Index, 0, len(names))
	for _, n := range names {
		idx, ok := c.indices[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s (via alias %s)", ErrIndexNotFound, n, target)
		}
		out = append(out, idx)
	}
	return out, nil
}

// resolveOne returns the single index behind target, for writes.
func (c *BleveClient) resolveOne(target string) (bleve.Index, error) {
	indices, err := c.resolve(target)
	if err != nil {
		return nil, err
	}
	if len(indices) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrAliasFanout, target)
	}
	return indices[0], nil
}

// searchable returns something to search target through: the index itself,
// or a Bleve index alias fanning out over every backing index.
func (c *BleveClient) searchable(target string) (bleve.Index, error) {
	indices, err := c.resolve(target)
	if err != nil {
		return nil, err
	}
	if len(indices) == 1 {
		return indices[0], nil
	}
	return bleve.NewIndexAlias(indices...), nil
}

// IndexExists reports whether a physical index with this name exists.
func (c *BleveClient) IndexExists(_ context.Context, index string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	_, ok := c.indices[index]
	return ok, nil
}

// ListIndices returns every index name in sorted order.
func (c *BleveClient) ListIndices(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return append([]string(nil), c.catalog.Indices...), nil
}

// CreateIndex creates an index with the given type mappings.
func (c *BleveClient) CreateIndex(_ context.Context, index string, mappings map[string]TypeMapping) error {
	if index == "" || strings.ContainsAny(index, `/\`) {
		return fmt.Errorf("invalid index name %q", index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, ok := c.indices[index]; ok {
		return fmt.Errorf("%w: %s", ErrIndexExists, index)
	}
	if _, ok := c.catalog.Aliases[index]; ok {
		return fmt.Errorf("%w: %s is an alias", ErrIndexExists, index)
	}

	var idx bleve.Index
	var err error
	if c.dir == "" {
		idx, err = bleve.NewMemOnly(newIndexMapping())
	} else {
		idx, err = bleve.New(c.indexPath(index), newIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	idx.SetName(index)

	if len(mappings) > 0 {
		if err := writeMappings(idx, mappings); err != nil {
			_ = idx.Close()
			c.removeIndexFiles(index)
			return err
		}
	}

	next := c.catalog.clone()
	next.addIndex(index)
	if err := c.persist(next); err != nil {
		_ = idx.Close()
		c.removeIndexFiles(index)
		return err
	}
	c.indices[index] = idx

	c.logger.Info("index_created",
		slog.String("index", index),
		slog.Int("types", len(mappings)))
	return nil
}

func (c *BleveClient) removeIndexFiles(index string) {
	if c.dir == "" {
		return
	}
	if err := os.RemoveAll(c.indexPath(index)); err != nil {
		c.logger.Warn("index_files_remove_failed",
			slog.String("index", index),
			slog.String("error", err.Error()))
	}
}

// DeleteIndex deletes an index and detaches its aliases.
func (c *BleveClient) DeleteIndex(_ context.Context, index string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	idx, ok := c.indices[index]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}

	next := c.catalog.clone()
	next.removeIndex(index)
	if err := c.persist(next); err != nil {
		return err
	}
	delete(c.indices, index)

	if err := idx.Close(); err != nil {
		c.logger.Warn("index_close_failed",
			slog.String("index", index),
			slog.String("error", err.Error()))
	}
	c.removeIndexFiles(index)

	c.logger.Info("index_deleted", slog.String("index", index))
	return nil
}

func readMappings(idx bleve.Index) (map[string]TypeMapping, error) {
	data, err := idx.GetInternal(mappingsKey)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	if len(data) == 0 {
		return map[string]TypeMapping{}, nil
	}
	return ParseMappings(data)
}

func writeMappings(idx bleve.Index, mappings map[string]TypeMapping) error {
	data, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	if err := idx.SetInternal(mappingsKey, data); err != nil {
		return fmt.Errorf("write mappings: %w", err)
	}
	return nil
}

// GetMapping returns the type mappings of an index or of the single index behind an alias.
func (c *BleveClient) GetMapping(_ context.Context, index string) (map[string]TypeMapping, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	idx, err := c.resolveOne(index)
	if err != nil {
		return nil, err
	}
	return readMappings(idx)
}

// PutMapping merges a type mapping into the index's mappings.
func (c *BleveClient) PutMapping(_ context.Context, index, typeName string, m TypeMapping) error {
	if typeName == "" {
		return fmt.Errorf("%w: empty type name", ErrInvalidMapping)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	idx, err := c.resolveOne(index)
	if err != nil {
		return err
	}

	current, err := readMappings(idx)
	if err != nil {
		return err
	}
	current[typeName] = current[typeName].merge(m)
	return writeMappings(idx, current)
}

// GetAlias returns the sorted index names behind alias.
func (c *BleveClient) GetAlias(_ context.Context, alias string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	names, ok := c.catalog.Aliases[alias]
	if !ok || len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	return append([]string(nil), names...), nil
}

// PutAlias attaches alias to index.
func (c *BleveClient) PutAlias(ctx context.Context, index, alias string) error {
	return c.UpdateAliases(ctx, []AliasAction{{Type: AliasAdd, Index: index, Alias: alias}})
}

// UpdateAliases validates and applies every action as one change. Readers
// resolving an alias observe either the state before the call or after it.
func (c *BleveClient) UpdateAliases(_ context.Context, actions []AliasAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	next, err := c.catalog.apply(actions)
	if err != nil {
		return err
	}
	if err := c.persist(next); err != nil {
		return err
	}

	for _, a := range actions {
		c.logger.Info("alias_updated",
			slog.String("action", string(a.Type)),
			slog.String("index", a.Index),
			slog.String("alias", a.Alias))
	}
	return nil
}

// indexBody builds the Bleve document: the source fields indexed dynamically
// plus the reserved stored fields.
func indexBody(typeName, parent string, doc record.Document) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	body := make(map[string]any, len(doc)+3)
	for k, v := range doc {
		body[k] = v
	}
	body[KindField] = typeName
	if parent != "" {
		body[ParentField] = parent
	}
	body[SourceField] = string(raw)
	return body, nil
}

// Index upserts a document. Re-indexing the same type and id replaces it.
func (c *BleveClient) Index(_ context.Context, target, typeName, id, parent string, doc record.Document) error {
	if typeName == "" || id == "" {
		return fmt.Errorf("index document: type and id are required")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	idx, err := c.resolveOne(target)
	if err != nil {
		return err
	}

	body, err := indexBody(typeName, parent, doc)
	if err != nil {
		return err
	}
	if err := idx.Index(docKey(typeName, id), body); err != nil {
		return fmt.Errorf("index %s %s: %w", typeName, id, err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (c *BleveClient) Delete(_ context.Context, target, typeName, id string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	idx, err := c.resolveOne(target)
	if err != nil {
		return err
	}
	if err := idx.Delete(docKey(typeName, id)); err != nil {
		return fmt.Errorf("delete %s %s: %w", typeName, id, err)
	}
	return nil
}

// Get returns every stored copy of a document across the indices behind target.
// Outside a cutover that is at most one hit.
func (c *BleveClient) Get(ctx context.Context, target, typeName, id string) ([]Hit, error) {
	resp, err := c.Search(ctx, SearchRequest{
		Target: target,
		Query:  bleve.NewDocIDQuery([]string{docKey(typeName, id)}),
		Size:   DefaultSearchSize,
	})
	if err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

// Close closes every index and the task ledger.
func (c *BleveClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.closeAll()
}

func (c *BleveClient) closeAll() error {
	var firstErr error
	for name, idx := range c.indices {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
	}
	if c.tasks != nil {
		if err := c.tasks.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.lock != nil {
		if err := c.lock.unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

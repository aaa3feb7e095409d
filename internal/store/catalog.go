package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
)

// catalogFile is the name of the catalog inside an on-disk host.
const catalogFile = "catalog.json"

// catalog records which indices exist on a host and which aliases point at them.
type catalog struct {
	Indices []string            `json:"indices"`
	Aliases map[string][]string `json:"aliases"`
}

func newCatalog() *catalog {
	return &catalog{Aliases: make(map[string][]string)}
}

// loadCatalog reads the catalog of an on-disk host. A missing file is an empty catalog.
func loadCatalog(dir string) (*catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if os.IsNotExist(err) {
		return newCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	c := newCatalog()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("catalog %s is corrupt: %w", filepath.Join(dir, catalogFile), err)
	}
	if c.Aliases == nil {
		c.Aliases = make(map[string][]string)
	}
	return c, nil
}

// save writes the catalog atomically: readers see the old or the new file, never a mix.
func (c *catalog) save(dir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, catalogFile), data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// clone returns a deep copy so a mutation can be staged and discarded.
func (c *catalog) clone() *catalog {
	out := &catalog{
		Indices: append([]string(nil), c.Indices...),
		Aliases: make(map[string][]string, len(c.Aliases)),
	}
	for alias, indices := range c.Aliases {
		out.Aliases[alias] = append([]string(nil), indices...)
	}
	return out
}

func (c *catalog) hasIndex(name string) bool {
	for _, n := range c.Indices {
		if n == name {
			return true
		}
	}
	return false
}

func (c *catalog) addIndex(name string) {
	if !c.hasIndex(name) {
		c.Indices = append(c.Indices, name)
		sort.Strings(c.Indices)
	}
}

// removeIndex drops the index and detaches every alias pointing at it.
func (c *catalog) removeIndex(name string) {
	out := c.Indices[:0]
	for _, n := range c.Indices {
		if n != name {
			out = append(out, n)
		}
	}
	c.Indices = out
	for alias := range c.Aliases {
		c.removeAlias(name, alias)
	}
}

func (c *catalog) addAlias(index, alias string) {
	for _, n := range c.Aliases[alias] {
		if n == index {
			return
		}
	}
	c.Aliases[alias] = append(c.Aliases[alias], index)
	sort.Strings(c.Aliases[alias])
}

// removeAlias reports whether the alias was attached to the index.
func (c *catalog) removeAlias(index, alias string) bool {
	indices := c.Aliases[alias]
	out := make([]string, 0, len(indices))
	found := false
	for _, n := range indices {
		if n == index {
			found = true
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		delete(c.Aliases, alias)
	} else {
		c.Aliases[alias] = out
	}
	return found
}

// apply stages every action against a copy and returns it, or fails without
// touching c.
func (c *catalog) apply(actions []AliasAction) (*catalog, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: no actions", ErrInvalidAction)
	}

	next := c.clone()
	for i, a := range actions {
		if a.Alias == "" || a.Index == "" {
			return nil, fmt.Errorf("%w: action %d needs index and alias", ErrInvalidAction, i)
		}
		if !next.hasIndex(a.Index) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, a.Index)
		}
		if next.hasIndex(a.Alias) {
			return nil, fmt.Errorf("%w: alias %s collides with an index name", ErrInvalidAction, a.Alias)
		}

		switch a.Type {
		case AliasAdd:
			next.addAlias(a.Index, a.Alias)
		case AliasRemove:
			if !next.removeAlias(a.Index, a.Alias) {
				return nil, fmt.Errorf("%w: alias %s is not attached to %s", ErrAliasNotFound, a.Alias, a.Index)
			}
		default:
			return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
		}
	}
	return next, nil
}

// Package record defines the closed set of document kinds kept in the search
// index and the pure functions that derive each document's id and parent id
// from its key fields.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingKey is returned when an image lacks a field its kind derives ids from.
var ErrMissingKey = errors.New("missing key field")

// collectionIDSeparator joins a collection's name and version into its id.
const collectionIDSeparator = "___"

// Document is a decoded record image.
type Document map[string]any

// Kind describes one document kind. Kinds are values, compared by Type.
type Kind struct {
	// Type is the index type name documents of this kind are stored under.
	Type string

	// SearchField is the natural identifier field used for prefix/infix matching.
	SearchField string

	// Tombstone is the kind that records deletions of this kind, if any.
	Tombstone *Kind

	id     func(Document) (string, error)
	parent func(Document) (string, error)
}

// ID derives the document id from its key fields.
func (k Kind) ID(doc Document) (string, error) {
	id, err := k.id(doc)
	if err != nil {
		return "", fmt.Errorf("%s id: %w", k.Type, err)
	}
	return id, nil
}

// HasParent reports whether documents of this kind carry a parent reference.
func (k Kind) HasParent() bool {
	return k.parent != nil
}

// ParentID derives the parent id. Kinds without a parent return "".
func (k Kind) ParentID(doc Document) (string, error) {
	if k.parent == nil {
		return "", nil
	}
	p, err := k.parent(doc)
	if err != nil {
		return "", fmt.Errorf("%s parent: %w", k.Type, err)
	}
	return p, nil
}

// HasTombstone reports whether deleting a document of this kind leaves a tombstone.
func (k Kind) HasTombstone() bool {
	return k.Tombstone != nil
}

// String returns the index type name.
func (k Kind) String() string {
	return k.Type
}

// field returns an id function reading one string field.
func field(name string) func(Document) (string, error) {
	return func(doc Document) (string, error) {
		return stringField(doc, name)
	}
}

func stringField(doc Document, name string) (string, error) {
	v, ok := doc[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, name)
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, name)
	}
	return s, nil
}

func collectionID(doc Document) (string, error) {
	name, err := stringField(doc, "name")
	if err != nil {
		return "", err
	}
	version, err := stringField(doc, "version")
	if err != nil {
		return "", err
	}
	return ConstructCollectionID(name, version), nil
}

// ConstructCollectionID joins a collection name and version into its id.
func ConstructCollectionID(name, version string) string {
	return name + collectionIDSeparator + version
}

// DeconstructCollectionID splits a collection id into name and version.
func DeconstructCollectionID(id string) (name, version string, err error) {
	i := strings.LastIndex(id, collectionIDSeparator)
	if i <= 0 || i+len(collectionIDSeparator) == len(id) {
		return "", "", fmt.Errorf("invalid collection id %q", id)
	}
	return id[:i], id[i+len(collectionIDSeparator):], nil
}

// Document kinds.
var (
	DeletedGranule = Kind{Type: "deletedgranule", SearchField: "granuleId", id: field("granuleId"), parent: field("collectionId")}
	Granule        = Kind{Type: "granule", SearchField: "granuleId", Tombstone: &DeletedGranule, id: field("granuleId"), parent: field("collectionId")}

	Collection           = Kind{Type: "collection", SearchField: "name", id: collectionID}
	Execution            = Kind{Type: "execution", SearchField: "arn", id: field("arn")}
	PDR                  = Kind{Type: "pdr", SearchField: "pdrName", id: field("pdrName")}
	Provider             = Kind{Type: "provider", SearchField: "id", id: field("id")}
	Rule                 = Kind{Type: "rule", SearchField: "name", id: field("name")}
	AsyncOperation       = Kind{Type: "asyncOperation", SearchField: "id", id: field("id")}
	ReconciliationReport = Kind{Type: "reconciliationReport", SearchField: "name", id: field("name")}
)

// All returns every kind in a fixed order.
func All() []Kind {
	return []Kind{
		Collection,
		Granule,
		DeletedGranule,
		Execution,
		PDR,
		Provider,
		Rule,
		AsyncOperation,
		ReconciliationReport,
	}
}

// Lookup resolves an index type name to its kind.
func Lookup(typeName string) (Kind, bool) {
	for _, k := range All() {
		if k.Type == typeName {
			return k, true
		}
	}
	return Kind{}, false
}

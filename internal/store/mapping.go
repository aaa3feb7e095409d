package store

import (
	"encoding/json"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Property describes one indexed field of a type mapping.
type Property struct {
	Type       string              `json:"type,omitempty"`
	Format     string              `json:"format,omitempty"`
	Index      *bool               `json:"index,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
}

// IsNumeric reports whether values of this property are compared as numbers.
func (p Property) IsNumeric() bool {
	switch p.Type {
	case "long", "integer", "short", "byte", "float", "double", "scaled_float", "date":
		return true
	}
	return false
}

// TypeMapping is the schema of one document type.
type TypeMapping struct {
	// DynamicTemplates is a list of single-entry objects keyed by template name.
	DynamicTemplates []map[string]json.RawMessage `json:"dynamic_templates,omitempty"`
	Properties       map[string]Property          `json:"properties,omitempty"`
}

// TemplateNames returns the names of the dynamic templates in declaration order.
func (m TypeMapping) TemplateNames() []string {
	var names []string
	for _, tmpl := range m.DynamicTemplates {
		for name := range tmpl {
			names = append(names, name)
		}
	}
	return names
}

// merge folds other into m the way a put-mapping call does: new properties
// and templates are added, existing ones are kept.
func (m TypeMapping) merge(other TypeMapping) TypeMapping {
	out := TypeMapping{
		DynamicTemplates: append([]map[string]json.RawMessage(nil), m.DynamicTemplates...),
		Properties:       make(map[string]Property, len(m.Properties)+len(other.Properties)),
	}
	for k, v := range m.Properties {
		out.Properties[k] = v
	}
	for k, v := range other.Properties {
		if existing, ok := out.Properties[k]; ok {
			out.Properties[k] = mergeProperty(existing, v)
			continue
		}
		out.Properties[k] = v
	}

	known := make(map[string]struct{})
	for _, name := range m.TemplateNames() {
		known[name] = struct{}{}
	}
	for _, tmpl := range other.DynamicTemplates {
		for name := range tmpl {
			if _, ok := known[name]; !ok {
				out.DynamicTemplates = append(out.DynamicTemplates, tmpl)
				known[name] = struct{}{}
			}
		}
	}
	return out
}

func mergeProperty(existing, incoming Property) Property {
	if len(incoming.Properties) == 0 {
		return existing
	}
	if existing.Properties == nil {
		existing.Properties = make(map[string]Property, len(incoming.Properties))
	}
	for k, v := range incoming.Properties {
		if cur, ok := existing.Properties[k]; ok {
			existing.Properties[k] = mergeProperty(cur, v)
			continue
		}
		existing.Properties[k] = v
	}
	return existing
}

// ParseMappings decodes a JSON object of type name to TypeMapping.
func ParseMappings(data []byte) (map[string]TypeMapping, error) {
	var m map[string]TypeMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return m, nil
}

// mappingsKey is the internal key under which an index keeps its type mappings.
var mappingsKey = []byte("recordsync:mappings")

// newIndexMapping builds the physical Bleve mapping shared by every index.
// Strings are indexed whole with the keyword analyzer so term filters are exact
// matches, every field is indexed dynamically, and only the reserved fields
// are stored.
func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = keyword.Name
	im.StoreDynamic = false
	im.IndexDynamic = true
	im.DocValuesDynamic = true

	dm := bleve.NewDocumentMapping()

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	source.DocValues = false
	dm.AddFieldMappingsAt(SourceField, source)

	kind := bleve.NewKeywordFieldMapping()
	kind.Store = true
	kind.IncludeInAll = false
	dm.AddFieldMappingsAt(KindField, kind)

	parent := bleve.NewKeywordFieldMapping()
	parent.Store = true
	parent.IncludeInAll = false
	dm.AddFieldMappingsAt(ParentField, parent)

	im.DefaultMapping = dm
	return im
}

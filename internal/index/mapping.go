// Package index keeps the live index's schema current and moves readers
// between indices: bootstrap with mapping migration, and the reindex
// orchestration that copies into a new index and swaps the alias.
package index

import (
	"sort"

	"github.com/Aman-CERP/recordsync/configs"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// DesiredMappings returns the mapping set kept in configs/mappings.json.
func DesiredMappings() (map[string]store.TypeMapping, error) {
	return store.ParseMappings(configs.Mappings)
}

// FindMissingMappings returns, sorted, the type names whose desired mapping
// the live set does not yet cover: the type is absent, or it declares a
// dynamic template or property the live mapping lacks.
func FindMissingMappings(desired, live map[string]store.TypeMapping) []string {
	var missing []string
	for name, want := range desired {
		have, ok := live[name]
		if !ok || hasNewTemplates(want, have) || hasNewProperties(want.Properties, have.Properties) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func hasNewTemplates(want, have store.TypeMapping) bool {
	known := make(map[string]bool)
	for _, name := range have.TemplateNames() {
		known[name] = true
	}
	for _, name := range want.TemplateNames() {
		if !known[name] {
			return true
		}
	}
	return false
}

func hasNewProperties(want, have map[string]store.Property) bool {
	for name, p := range want {
		cur, ok := have[name]
		if !ok {
			return true
		}
		if hasNewProperties(p.Properties, cur.Properties) {
			return true
		}
	}
	return false
}

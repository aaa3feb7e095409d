// Package configs embeds the desired index mapping set.
//
// mappings.json maps each index type name to its mapping: dynamic templates
// and properties in the shape a put-mapping call takes. Bootstrap compares it
// with the live index and applies whatever is missing. Edit the file and
// rebuild to evolve the schema.
package configs

import _ "embed"

// Mappings is the desired mapping set, keyed by index type name.
//
//go:embed mappings.json
var Mappings []byte

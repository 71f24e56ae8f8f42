// Package query implements query planning and deduplication (C4): given
// a requested (entity, id, field set), it decides whether an existing
// subscription already covers the answer, and otherwise collapses
// concurrent identical fetches into a single transport call.
package query

import (
	"sort"
	"strings"

	"github.com/sylphxai/lens-go/transport"
)

// RecordKey is the canonical key for a single entity record, the prefix
// of every FieldSetKey used for in-flight fetch dedup (spec §3
// "canonical keys").
func RecordKey(entity, id string) string {
	return entity + "\x00" + id
}

// FieldSetKey is the canonical key for a fetch of a specific field set
// against one record: the entity/id pair plus the sorted, deduplicated
// field names, or "*" for a wildcard fetch. Two requests that name the
// same fields in a different order, or with duplicates, collapse to the
// same key.
func FieldSetKey(entity, id string, fields transport.FieldSet) string {
	if fields.Wildcard {
		return RecordKey(entity, id) + "\x00*"
	}
	seen := make(map[string]struct{}, len(fields.Fields))
	names := make([]string, 0, len(fields.Fields))
	for _, f := range fields.Fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		names = append(names, f)
	}
	sort.Strings(names)
	return RecordKey(entity, id) + "\x00" + strings.Join(names, ",")
}

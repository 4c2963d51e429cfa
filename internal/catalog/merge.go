package catalog

import (
	"strings"
)

// Merge folds incoming candidate records into the existing catalog.
// Dedup is slug-exact after case normalization. Surviving candidates are
// appended after the existing records with strictly increasing positions,
// preserving their relative input order. Existing records are never mutated:
// in particular the Source of a pre-existing record is never rewritten, even
// if another source claims the same slug.
//
// Merge is idempotent with respect to slug membership: merging the same
// incoming set twice adds zero records the second time.
func Merge(existing, incoming []ComicRecord) ([]ComicRecord, int) {
	seen := make(map[string]struct{}, len(existing))
	maxPos := 0
	for _, c := range existing {
		seen[strings.ToLower(c.Slug)] = struct{}{}
		if c.Position > maxPos {
			maxPos = c.Position
		}
	}

	merged := make([]ComicRecord, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	added := 0
	for _, c := range incoming {
		slug := strings.ToLower(c.Slug)
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		added++
		c.Slug = slug
		c.Position = maxPos + added
		c.IsUpdated = false
		merged = append(merged, c)
	}

	return merged, added
}

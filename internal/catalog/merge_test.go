package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	t.Parallel()

	existing := []ComicRecord{
		{Slug: "garfield", Name: "Garfield", Position: 1, Source: SourceGoComics},
		{Slug: "calvinandhobbes", Name: "Calvin and Hobbes", Position: 3, Source: SourceGoComics},
	}

	t.Run("DisjointAddsAll", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{
			{Slug: "pearls", Name: "Pearls Before Swine", Source: SourceGoComics},
			{Slug: "luann", Name: "Luann", Source: SourceGoComics},
		}
		merged, added := Merge(existing, incoming)
		require.Len(t, merged, len(existing)+len(incoming))
		assert.Equal(t, len(incoming), added)
	})

	t.Run("FullOverlapIsNoOp", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{
			{Slug: "garfield", Name: "Garfield Again", Source: SourceComicsKingdom},
			{Slug: "CalvinAndHobbes", Source: SourceComicsKingdom},
		}
		merged, added := Merge(existing, incoming)
		assert.Zero(t, added)
		require.Equal(t, existing, merged)
	})

	t.Run("PositionsMonotonic", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{
			{Slug: "pearls", Source: SourceGoComics},
			{Slug: "luann", Source: SourceGoComics},
			{Slug: "zits", Source: SourceComicsKingdom},
		}
		merged, added := Merge(existing, incoming)
		require.Equal(t, 3, added)

		maxExisting := 0
		for _, c := range existing {
			if c.Position > maxExisting {
				maxExisting = c.Position
			}
		}
		prev := maxExisting
		for _, c := range merged[len(existing):] {
			assert.Greater(t, c.Position, prev)
			prev = c.Position
		}
		// Relative input order of new entries is preserved.
		assert.Equal(t, "pearls", merged[2].Slug)
		assert.Equal(t, "luann", merged[3].Slug)
		assert.Equal(t, "zits", merged[4].Slug)
	})

	t.Run("Idempotent", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{{Slug: "pearls", Source: SourceGoComics}}
		once, added := Merge(existing, incoming)
		require.Equal(t, 1, added)
		twice, added := Merge(once, incoming)
		assert.Zero(t, added)
		assert.Equal(t, once, twice)
	})

	t.Run("SourceNeverRewritten", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{{Slug: "garfield", Source: SourceComicsKingdom}}
		merged, added := Merge(existing, incoming)
		assert.Zero(t, added)
		assert.Equal(t, SourceGoComics, merged[0].Source)
	})

	t.Run("DefaultsForNewEntries", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{{Slug: "PEARLS", Source: SourceGoComics, IsUpdated: true}}
		merged, added := Merge(existing, incoming)
		require.Equal(t, 1, added)
		got := merged[len(merged)-1]
		assert.Equal(t, "pearls", got.Slug)
		assert.False(t, got.IsUpdated)
		assert.Empty(t, got.Author)
	})

	t.Run("EndToEndScenario", func(t *testing.T) {
		t.Parallel()
		cat := []ComicRecord{{Slug: "garfield", Position: 1, Source: SourceGoComics}}
		incoming := []ComicRecord{
			{Slug: "garfield", Source: SourceGoComics},
			{Slug: "pearls", Source: SourceGoComics},
		}
		merged, added := Merge(cat, incoming)
		require.Len(t, merged, 2)
		assert.Equal(t, 1, added)
		assert.Equal(t, "pearls", merged[1].Slug)
		assert.Equal(t, 2, merged[1].Position)
	})

	t.Run("EmptyExisting", func(t *testing.T) {
		t.Parallel()
		incoming := []ComicRecord{{Slug: "pearls", Source: SourceGoComics}}
		merged, added := Merge(nil, incoming)
		require.Len(t, merged, 1)
		assert.Equal(t, 1, added)
		assert.Equal(t, 1, merged[0].Position)
	})
}

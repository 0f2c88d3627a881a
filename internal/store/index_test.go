package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/docchat/docchat/internal/errors"
)

func testEntries() []Entry {
	return []Entry{
		{Seq: 0, Vector: []float32{1, 0, 0, 0}, Text: "passage zero"},
		{Seq: 1, Vector: []float32{0, 1, 0, 0}, Text: "passage one"},
		{Seq: 2, Vector: []float32{0, 0, 1, 0}, Text: "passage two"},
		{Seq: 3, Vector: []float32{0.9, 0.1, 0, 0}, Text: "passage three"},
	}
}

func TestBuildIndex(t *testing.T) {
	t.Run("builds from entries", func(t *testing.T) {
		ix, err := BuildIndex("v1", 4, testEntries())
		require.NoError(t, err)

		assert.Equal(t, 4, ix.Len())
		assert.Equal(t, 4, ix.Dimensions())
		assert.Equal(t, "v1", ix.DocVersion())

		text, ok := ix.Text(2)
		require.True(t, ok)
		assert.Equal(t, "passage two", text)
	})

	t.Run("empty entries build an empty index", func(t *testing.T) {
		ix, err := BuildIndex("v1", 4, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, ix.Len())
	})

	t.Run("rejects dimension mismatch", func(t *testing.T) {
		_, err := BuildIndex("v1", 4, []Entry{
			{Seq: 0, Vector: []float32{1, 0}, Text: "short vector"},
		})
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeDimensionMismatch))
	})

	t.Run("rejects duplicate sequence", func(t *testing.T) {
		_, err := BuildIndex("v1", 2, []Entry{
			{Seq: 0, Vector: []float32{1, 0}},
			{Seq: 0, Vector: []float32{0, 1}},
		})
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeIndexBuildFailed))
	})

	t.Run("rejects invalid dimension", func(t *testing.T) {
		_, err := BuildIndex("v1", 0, nil)
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeIndexBuildFailed))
	})
}

func TestIndex_Query(t *testing.T) {
	ix, err := BuildIndex("v1", 4, testEntries())
	require.NoError(t, err)

	t.Run("nearest chunk ranks first", func(t *testing.T) {
		// Given a query aligned with chunk 0's vector
		hits, err := ix.Query([]float32{1, 0, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)

		// Then chunk 0 is the top hit with similarity ~1
		assert.Equal(t, 0, hits[0].Seq)
		assert.Equal(t, "passage zero", hits[0].Text)
		assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-4)

		// And chunk 3 (0.9, 0.1) is the runner-up
		assert.Equal(t, 3, hits[1].Seq)
		assert.Greater(t, hits[0].Score, hits[1].Score)
	})

	t.Run("scores are descending", func(t *testing.T) {
		hits, err := ix.Query([]float32{0.5, 0.5, 0, 0}, 4)
		require.NoError(t, err)
		require.Len(t, hits, 4)

		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})

	t.Run("k is clamped to index size", func(t *testing.T) {
		hits, err := ix.Query([]float32{1, 0, 0, 0}, 100)
		require.NoError(t, err)
		assert.Len(t, hits, 4)
	})

	t.Run("non-positive k returns no hits", func(t *testing.T) {
		hits, err := ix.Query([]float32{1, 0, 0, 0}, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("rejects dimension mismatch", func(t *testing.T) {
		_, err := ix.Query([]float32{1, 0}, 3)
		require.Error(t, err)
		assert.True(t, docerrors.IsCode(err, docerrors.ErrCodeDimensionMismatch))
	})

	t.Run("empty index returns no hits", func(t *testing.T) {
		empty, err := BuildIndex("v1", 4, nil)
		require.NoError(t, err)

		hits, err := empty.Query([]float32{1, 0, 0, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestHolder(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		h := NewHolder()

		assert.Nil(t, h.Load())
		assert.False(t, h.HasDocument())
		assert.Zero(t, h.ChunkCount())
	})

	t.Run("swap replaces the snapshot wholesale", func(t *testing.T) {
		// Given a holder with an active index
		h := NewHolder()
		first, err := BuildIndex("v1", 4, testEntries())
		require.NoError(t, err)
		require.Nil(t, h.Swap(first))

		// When a new document's index is swapped in
		second, err := BuildIndex("v2", 4, testEntries()[:2])
		require.NoError(t, err)
		old := h.Swap(second)

		// Then the old snapshot comes back and the new one is active
		assert.Same(t, first, old)
		assert.Same(t, second, h.Load())
		assert.Equal(t, 2, h.ChunkCount())
		assert.Equal(t, "v2", h.Load().DocVersion())
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Run("save and load preserve query behavior", func(t *testing.T) {
		// Given an index saved to disk
		dir := t.TempDir()
		path := filepath.Join(dir, "index.snapshot")

		ix, err := BuildIndex("v1", 4, testEntries())
		require.NoError(t, err)
		require.NoError(t, Save(ix, path))

		// When it is loaded back
		loaded, err := LoadSnapshot(path)
		require.NoError(t, err)
		require.NotNil(t, loaded)

		// Then metadata and query results survive the round trip
		assert.Equal(t, "v1", loaded.DocVersion())
		assert.Equal(t, 4, loaded.Len())

		want, err := ix.Query([]float32{1, 0, 0, 0}, 3)
		require.NoError(t, err)
		got, err := loaded.Query([]float32{1, 0, 0, 0}, 3)
		require.NoError(t, err)

		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Seq, got[i].Seq)
			assert.Equal(t, want[i].Text, got[i].Text)
			assert.InDelta(t, want[i].Score, got[i].Score, 1e-5)
		}
	})

	t.Run("missing snapshot is not an error", func(t *testing.T) {
		loaded, err := LoadSnapshot(filepath.Join(t.TempDir(), "absent.snapshot"))
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("corrupt snapshot is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.snapshot")
		require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

		_, err := LoadSnapshot(path)
		assert.Error(t, err)
	})
}

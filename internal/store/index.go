// Package store provides the in-memory vector index over document chunks.
//
// An Index is an immutable snapshot: it is built once from the chunks of a
// single document and never mutated, so readers need no coordination with
// uploads. Replacing the active document swaps the whole snapshot through a
// Holder.
package store

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	docerrors "github.com/docchat/docchat/internal/errors"
)

// Entry is one chunk prepared for indexing.
type Entry struct {
	// Seq is the chunk's position within the document, starting at 0.
	Seq int
	// Vector is the chunk's embedding.
	Vector []float32
	// Text is the chunk's passage text, returned with query hits.
	Text string
}

// Hit is a single retrieval result.
type Hit struct {
	Seq   int
	Score float32
	Text  string
}

// Index is an immutable vector index over one document's chunks.
type Index struct {
	// coder/hnsw graphs are not safe for concurrent search
	mu sync.Mutex

	graph      *hnsw.Graph[uint64]
	texts      map[uint64]string
	docVersion string
	dims       int
	count      int
}

// BuildIndex constructs an index from the given entries. All vectors must
// share the same dimension; they are copied and unit-normalized so cosine
// similarity reduces to a dot product.
func BuildIndex(docVersion string, dims int, entries []Entry) (*Index, error) {
	if dims <= 0 {
		return nil, docerrors.Newf(docerrors.ErrCodeIndexBuildFailed,
			"invalid dimension %d", dims)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	texts := make(map[uint64]string, len(entries))

	for _, e := range entries {
		if len(e.Vector) != dims {
			return nil, docerrors.Newf(docerrors.ErrCodeDimensionMismatch,
				"chunk %d: expected %d dimensions, got %d", e.Seq, dims, len(e.Vector))
		}
		if e.Seq < 0 {
			return nil, docerrors.Newf(docerrors.ErrCodeIndexBuildFailed,
				"negative chunk sequence %d", e.Seq)
		}
		key := uint64(e.Seq)
		if _, dup := texts[key]; dup {
			return nil, docerrors.Newf(docerrors.ErrCodeIndexBuildFailed,
				"duplicate chunk sequence %d", e.Seq)
		}

		vec := make([]float32, dims)
		copy(vec, e.Vector)
		normalizeVectorInPlace(vec)

		graph.Add(hnsw.MakeNode(key, vec))
		texts[key] = e.Text
	}

	return &Index{
		graph:      graph,
		texts:      texts,
		docVersion: docVersion,
		dims:       dims,
		count:      len(entries),
	}, nil
}

// Query returns the k nearest chunks to the query vector, ordered by
// descending score with ties broken by chunk sequence. k is clamped to the
// index size; an empty index returns no hits.
func (ix *Index) Query(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dims {
		return nil, docerrors.Newf(docerrors.ErrCodeDimensionMismatch,
			"expected %d dimensions, got %d", ix.dims, len(query))
	}
	if k <= 0 || ix.count == 0 {
		return []Hit{}, nil
	}
	if k > ix.count {
		k = ix.count
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	ix.mu.Lock()
	nodes := ix.graph.Search(normalized, k)
	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		distance := ix.graph.Distance(normalized, node.Value)
		hits = append(hits, Hit{
			Seq:   int(node.Key),
			Score: distanceToScore(distance),
			Text:  ix.texts[node.Key],
		})
	}
	ix.mu.Unlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})

	return hits, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return ix.count
}

// Dimensions returns the embedding dimension.
func (ix *Index) Dimensions() int {
	return ix.dims
}

// DocVersion returns the version marker of the indexed document.
func (ix *Index) DocVersion() string {
	return ix.docVersion
}

// Text returns the passage text for a chunk sequence.
func (ix *Index) Text(seq int) (string, bool) {
	text, ok := ix.texts[uint64(seq)]
	return text, ok
}

// entries reconstructs the index contents for persistence. Vectors come
// back unit-normalized, which is how they were indexed.
func (ix *Index) entries() []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]Entry, 0, ix.count)
	for key, text := range ix.texts {
		node, ok := ix.graph.Lookup(key)
		if !ok {
			continue
		}
		vec := make([]float32, len(node))
		copy(vec, node)
		out = append(out, Entry{Seq: int(key), Vector: vec, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance to cosine similarity.
// Distance ranges 0 (identical) to 2 (opposite); similarity is 1 - distance.
func distanceToScore(distance float32) float32 {
	return 1.0 - distance
}

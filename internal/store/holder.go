package store

import "sync/atomic"

// Holder publishes the active index snapshot. Queries load the current
// snapshot lock-free; uploads build a replacement off to the side and swap
// it in atomically, so in-flight queries keep the snapshot they started with.
type Holder struct {
	current atomic.Pointer[Index]
}

// NewHolder creates an empty holder with no active index.
func NewHolder() *Holder {
	return &Holder{}
}

// Load returns the active index, or nil when no document has been ingested.
func (h *Holder) Load() *Index {
	return h.current.Load()
}

// Swap installs ix as the active index and returns the previous one.
func (h *Holder) Swap(ix *Index) *Index {
	return h.current.Swap(ix)
}

// HasDocument reports whether an index is active.
func (h *Holder) HasDocument() bool {
	return h.current.Load() != nil
}

// ChunkCount returns the size of the active index, zero when none.
func (h *Holder) ChunkCount() int {
	ix := h.current.Load()
	if ix == nil {
		return 0
	}
	return ix.Len()
}

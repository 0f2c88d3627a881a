package store

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// snapshotVersion guards against loading snapshots written by an
// incompatible format revision.
const snapshotVersion = 1

// snapshot is the gob-encoded on-disk form of an Index. The raw entries
// are stored and the graph is rebuilt on load, which keeps the format
// independent of the graph library's internal layout.
type snapshot struct {
	Version    int
	DocVersion string
	Dims       int
	Entries    []Entry
}

// Save writes the index to path atomically (temp file + rename).
func Save(ix *Index, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	snap := snapshot{
		Version:    snapshotVersion,
		DocVersion: ix.DocVersion(),
		Dims:       ix.Dimensions(),
		Entries:    ix.entries(),
	}

	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close snapshot file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot file: %w", err)
	}

	return nil
}

// LoadSnapshot reads a snapshot from path and rebuilds the index.
// Returns (nil, nil) when no snapshot exists.
func LoadSnapshot(path string) (*Index, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var snap snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	return BuildIndex(snap.DocVersion, snap.Dims, snap.Entries)
}

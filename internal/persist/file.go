// Package persist provides the built-in persistence adapters and the
// throttled writer that paces snapshot writes.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/persist"
)

// FilePersister stores the full state snapshot in a single file, encoded by
// the configured codec. Writes go through a temp file and rename so a crash
// mid-write never leaves a truncated snapshot.
type FilePersister[S any] struct {
	path  string
	codec persist.Codec[S]
}

// NewFilePersister creates a file-backed persister. A nil codec uses JSON.
func NewFilePersister[S any](path string, codec persist.Codec[S]) (*FilePersister[S], error) {
	if path == "" {
		return nil, flowerrors.NewConfigError("file persister requires a non-empty path", nil)
	}
	if codec == nil {
		codec = persist.JSONCodec[S]{}
	}
	return &FilePersister[S]{path: path, codec: codec}, nil
}

func (f *FilePersister[S]) Read(ctx context.Context) (S, bool, error) {
	var zero S
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("reading state snapshot '%s': %w", f.path, err)
	}
	state, err := f.codec.Unmarshal(data)
	if err != nil {
		return zero, false, fmt.Errorf("decoding state snapshot '%s': %w", f.path, err)
	}
	return state, true, nil
}

func (f *FilePersister[S]) Persist(ctx context.Context, previous, next S) error {
	data, err := f.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state snapshot '%s': %w", f.path, err)
	}
	return nil
}

func (f *FilePersister[S]) Delete(ctx context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting state snapshot '%s': %w", f.path, err)
	}
	return nil
}

var _ persist.Persister[struct{}] = (*FilePersister[struct{}])(nil)

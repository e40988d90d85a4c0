// Package file stores items as one JSON array in a local file, written once
// at the end of a run.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/store"
	"github.com/typesarecool/myhn/pkg/store/snapshot"
)

// Backend is the metrics and configuration name of this store.
const Backend = "file"

// Store is a snapshot file. Upserts stay in memory until Flush.
type Store struct {
	*snapshot.Collection

	path   string
	logger zerolog.Logger
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Flusher = (*Store)(nil)
)

// Open loads the snapshot at path if it exists, or starts an empty one.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store: path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	}

	c, err := snapshot.Decode(Backend, data)
	if err != nil {
		return nil, fmt.Errorf("file store: %s: %w", path, err)
	}

	logger.Info().
		Str("path", path).
		Int("items", c.Len()).
		Msg("Opened snapshot file")

	return &Store{Collection: c, path: path, logger: logger}, nil
}

// Flush writes the collection to disk atomically. It is a no-op when
// nothing changed since the last flush.
func (s *Store) Flush(_ context.Context) error {
	if !s.Dirty() {
		return nil
	}

	data, err := s.Encode()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file store: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file store: replace %s: %w", s.path, err)
	}

	s.MarkClean()
	s.logger.Info().
		Str("path", s.path).
		Int("items", s.Len()).
		Int("bytes", len(data)).
		Msg("Snapshot written")
	return nil
}

// Close releases nothing; unflushed items are discarded.
func (s *Store) Close() error {
	return nil
}

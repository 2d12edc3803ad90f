// Package artifact manages the shared download directory where the retrieval
// engine writes media files.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saveforme/saveforme/internal/download"
)

const bytesPerMB = 1024 * 1024

// Config captures the parameters for the artifact store.
type Config struct {
	// Dir is the directory shared by workers and the reclaimer.
	Dir string `mapstructure:"dir"`
}

// Store lists, sizes, and deletes artifacts in the download directory.
// Filenames are expected to embed the producing job's video ID, which is how
// Locate discovers them after a fetch.
type Store struct {
	dir string
}

// New validates the directory and returns a Store. The directory is created
// when absent.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat artifact directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create artifact directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("artifact path %q is not a directory", cfg.Dir)
	}

	testFile := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("artifact directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &Store{dir: cfg.Dir}, nil
}

// Dir returns the managed directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Locate finds the single artifact whose filename embeds the given video ID.
// No match yields ErrArtifactMissing. More than one match is reported as
// ErrArtifactAmbiguous rather than silently picking the first entry.
func (s *Store) Locate(videoID string) (download.Artifact, error) {
	if strings.TrimSpace(videoID) == "" {
		return download.Artifact{}, fmt.Errorf("video id is required")
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return download.Artifact{}, fmt.Errorf("list artifact directory: %w", err)
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.Contains(entry.Name(), videoID) {
			matches = append(matches, entry.Name())
		}
	}

	switch len(matches) {
	case 0:
		return download.Artifact{}, download.ErrArtifactMissing
	case 1:
	default:
		return download.Artifact{}, fmt.Errorf("%w: video id %s matched %d files",
			download.ErrArtifactAmbiguous, videoID, len(matches))
	}

	name := matches[0]
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return download.Artifact{}, fmt.Errorf("stat artifact %s: %w", name, err)
	}
	return download.Artifact{
		Path:   path,
		Name:   name,
		SizeMB: float64(info.Size()) / bytesPerMB,
	}, nil
}

// Remove deletes the artifact at path. A file that is already absent is not
// an error; a reclaimer sweep may race a job's own cleanup.
func (s *Store) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Exists reports whether the artifact at path is still on disk.
func (s *Store) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

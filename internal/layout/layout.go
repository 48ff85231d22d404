// Package layout manages the on-disk organization of downloads: one
// directory per collection under the output root, atomic writes, and the
// existence checks that make runs resumable.
package layout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jobrunner/cddfetch/internal/domain"
)

// PartialSuffix marks in-flight downloads. A crash leaves the partial file
// behind; it is never mistaken for a completed download because
// completions are renames of fully written partials.
const PartialSuffix = ".partial"

// Manager decides destination paths and answers resumability checks.
// Filesystem presence is authoritative; the manifest only refines it.
type Manager struct {
	root string
}

// NewManager creates a layout manager rooted at the output directory.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the output root directory.
func (m *Manager) Root() string {
	return m.root
}

// CollectionDir returns (creating on demand) the directory for one
// collection.
func (m *Manager) CollectionDir(col domain.Collection) (string, error) {
	dir := filepath.Join(m.root, col.Label)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating collection directory: %w", err)
	}
	return dir, nil
}

// DestinationFor returns the final path for a tile download.
func (m *Manager) DestinationFor(col domain.Collection, tile domain.Tile) string {
	return filepath.Join(m.root, col.Label, tile.FileName())
}

// ManifestPath returns the path of the shared manifest database.
func (m *Manager) ManifestPath() string {
	return filepath.Join(m.root, "manifest.db")
}

// RunsDir returns (creating on demand) the directory for per-run reports.
func (m *Manager) RunsDir() (string, error) {
	dir := filepath.Join(m.root, "runs")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// Exists reports whether a completed download is present at path. A
// missing or zero-byte file counts as not-yet-downloaded, which recovers
// from crashes that bypassed the atomic-move discipline. When wantSize is
// positive (a recorded manifest size), a mismatched on-disk size also
// counts as absent, so truncated artifacts are re-fetched rather than
// trusted.
func (m *Manager) Exists(path string, wantSize int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if info.Size() == 0 {
		return false
	}
	if wantSize > 0 && info.Size() != wantSize {
		return false
	}
	return true
}

// Write streams body to a temporary file next to dest and atomically
// renames it into place, returning the byte count. When wantSize is
// positive the byte count must match it before the rename happens, so a
// truncated transfer never reaches dest where Exists would later accept
// it. On any failure the partial file is removed and dest is left
// untouched.
func (m *Manager) Write(dest string, body io.Reader, wantSize int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, err
	}

	partial := dest + PartialSuffix
	f, err := os.Create(partial) //#nosec G304 -- dest derives from the configured output root
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && wantSize > 0 && n != wantSize {
		err = fmt.Errorf("short read: got %d of %d bytes", n, wantSize)
	}
	if err != nil {
		_ = os.Remove(partial)
		return 0, err
	}

	if err := os.Rename(partial, dest); err != nil {
		_ = os.Remove(partial)
		return 0, err
	}
	return n, nil
}

// CleanPartials removes leftover partial files under one collection
// directory, typically after a crash or cancellation.
func (m *Manager) CleanPartials(col domain.Collection) error {
	dir := filepath.Join(m.root, col.Label)
	matches, err := filepath.Glob(filepath.Join(dir, "*"+PartialSuffix))
	if err != nil {
		return err
	}
	for _, p := range matches {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// RasterFiles lists the downloaded raster files of a collection, for the
// mosaic step.
func (m *Manager) RasterFiles(col domain.Collection) ([]string, error) {
	dir := filepath.Join(m.root, col.Label)
	var out []string
	for _, pattern := range []string{"*.tif", "*.tiff"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

package layout

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jobrunner/cddfetch/internal/domain"
)

var testCollection = domain.Collection{ID: "MDT-2m", Label: "MDT-2m", Raster: true}

func TestDestinationFor(t *testing.T) {
	m := NewManager("/data/downloads")
	tile := domain.Tile{
		Collection: "MDT-2m",
		ID:         "MDT-2m-0455-3",
		MIMEType:   "image/tiff; application=geotiff",
	}
	want := filepath.Join("/data/downloads", "MDT-2m", "MDT-2m-0455-3.tif")
	if got := m.DestinationFor(testCollection, tile); got != want {
		t.Errorf("DestinationFor() = %q, want %q", got, want)
	}
}

func TestManifestPath(t *testing.T) {
	m := NewManager("/data/downloads")
	want := filepath.Join("/data/downloads", "manifest.db")
	if got := m.ManifestPath(); got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}
}

func TestRunsDir(t *testing.T) {
	m := NewManager(t.TempDir())
	dir, err := m.RunsDir()
	if err != nil {
		t.Fatalf("RunsDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("RunsDir() did not create %s", dir)
	}
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	full := filepath.Join(root, "full.tif")
	if err := os.WriteFile(full, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(root, "empty.tif")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(root, "dir.tif")
	if err := os.Mkdir(dir, 0o750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		wantSize int64
		want     bool
	}{
		{"present with matching size", full, 7, true},
		{"present with unknown size", full, 0, true},
		{"present with size mismatch", full, 100, false},
		{"zero-byte file", empty, 0, false},
		{"directory", dir, 0, false},
		{"missing", filepath.Join(root, "absent.tif"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Exists(tt.path, tt.wantSize); got != tt.want {
				t.Errorf("Exists(%s, %d) = %v, want %v", tt.path, tt.wantSize, got, tt.want)
			}
		})
	}
}

func TestWriteAtomic(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	dest := filepath.Join(root, "MDT-2m", "tile.tif")

	n, err := m.Write(dest, strings.NewReader("tile bytes"), 10)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 10 {
		t.Errorf("Write() = %d bytes, want 10", n)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != "tile bytes" {
		t.Errorf("destination content = %q", got)
	}
	if _, err := os.Stat(dest + PartialSuffix); !os.IsNotExist(err) {
		t.Error("partial file left behind after successful write")
	}
}

// failingReader errors midway to simulate a dropped connection.
type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		r.n--
		p[0] = 'x'
		return 1, nil
	}
	return 0, errors.New("connection reset")
}

func TestWriteFailureCleansPartial(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	dest := filepath.Join(root, "MDT-2m", "tile.tif")

	if _, err := m.Write(dest, &failingReader{n: 3}, 0); err == nil {
		t.Fatal("Write() with failing reader should error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination created despite failed write")
	}
	if _, err := os.Stat(dest + PartialSuffix); !os.IsNotExist(err) {
		t.Error("partial file left behind after failed write")
	}
}

func TestWriteShortReadKeepsDestinationAbsent(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	dest := filepath.Join(root, "MDT-2m", "tile.tif")

	// Fewer bytes than announced: the write must fail before the rename.
	if _, err := m.Write(dest, strings.NewReader("abc"), 1000); err == nil {
		t.Fatal("Write() accepted fewer bytes than announced")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("truncated file landed at the destination")
	}
	if _, err := os.Stat(dest + PartialSuffix); !os.IsNotExist(err) {
		t.Error("partial file left behind after short read")
	}

	// An unknown size disables the check.
	if _, err := m.Write(dest, strings.NewReader("abc"), -1); err != nil {
		t.Fatalf("Write() with unknown size error = %v", err)
	}
}

func TestCleanPartials(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	dir, err := m.CollectionDir(testCollection)
	if err != nil {
		t.Fatalf("CollectionDir() error = %v", err)
	}
	keep := filepath.Join(dir, "done.tif")
	stale := filepath.Join(dir, "interrupted.tif"+PartialSuffix)
	for _, p := range []string{keep, stale} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.CleanPartials(testCollection); err != nil {
		t.Fatalf("CleanPartials() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale partial survived CleanPartials")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("completed file removed by CleanPartials")
	}
}

func TestRasterFiles(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	dir, err := m.CollectionDir(testCollection)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.tif", "b.tiff", "c.laz", "d.tif" + PartialSuffix} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	files, err := m.RasterFiles(testCollection)
	if err != nil {
		t.Fatalf("RasterFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("RasterFiles() = %v, want the two raster files", files)
	}
	for _, f := range files {
		base := filepath.Base(f)
		if base != "a.tif" && base != "b.tiff" {
			t.Errorf("unexpected raster file %s", base)
		}
	}
}

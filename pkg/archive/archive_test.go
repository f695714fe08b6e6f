package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPackage(t *testing.T) {
	root := filepath.Join(t.TempDir(), "job-1")
	writeTree(t, root, map[string]string{
		"page-2.html":        "<p>two</p>",
		"page-1.xhtml":       "<html/>",
		"page-1.html":        "<p>one</p>",
		"images/fig 1.png":   "png",
		"notes/deep/log.txt": "log",
	})

	path, err := New().Package(root)
	if err != nil {
		t.Fatalf("Package() error = %v", err)
	}
	if path != root+".zip" {
		t.Errorf("Package() = %q, want %q", path, root+".zip")
	}

	names, err := Entries(path)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	want := []string{
		"images/fig 1.png",
		"notes/deep/log.txt",
		"page-1.html",
		"page-1.xhtml",
		"page-2.html",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Entries() = %v, want %v", names, want)
	}
}

func TestPackage_ContentRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "job")
	writeTree(t, root, map[string]string{"sub/a.xhtml": "<html>a</html>"})

	path, err := New().Package(root)
	if err != nil {
		t.Fatal(err)
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	if len(r.File) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(r.File))
	}
	f := r.File[0]
	if f.Method != zip.Deflate {
		t.Errorf("expected deflate, got method %d", f.Method)
	}
	if !f.Modified.Equal(time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected modification time %s", f.Modified)
	}
	rc, err := f.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<html>a</html>" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestPackage_Deterministic(t *testing.T) {
	files := map[string]string{
		"b.html":       "<p>b</p>",
		"a.html":       "<p>a</p>",
		"a.xhtml":      "<html/>",
		"nested/c.css": "p{}",
	}

	base := t.TempDir()
	first := filepath.Join(base, "first")
	second := filepath.Join(base, "second")
	writeTree(t, first, files)
	writeTree(t, second, files)

	// Differing mtimes must not leak into the archive.
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(second, "a.html"), old, old); err != nil {
		t.Fatal(err)
	}

	p := New()
	a, err := p.Package(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Package(second)
	if err != nil {
		t.Fatal(err)
	}

	ab, _ := os.ReadFile(a)
	bb, _ := os.ReadFile(b)
	if !bytes.Equal(ab, bb) {
		t.Error("expected identical trees to produce identical archives")
	}

	// Repackaging overwrites in place with the same bytes.
	again, err := p.Package(first)
	if err != nil {
		t.Fatal(err)
	}
	cb, _ := os.ReadFile(again)
	if !bytes.Equal(ab, cb) {
		t.Error("expected repackaging to be byte-identical")
	}
}

func TestPackage_EmptyDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "empty")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	path, err := New().Package(root)
	if err != nil {
		t.Fatalf("Package() error = %v", err)
	}
	names, err := Entries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("expected no entries, got %v", names)
	}
}

func TestPackage_MissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	if _, err := New().Package(root); err == nil {
		t.Fatal("expected error for missing directory")
	}
	if _, err := os.Stat(root + ".zip"); !os.IsNotExist(err) {
		t.Error("expected no archive on failure")
	}
}

func TestPackage_NoTempFilesLeft(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "job")
	writeTree(t, root, map[string]string{"a.html": "x"})
	if _, err := New().Package(root); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if !reflect.DeepEqual(names, []string{"job", "job.zip"}) {
		t.Errorf("unexpected directory contents %v", names)
	}
}

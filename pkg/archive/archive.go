// Package archive packages a job output directory into a zip archive.
//
// Archives are deterministic: entries are written in lexicographic order of
// their slash-separated relative paths, with a fixed modification time and no
// filesystem metadata, so packaging the same tree twice yields identical bytes.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Extension is appended to the output directory path to name the archive.
const Extension = ".zip"

// modTime is stamped on every entry. Zip timestamps cannot represent
// anything before 1980.
var modTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Packager writes zip archives of directory trees.
type Packager struct{}

// New creates a Packager with default compression.
func New() *Packager {
	return &Packager{}
}

// Package archives every regular file under outputDir into outputDir+".zip"
// and returns the archive path. The archive is written to a temporary file
// and renamed into place, so readers never observe a partial archive.
func (p *Packager) Package(outputDir string) (string, error) {
	outputDir = filepath.Clean(outputDir)
	archivePath := outputDir + Extension

	entries, err := collect(outputDir)
	if err != nil {
		return "", fmt.Errorf("package %s: %w", outputDir, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".pkg-*"+Extension)
	if err != nil {
		return "", fmt.Errorf("package %s: %w", outputDir, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := p.write(tmp, outputDir, entries); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("package %s: %w", outputDir, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("package %s: %w", outputDir, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("package %s: %w", outputDir, err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		return "", fmt.Errorf("package %s: %w", outputDir, err)
	}
	return archivePath, nil
}

// collect returns the slash-separated relative paths of all regular files
// under root, sorted.
func collect(root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

func (p *Packager) write(w io.Writer, root string, entries []string) error {
	zw := zip.NewWriter(w)
	for _, name := range entries {
		if err := addFile(zw, root, name); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, root, name string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(name))) //#nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime,
	}
	header.SetMode(0o644)

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

// Entries lists the entry names of an archive in stored order.
func Entries(archivePath string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

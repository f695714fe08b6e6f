package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Bundle is a zip archive shipping the extraction tool. The archive is
// unpacked into Dir once per process; later calls reuse the unpacked files.
type Bundle struct {
	Archive string
	Dir     string
	// Jar is the path of the tool inside the unpacked tree.
	Jar string

	mu       sync.Mutex
	resolved string
}

// NewBundle describes a bundle archive unpacked into dir.
func NewBundle(archive, dir, jar string) *Bundle {
	return &Bundle{Archive: archive, Dir: dir, Jar: jar}
}

// Resolve returns the path of the unpacked jar, unpacking the archive if the
// jar is not present yet.
func (b *Bundle) Resolve() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resolved != "" {
		return b.resolved, nil
	}

	jarPath := filepath.Join(b.Dir, filepath.FromSlash(b.Jar))
	if _, err := os.Stat(jarPath); err != nil {
		if err := unzip(b.Archive, b.Dir); err != nil {
			return "", fmt.Errorf("unpack bundle %s: %w", b.Archive, err)
		}
		if _, err := os.Stat(jarPath); err != nil {
			return "", fmt.Errorf("bundle %s does not contain %s", b.Archive, b.Jar)
		}
	}

	b.resolved = jarPath
	return jarPath, nil
}

func unzip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("illegal entry path %q", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //#nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil { //#nosec G110
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

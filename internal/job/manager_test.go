package job

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/pdf2xhtml/pkg/archive"
	"github.com/jmylchreest/pdf2xhtml/pkg/extract"
)

func newTestManager(t *testing.T, invoker extract.Invoker, opts ...Option) *Manager {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithDirs(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs")),
		WithRetention(0, 0),
	}
	m, err := NewManager(invoker, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// writeDocs returns an invoker that writes files into the output directory.
func writeDocs(files map[string]string) extract.Invoker {
	return extract.InvokerFunc(func(_ context.Context, _, outputDir string) error {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
		for name, body := range files {
			path := filepath.Join(outputDir, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return err
			}
		}
		return nil
	})
}

// blockingInvoker holds every invocation until release is closed.
type blockingInvoker struct {
	started chan string
	release chan struct{}
}

func newBlockingInvoker() *blockingInvoker {
	return &blockingInvoker{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingInvoker) Invoke(ctx context.Context, inputPath, outputDir string) error {
	b.started <- inputPath
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "page.html"), []byte("<p>done</p>"), 0o644)
}

func submit(t *testing.T, m *Manager, name string) string {
	t.Helper()
	id, err := m.SubmitReader(context.Background(), name, strings.NewReader("%PDF-1.7"))
	if err != nil {
		t.Fatalf("SubmitReader() error = %v", err)
	}
	return id
}

func wait(t *testing.T, m *Manager, id string) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) error = %v", id, err)
	}
	return v
}

func TestManager_ConvertsSingleDocument(t *testing.T) {
	m := newTestManager(t, writeDocs(map[string]string{
		"page.html": "<div>  </div><p>Hi</p>",
	}))

	id := submit(t, m, "doc.pdf")
	v := wait(t, m, id)

	if v.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", v.Status, v.Error)
	}
	if v.Result != id+".zip" {
		t.Errorf("result = %q, want %q", v.Result, id+".zip")
	}
	if v.Documents != 1 {
		t.Errorf("documents = %d, want 1", v.Documents)
	}
	if v.CompletedAt == nil {
		t.Error("expected completion time")
	}
	if v.Sanitize == nil || v.Sanitize.EmptyElementRemovals != 1 || v.Sanitize.ElementsRemoved["div"] != 1 {
		t.Errorf("expected sanitize totals with one pruned div, got %+v", v.Sanitize)
	}

	names, err := archive.Entries(m.ArchivePath(v.Result))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"page.html", "page.xhtml"}) {
		t.Errorf("archive entries = %v", names)
	}

	outDir := filepath.Join(m.cfg.OutputsDir, id)
	sanitized, _ := os.ReadFile(filepath.Join(outDir, "page.html"))
	if string(sanitized) != "<p>Hi</p>" {
		t.Errorf("sanitized html = %q, want %q", sanitized, "<p>Hi</p>")
	}
	converted, _ := os.ReadFile(filepath.Join(outDir, "page.xhtml"))
	if !strings.Contains(string(converted), "<body><p>Hi</p></body>") {
		t.Errorf("unexpected xhtml %s", converted)
	}
	if strings.Contains(string(converted), "<div>") {
		t.Errorf("expected empty div removed, got %s", converted)
	}
}

func TestManager_StagesUploadUnderJobID(t *testing.T) {
	m := newTestManager(t, writeDocs(nil))

	id := submit(t, m, "../../etc/report.pdf")
	wait(t, m, id)

	want := filepath.Join(m.cfg.UploadsDir, id+"_report.pdf")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("expected staged upload at %s: %v", want, err)
	}
	if string(data) != "%PDF-1.7" {
		t.Errorf("staged content = %q", data)
	}
}

func TestManager_ExtractionFailure(t *testing.T) {
	inv := extract.NewExecInvoker(extract.WithCommand("sh", "-c", `echo "bad pdf" >&2; exit 1`, "extract"))
	m := newTestManager(t, inv)

	id := submit(t, m, "broken.pdf")
	v := wait(t, m, id)

	if v.Status != StatusError {
		t.Fatalf("status = %s, want error", v.Status)
	}
	if v.ErrorKind != KindExtractionFailed {
		t.Errorf("kind = %s, want %s", v.ErrorKind, KindExtractionFailed)
	}
	if !strings.Contains(v.Error, "bad pdf") {
		t.Errorf("expected diagnostic to contain tool stderr, got %q", v.Error)
	}
	if v.Result != "" {
		t.Errorf("expected no result, got %q", v.Result)
	}
	if _, err := os.Stat(filepath.Join(m.cfg.OutputsDir, id+".zip")); !os.IsNotExist(err) {
		t.Error("expected no archive for failed job")
	}
}

func TestManager_TransitionsForwardOnly(t *testing.T) {
	inv := newBlockingInvoker()
	m := newTestManager(t, inv, WithWorkers(1))

	first := submit(t, m, "first.pdf")
	<-inv.started
	second := submit(t, m, "second.pdf")

	if v, _ := m.Get(first); v.Status != StatusProcessing {
		t.Errorf("first status = %s, want processing", v.Status)
	}
	if v, _ := m.Get(second); v.Status != StatusQueued {
		t.Errorf("second status = %s, want queued", v.Status)
	}

	close(inv.release)
	for _, id := range []string{first, second} {
		if v := wait(t, m, id); v.Status != StatusCompleted {
			t.Errorf("%s status = %s, want completed", id, v.Status)
		}
	}

	// Terminal jobs cannot be moved again.
	m.mu.RLock()
	job := m.jobs[first]
	m.mu.RUnlock()
	if m.transition(job, StatusError, nil, errors.New("late failure")) {
		t.Error("expected transition out of completed to be refused")
	}
	if v, _ := m.Get(first); v.Status != StatusCompleted || v.Error != "" {
		t.Errorf("terminal job changed: %+v", v)
	}
}

func TestManager_ConcurrentJobsAreIsolated(t *testing.T) {
	inv := extract.InvokerFunc(func(_ context.Context, inputPath, outputDir string) error {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
		body := fmt.Sprintf("<p>%s</p>", filepath.Base(inputPath))
		return os.WriteFile(filepath.Join(outputDir, "page.html"), []byte(body), 0o644)
	})
	m := newTestManager(t, inv, WithWorkers(4), WithQueueSize(16))

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.SubmitReader(context.Background(), fmt.Sprintf("doc-%d.pdf", i), strings.NewReader("%PDF"))
			if err != nil {
				t.Errorf("SubmitReader() error = %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, id := range ids {
		if id == "" {
			continue
		}
		if seen[id] {
			t.Fatalf("duplicate job id %s", id)
		}
		seen[id] = true

		v := wait(t, m, id)
		if v.Status != StatusCompleted {
			t.Errorf("job %d status = %s (%s)", i, v.Status, v.Error)
			continue
		}

		res, err := m.OpenResult(id)
		if err != nil {
			t.Fatalf("OpenResult() error = %v", err)
		}
		zr, err := zip.NewReader(res.File, res.Size)
		if err != nil {
			t.Fatal(err)
		}
		var xhtml string
		for _, f := range zr.File {
			if f.Name != "page.xhtml" {
				continue
			}
			rc, _ := f.Open()
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			xhtml = string(data)
		}
		_ = res.Close()

		want := fmt.Sprintf("%s_doc-%d.pdf", id, i)
		if !strings.Contains(xhtml, want) {
			t.Errorf("job %d archive holds another job's output: %q", i, xhtml)
		}
	}
}

func TestManager_QueueFull(t *testing.T) {
	inv := newBlockingInvoker()
	m := newTestManager(t, inv, WithWorkers(1), WithQueueSize(1))
	defer close(inv.release)

	submit(t, m, "running.pdf")
	<-inv.started
	submit(t, m, "waiting.pdf")

	_, err := m.SubmitReader(context.Background(), "overflow.pdf", strings.NewReader("%PDF"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	entries, err := os.ReadDir(m.cfg.UploadsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected rejected upload to be removed, found %d staged files", len(entries))
	}
	m.mu.RLock()
	registered := len(m.jobs)
	m.mu.RUnlock()
	if registered != 2 {
		t.Errorf("expected 2 registered jobs, got %d", registered)
	}
}

func TestManager_UnknownJob(t *testing.T) {
	m := newTestManager(t, writeDocs(nil))

	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := m.Wait(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Wait() error = %v, want ErrNotFound", err)
	}
	if _, err := m.OpenResult("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenResult() error = %v, want ErrNotFound", err)
	}
}

func TestManager_OpenResultBeforeCompletion(t *testing.T) {
	inv := newBlockingInvoker()
	m := newTestManager(t, inv)
	defer close(inv.release)

	id := submit(t, m, "slow.pdf")
	<-inv.started

	if _, err := m.OpenResult(id); !errors.Is(err, ErrNotReady) {
		t.Errorf("OpenResult() error = %v, want ErrNotReady", err)
	}
}

func TestManager_ReclaimWaitsForReaders(t *testing.T) {
	m := newTestManager(t, writeDocs(map[string]string{"page.html": "<p>x</p>"}),
		WithRetention(time.Hour, 0))

	id := submit(t, m, "doc.pdf")
	v := wait(t, m, id)
	if v.Status != StatusCompleted {
		t.Fatalf("status = %s", v.Status)
	}

	if n := m.Reclaim(time.Now()); n != 0 {
		t.Errorf("reclaimed %d jobs inside the retention window", n)
	}

	res, err := m.OpenResult(id)
	if err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(2 * time.Hour)
	if n := m.Reclaim(later); n != 0 {
		t.Errorf("reclaimed %d jobs while a reader was open", n)
	}
	if err := res.Close(); err != nil {
		t.Fatal(err)
	}

	if n := m.Reclaim(later); n != 1 {
		t.Fatalf("Reclaim() = %d, want 1", n)
	}
	if _, err := m.OpenResult(id); !errors.Is(err, ErrResultGone) {
		t.Errorf("OpenResult() error = %v, want ErrResultGone", err)
	}

	v, err = m.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusCompleted || !v.Reclaimed {
		t.Errorf("expected completed and reclaimed, got %+v", v)
	}
	for _, p := range []string{
		m.ArchivePath(v.Result),
		filepath.Join(m.cfg.OutputsDir, id),
		filepath.Join(m.cfg.UploadsDir, id+"_doc.pdf"),
	} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s removed", p)
		}
	}
}

func TestManager_FailurePolicy(t *testing.T) {
	// The directory at bad.xhtml leaves nowhere to write the converted file.
	files := map[string]string{
		"good.html":      "<p>fine</p>",
		"bad.html":       "<p>x</p>",
		"bad.xhtml/keep": "",
	}

	t.Run("abort", func(t *testing.T) {
		m := newTestManager(t, writeDocs(files))
		v := wait(t, m, submit(t, m, "doc.pdf"))

		if v.Status != StatusError {
			t.Fatalf("status = %s, want error", v.Status)
		}
		if v.ErrorKind != KindConversionFailed {
			t.Errorf("kind = %s, want %s", v.ErrorKind, KindConversionFailed)
		}
		if !strings.Contains(v.Error, "bad.html") {
			t.Errorf("expected failing file named in %q", v.Error)
		}
	})

	t.Run("skip", func(t *testing.T) {
		m := newTestManager(t, writeDocs(files), WithFailurePolicy(PolicySkip))
		v := wait(t, m, submit(t, m, "doc.pdf"))

		if v.Status != StatusCompleted {
			t.Fatalf("status = %s (%s), want completed", v.Status, v.Error)
		}
		if len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "bad.html") {
			t.Errorf("warnings = %v", v.Warnings)
		}
		names, err := archive.Entries(m.ArchivePath(v.Result))
		if err != nil {
			t.Fatal(err)
		}
		if v.Sanitize == nil || v.Sanitize.InputBytes != len("<p>fine</p>")+len("<p>x</p>") {
			t.Errorf("expected sanitize totals over both documents, got %+v", v.Sanitize)
		}
		want := []string{"bad.html", "bad.xhtml/keep", "good.html", "good.xhtml"}
		if !reflect.DeepEqual(names, want) {
			t.Errorf("entries = %v, want %v", names, want)
		}
	})
}

func TestManager_RecoversPanics(t *testing.T) {
	m := newTestManager(t, extract.InvokerFunc(func(context.Context, string, string) error {
		panic("tool exploded")
	}))

	v := wait(t, m, submit(t, m, "doc.pdf"))
	if v.Status != StatusError || v.ErrorKind != KindInternal {
		t.Fatalf("expected internal error, got %+v", v)
	}
	if !strings.Contains(v.Error, "tool exploded") {
		t.Errorf("unexpected error %q", v.Error)
	}
}

func TestManager_JobTimeout(t *testing.T) {
	m := newTestManager(t, extract.InvokerFunc(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithTimeout(50*time.Millisecond))

	v := wait(t, m, submit(t, m, "doc.pdf"))
	if v.Status != StatusError {
		t.Fatalf("status = %s, want error", v.Status)
	}
	if !strings.Contains(v.Error, "deadline exceeded") {
		t.Errorf("unexpected error %q", v.Error)
	}
}

func TestManager_ShutdownDrainsQueue(t *testing.T) {
	m := newTestManager(t, writeDocs(map[string]string{"page.html": "<p>x</p>"}), WithWorkers(1))

	a := submit(t, m, "a.pdf")
	b := submit(t, m, "b.pdf")

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for _, id := range []string{a, b} {
		if v, _ := m.Get(id); v.Status != StatusCompleted {
			t.Errorf("%s status = %s, want completed", id, v.Status)
		}
	}

	if _, err := m.SubmitReader(context.Background(), "late.pdf", strings.NewReader("x")); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}

func TestManager_ShutdownCancelsRunningJobs(t *testing.T) {
	inv := newBlockingInvoker()
	m := newTestManager(t, inv)

	id := submit(t, m, "stuck.pdf")
	<-inv.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if v, _ := m.Get(id); v.Status != StatusError {
		t.Errorf("status = %s, want error", v.Status)
	}
}

func TestManager_Submit(t *testing.T) {
	m := newTestManager(t, writeDocs(map[string]string{"page.html": "<p>x</p>"}))

	src := filepath.Join(t.TempDir(), "local.pdf")
	if err := os.WriteFile(src, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := m.Submit(context.Background(), src)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	v := wait(t, m, id)
	if v.Status != StatusCompleted || v.Source != "local.pdf" {
		t.Errorf("unexpected view %+v", v)
	}

	if _, err := m.Submit(context.Background(), filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing input")
	}
}

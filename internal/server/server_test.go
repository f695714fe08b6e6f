package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/pdf2xhtml/internal/job"
	"github.com/jmylchreest/pdf2xhtml/pkg/extract"
)

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatal(err)
		}
	} else if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doGet(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func newManager(t *testing.T) *job.Manager {
	t.Helper()
	dir := t.TempDir()
	inv := extract.InvokerFunc(func(_ context.Context, _, outputDir string) error {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(outputDir, "page.html"), []byte("<div>  </div><p>Hi</p>"), 0o644)
	})
	m, err := job.NewManager(inv,
		job.WithDirs(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs")),
		job.WithRetention(0, 0),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestUploadStatusAndDownload(t *testing.T) {
	m := newManager(t)
	h := New(m, Config{MaxUploadBytes: 1 << 20}).Handler()

	rec := doUpload(t, h, "pdf_file", "report.PDF", []byte("%PDF-1.7"))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	var up UploadResponse
	decode(t, rec, &up)
	if !up.Success || up.JobID == "" {
		t.Fatalf("unexpected upload response %+v", up)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.Wait(ctx, up.JobID); err != nil {
		t.Fatal(err)
	}

	rec = doGet(h, "/status/"+up.JobID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var v job.View
	decode(t, rec, &v)
	if v.Status != job.StatusCompleted || v.Result != up.JobID+".zip" {
		t.Fatalf("unexpected view %+v", v)
	}

	rec = doGet(h, "/output/"+v.Result)
	if rec.Code != http.StatusOK {
		t.Fatalf("output code = %d, body %s", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, v.Result) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("download is not a zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "page.html,page.xhtml" {
		t.Errorf("archive entries = %v", names)
	}
}

func TestUpload_FallbackField(t *testing.T) {
	h := New(newManager(t), Config{}).Handler()

	rec := doUpload(t, h, "file", "scan.pdf", []byte("%PDF"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  string
		wantCode int
		wantMsg  string
	}{
		{"wrong extension", "pdf_file", "notes.txt", "hello", http.StatusBadRequest, "only PDF"},
		{"pdf in the middle", "pdf_file", "notes.pdf.txt", "hello", http.StatusBadRequest, "only PDF"},
		{"no file part", "", "", "hello", http.StatusBadRequest, "no file"},
		{"empty file", "pdf_file", "x.pdf", "", http.StatusBadRequest, "empty file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t)
			h := New(m, Config{}).Handler()

			rec := doUpload(t, h, tt.field, tt.filename, []byte(tt.content))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp UploadResponse
			decode(t, rec, &resp)
			if resp.Success || !strings.Contains(resp.Message, tt.wantMsg) {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	h := New(newManager(t), Config{MaxUploadBytes: 128}).Handler()

	rec := doUpload(t, h, "pdf_file", "big.pdf", bytes.Repeat([]byte("x"), 4096))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	h := New(newManager(t), Config{}).Handler()

	rec := doGet(h, "/status/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp NotFoundResponse
	decode(t, rec, &resp)
	if resp.Status != "not_found" {
		t.Errorf("status field = %q, want not_found", resp.Status)
	}
}

// fakeJobs returns fixed errors so every mapping can be exercised.
type fakeJobs struct {
	submitErr error
	resultErr error
}

func (f *fakeJobs) SubmitReader(_ context.Context, _ string, r io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	return "", f.submitErr
}

func (f *fakeJobs) Get(string) (job.View, error) {
	return job.View{}, job.ErrNotFound
}

func (f *fakeJobs) OpenResult(string) (*job.Result, error) {
	return nil, f.resultErr
}

func TestUpload_Unavailable(t *testing.T) {
	for _, err := range []error{job.ErrQueueFull, job.ErrShuttingDown} {
		h := New(&fakeJobs{submitErr: err}, Config{}).Handler()
		rec := doUpload(t, h, "pdf_file", "a.pdf", []byte("%PDF"))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%v: status = %d, want 503", err, rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Errorf("%v: expected Retry-After header", err)
		}
	}
}

func TestOutput_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		wantCode int
	}{
		{"unknown job", "/output/abc.zip", job.ErrNotFound, http.StatusNotFound},
		{"not ready", "/output/abc.zip", job.ErrNotReady, http.StatusConflict},
		{"reclaimed", "/output/abc.zip", job.ErrResultGone, http.StatusGone},
		{"not an archive name", "/output/abc.tar", nil, http.StatusNotFound},
		{"bare extension", "/output/.zip", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeJobs{resultErr: tt.err}, Config{}).Handler()
			rec := doGet(h, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := New(&fakeJobs{}, Config{}).Handler()

	rec := doGet(h, "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}

	rec = doGet(h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pdf2xhtml_") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

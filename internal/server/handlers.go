package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jmylchreest/pdf2xhtml/internal/job"
	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/metrics"
)

// Multipart field names accepted for the uploaded document, in order.
var uploadFields = []string{"pdf_file", "file"}

func (s *Server) upload(c echo.Context) error {
	if s.cfg.MaxUploadBytes > 0 && c.Request().ContentLength > s.cfg.MaxUploadBytes {
		metrics.JobRejected("too_large")
		return Error(c, http.StatusRequestEntityTooLarge, "file too large")
	}

	fh, err := formFile(c)
	if err != nil {
		if tooLarge(err) {
			metrics.JobRejected("too_large")
			return Error(c, http.StatusRequestEntityTooLarge, "file too large")
		}
		metrics.JobRejected("invalid_upload")
		return Error(c, http.StatusBadRequest, "no file uploaded")
	}
	if fh.Filename == "" {
		metrics.JobRejected("invalid_upload")
		return Error(c, http.StatusBadRequest, "no selected file")
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		metrics.JobRejected("invalid_upload")
		return Error(c, http.StatusBadRequest, "invalid file type, only PDF files are allowed")
	}
	if fh.Size == 0 {
		metrics.JobRejected("invalid_upload")
		return Error(c, http.StatusBadRequest, "empty file")
	}

	f, err := fh.Open()
	if err != nil {
		return Error(c, http.StatusBadRequest, "unreadable upload")
	}
	defer func() { _ = f.Close() }()

	id, err := s.jobs.SubmitReader(c.Request().Context(), fh.Filename, f)
	switch {
	case err == nil:
		return Accepted(c, http.StatusOK, id)
	case errors.Is(err, job.ErrQueueFull), errors.Is(err, job.ErrShuttingDown):
		c.Response().Header().Set("Retry-After", "30")
		return Error(c, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("failed to submit job", "source", fh.Filename, "error", err)
		return Error(c, http.StatusInternalServerError, "failed to queue job")
	}
}

func formFile(c echo.Context) (*multipart.FileHeader, error) {
	var err error
	for _, field := range uploadFields {
		var fh *multipart.FileHeader
		fh, err = c.FormFile(field)
		if err == nil {
			return fh, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
	}
	return nil, err
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	var he *echo.HTTPError
	return errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge
}

func (s *Server) status(c echo.Context) error {
	v, err := s.jobs.Get(c.Param("job_id"))
	if errors.Is(err, job.ErrNotFound) {
		return c.JSON(http.StatusNotFound, NotFoundResponse{Status: "not_found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) output(c echo.Context) error {
	filename := c.Param("filename")
	id, ok := strings.CutSuffix(filename, ".zip")
	if !ok || id == "" || strings.ContainsAny(id, `/\`) {
		return Error(c, http.StatusNotFound, "file not found")
	}

	res, err := s.jobs.OpenResult(id)
	switch {
	case errors.Is(err, job.ErrNotFound):
		return Error(c, http.StatusNotFound, "file not found")
	case errors.Is(err, job.ErrNotReady):
		return Error(c, http.StatusConflict, "job has not completed")
	case errors.Is(err, job.ErrResultGone):
		return Error(c, http.StatusGone, "result has expired")
	case err != nil:
		return err
	}
	defer func() { _ = res.Close() }()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "application/zip")
	w.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, res.Name))
	http.ServeContent(w, c.Request(), res.Name, res.ModTime, res.File)
	return nil
}

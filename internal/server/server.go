// Package server exposes the job manager over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/jmylchreest/pdf2xhtml/internal/job"
	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/metrics"
)

// Jobs is the part of the job manager the handlers need.
type Jobs interface {
	SubmitReader(ctx context.Context, name string, r io.Reader) (string, error)
	Get(id string) (job.View, error)
	OpenResult(id string) (*job.Result, error)
}

// Config holds server settings.
type Config struct {
	Addr string
	// MaxUploadBytes caps the request body of an upload; zero disables the cap.
	MaxUploadBytes int64
}

// Server is the HTTP front end.
type Server struct {
	cfg  Config
	jobs Jobs
	echo *echo.Echo
}

// New builds the router.
func New(jobs Jobs, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	s := &Server{cfg: cfg, jobs: jobs, echo: e}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))

	upload := []echo.MiddlewareFunc{}
	if cfg.MaxUploadBytes > 0 {
		upload = append(upload, echomw.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes, 10)))
	}

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.POST("/upload", s.upload, upload...)
	e.GET("/status/:job_id", s.status)
	e.GET("/output/:filename", s.output)

	return s
}

// Handler returns the router for use with net/http.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("listening", "addr", s.cfg.Addr)
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		logger.Error("request failed", "uri", c.Request().RequestURI, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = Error(c, code, msg)
}

package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/server"
	"github.com/jmylchreest/pdf2xhtml/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload and job status HTTP API",
	Long: `Serve the HTTP API:

  POST /upload               multipart field "pdf_file" (or "file"), returns a job id
  GET  /status/{job_id}      job status, result name or error
  GET  /output/{job_id}.zip  download the archive of a completed job
  GET  /health, /metrics`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, map[string]string{
			"server.addr":            "addr",
			"server.max_upload_size": "max-upload-size",
			"jobs.workers":           "workers",
			"jobs.queue_size":        "queue-size",
			"jobs.failure_policy":    "failure-policy",
			"storage.uploads_dir":    "uploads-dir",
			"storage.outputs_dir":    "outputs-dir",
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	flags := serveCmd.Flags()

	flags.String("addr", "", "listen address (default 127.0.0.1:5000)")
	flags.Int("workers", 0, "concurrent jobs (default 2)")
	flags.Int("queue-size", 0, "jobs allowed to wait for a worker (default 64)")
	flags.String("max-upload-size", "", "largest accepted upload, e.g. 32MB")
	flags.String("uploads-dir", "", "directory for staged uploads")
	flags.String("outputs-dir", "", "directory for job output and archives")
	flags.String("failure-policy", "", "per-file failure handling: abort or skip")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}

	srv := server.New(manager, server.Config{
		Addr:           cfg.Server.Addr,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	logger.Info("starting pdf2xhtml",
		"version", version.String(),
		"addr", cfg.Server.Addr,
		"workers", cfg.Jobs.Workers,
		"extractor", cfg.Extractor.Command,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("job shutdown", "error", err)
	}
	return serveErr
}

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pdf2xhtml/internal/job"
	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/output"
	"github.com/jmylchreest/pdf2xhtml/pkg/archive"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>...",
	Short: "Convert local PDF files to XHTML archives",
	Long: `Convert runs each document through the same job pipeline as the HTTP
service and waits for the results. Archives are written to the outputs
directory as <job_id>.zip.

Examples:
  pdf2xhtml convert report.pdf
  pdf2xhtml convert --format json a.pdf b.pdf
  pdf2xhtml convert --failure-policy skip scan.pdf
  pdf2xhtml convert --list report.pdf`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, map[string]string{
			"jobs.workers":        "workers",
			"jobs.failure_policy": "failure-policy",
			"storage.uploads_dir": "uploads-dir",
			"storage.outputs_dir": "outputs-dir",
		})
	},
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	flags := convertCmd.Flags()

	flags.StringP("format", "f", "text", "result format: text, json, jsonl, yaml")
	flags.String("uploads-dir", "", "directory for staged copies of the inputs")
	flags.String("outputs-dir", "", "directory for job output and archives")
	flags.Int("workers", 0, "documents converted concurrently")
	flags.String("failure-policy", "", "per-file failure handling: abort or skip")
	flags.Bool("list", false, "list the entries of each archive")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Every document must fit in the queue at once.
	if cfg.Jobs.QueueSize < len(args) {
		cfg.Jobs.QueueSize = len(args)
	}
	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	ids := make([]string, 0, len(args))
	for _, path := range args {
		id, err := manager.Submit(ctx, path)
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		logger.Debug("submitted", "job_id", id, "source", path)
		ids = append(ids, id)
	}

	w, err := output.New(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	list, _ := cmd.Flags().GetBool("list")
	failed := 0
	for i, id := range ids {
		v, err := manager.Wait(ctx, id)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", args[i], err)
		}
		if v.Status == job.StatusError {
			failed++
		} else {
			path := manager.ArchivePath(v.Result)
			logInfo("%s -> %s", args[i], path)
			if list {
				entries, err := archive.Entries(path)
				if err != nil {
					return fmt.Errorf("list %s: %w", path, err)
				}
				for _, e := range entries {
					logInfo("  %s", e)
				}
			}
		}
		if err := w.Write(v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(ids))
	}
	return nil
}

package job

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/metrics"
	"github.com/jmylchreest/pdf2xhtml/pkg/archive"
	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/sanitize"
	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/xhtml"
	"github.com/jmylchreest/pdf2xhtml/pkg/extract"
)

// FailurePolicy decides what a per-file sanitize or convert failure does to
// the job.
type FailurePolicy string

const (
	// PolicyAbort fails the whole job on the first per-file failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip records the failure as a warning and carries on. The skipped
	// file stays in the output tree without an XHTML sibling.
	PolicySkip FailurePolicy = "skip"
)

// Stage names used for logging and metrics.
const (
	StageExtract  = "extract"
	StageSanitize = "sanitize"
	StageConvert  = "convert"
	StagePackage  = "package"
)

// Pipeline runs the document stages for one job: extract, sanitize every HTML
// file, convert every sanitized file, package the output directory.
type Pipeline struct {
	Invoker   extract.Invoker
	Sanitizer *sanitize.Sanitizer
	Converter *xhtml.Converter
	Packager  *archive.Packager
	Policy    FailurePolicy
}

// Outcome describes a successful pipeline run.
type Outcome struct {
	ArchivePath string
	Documents   int
	Warnings    []string
	// Sanitize totals the sanitizer stats of every document that was
	// sanitized, including ones later skipped by conversion.
	Sanitize *sanitize.Stats
}

// NewPipeline creates a pipeline around invoker with the given sanitizer
// settings. A nil cfg uses sanitize.DefaultConfig.
func NewPipeline(invoker extract.Invoker, cfg *sanitize.Config, policy FailurePolicy) *Pipeline {
	if policy == "" {
		policy = PolicyAbort
	}
	return &Pipeline{
		Invoker:   invoker,
		Sanitizer: sanitize.New(cfg),
		Converter: xhtml.New(),
		Packager:  archive.New(),
		Policy:    policy,
	}
}

// Run processes inputPath into outputDir and packages the result. Every
// returned error is a *StageError.
func (p *Pipeline) Run(ctx context.Context, jobID, inputPath, outputDir string) (*Outcome, error) {
	log := logger.With("job_id", jobID)
	out := &Outcome{Sanitize: sanitize.NewStats()}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Kind: KindInternal, Err: err}
	}

	start := time.Now()
	err := p.Invoker.Invoke(ctx, inputPath, outputDir)
	metrics.ObserveStage(StageExtract, time.Since(start), err != nil)
	if err != nil {
		return nil, &StageError{Kind: KindExtractionFailed, Err: err}
	}
	log.Debug("extraction complete", "stage", StageExtract, "duration", time.Since(start))

	docs, err := findDocuments(outputDir)
	if err != nil {
		return nil, &StageError{Kind: KindSanitizationFailed, Err: err}
	}

	start = time.Now()
	var sanitized []string
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Kind: KindInternal, Err: err}
		}
		stats, err := p.Sanitizer.SanitizeFile(filepath.Join(outputDir, filepath.FromSlash(doc)))
		if err != nil {
			se := &StageError{Kind: KindSanitizationFailed, File: doc, Err: err}
			if p.Policy != PolicySkip {
				metrics.ObserveStage(StageSanitize, time.Since(start), true)
				return nil, se
			}
			metrics.FileSkipped(StageSanitize)
			log.Warn("skipping document", "stage", StageSanitize, "file", doc, "error", err)
			out.Warnings = append(out.Warnings, se.Error())
			continue
		}
		log.Debug("sanitized", "stage", StageSanitize, "file", doc,
			"removed", stats.TotalElementsRemoved(), "reduction", fmt.Sprintf("%.1f%%", stats.ReductionPercent()))
		out.Sanitize.Merge(stats)
		sanitized = append(sanitized, doc)
	}
	metrics.ObserveStage(StageSanitize, time.Since(start), false)

	start = time.Now()
	for _, doc := range sanitized {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Kind: KindInternal, Err: err}
		}
		if _, err := p.Converter.ConvertFile(filepath.Join(outputDir, filepath.FromSlash(doc))); err != nil {
			se := &StageError{Kind: KindConversionFailed, File: doc, Err: err}
			if p.Policy != PolicySkip {
				metrics.ObserveStage(StageConvert, time.Since(start), true)
				return nil, se
			}
			metrics.FileSkipped(StageConvert)
			log.Warn("skipping document", "stage", StageConvert, "file", doc, "error", err)
			out.Warnings = append(out.Warnings, se.Error())
			continue
		}
		metrics.DocumentConverted()
		out.Documents++
	}
	metrics.ObserveStage(StageConvert, time.Since(start), false)

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Kind: KindInternal, Err: err}
	}

	start = time.Now()
	archivePath, err := p.Packager.Package(outputDir)
	metrics.ObserveStage(StagePackage, time.Since(start), err != nil)
	if err != nil {
		return nil, &StageError{Kind: KindPackagingFailed, Err: err}
	}
	out.ArchivePath = archivePath

	log.Debug("pipeline complete", "documents", out.Documents, "warnings", len(out.Warnings))
	return out, nil
}

// findDocuments returns the slash-separated paths of HTML files under root,
// relative to root and sorted.
func findDocuments(root string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !isHTML(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		docs = append(docs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(docs)
	return docs, nil
}

func isHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

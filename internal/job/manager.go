// Package job runs document conversion jobs asynchronously.
//
// A Manager owns an in-memory registry of jobs and a bounded pool of workers.
// Submissions are staged on disk, registered as queued and handed to the pool
// through a buffered channel. Each worker drives one job at a time through the
// Pipeline and resolves it to exactly one terminal status.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/internal/metrics"
	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/sanitize"
	"github.com/jmylchreest/pdf2xhtml/pkg/extract"
)

// Config holds Manager settings.
type Config struct {
	UploadsDir string
	OutputsDir string

	Workers   int
	QueueSize int
	// Timeout bounds the whole pipeline of a single job.
	Timeout time.Duration

	// Retention is how long terminal jobs keep their artifacts. Zero keeps
	// them for the process lifetime.
	Retention       time.Duration
	JanitorInterval time.Duration

	FailurePolicy FailurePolicy
	Sanitize      *sanitize.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UploadsDir:      "uploads",
		OutputsDir:      "outputs",
		Workers:         2,
		QueueSize:       64,
		Timeout:         10 * time.Minute,
		Retention:       24 * time.Hour,
		JanitorInterval: 10 * time.Minute,
		FailurePolicy:   PolicyAbort,
	}
}

// Option configures a Manager.
type Option func(*Config)

// WithDirs sets the upload staging and output directories.
func WithDirs(uploads, outputs string) Option {
	return func(c *Config) {
		c.UploadsDir = uploads
		c.OutputsDir = outputs
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithQueueSize sets how many jobs may wait for a worker.
func WithQueueSize(n int) Option {
	return func(c *Config) {
		c.QueueSize = n
	}
}

// WithTimeout bounds each job.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithRetention sets how long artifacts of finished jobs are kept and how
// often the janitor looks for expired ones.
func WithRetention(retention, interval time.Duration) Option {
	return func(c *Config) {
		c.Retention = retention
		c.JanitorInterval = interval
	}
}

// WithFailurePolicy sets the per-file failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *Config) {
		c.FailurePolicy = p
	}
}

// WithSanitizeConfig sets the sanitizer settings.
func WithSanitizeConfig(cfg *sanitize.Config) Option {
	return func(c *Config) {
		c.Sanitize = cfg
	}
}

// Manager tracks jobs and executes them on a bounded worker pool.
type Manager struct {
	cfg      Config
	pipeline *Pipeline

	mu     sync.RWMutex
	jobs   map[string]*Job
	queue  chan string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// NewManager creates the job directories and starts the worker pool.
func NewManager(invoker extract.Invoker, opts ...Option) (*Manager, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewManagerWithConfig(invoker, cfg)
}

// NewManagerWithConfig is NewManager with an explicit Config.
func NewManagerWithConfig(invoker extract.Invoker, cfg Config) (*Manager, error) {
	if invoker == nil {
		return nil, errors.New("job manager requires an extraction invoker")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	for _, dir := range []string{cfg.UploadsDir, cfg.OutputsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job directory: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		pipeline: NewPipeline(invoker, cfg.Sanitize, cfg.FailurePolicy),
		jobs:     make(map[string]*Job),
		queue:    make(chan string, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	if cfg.Retention > 0 && cfg.JanitorInterval > 0 {
		m.janitorStop = make(chan struct{})
		m.janitorDone = make(chan struct{})
		go m.janitor(cfg.JanitorInterval)
	}

	logger.Debug("job manager started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return m, nil
}

// Submit queues a job for a copy of the file at inputPath.
func (m *Manager) Submit(ctx context.Context, inputPath string) (string, error) {
	f, err := os.Open(inputPath) //#nosec G304
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	return m.SubmitReader(ctx, filepath.Base(inputPath), f)
}

// SubmitReader stages r under the uploads directory and queues a job for it.
// It never blocks on the queue: a full queue returns ErrQueueFull and leaves
// nothing behind.
func (m *Manager) SubmitReader(ctx context.Context, name string, r io.Reader) (string, error) {
	if m.isClosed() {
		metrics.JobRejected("shutting_down")
		return "", ErrShuttingDown
	}

	id := uuid.NewString()
	name = safeName(name)
	inputPath := filepath.Join(m.cfg.UploadsDir, id+"_"+name)

	if err := stage(ctx, inputPath, r); err != nil {
		return "", err
	}

	now := time.Now()
	job := &Job{
		ID:         id,
		SourceName: name,
		Status:     StatusQueued,
		InputPath:  inputPath,
		OutputDir:  filepath.Join(m.cfg.OutputsDir, id),
		CreatedAt:  now,
		UpdatedAt:  now,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = os.Remove(inputPath)
		metrics.JobRejected("shutting_down")
		return "", ErrShuttingDown
	}
	select {
	case m.queue <- id:
		m.jobs[id] = job
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		_ = os.Remove(inputPath)
		metrics.JobRejected("queue_full")
		logger.Warn("job rejected", "reason", "queue full", "source", name)
		return "", ErrQueueFull
	}

	metrics.JobSubmitted()
	logger.Info("job queued", "job_id", id, "source", name)
	return id, nil
}

// stage copies r to path, removing the partial file on failure.
func stage(ctx context.Context, path string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //#nosec G304
	if err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("stage upload: %w", err)
	}
	return nil
}

// safeName reduces a client supplied file name to a single path element.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == '/', r == ':':
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." || name == "" {
		return "upload"
	}
	return name
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return View{}, ErrNotFound
	}
	return job.view(), nil
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (View, error) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return View{}, ErrNotFound
	}

	select {
	case <-job.done:
		return m.Get(id)
	case <-ctx.Done():
		v, _ := m.Get(id)
		return v, ctx.Err()
	}
}

// ArchivePath returns the path of the archive for a result reference.
func (m *Manager) ArchivePath(resultRef string) string {
	return filepath.Join(m.cfg.OutputsDir, resultRef)
}

// Result is an open archive of a completed job. Close must be called to
// release the job for reclamation.
type Result struct {
	*os.File
	Name    string
	Size    int64
	ModTime time.Time

	once    sync.Once
	release func()
}

// Close closes the archive and unpins the job.
func (r *Result) Close() error {
	err := r.File.Close()
	r.once.Do(r.release)
	return err
}

// OpenResult opens the archive of a completed job for reading. While the
// Result is open the janitor will not reclaim the job.
func (m *Manager) OpenResult(id string) (*Result, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return nil, ErrNotFound
	case job.Reclaimed:
		m.mu.Unlock()
		return nil, ErrResultGone
	case job.Status != StatusCompleted:
		m.mu.Unlock()
		return nil, ErrNotReady
	}
	job.readers++
	ref := job.ResultRef
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		job.readers--
		m.mu.Unlock()
	}

	f, err := os.Open(m.ArchivePath(ref)) //#nosec G304
	if err != nil {
		release()
		return nil, fmt.Errorf("open result: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		release()
		return nil, fmt.Errorf("open result: %w", err)
	}
	return &Result{
		File:    f,
		Name:    ref,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		release: release,
	}, nil
}

// Shutdown stops accepting submissions and waits for queued and running jobs
// to finish. If ctx ends first, running jobs are cancelled and fail; Shutdown
// still waits for every worker to resolve its job before returning ctx.Err().
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	if m.janitorStop != nil {
		close(m.janitorStop)
		<-m.janitorDone
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		logger.Debug("job manager stopped")
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		logger.Warn("job manager stopped with cancelled jobs")
		return ctx.Err()
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for id := range m.queue {
		m.execute(id)
	}
}

func (m *Manager) execute(id string) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if !m.transition(job, StatusProcessing, nil, nil) {
		return
	}
	metrics.JobStarted()
	logger.Info("job started", "job_id", id)

	outcome, err := m.run(job)
	if err != nil {
		m.transition(job, StatusError, nil, err)
		metrics.JobFinished(string(StatusError))
		logger.Error("job failed", "job_id", id, "kind", KindOf(err), "error", err)
		return
	}

	m.transition(job, StatusCompleted, outcome, nil)
	metrics.JobFinished(string(StatusCompleted))
	logger.Info("job completed", "job_id", id, "result", filepath.Base(outcome.ArchivePath),
		"documents", outcome.Documents, "warnings", len(outcome.Warnings))
}

// run executes the pipeline under the job timeout and converts panics into
// internal failures.
func (m *Manager) run(job *Job) (outcome *Outcome, err error) {
	ctx := m.ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = &StageError{Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	outcome, err = m.pipeline.Run(ctx, job.ID, job.InputPath, job.OutputDir)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && KindOf(err) == KindInternal {
		err = &StageError{Kind: KindInternal, Err: fmt.Errorf("job timed out after %s", m.cfg.Timeout)}
	}
	return outcome, err
}

// transition moves job to status if the state machine allows it. Reaching a
// terminal status records the outcome or failure and releases waiters.
func (m *Manager) transition(job *Job, to Status, outcome *Outcome, cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(job.Status, to) {
		logger.Warn("illegal job transition", "job_id", job.ID, "from", job.Status, "to", to)
		return false
	}

	now := time.Now()
	job.Status = to
	job.UpdatedAt = now

	switch to {
	case StatusCompleted:
		job.ResultRef = filepath.Base(outcome.ArchivePath)
		job.Documents = outcome.Documents
		job.Warnings = outcome.Warnings
		job.Sanitize = outcome.Sanitize
	case StatusError:
		job.ErrorKind = KindOf(cause)
		job.ErrorMessage = cause.Error()
	}
	if to.Terminal() {
		job.CompletedAt = now
		close(job.done)
	}
	return true
}

package job

import (
	"errors"
	"fmt"
)

// Registry and result access errors.
// Check with errors.Is(err, job.ErrNotFound).
var (
	// ErrNotFound indicates no job is registered under the id.
	ErrNotFound = errors.New("job not found")
	// ErrQueueFull indicates the submission was refused because every queue slot is taken.
	ErrQueueFull = errors.New("job queue is full")
	// ErrShuttingDown indicates the manager no longer accepts submissions.
	ErrShuttingDown = errors.New("job manager is shutting down")
	// ErrNotReady indicates the job has not completed.
	ErrNotReady = errors.New("job result not ready")
	// ErrResultGone indicates the artifacts were removed by the retention janitor.
	ErrResultGone = errors.New("job result has been reclaimed")
)

// Kind classifies a job failure.
type Kind string

const (
	KindUploadRejected     Kind = "UploadRejected"
	KindExtractionFailed   Kind = "ExtractionFailed"
	KindSanitizationFailed Kind = "SanitizationFailed"
	KindConversionFailed   Kind = "ConversionFailed"
	KindPackagingFailed    Kind = "PackagingFailed"
	KindInternal           Kind = "Internal"
)

// StageError is a failure of one pipeline stage, optionally tied to the file
// being processed.
type StageError struct {
	Kind Kind
	File string
	Err  error
}

func (e *StageError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.File, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or KindInternal when err carries
// none.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/sanitize"
)

// Job is one submission and its processing state. Jobs are owned by the
// Manager; callers only ever see View copies.
type Job struct {
	ID         string
	SourceName string
	Status     Status

	InputPath string
	OutputDir string
	// ResultRef is the archive file name, set on completion.
	ResultRef string

	ErrorKind    Kind
	ErrorMessage string
	Warnings     []string
	Documents    int
	Sanitize     *sanitize.Stats

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
	Reclaimed   bool

	done    chan struct{}
	readers int
}

// View is a read-only snapshot of a job.
type View struct {
	ID          string          `json:"job_id" yaml:"job_id"`
	Status      Status          `json:"status" yaml:"status"`
	Source      string          `json:"source,omitempty" yaml:"source,omitempty"`
	Result      string          `json:"result,omitempty" yaml:"result,omitempty"`
	ErrorKind   Kind            `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	Warnings    []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Documents   int             `json:"documents,omitempty" yaml:"documents,omitempty"`
	Sanitize    *sanitize.Stats `json:"sanitize,omitempty" yaml:"sanitize,omitempty"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Reclaimed   bool            `json:"reclaimed,omitempty" yaml:"reclaimed,omitempty"`
}

func (j *Job) view() View {
	v := View{
		ID:        j.ID,
		Status:    j.Status,
		Source:    j.SourceName,
		Result:    j.ResultRef,
		ErrorKind: j.ErrorKind,
		Error:     j.ErrorMessage,
		Documents: j.Documents,
		Sanitize:  j.Sanitize,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Reclaimed: j.Reclaimed,
	}
	if len(j.Warnings) > 0 {
		v.Warnings = append([]string(nil), j.Warnings...)
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		v.CompletedAt = &t
	}
	return v
}

// String renders a one-line summary for terminal output.
func (v View) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", v.ID, v.Status)
	switch {
	case v.Result != "":
		fmt.Fprintf(&b, " %s (%d documents)", v.Result, v.Documents)
	case v.Error != "":
		fmt.Fprintf(&b, ": %s", v.Error)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(&b, "\n  warning: %s", w)
	}
	return b.String()
}

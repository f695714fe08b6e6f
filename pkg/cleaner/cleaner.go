// Package cleaner provides the interface shared by the in-memory markup stages
// and helpers for composing them.
package cleaner

import (
	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/sanitize"
	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/xhtml"
)

// Cleaner transforms markup held in memory.
type Cleaner interface {
	// Clean transforms the input markup. The output format depends on the
	// implementation (sanitized HTML, XHTML, ...).
	Clean(html string) (string, error)

	// Name returns the cleaner type for logging/debugging.
	Name() string
}

// NewDocumentChain returns the in-memory form of the per-page stages: pre
// followed by XHTML conversion. A nil pre sanitizes with the default settings.
func NewDocumentChain(pre Cleaner) *ChainCleaner {
	if pre == nil {
		pre = sanitize.New(nil)
	}
	return NewChain(pre, xhtml.New())
}

// NoopCleaner returns markup unchanged. It stands in for the sanitizer when
// extractor output should be converted as is.
type NoopCleaner struct{}

// NewNoop creates a NoopCleaner.
func NewNoop() *NoopCleaner { return &NoopCleaner{} }

// Clean returns html unchanged.
func (NoopCleaner) Clean(html string) (string, error) { return html, nil }

// Name returns "noop".
func (NoopCleaner) Name() string { return "noop" }

var (
	_ Cleaner = (*sanitize.Sanitizer)(nil)
	_ Cleaner = (*xhtml.Converter)(nil)
	_ Cleaner = (*NoopCleaner)(nil)
	_ Cleaner = (*ChainCleaner)(nil)
)

// Package markup provides the two parser capabilities used by the pipeline.
//
// The lenient parser reconstructs a tree from any input the way a browser would
// and is used for sanitization. The strict parser accepts only well-formed XML
// and is used to verify converted XHTML.
package markup

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
)

// Parser turns a document into a tree of type T.
type Parser[T any] interface {
	// Parse reads the whole document from r.
	Parse(r io.Reader) (T, error)

	// Name returns the parser type for logging.
	Name() string
}

// LenientParser parses HTML with best-effort reconstruction. Malformed markup
// is never an error; only read failures are reported.
type LenientParser struct{}

// NewLenient creates a lenient HTML parser.
func NewLenient() *LenientParser {
	return &LenientParser{}
}

// Parse builds an HTML node tree, always rooted at a DocumentNode with
// html/head/body synthesized when missing. Scripting is off, so noscript
// content is parsed as markup rather than kept as raw text.
func (p *LenientParser) Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.ParseWithOptions(r, html.ParseOptionEnableScripting(false))
	if err != nil {
		return nil, fmt.Errorf("lenient parse: %w", err)
	}
	return doc, nil
}

// Name returns the parser type.
func (p *LenientParser) Name() string {
	return "lenient"
}

// StrictParser parses well-formed XML and rejects anything else.
type StrictParser struct{}

// NewStrict creates a strict XML parser.
func NewStrict() *StrictParser {
	return &StrictParser{}
}

// Parse builds an XML node tree. Unclosed tags, mismatched nesting, bad
// attribute syntax and undefined entities are all errors.
func (p *StrictParser) Parse(r io.Reader) (*xmlquery.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("strict parse: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("strict parse: empty document")
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("strict parse: %w", err)
	}
	if xmlquery.FindOne(doc, "/*") == nil {
		return nil, fmt.Errorf("strict parse: no root element")
	}
	return doc, nil
}

// Name returns the parser type.
func (p *StrictParser) Name() string {
	return "strict"
}

// ParseString is a convenience wrapper for parsers that read from strings.
func ParseString[T any](p Parser[T], s string) (T, error) {
	return p.Parse(strings.NewReader(s))
}

// Compile-time interface checks.
var (
	_ Parser[*html.Node]     = (*LenientParser)(nil)
	_ Parser[*xmlquery.Node] = (*StrictParser)(nil)
)

// Package xhtml converts sanitized HTML into well-formed XHTML.
//
// Conversion normalizes legacy void-element notation, repairs the document
// with the lenient parser, serializes it under XML rules and then verifies the
// result with the strict parser. Output that the strict parser rejects is
// reported as a ConversionError and never written.
package xhtml

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"

	"github.com/jmylchreest/pdf2xhtml/pkg/markup"
)

// Extension is the file extension of converted documents.
const Extension = ".xhtml"

// ConversionError reports a document that is not well-formed even after
// strict repair.
type ConversionError struct {
	File string
	Err  error
}

func (e *ConversionError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("convert: %v", e.Err)
	}
	return fmt.Sprintf("convert %s: %v", e.File, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Converter rewrites HTML into XHTML. It implements the cleaner.Cleaner
// interface so it can be chained after the sanitizer.
type Converter struct {
	lenient markup.Parser[*html.Node]
	strict  markup.Parser[*xmlquery.Node]
}

// New creates a Converter using the lenient parser for repair and the strict
// parser for verification.
func New() *Converter {
	return &Converter{
		lenient: markup.NewLenient(),
		strict:  markup.NewStrict(),
	}
}

// Name returns the cleaner name for logging.
func (c *Converter) Name() string {
	return "xhtml"
}

// Clean converts input to XHTML.
func (c *Converter) Clean(input string) (string, error) {
	return c.Convert(input)
}

var (
	legacyVoidRegex = regexp.MustCompile(`(?i)<(br|hr)\s*>`)
	xmlDeclRegex    = regexp.MustCompile(`^\s*<\?xml[^>]*\?>\s*`)
)

// normalize rewrites bare <br> and <hr> to their self-closed form and drops a
// leading XML declaration, which the HTML parser would turn into a comment.
func normalize(input string) string {
	input = xmlDeclRegex.ReplaceAllString(input, "")
	return legacyVoidRegex.ReplaceAllStringFunc(input, func(m string) string {
		tag := legacyVoidRegex.FindStringSubmatch(m)[1]
		return "<" + strings.ToLower(tag) + "/>"
	})
}

// Convert returns the XHTML serialization of input.
func (c *Converter) Convert(input string) (string, error) {
	doc, err := c.lenient.Parse(strings.NewReader(normalize(input)))
	if err != nil {
		return "", &ConversionError{Err: err}
	}

	var buf bytes.Buffer
	if err := Render(&buf, doc); err != nil {
		return "", &ConversionError{Err: err}
	}

	if _, err := c.strict.Parse(bytes.NewReader(buf.Bytes())); err != nil {
		return "", &ConversionError{Err: err}
	}
	return buf.String(), nil
}

// ConvertFile converts the HTML file at path and writes the result next to it
// with the .xhtml extension. The source file is left in place.
func (c *Converter) ConvertFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &ConversionError{File: path, Err: err}
	}
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return "", &ConversionError{File: path, Err: err}
	}

	out, err := c.Convert(string(data))
	if err != nil {
		return "", &ConversionError{File: path, Err: unwrapConversion(err)}
	}

	newPath := OutputPath(path)
	if err := os.WriteFile(newPath, []byte(out), info.Mode().Perm()); err != nil {
		return "", &ConversionError{File: path, Err: err}
	}
	return newPath, nil
}

// OutputPath derives the converted file name by replacing the extension.
func OutputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + Extension
}

func unwrapConversion(err error) error {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Err
	}
	return err
}

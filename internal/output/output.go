// Package output renders command results as JSON, JSONL, YAML or text.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatText  Format = "text"
)

// Formats lists the supported formats for flag help.
var Formats = []Format{FormatText, FormatJSON, FormatJSONL, FormatYAML}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Writer encodes results. JSONL and text are written as they arrive; JSON and
// YAML are buffered until Close so several results form one document. A
// single buffered result is written on its own rather than as a list.
type Writer struct {
	w      *bufio.Writer
	format Format
	items  []any
}

// New creates a Writer for format.
func New(w io.Writer, format Format) (*Writer, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	return &Writer{w: bufio.NewWriter(w), format: format}, nil
}

// Write outputs or buffers one result.
func (w *Writer) Write(v any) error {
	switch w.format {
	case FormatJSONL:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.w.Write(append(data, '\n')); err != nil {
			return err
		}
		return w.w.Flush()
	case FormatText:
		if _, err := fmt.Fprintln(w.w, text(v)); err != nil {
			return err
		}
		return w.w.Flush()
	default:
		w.items = append(w.items, v)
		return nil
	}
}

// Close writes buffered results.
func (w *Writer) Close() error {
	if len(w.items) == 0 {
		return w.w.Flush()
	}
	var doc any = w.items
	if len(w.items) == 1 {
		doc = w.items[0]
	}
	w.items = nil

	switch w.format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		if _, err := w.w.Write(append(data, '\n')); err != nil {
			return err
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

func text(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

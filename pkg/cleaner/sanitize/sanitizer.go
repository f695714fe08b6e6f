package sanitize

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/jmylchreest/pdf2xhtml/pkg/markup"
)

// Sanitizer removes comments, disallowed elements and empty elements from
// HTML documents. It implements the cleaner.Cleaner interface.
type Sanitizer struct {
	config *Config
	parser markup.Parser[*html.Node]
}

// New creates a new Sanitizer with the given configuration.
// If config is nil, DefaultConfig() is used.
func New(config *Config) *Sanitizer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Sanitizer{
		config: config,
		parser: markup.NewLenient(),
	}
}

// Name returns the cleaner name for logging.
func (s *Sanitizer) Name() string {
	return "sanitize"
}

// Clean sanitizes an HTML document or fragment.
func (s *Sanitizer) Clean(input string) (string, error) {
	result, err := s.CleanWithStats(input)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// CleanWithStats sanitizes input and reports what was removed.
func (s *Sanitizer) CleanWithStats(input string) (*Result, error) {
	startTime := time.Now()
	result := &Result{
		Stats: NewStats(),
	}
	result.Stats.InputBytes = len(input)

	parseStart := time.Now()
	root, err := s.parser.Parse(strings.NewReader(input))
	result.Stats.ParseDuration = time.Since(parseStart)
	if err != nil {
		return nil, err
	}

	transformStart := time.Now()
	doc := goquery.NewDocumentFromNode(root)
	s.transform(doc, result.Stats)
	result.Stats.TransformDuration = time.Since(transformStart)

	fragment := !wholeDocumentRegex.MatchString(input) && doc.Find("head").Children().Length() == 0
	output, err := render(doc, fragment)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	result.Content = output
	result.Stats.OutputBytes = len(output)
	result.Stats.TotalDuration = time.Since(startTime)
	return result, nil
}

// SanitizeFile rewrites the HTML file at path in place.
func (s *Sanitizer) SanitizeFile(path string) (*Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", path, err)
	}
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", path, err)
	}

	result, err := s.CleanWithStats(string(data))
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(result.Content), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", path, err)
	}
	return result.Stats, nil
}

// transform applies the configured passes in order.
func (s *Sanitizer) transform(doc *goquery.Document, stats *Stats) {
	// 1. Comments
	if s.config.StripComments {
		s.removeComments(doc.Nodes[0], stats)
	}

	// 2. Disallowed elements
	if s.config.StripScripts {
		s.removeElements(doc, "script", stats)
	}
	if s.config.StripStyles {
		s.removeElements(doc, "style", stats)
	}
	if len(s.config.RemoveSelectors) > 0 {
		s.removeBySelectors(doc, stats)
	}

	// 3. Empty elements, after everything else so removals above can expose them
	if s.config.StripEmptyElements {
		s.removeEmptyElements(doc, stats)
	}

	stats.ElementsKept = doc.Find("*").Length()
}

// removeComments detaches every comment node below n.
func (s *Sanitizer) removeComments(n *html.Node, stats *Stats) {
	var comments []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.CommentNode {
				comments = append(comments, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)

	for _, c := range comments {
		c.Parent.RemoveChild(c)
		stats.CommentsRemoved++
	}
}

// removeElements removes all elements matching the given tag.
func (s *Sanitizer) removeElements(doc *goquery.Document, tag string, stats *Stats) {
	doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
		stats.RecordRemoval(tag)
		sel.Remove()
	})
}

// removeBySelectors removes elements matching user-defined selectors.
// Invalid selectors match nothing.
func (s *Sanitizer) removeBySelectors(doc *goquery.Document, stats *Stats) {
	for _, selector := range s.config.RemoveSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if s.shouldKeep(sel) {
				return
			}
			tagName := goquery.NodeName(sel)
			if structuralElements[tagName] {
				return
			}
			stats.SelectorRemovals++
			stats.RecordRemoval(tagName)
			sel.Remove()
		})
	}
}

// shouldKeep checks if an element matches any keep selectors.
func (s *Sanitizer) shouldKeep(sel *goquery.Selection) bool {
	for _, selector := range s.config.KeepSelectors {
		if sel.Is(selector) {
			return true
		}
	}
	return false
}

// removeEmptyElements prunes leaf elements without text until a fixed point.
//
// Elements are visited in reverse document order, so every descendant is
// checked before its ancestors and a parent emptied by pruning its children
// is pruned in the same pass. The loop ends on the first pass with no removals.
func (s *Sanitizer) removeEmptyElements(doc *goquery.Document, stats *Stats) {
	for {
		removed := 0
		nodes := doc.Find("*").Nodes
		for i := len(nodes) - 1; i >= 0; i-- {
			n := nodes[i]
			if n.Parent == nil || !s.prunable(n) {
				continue
			}
			n.Parent.RemoveChild(n)
			stats.EmptyElementRemovals++
			stats.RecordRemoval(n.Data)
			removed++
		}
		if removed == 0 {
			return
		}
		stats.PrunePasses++
	}
}

// prunable reports whether n is an element with no child elements and no
// non-whitespace text.
func (s *Sanitizer) prunable(n *html.Node) bool {
	if n.Type != html.ElementNode || structuralElements[n.Data] {
		return false
	}
	if s.config.PreserveVoidElements && voidElements[n.Data] {
		return false
	}

	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return false
		case html.TextNode:
			text.WriteString(c.Data)
		}
	}
	if strings.TrimSpace(text.String()) != "" {
		return false
	}

	if len(s.config.KeepSelectors) > 0 && s.shouldKeep(goquery.NewDocumentFromNode(n).Selection) {
		return false
	}
	return true
}

// wholeDocumentRegex detects inputs that carry their own document structure.
var wholeDocumentRegex = regexp.MustCompile(`(?i)<(!doctype|html|head|body)[\s>/]`)

// render serializes the whole document, or only the body contents for
// fragment inputs so fragments stay fragments.
func render(doc *goquery.Document, fragment bool) (string, error) {
	if !fragment {
		var buf bytes.Buffer
		if err := html.Render(&buf, doc.Nodes[0]); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return "", nil
	}
	return body.Html()
}

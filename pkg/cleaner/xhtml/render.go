package xhtml

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
	doctype        = "<!DOCTYPE html>\n"
)

// namespaceURIs maps x/net/html element namespaces to XML namespace URIs.
var namespaceURIs = map[string]string{
	"":     "http://www.w3.org/1999/xhtml",
	"svg":  "http://www.w3.org/2000/svg",
	"math": "http://www.w3.org/1998/Math/MathML",
}

const xlinkNamespace = "http://www.w3.org/1999/xlink"

// knownPrefixes are used for prefixed names the source never declared.
// Word and Excel HTML exports lean on these without declaring them.
var knownPrefixes = map[string]string{
	"xlink": xlinkNamespace,
	"o":     "urn:schemas-microsoft-com:office:office",
	"v":     "urn:schemas-microsoft-com:vml",
	"w":     "urn:schemas-microsoft-com:office:word",
	"x":     "urn:schemas-microsoft-com:office:excel",
	"m":     "http://schemas.microsoft.com/office/2004/12/omml",
}

const unknownPrefixBase = "urn:x-prefix:"

// voidElements are written self-closed. Every other HTML element gets an
// explicit end tag, even when empty.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "keygen": true, "link": true,
	"meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

// rawTextElements hold unparsed text in HTML. Their text is written as
// CDATA so it reads back unchanged.
var rawTextElements = map[string]bool{
	"script": true, "style": true, "iframe": true,
	"noembed": true, "noframes": true, "xmp": true,
}

// renamedElements have no stable XHTML round trip under their own name.
// plaintext swallows the rest of the document when parsed again.
var renamedElements = map[string]string{
	"plaintext": "pre",
}

type renderer struct {
	// prefixes maps every prefix used by an element or attribute name to
	// the URI declared for it on the root element.
	prefixes map[string]string
	rootDone bool
}

// Render writes doc as an XHTML document: XML declaration, doctype, then the
// root element with namespace declarations. Only the tree is used, so any
// doctype or declaration in the source is replaced.
//
// Element and attribute names are repaired on the way out. Prefixes are
// declared on the root element, attributes whose names are not XML names
// are dropped, and elements whose names are not XML names are unwrapped
// so their content survives.
func Render(w io.Writer, doc *html.Node) error {
	r := &renderer{prefixes: collectPrefixes(doc)}

	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	buf.WriteString(doctype)

	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			r.element(&buf, c, "\x00")
		case html.CommentNode:
			renderComment(&buf, c)
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func (r *renderer) node(buf *bytes.Buffer, n *html.Node, parentNS string) {
	switch n.Type {
	case html.ElementNode:
		r.element(buf, n, parentNS)
	case html.TextNode, html.RawNode:
		if n.Parent != nil && n.Parent.Type == html.ElementNode &&
			n.Parent.Namespace == "" && rawTextElements[n.Parent.Data] {
			renderRawText(buf, n.Data)
			return
		}
		escapeText(buf, n.Data)
	case html.CommentNode:
		renderComment(buf, n)
	}
}

func (r *renderer) element(buf *bytes.Buffer, n *html.Node, parentNS string) {
	name, ok := elementName(n)
	if !ok {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			r.node(buf, c, parentNS)
		}
		return
	}

	buf.WriteByte('<')
	buf.WriteString(name)

	seen := make(map[string]bool, len(n.Attr)+len(r.prefixes)+2)
	if n.Namespace != parentNS {
		if uri, ok := namespaceURIs[n.Namespace]; ok {
			writeAttr(buf, "xmlns", uri)
			seen["xmlns"] = true
		}
		if n.Namespace == "svg" {
			writeAttr(buf, "xmlns:xlink", xlinkNamespace)
			seen["xmlns:xlink"] = true
		}
	}
	if !r.rootDone {
		r.rootDone = true
		for _, p := range sortedKeys(r.prefixes) {
			if decl := "xmlns:" + p; !seen[decl] {
				writeAttr(buf, decl, r.prefixes[p])
				seen[decl] = true
			}
		}
	}

	for _, a := range n.Attr {
		name, ok := attrName(a)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		writeAttr(buf, name, a.Val)
	}

	if n.Namespace == "" && voidElements[n.Data] {
		buf.WriteString("/>")
		return
	}
	if n.Namespace != "" && n.FirstChild == nil {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')

	// The HTML parser drops one leading newline in these elements.
	if c := n.FirstChild; c != nil && c.Type == html.TextNode && strings.HasPrefix(c.Data, "\n") {
		switch name {
		case "pre", "listing", "textarea":
			buf.WriteByte('\n')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.node(buf, c, n.Namespace)
	}

	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteByte('>')
}

// elementName returns the serialized name of n, or false when the element
// cannot be written as XML.
func elementName(n *html.Node) (string, bool) {
	name := n.Data
	if n.Namespace == "" {
		if to, ok := renamedElements[name]; ok {
			name = to
		}
	}
	prefix, _, ok := splitQName(name)
	if !ok || prefix == "xmlns" {
		return "", false
	}
	return name, true
}

// attrName returns the serialized name of a, or false when the attribute
// cannot be written as XML.
func attrName(a html.Attribute) (string, bool) {
	name := a.Key
	if a.Namespace != "" {
		name = a.Namespace + ":" + a.Key
	}
	prefix, local, ok := splitQName(name)
	if !ok {
		return "", false
	}
	if prefix == "xmlns" && (a.Val == "" || local == "xmlns" || local == "xml") {
		return "", false
	}
	return name, true
}

// collectPrefixes finds every prefix in use and picks its URI: the first
// declaration in the source, then a well-known URI, then a generated one.
func collectPrefixes(doc *html.Node) map[string]string {
	used := make(map[string]bool)
	declared := make(map[string]string)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if name, ok := elementName(n); ok {
				if prefix, _, _ := splitQName(name); prefix != "" && prefix != "xml" {
					used[prefix] = true
				}
			}
			for _, a := range n.Attr {
				name, ok := attrName(a)
				if !ok {
					continue
				}
				prefix, local, _ := splitQName(name)
				switch prefix {
				case "", "xml":
				case "xmlns":
					if _, ok := declared[local]; !ok {
						declared[local] = a.Val
					}
				default:
					used[prefix] = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	prefixes := make(map[string]string, len(used))
	for p := range used {
		switch {
		case declared[p] != "":
			prefixes[p] = declared[p]
		case knownPrefixes[p] != "":
			prefixes[p] = knownPrefixes[p]
		default:
			prefixes[p] = unknownPrefixBase + p
		}
	}
	return prefixes
}

// splitQName splits a qualified name into prefix and local part. ok is false
// when name is not a valid XML qualified name.
func splitQName(name string) (prefix, local string, ok bool) {
	switch strings.Count(name, ":") {
	case 0:
		return "", name, isNCName(name)
	case 1:
		prefix, local, _ = strings.Cut(name, ":")
		return prefix, local, isNCName(prefix) && isNCName(local)
	default:
		return "", "", false
	}
}

// isNCName reports whether s is an XML name without colons.
func isNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z':
		case i > 0 && (r == '-' || r == '.' || '0' <= r && r <= '9'):
		case r >= utf8.RuneSelf && r != utf8.RuneError && unicode.IsLetter(r):
		case i > 0 && r >= utf8.RuneSelf && (unicode.IsDigit(r) || unicode.IsMark(r) || r == 0xB7):
		default:
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeAttr(buf *bytes.Buffer, name, val string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	escapeAttr(buf, val)
	buf.WriteByte('"')
}

// renderComment writes comments that are legal in XML and drops the rest.
func renderComment(buf *bytes.Buffer, n *html.Node) {
	data := stripInvalidChars(n.Data)
	if strings.Contains(data, "--") || strings.HasSuffix(data, "-") {
		return
	}
	buf.WriteString("<!--")
	buf.WriteString(data)
	buf.WriteString("-->")
}

// renderRawText writes raw text content, wrapping it in CDATA when it
// contains markup characters. Content that is already a run of CDATA
// sections is written as is.
func renderRawText(buf *bytes.Buffer, s string) {
	s = stripInvalidChars(s)
	if !strings.ContainsAny(s, "<&") {
		buf.WriteString(s)
		return
	}
	if isCDATA(s) {
		buf.WriteString(s)
		return
	}
	buf.WriteString("<![CDATA[")
	buf.WriteString(strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>"))
	buf.WriteString("]]>")
}

const cdataSplit = "]]]]><![CDATA[>"

// isCDATA reports whether s is exactly what renderRawText produces when it
// wraps text.
func isCDATA(s string) bool {
	if !strings.HasPrefix(s, "<![CDATA[") || !strings.HasSuffix(s, "]]>") {
		return false
	}
	inner := s[len("<![CDATA[") : len(s)-len("]]>")]
	return !strings.Contains(strings.ReplaceAll(inner, cdataSplit, ""), "]]>")
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func escapeText(buf *bytes.Buffer, s string) {
	buf.WriteString(textEscaper.Replace(stripInvalidChars(s)))
}

func escapeAttr(buf *bytes.Buffer, s string) {
	buf.WriteString(attrEscaper.Replace(stripInvalidChars(s)))
}

// stripInvalidChars drops characters outside the XML 1.0 Char production.
func stripInvalidChars(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r >= 0x20 && r <= 0xD7FF:
			return r
		case r >= 0xE000 && r <= 0xFFFD:
			return r
		case r >= 0x10000 && r <= 0x10FFFF:
			return r
		default:
			return -1
		}
	}, s)
}

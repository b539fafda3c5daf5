// HTML to XHTML sanitization for EPUB 3 content documents. Web markup is
// messy; readers are strict. Everything not on the allow-lists is dropped
// or unwrapped before a chapter goes into the book.
package main

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// allowedElements is the EPUB 3 XHTML content-model subset we emit.
var allowedElements = map[string]bool{
	"div": true, "p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "ul": true, "ol": true, "li": true, "dl": true,
	"dt": true, "dd": true, "address": true, "hr": true, "pre": true,
	"blockquote": true, "cite": true, "em": true, "strong": true,
	"small": true, "s": true, "dfn": true, "abbr": true, "data": true,
	"time": true, "code": true, "var": true, "samp": true, "kbd": true,
	"sub": true, "sup": true, "i": true, "b": true, "u": true, "mark": true,
	"ruby": true, "rt": true, "rp": true, "bdi": true, "bdo": true,
	"span": true, "br": true, "wbr": true, "ins": true, "del": true,
	"img": true, "table": true, "caption": true, "colgroup": true,
	"col": true, "tbody": true, "thead": true, "tfoot": true, "tr": true,
	"td": true, "th": true, "section": true, "article": true, "aside": true,
	"header": true, "footer": true, "main": true, "figure": true,
	"figcaption": true, "nav": true, "a": true,
}

// allowedAttrs are kept on any element; everything else is stripped.
var allowedAttrs = map[string]bool{
	"id": true, "class": true, "style": true, "title": true, "lang": true,
	"dir": true, "href": true, "src": true, "alt": true, "width": true,
	"height": true, "colspan": true, "rowspan": true, "scope": true,
	"headers": true, "cite": true, "datetime": true, "value": true,
	"type": true, "rel": true, "media": true, "start": true,
	"reversed": true, "epub:type": true,
}

// dimensionElements may carry width/height attributes.
var dimensionElements = map[string]bool{
	"img": true, "td": true, "th": true, "col": true,
	"colgroup": true, "table": true,
}

// phrasingElements cannot contain block-level children in XHTML.
var phrasingElements = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "span": true, "b": true, "strong": true, "i": true,
	"em": true, "a": true, "code": true, "samp": true, "kbd": true,
	"var": true, "sub": true, "sup": true, "small": true, "s": true,
	"u": true, "mark": true, "abbr": true, "dfn": true, "cite": true,
	"del": true, "ins": true, "bdi": true, "bdo": true, "time": true,
	"data": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "ul": true, "ol": true, "li": true, "dl": true,
	"dt": true, "dd": true, "blockquote": true, "section": true,
	"article": true, "aside": true, "header": true, "footer": true,
	"main": true, "figure": true, "figcaption": true, "nav": true,
	"table": true, "pre": true, "hr": true, "address": true,
}

// selfClosing elements must be rendered with a trailing slash in XHTML.
var selfClosing = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true, atom.Wbr: true,
}

// stripInvalidXMLChars removes characters not allowed in XML 1.0 content.
func stripInvalidXMLChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			return r
		}
		return -1
	}, s)
}

// cleanDimension normalizes a width/height value to a bare integer, or ""
// when the value cannot be one.
func cleanDimension(val string) string {
	val = strings.TrimSpace(val)
	for _, unit := range []string{"px", "em", "rem", "%", "pt"} {
		val = strings.TrimSuffix(val, unit)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f <= 0 {
		return ""
	}
	return strconv.Itoa(int(math.Round(f)))
}

// cleanID makes an id attribute XML-safe: no whitespace, non-empty.
func cleanID(val string) string {
	val = strings.TrimSpace(val)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, val)
}

// xhtmlSanitizer carries per-document state across the tree walk.
type xhtmlSanitizer struct {
	ids     map[string]bool // ids present after cleaning, for fragment links
	usedIDs map[string]bool
}

// sanitizeForXHTML converts an HTML fragment into EPUB-valid XHTML.
func sanitizeForXHTML(fragment string) string {
	fragment = stripInvalidXMLChars(fragment)

	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	s := &xhtmlSanitizer{ids: map[string]bool{}, usedIDs: map[string]bool{}}
	s.collectIDs(doc)
	s.clean(doc)

	var buf bytes.Buffer
	renderXHTML(&buf, doc)
	out := buf.String()

	// html.Parse wrapped the fragment in html/head/body; unwrap it.
	if i := strings.Index(out, "<body>"); i >= 0 {
		out = out[i+len("<body>"):]
		if j := strings.LastIndex(out, "</body>"); j >= 0 {
			out = out[:j]
		}
	}
	return out
}

func (s *xhtmlSanitizer) collectIDs(n *html.Node) {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" {
				if id := cleanID(a.Val); id != "" {
					s.ids[id] = true
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.collectIDs(c)
	}
}

// clean rewrites one node in place and returns its replacement, or nil when
// the node must be removed.
func (s *xhtmlSanitizer) clean(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "video", "audio":
			return mediaToLink(n)
		case "source":
			return nil
		case "picture":
			// Collapse to the first <img> child.
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "img" {
					n.RemoveChild(c)
					return s.clean(c)
				}
			}
			return nil
		}

		if !allowedElements[n.Data] && n.Data != "html" && n.Data != "head" && n.Data != "body" {
			return nil
		}

		// Remote image resources are forbidden in EPUB; anything still
		// pointing at the web at this stage failed the download pipeline.
		if n.Data == "img" && !hasLocalSrc(n) {
			return nil
		}

		n.Attr = s.filterAttrs(n)

		if phrasingElements[n.Data] {
			unwrapBlockChildren(n)
		}
		if n.Data == "figcaption" && (n.Parent == nil || n.Parent.Data != "figure") {
			n.Data = "p"
			n.DataAtom = atom.P
		}
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if result := s.clean(c); result == nil {
			n.RemoveChild(c)
		} else if result != c {
			n.InsertBefore(result, c)
			n.RemoveChild(c)
		}
		c = next
	}
	return n
}

func (s *xhtmlSanitizer) filterAttrs(n *html.Node) []html.Attribute {
	var kept []html.Attribute
	for _, a := range n.Attr {
		if !allowedAttrs[a.Key] {
			continue
		}
		switch {
		case a.Key == "href" && strings.HasPrefix(a.Val, "#"):
			if frag := a.Val[1:]; frag == "" || !s.ids[frag] {
				continue
			}
		case a.Key == "id":
			id := cleanID(a.Val)
			if id == "" {
				continue
			}
			for i := 2; s.usedIDs[id]; i++ {
				id = fmt.Sprintf("%s-%d", cleanID(a.Val), i)
			}
			s.usedIDs[id] = true
			a.Val = id
		case a.Key == "width" || a.Key == "height":
			if !dimensionElements[n.Data] {
				continue
			}
			v := cleanDimension(a.Val)
			if v == "" {
				continue
			}
			a.Val = v
		}
		kept = append(kept, a)
	}
	return kept
}

// hasLocalSrc reports whether an <img> points at a package resource.
func hasLocalSrc(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "src" {
			src := strings.TrimSpace(a.Val)
			return src != "" &&
				!strings.HasPrefix(src, "http://") &&
				!strings.HasPrefix(src, "https://")
		}
	}
	return false
}

// mediaToLink replaces a video/audio element with a plain link to its
// source, or drops it when no source exists.
func mediaToLink(n *html.Node) *html.Node {
	src := attrVal(n, "src")
	if src == "" {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "source" {
				if src = attrVal(c, "src"); src != "" {
					break
				}
			}
		}
	}
	if src == "" {
		return nil
	}
	link := &html.Node{
		Type: html.ElementNode,
		Data: "a",
		Attr: []html.Attribute{{Key: "href", Val: src}},
	}
	link.AppendChild(&html.Node{Type: html.TextNode, Data: "[Media: " + src + "]"})
	return link
}

// unwrapBlockChildren hoists or unwraps block elements found inside a
// phrasing element, which XHTML forbids.
func unwrapBlockChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && blockElements[c.Data] {
			for cc := c.FirstChild; cc != nil; {
				cnext := cc.NextSibling
				c.RemoveChild(cc)
				n.InsertBefore(cc, c)
				cc = cnext
			}
			n.RemoveChild(c)
		}
		c = next
	}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// renderXHTML writes a node tree as XHTML with self-closed void elements.
func renderXHTML(buf *bytes.Buffer, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		buf.WriteByte('<')
		buf.WriteString(n.Data)
		for _, a := range n.Attr {
			fmt.Fprintf(buf, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
		}
		if selfClosing[n.DataAtom] && n.FirstChild == nil {
			buf.WriteString("/>")
			return
		}
		buf.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c)
		}
		fmt.Fprintf(buf, "</%s>", n.Data)
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c)
		}
	}
}

package parser

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultMaxHTMLBytes caps how much of an HTML filing is parsed.
const DefaultMaxHTMLBytes = 12_000_000

// HTMLParser handles HTML and inline XBRL filings.
type HTMLParser struct {
	MaxBytes int
}

// hiddenSelector matches markup that never renders as prose. ix:header
// holds the inline XBRL context and hidden facts.
const hiddenSelector = "script, style, noscript, head, ix\\:header, " +
	"[hidden], [style*='display:none'], [style*='display: none']"

// Parse renders the body as text, one line per block element.
func (p *HTMLParser) Parse(data []byte) (string, error) {
	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxHTMLBytes
	}
	if len(data) > limit {
		data = data[:limit]
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrCorrupt, err)
	}
	doc.Find(hiddenSelector).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var buf strings.Builder
	for _, n := range root.Nodes {
		renderText(&buf, n, false)
	}
	text := tidy(buf.String())
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: html has no text", ErrCorrupt)
	}
	return text, nil
}

// blockTags maps elements that break lines to how they break: 1 ends a
// line, 2 ends a paragraph.
var blockTags = map[string]int{
	"br": 1, "dd": 1, "dt": 1, "hr": 1, "tr": 1, "center": 1,
	"address": 2, "article": 2, "blockquote": 2, "div": 2, "dl": 2, "h1": 2, "h2": 2,
	"h3": 2, "h4": 2, "h5": 2, "h6": 2, "li": 2, "ol": 2, "p": 2, "pre": 2,
	"section": 2, "table": 2, "ul": 2, "page": 2,
}

// renderText writes the text under n. Block elements start and end a
// line; table cells are separated by spaces. Source newlines inside
// running text are folded the way a browser would.
func renderText(buf *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		t := n.Data
		if !pre {
			t = strings.Join(strings.FieldsFunc(t, isHTMLSpace), " ")
			if t == "" {
				if n.Data != "" {
					writeSpace(buf)
				}
				return
			}
			if r, _ := utf8.DecodeRuneInString(n.Data); isHTMLSpace(r) {
				writeSpace(buf)
			}
			buf.WriteString(t)
			if r, _ := utf8.DecodeLastRuneInString(n.Data); isHTMLSpace(r) {
				writeSpace(buf)
			}
			return
		}
		buf.WriteString(t)
		return
	case html.ElementNode:
		tag := n.Data
		block := blockTags[tag]
		if block > 0 {
			newline(buf)
		}
		if tag == "td" || tag == "th" {
			writeSpace(buf)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderText(buf, c, pre || tag == "pre")
		}
		switch block {
		case 1:
			newline(buf)
		case 2:
			paragraph(buf)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(buf, c, pre)
	}
}

func isHTMLSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\u00a0'
}

func writeSpace(buf *strings.Builder) {
	s := buf.String()
	if s == "" || strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\n") {
		return
	}
	buf.WriteByte(' ')
}

func newline(buf *strings.Builder) {
	s := buf.String()
	if s == "" || strings.HasSuffix(s, "\n") {
		return
	}
	buf.WriteByte('\n')
}

func paragraph(buf *strings.Builder) {
	s := buf.String()
	if s == "" || strings.HasSuffix(s, "\n\n") {
		return
	}
	if !strings.HasSuffix(s, "\n") {
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}

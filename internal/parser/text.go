package parser

import (
	"bytes"
	"fmt"
	"strings"
)

// TextParser handles plain text filings, including EDGAR full submission
// files where the primary document sits in the first <DOCUMENT><TEXT>
// block and may itself be HTML.
type TextParser struct {
	HTML HTMLParser
}

func (p *TextParser) Parse(data []byte) (string, error) {
	body := primaryDocument(data)
	if LooksLikeHTML(body) {
		return p.HTML.Parse(body)
	}
	if bytes.IndexByte(body, 0) >= 0 {
		return "", fmt.Errorf("%w: binary content in text filing", ErrCorrupt)
	}
	text := tidy(string(body))
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty text filing", ErrCorrupt)
	}
	return text, nil
}

// primaryDocument returns the contents of the first <TEXT> element inside
// the first <DOCUMENT>, or data unchanged when there is no envelope.
func primaryDocument(data []byte) []byte {
	lower := asciiLower(data)
	doc := bytes.Index(lower, []byte("<document>"))
	if doc < 0 {
		return data
	}
	open := bytes.Index(lower[doc:], []byte("<text>"))
	if open < 0 {
		return data
	}
	start := doc + open + len("<text>")
	end := bytes.Index(lower[start:], []byte("</text>"))
	if end < 0 {
		return data[start:]
	}
	return data[start : start+end]
}

// asciiLower folds A-Z only, so offsets in the result index data even when
// data is not valid UTF-8.
func asciiLower(data []byte) []byte {
	out := make([]byte, len(data))
	for i, c := range data {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

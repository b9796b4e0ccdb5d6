package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrCorrupt marks bytes that cannot be decoded as their format.
	ErrCorrupt = errors.New("corrupt document")
)

// Format is the container a filing arrived in. It doubles as the hint the
// section extractor uses to pick its heading grammar.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
	FormatText Format = "text"
)

// Ext returns the archive file extension for f.
func (f Format) Ext() string {
	switch f {
	case FormatPDF:
		return ".pdf"
	case FormatHTML:
		return ".html"
	case FormatText:
		return ".txt"
	}
	return ".bin"
}

// ParseFormat validates a stored format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatHTML, FormatText:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Parser converts raw filing bytes into text with line structure intact.
type Parser interface {
	Parse(data []byte) (string, error)
}

// Options configures the parsers returned by ForFormat.
type Options struct {
	FallbackPdftotext bool
	MaxHTMLBytes      int
}

// ForFormat returns the parser for f.
func ForFormat(f Format, opts Options) (Parser, error) {
	switch f {
	case FormatPDF:
		return &PDFParser{FallbackPdftotext: opts.FallbackPdftotext}, nil
	case FormatHTML:
		return &HTMLParser{MaxBytes: opts.MaxHTMLBytes}, nil
	case FormatText:
		return &TextParser{HTML: HTMLParser{MaxBytes: opts.MaxHTMLBytes}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

var spaceFolder = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u00a0", " ",
	"\u2002", " ",
	"\u2003", " ",
	"\u2009", " ",
	"\u202f", " ",
)

// tidy makes parser output valid UTF-8 with plain spaces and LF line
// endings, so heading patterns see "Item 1A" however it was encoded.
func tidy(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return spaceFolder.Replace(s)
}

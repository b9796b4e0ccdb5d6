package parser

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
)

const sniffLen = 8000

var htmlMarkers = [][]byte{
	[]byte("<!doctype html"), []byte("<html"), []byte("<body"), []byte("<div"),
	[]byte("<table"), []byte("<p>"), []byte("<p "), []byte("<font"), []byte("xmlns:ix="),
}

// Detect works out the format of data from its leading bytes, falling
// back to the content type and then the file name. It returns "" when
// the bytes look like neither PDF, HTML nor text.
func Detect(data []byte, contentType, name string) Format {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	if LooksLikePDF(head) {
		return FormatPDF
	}
	if LooksLikeHTML(head) {
		return FormatHTML
	}

	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/pdf":
		// Declared PDF without the magic header is corrupt, not text.
		return FormatPDF
	case "text/html", "application/xhtml+xml":
		return FormatHTML
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".htm", ".html", ".xhtml":
		return FormatHTML
	}

	if looksLikeText(head) {
		return FormatText
	}
	return ""
}

// LooksLikePDF reports whether data starts with the PDF magic, allowing
// leading whitespace.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\x00\xef\xbb\xbf"), []byte("%PDF"))
}

// LooksLikeHTML reports whether the first bytes carry HTML markup.
func LooksLikeHTML(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	lower := bytes.ToLower(data)
	// EDGAR .txt submissions wrap HTML inside <DOCUMENT><TEXT>.
	if bytes.Contains(lower, []byte("<sec-document>")) || bytes.Contains(lower, []byte("<sec-header>")) {
		return false
	}
	for _, m := range htmlMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

// looksLikeText accepts bytes without NULs and with few control
// characters. Legacy Latin-1 submissions are text too.
func looksLikeText(data []byte) bool {
	if len(data) == 0 || bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	ctrl := 0
	for _, b := range data {
		if b < 0x20 && b != '\n' && b != '\r' && b != '\t' && b != '\f' {
			ctrl++
		}
	}
	return ctrl*100 < len(data)
}

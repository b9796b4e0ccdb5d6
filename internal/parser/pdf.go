package parser

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF filings. It tries the Go library first,
// then falls back to pdftotext if enabled.
type PDFParser struct {
	FallbackPdftotext bool
}

// Parse returns the text of every page. Pages are separated by form
// feeds, which the cleaner treats as line breaks.
func (p *PDFParser) Parse(data []byte) (string, error) {
	if !LooksLikePDF(data) {
		return "", fmt.Errorf("%w: missing %%PDF header", ErrCorrupt)
	}

	text, err := extractPDFText(data)
	if (err != nil || strings.TrimSpace(text) == "") && p.FallbackPdftotext {
		text, err = extractPdftotext(data)
	}
	if err != nil {
		return "", fmt.Errorf("%w: extract pdf text: %v", ErrCorrupt, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: pdf has no extractable text", ErrCorrupt)
	}
	return tidy(text), nil
}

func extractPDFText(data []byte) (text string, err error) {
	// The library panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			buf.WriteString("\f") // Form feed as page separator.
		}
		buf.WriteString(pageText)
	}
	return buf.String(), nil
}

func extractPdftotext(data []byte) (string, error) {
	// pdftotext needs a file path.
	tmp, err := os.CreateTemp("", "filingest-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.Command("pdftotext", "-layout", tmpPath, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

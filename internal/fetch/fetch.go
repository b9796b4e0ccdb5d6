// Package fetch retrieves raw filing bytes from EDGAR, other HTTP
// sources and the local filesystem.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dgallion1/filingest/internal/parser"
)

var (
	// ErrUnsupportedFormat is returned when the bytes are neither PDF,
	// HTML nor plain text.
	ErrUnsupportedFormat = parser.ErrUnsupportedFormat
	// ErrDisallowed is returned when robots.txt forbids the path.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrInvalidUserAgent is returned when the configured user agent has
	// no contact email, which EDGAR requires.
	ErrInvalidUserAgent  = errors.New("user agent must include a contact email")
	ErrUnsupportedScheme = errors.New("unsupported locator scheme")
	// ErrOutsideRoot is returned for a local path outside the directory
	// local reads are confined to.
	ErrOutsideRoot = errors.New("path outside the permitted directory")
)

// Result is a fetched document.
type Result struct {
	Data        []byte
	Format      parser.Format
	ContentType string
	// URL is the final locator after redirects.
	URL string
}

// Fetcher retrieves the document at locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*Result, error)
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Mux routes http and https locators to HTTP and everything else to File.
type Mux struct {
	HTTP Fetcher
	File Fetcher
}

func (m *Mux) Fetch(ctx context.Context, locator string) (*Result, error) {
	switch scheme(locator) {
	case "http", "https":
		if m.HTTP == nil {
			return nil, fmt.Errorf("%w: http fetching is disabled", ErrUnsupportedScheme)
		}
		return m.HTTP.Fetch(ctx, locator)
	case "", "file":
		if m.File == nil {
			return nil, fmt.Errorf("%w: file fetching is disabled", ErrUnsupportedScheme)
		}
		return m.File.Fetch(ctx, locator)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, locator)
}

// IsRemote reports whether locator is an http or https URL.
func IsRemote(locator string) bool {
	s := scheme(locator)
	return s == "http" || s == "https"
}

func scheme(locator string) string {
	i := strings.Index(locator, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(locator[:i])
}

// EDGARURL builds the Archives URL of a filing document. Leading zeros
// are dropped from cik and dashes from accession.
func EDGARURL(cik, accession, filename string) string {
	cik = strings.TrimLeft(strings.TrimSpace(cik), "0")
	if cik == "" {
		cik = "0"
	}
	acc := strings.ReplaceAll(strings.TrimSpace(accession), "-", "")
	return fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s", cik, acc, url.PathEscape(filename))
}

func detect(data []byte, contentType, name string) (parser.Format, error) {
	f := parser.Detect(data, contentType, name)
	if f == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return f, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

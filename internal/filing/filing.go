// Package filing holds the document and chunk types shared by the
// registry, the stores and the pipeline.
package filing

import (
	"fmt"
	"strings"
	"time"
)

// Type is the closed set of supported regulatory filing types.
type Type string

const (
	TypeAnnual    Type = "10-K"
	TypeQuarterly Type = "10-Q"
	TypeCurrent   Type = "8-K"
)

// Types lists every supported filing type.
var Types = []Type{TypeAnnual, TypeQuarterly, TypeCurrent}

// ParseType accepts the form name ("10-K") or the friendly alias
// ("annual", "quarterly", "current").
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "10-K", "10K", "ANNUAL":
		return TypeAnnual, nil
	case "10-Q", "10Q", "QUARTERLY":
		return TypeQuarterly, nil
	case "8-K", "8K", "CURRENT", "CURRENT-REPORT":
		return TypeCurrent, nil
	}
	return "", fmt.Errorf("%w: unknown filing type %q", ErrInvalidInput, s)
}

// DateLayout is the wire and storage layout of filing dates.
const DateLayout = "2006-01-02"

// Document is one filing attempt tracked through the lifecycle.
type Document struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Ticker    string    `json:"ticker"`
	Type      Type      `json:"filing_type"`
	Date      time.Time `json:"filing_date"`

	SourceLocator  string `json:"source_locator"`
	StorageLocator string `json:"storage_locator,omitempty"`
	ParsedLocator  string `json:"parsed_locator,omitempty"`
	Format         string `json:"format,omitempty"`

	Fingerprint string `json:"content_fingerprint,omitempty"`

	WordCount  int `json:"word_count"`
	ChunkCount int `json:"chunk_count"`

	Status       Status    `json:"status"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Key returns the company/type/date triple the fingerprint is unique within.
func (d *Document) Key() Key {
	return Key{CompanyID: d.CompanyID, Type: d.Type, Date: d.Date}
}

// Available reports whether downstream indexing may consume the document.
func (d *Document) Available() bool {
	return d.Status == StatusIndexed
}

// Key scopes fingerprint uniqueness.
type Key struct {
	CompanyID string
	Type      Type
	Date      time.Time
}

// Chunk is one text segment of a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Text       string    `json:"content"`
	Section    string    `json:"section"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	WordCount  int       `json:"word_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows document listings. Zero fields match everything.
type Filter struct {
	CompanyID string
	Ticker    string
	Status    Status
	Type      Type
	From      time.Time
	To        time.Time
	Limit     int
}

// Match reports whether doc satisfies the filter. From and To are inclusive.
func (f Filter) Match(doc *Document) bool {
	if f.CompanyID != "" && doc.CompanyID != f.CompanyID {
		return false
	}
	if f.Ticker != "" && !strings.EqualFold(doc.Ticker, f.Ticker) {
		return false
	}
	if f.Status != "" && doc.Status != f.Status {
		return false
	}
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && doc.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && doc.Date.After(f.To) {
		return false
	}
	return true
}

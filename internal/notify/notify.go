// Package notify announces indexed documents to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dgallion1/filingest/internal/filing"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "filingest.indexed"

// Event is published once per document reaching indexed.
type Event struct {
	DocumentID  string      `json:"document_id"`
	CompanyID   string      `json:"company_id"`
	Ticker      string      `json:"ticker"`
	Type        filing.Type `json:"filing_type"`
	Date        string      `json:"filing_date"`
	ChunkCount  int         `json:"chunk_count"`
	WordCount   int         `json:"word_count"`
	Fingerprint string      `json:"fingerprint"`
}

// NewEvent builds the event for doc.
func NewEvent(doc *filing.Document) Event {
	return Event{
		DocumentID:  doc.ID,
		CompanyID:   doc.CompanyID,
		Ticker:      doc.Ticker,
		Type:        doc.Type,
		Date:        doc.Date.Format(filing.DateLayout),
		ChunkCount:  doc.ChunkCount,
		WordCount:   doc.WordCount,
		Fingerprint: doc.Fingerprint,
	}
}

// Publisher delivers indexed events.
type Publisher interface {
	Indexed(ctx context.Context, doc *filing.Document) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Indexed(context.Context, *filing.Document) error { return nil }
func (Nop) Close()                                          {}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATS publishes events on <prefix>.<ticker>.
type NATS struct {
	nc     conn
	prefix string
}

var _ Publisher = (*NATS)(nil)

// ConnectNATS dials url and returns a publisher.
func ConnectNATS(url, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("filingest"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATS(nc, prefix), nil
}

func newNATS(nc conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject events for ticker go to.
func (n *NATS) Subject(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		t = "_"
	}
	// Tokens may not contain separators or wildcards.
	t = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(t)
	return n.prefix + "." + t
}

func (n *NATS) Indexed(ctx context.Context, doc *filing.Document) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(NewEvent(doc))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.nc.Publish(n.Subject(doc.Ticker), data); err != nil {
		return fmt.Errorf("publish indexed event: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() {
	_ = n.nc.Drain()
	n.nc.Close()
}

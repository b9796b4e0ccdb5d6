// Package registry owns the document lifecycle. Every operation is one
// store transaction that reads the row, applies filing.Next and writes
// the result back.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/identity"
)

// Tx is the read-modify-write view a store hands to Update.
type Tx interface {
	Document(ctx context.Context, id string) (*filing.Document, error)
	// FindByKey returns documents with key and fingerprint, excluding excludeID.
	FindByKey(ctx context.Context, key filing.Key, fingerprint, excludeID string) ([]filing.Document, error)
	// PutDocument upserts by id. It returns filing.ErrConflict when the
	// write would give two non-failed rows the same key and fingerprint.
	PutDocument(ctx context.Context, doc *filing.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []filing.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) error
}

// Store persists documents and chunks.
type Store interface {
	// Update runs fn atomically. A non-nil error from fn rolls back.
	Update(ctx context.Context, fn func(Tx) error) error
	Document(ctx context.Context, id string) (*filing.Document, error)
	Documents(ctx context.Context, f filing.Filter) ([]filing.Document, error)
	Chunks(ctx context.Context, documentID string) ([]filing.Chunk, error)
	CountByStatus(ctx context.Context) (map[filing.Status]int, error)
}

// DefaultRetryFailedAfter is how old a failed row must be before new
// identical bytes revive it instead of resolving as a duplicate.
const DefaultRetryFailedAfter = time.Hour

// Request describes a new ingestion attempt.
type Request struct {
	CompanyID string      `json:"company_id"`
	Ticker    string      `json:"ticker"`
	Type      filing.Type `json:"filing_type"`
	Date      time.Time   `json:"filing_date"`
	Source    string      `json:"source"`

	// StorageLocator and Format are set when the raw bytes are already
	// archived, for example by an upload.
	StorageLocator string `json:"storage_locator,omitempty"`
	Format         string `json:"format,omitempty"`
}

// Validate normalizes the ticker and checks required fields.
func (r *Request) Validate() error {
	r.CompanyID = strings.TrimSpace(r.CompanyID)
	r.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	r.Source = strings.TrimSpace(r.Source)

	if r.CompanyID == "" {
		return fmt.Errorf("%w: company_id is required", filing.ErrInvalidInput)
	}
	if _, err := filing.ParseType(string(r.Type)); err != nil {
		return err
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: filing_date is required", filing.ErrInvalidInput)
	}
	if r.Source == "" && r.StorageLocator == "" {
		return fmt.Errorf("%w: source is required", filing.ErrInvalidInput)
	}
	return nil
}

// Outcome is the result of Claim.
type Outcome int

const (
	// Acquired means the attempt now owns the fingerprint.
	Acquired Outcome = iota
	// Duplicate means another document already owns it; the attempt
	// row was removed.
	Duplicate
	// Revived means a stale failed document was reset and took over.
	Revived
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Duplicate:
		return "duplicate"
	case Revived:
		return "revived"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ClaimResult carries the document the pipeline continues with.
type ClaimResult struct {
	Outcome  Outcome
	Document *filing.Document
}

// Registry applies lifecycle transitions through a Store.
type Registry struct {
	store            Store
	log              *slog.Logger
	now              func() time.Time
	retryFailedAfter time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRetryFailedAfter sets the failed-row revival threshold.
func WithRetryFailedAfter(d time.Duration) Option {
	return func(r *Registry) { r.retryFailedAfter = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:            store,
		log:              slog.Default(),
		now:              time.Now,
		retryFailedAfter: DefaultRetryFailedAfter,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) clock() time.Time { return r.now().UTC() }

// Open records a pending attempt for req.
func (r *Registry) Open(ctx context.Context, req Request) (*filing.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := r.clock()
	doc := &filing.Document{
		ID:             identity.NewDocumentID(),
		CompanyID:      req.CompanyID,
		Ticker:         req.Ticker,
		Type:           req.Type,
		Date:           day(req.Date),
		SourceLocator:  req.Source,
		StorageLocator: req.StorageLocator,
		Format:         req.Format,
		Status:         filing.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := r.store.Update(ctx, func(tx Tx) error {
		return tx.PutDocument(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	return doc, nil
}

// Claim moves a pending attempt to downloaded unless another document
// already holds the same key and fingerprint.
func (r *Registry) Claim(ctx context.Context, id, fingerprint, storageLocator, format string) (*ClaimResult, error) {
	if !identity.ValidFingerprint(fingerprint) {
		return nil, fmt.Errorf("%w: malformed fingerprint %q", filing.ErrInvalidInput, fingerprint)
	}

	var res *ClaimResult
	claim := func(tx Tx) error {
		res = nil
		doc, err := tx.Document(ctx, id)
		if err != nil {
			return err
		}
		next, err := filing.Next(doc.Status, filing.EventDownloaded)
		if err != nil {
			return err
		}
		others, err := tx.FindByKey(ctx, doc.Key(), fingerprint, id)
		if err != nil {
			return err
		}

		existing, revive := r.pickOwner(others)
		if existing != nil {
			if err := tx.DeleteDocument(ctx, id); err != nil {
				return err
			}
			res = &ClaimResult{Outcome: Duplicate, Document: existing}
			return nil
		}

		outcome := Acquired
		if revive != nil {
			if err := tx.DeleteDocument(ctx, id); err != nil {
				return err
			}
			if _, err := filing.Next(revive.Status, filing.EventReset); err != nil {
				return err
			}
			if err := tx.DeleteChunks(ctx, revive.ID); err != nil {
				return err
			}
			clearDerived(revive)
			revive.SourceLocator = doc.SourceLocator
			doc = revive
			outcome = Revived
		}

		doc.Fingerprint = fingerprint
		doc.StorageLocator = storageLocator
		doc.Format = format
		doc.Status = next
		doc.UpdatedAt = r.clock()
		if err := tx.PutDocument(ctx, doc); err != nil {
			return err
		}
		res = &ClaimResult{Outcome: outcome, Document: doc}
		return nil
	}

	err := r.store.Update(ctx, claim)
	if errors.Is(err, filing.ErrConflict) {
		// A concurrent claim won between our read and write; the retry
		// observes it.
		err = r.store.Update(ctx, claim)
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}

	if res.Outcome != Acquired {
		r.log.Info("claim resolved to existing document",
			"attempt_id", id, "document_id", res.Document.ID, "outcome", res.Outcome.String())
	}
	return res, nil
}

// pickOwner returns the document the fingerprint resolves to, or a stale
// failed document to revive. Both nil means the key is free.
func (r *Registry) pickOwner(others []filing.Document) (existing, revive *filing.Document) {
	var failed []filing.Document
	for i := range others {
		if others[i].Status != filing.StatusFailed {
			return &others[i], nil
		}
		failed = append(failed, others[i])
	}
	if len(failed) == 0 {
		return nil, nil
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].UpdatedAt.After(failed[j].UpdatedAt) })
	latest := failed[0]
	if r.clock().Sub(latest.UpdatedAt) < r.retryFailedAfter {
		return &latest, nil
	}
	return nil, &latest
}

// MarkParsed records the archived sections and moves downloaded to parsed.
func (r *Registry) MarkParsed(ctx context.Context, id, parsedLocator string, wordCount int) (*filing.Document, error) {
	return r.transition(ctx, id, filing.EventParsed, func(_ Tx, doc *filing.Document) error {
		doc.ParsedLocator = parsedLocator
		doc.WordCount = wordCount
		return nil
	})
}

// MarkChunked moves parsed to chunked.
func (r *Registry) MarkChunked(ctx context.Context, id string) (*filing.Document, error) {
	return r.transition(ctx, id, filing.EventChunked, nil)
}

// CommitChunks replaces the document's chunks and moves chunked to
// indexed in one transaction.
func (r *Registry) CommitChunks(ctx context.Context, id string, chunks []filing.Chunk) (*filing.Document, error) {
	for i, c := range chunks {
		if c.Index != i {
			return nil, fmt.Errorf("%w: chunk %d has index %d", filing.ErrInvalidInput, i, c.Index)
		}
	}
	return r.transition(ctx, id, filing.EventIndexed, func(tx Tx, doc *filing.Document) error {
		now := r.clock()
		rows := make([]filing.Chunk, len(chunks))
		for i, c := range chunks {
			c.DocumentID = id
			if c.ID == "" {
				c.ID = identity.ChunkID(id, c.Index)
			}
			c.CreatedAt = now
			rows[i] = c
		}
		if err := tx.ReplaceChunks(ctx, id, rows); err != nil {
			return err
		}
		doc.ChunkCount = len(rows)
		doc.ProcessedAt = &now
		return nil
	})
}

// Fail moves a non-terminal document to failed and records why.
func (r *Registry) Fail(ctx context.Context, id string, kind filing.ErrorKind, message string) (*filing.Document, error) {
	return r.transition(ctx, id, filing.EventFailed, func(tx Tx, doc *filing.Document) error {
		doc.ErrorKind = kind
		doc.ErrorMessage = filing.TruncateMessage(message)
		doc.ChunkCount = 0
		return tx.DeleteChunks(ctx, id)
	})
}

// Reset returns any document to pending and discards derived state. The
// fingerprint and storage locator survive so reprocessing reads the
// archived bytes instead of fetching again.
func (r *Registry) Reset(ctx context.Context, id string) (*filing.Document, error) {
	return r.transition(ctx, id, filing.EventReset, func(tx Tx, doc *filing.Document) error {
		if err := tx.DeleteChunks(ctx, id); err != nil {
			return err
		}
		clearDerived(doc)
		if doc.Fingerprint == "" {
			return nil
		}
		others, err := tx.FindByKey(ctx, doc.Key(), doc.Fingerprint, id)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.Status != filing.StatusFailed {
				// Another row owns these bytes now; the next claim
				// resolves this one as its duplicate.
				doc.Fingerprint = ""
				break
			}
		}
		return nil
	})
}

func clearDerived(doc *filing.Document) {
	doc.ErrorKind = ""
	doc.ErrorMessage = ""
	doc.WordCount = 0
	doc.ChunkCount = 0
	doc.ParsedLocator = ""
	doc.ProcessedAt = nil
	doc.Status = filing.StatusPending
}

func (r *Registry) transition(ctx context.Context, id string, ev filing.Event, mutate func(Tx, *filing.Document) error) (*filing.Document, error) {
	var out *filing.Document
	err := r.store.Update(ctx, func(tx Tx) error {
		doc, err := tx.Document(ctx, id)
		if err != nil {
			return err
		}
		next, err := filing.Next(doc.Status, ev)
		if err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(tx, doc); err != nil {
				return err
			}
		}
		doc.Status = next
		doc.UpdatedAt = r.clock()
		if err := tx.PutDocument(ctx, doc); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", ev, id, err)
	}
	return out, nil
}

// Delete removes a document and its chunks.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Document(ctx, id); err != nil {
			return err
		}
		return tx.DeleteDocument(ctx, id)
	})
}

func (r *Registry) Get(ctx context.Context, id string) (*filing.Document, error) {
	return r.store.Document(ctx, id)
}

func (r *Registry) List(ctx context.Context, f filing.Filter) ([]filing.Document, error) {
	return r.store.Documents(ctx, f)
}

// Chunks returns a document's chunks in index order.
func (r *Registry) Chunks(ctx context.Context, id string) ([]filing.Chunk, error) {
	if _, err := r.store.Document(ctx, id); err != nil {
		return nil, err
	}
	return r.store.Chunks(ctx, id)
}

// Counts returns the number of documents per status, including zeros.
func (r *Registry) Counts(ctx context.Context) (map[filing.Status]int, error) {
	got, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[filing.Status]int, len(filing.Statuses))
	for _, s := range filing.Statuses {
		out[s] = got[s]
	}
	return out, nil
}

// Unfinished returns documents in a non-terminal status, oldest first.
func (r *Registry) Unfinished(ctx context.Context) ([]filing.Document, error) {
	var out []filing.Document
	for _, s := range filing.Statuses {
		if s.Terminal() {
			continue
		}
		docs, err := r.store.Documents(ctx, filing.Filter{Status: s})
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dgallion1/filingest/internal/blob"
	"github.com/dgallion1/filingest/internal/chunker"
	"github.com/dgallion1/filingest/internal/cleaner"
	"github.com/dgallion1/filingest/internal/fetch"
	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/identity"
	"github.com/dgallion1/filingest/internal/metrics"
	"github.com/dgallion1/filingest/internal/notify"
	"github.com/dgallion1/filingest/internal/parser"
	"github.com/dgallion1/filingest/internal/registry"
	"github.com/dgallion1/filingest/internal/section"
)

// Deps are the collaborators a Worker drives.
type Deps struct {
	Registry  *registry.Registry
	Fetcher   fetch.Fetcher
	Blobs     *blob.Store
	Sections  *section.Extractor
	Cleaner   *cleaner.Cleaner
	Chunker   *chunker.Chunker
	Parser    parser.Options
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
	Log       *slog.Logger
	// Backoff overrides the retry delay. Nil uses Backoff.
	Backoff func(attempt int) time.Duration
}

// Result is the outcome of one Process call.
type Result struct {
	// AttemptID is the id Process was called with.
	AttemptID string
	// DocumentID is the document the run ended on. It differs from
	// AttemptID when the attempt resolved to an existing document.
	DocumentID string
	Status     filing.Status
	Duplicate  bool
	Err        error
}

// Outcome labels the result for logs and metrics.
func (r Result) Outcome() string {
	switch {
	case r.Duplicate:
		return "duplicate"
	case errors.Is(r.Err, context.Canceled), errors.Is(r.Err, context.DeadlineExceeded):
		return "interrupted"
	case r.Status == filing.StatusChunked && r.Err != nil:
		return "stalled"
	case r.Err != nil || r.Status == filing.StatusFailed:
		return "failed"
	}
	return string(r.Status)
}

// Worker drives one document through the stages its persisted status
// calls for. Different documents may run on different Workers at once;
// one document is never split across goroutines.
type Worker struct {
	Deps
}

func NewWorker(d Deps) *Worker {
	if d.Publisher == nil {
		d.Publisher = notify.Nop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Backoff == nil {
		d.Backoff = Backoff
	}
	return &Worker{Deps: d}
}

// parsedDocument is the archived output of the parse stage.
type parsedDocument struct {
	Sections []parsedSection `json:"sections"`
}

type parsedSection struct {
	Label     section.Label `json:"label"`
	Text      string        `json:"text"`
	WordCount int           `json:"word_count"`
}

// run carries stage outputs forward so a single pass does not reload them.
type run struct {
	doc      *filing.Document
	raw      []byte
	format   parser.Format
	parsed   *parsedDocument
	chunks   []filing.Chunk
	existing *filing.Document
}

// Process advances the document until it is indexed, failed, resolved as a
// duplicate, stalled at commit, or ctx is done. Stages already committed
// are not repeated, so calling Process again resumes the document.
func (w *Worker) Process(ctx context.Context, id string) Result {
	res := Result{AttemptID: id, DocumentID: id}
	log := w.Log.With("document_id", id)

	doc, err := w.Registry.Get(ctx, id)
	if err != nil {
		res.Err = fmt.Errorf("load document: %w", err)
		return res
	}
	r := &run{doc: doc}

	for {
		res.DocumentID = r.doc.ID
		res.Status = r.doc.Status
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		if r.doc.Status.Terminal() {
			w.Metrics.Processed(res.Outcome())
			return res
		}
		stage := string(r.doc.Status)
		start := time.Now()
		err := w.step(ctx, log, r)
		w.Metrics.ObserveStage(stage, time.Since(start))

		if r.existing != nil {
			res.DocumentID = r.existing.ID
			res.Status = r.existing.Status
			res.Duplicate = true
			w.Metrics.Duplicate()
			w.Metrics.Processed(res.Outcome())
			log.Info("duplicate content, using existing document", "existing_id", r.existing.ID)
			return res
		}
		if err == nil {
			continue
		}

		res.DocumentID = r.doc.ID
		res.Status = r.doc.Status
		res.Err = err
		if ctx.Err() != nil {
			// The last committed status stands.
			res.Err = ctx.Err()
			return res
		}
		if r.doc.Status == filing.StatusChunked {
			log.Error("commit failed, document left resumable", "error", err)
			w.Metrics.Processed(res.Outcome())
			return res
		}
		if ferr := w.fail(ctx, log, r.doc, err); ferr != nil {
			res.Err = errors.Join(err, ferr)
		} else {
			res.Status = filing.StatusFailed
		}
		w.Metrics.Processed(res.Outcome())
		return res
	}
}

// stageKind is the failure kind recorded for a panic in the stage that
// runs from status.
var stageKind = map[filing.Status]filing.ErrorKind{
	filing.StatusPending:    filing.KindFetch,
	filing.StatusDownloaded: filing.KindDecode,
	filing.StatusParsed:     filing.KindChunking,
	filing.StatusChunked:    filing.KindPersistence,
}

// step runs the stage for r's current status. A panic inside the stage is
// returned as a failure of that stage so malformed input cannot take the
// process down.
func (w *Worker) step(ctx context.Context, log *slog.Logger, r *run) (err error) {
	status := r.doc.Status
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("stage panicked", "status", status, "panic", rec, "stack", string(debug.Stack()))
			err = filing.Errorf(stageKind[status], "%s stage panic: %v", status, rec)
		}
	}()
	switch status {
	case filing.StatusPending:
		return w.download(ctx, log, r)
	case filing.StatusDownloaded:
		return w.parse(ctx, r)
	case filing.StatusParsed:
		return w.chunk(ctx, r)
	case filing.StatusChunked:
		return w.commit(ctx, log, r)
	}
	return fmt.Errorf("%w: no stage runs from %s", filing.ErrInvalidTransition, status)
}

// fail records err on doc. A failure to record is logged and returned.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, doc *filing.Document, err error) error {
	kind, ok := filing.KindOf(err)
	if !ok {
		kind = filing.KindPersistence
	}
	log.Warn("stage failed", "status", doc.Status, "kind", kind, "error", err)
	if _, ferr := w.Registry.Fail(ctx, doc.ID, kind, err.Error()); ferr != nil {
		log.Error("recording failure failed", "error", ferr)
		return fmt.Errorf("record failure: %w", ferr)
	}
	return nil
}

// download obtains the raw bytes, archives them and claims the fingerprint.
func (w *Worker) download(ctx context.Context, log *slog.Logger, r *run) error {
	doc := r.doc
	var (
		data   []byte
		format parser.Format
		err    error
	)
	if doc.StorageLocator != "" {
		data, err = w.Blobs.Retrieve(ctx, doc.StorageLocator)
		if err != nil && !(errors.Is(err, blob.ErrNotFound) && doc.SourceLocator != "") {
			return filing.Errorf(filing.KindFetch, "read archived bytes: %w", err)
		}
		format = parser.Format(doc.Format)
	}
	if data == nil {
		res, err := w.fetchWithRetry(ctx, log, doc.SourceLocator)
		if err != nil {
			return filing.WithKind(filing.KindFetch, err)
		}
		data, format = res.Data, res.Format
	}
	if _, err := parser.ParseFormat(string(format)); err != nil {
		format = parser.Detect(data, "", doc.SourceLocator)
		if format == "" {
			return filing.Errorf(filing.KindFetch, "%w: %s", fetch.ErrUnsupportedFormat, doc.SourceLocator)
		}
	}

	fp := identity.Fingerprint(data)
	loc, err := w.Blobs.Store(ctx, data, format.Ext())
	if err != nil {
		return filing.Errorf(filing.KindPersistence, "archive raw bytes: %w", err)
	}

	claim, err := w.Registry.Claim(ctx, doc.ID, fp, loc, string(format))
	if err != nil {
		return filing.WithKind(filing.KindPersistence, err)
	}
	switch claim.Outcome {
	case registry.Duplicate:
		r.existing = claim.Document
		return nil
	case registry.Revived:
		log.Info("reviving failed document with identical content", "revived_id", claim.Document.ID)
	}
	r.doc = claim.Document
	r.raw = data
	r.format = format
	return nil
}

func (w *Worker) fetchWithRetry(ctx context.Context, log *slog.Logger, locator string) (*fetch.Result, error) {
	if locator == "" {
		return nil, fmt.Errorf("document has no source locator")
	}
	var lastErr error
	for attempt := range MaxRetries {
		res, err := w.Fetcher.Fetch(ctx, locator)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		log.Warn("retryable fetch error", "attempt", attempt, "error", err)
		if err := sleep(ctx, w.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// parse decodes, extracts, cleans and archives the target sections.
func (w *Worker) parse(ctx context.Context, r *run) error {
	doc := r.doc
	if r.raw == nil {
		data, err := w.Blobs.Retrieve(ctx, doc.StorageLocator)
		if err != nil {
			return filing.Errorf(filing.KindPersistence, "reload raw bytes: %w", err)
		}
		r.raw = data
		r.format = parser.Format(doc.Format)
	}

	p, err := parser.ForFormat(r.format, w.Parser)
	if err != nil {
		return filing.WithKind(filing.KindDecode, err)
	}
	text, err := p.Parse(r.raw)
	if err != nil {
		return filing.WithKind(filing.KindDecode, err)
	}

	secs := w.Sections.Extract(text, doc.Type, r.format)
	if len(secs) == 0 {
		return filing.WithKind(filing.KindExtraction, section.ErrNoSections)
	}

	furniture := w.Cleaner.Furniture(text)
	parsed := &parsedDocument{}
	words := 0
	for _, s := range secs {
		cleaned := w.Cleaner.Clean(s.Text, furniture)
		n := chunker.WordCount(cleaned)
		if n == 0 {
			continue
		}
		parsed.Sections = append(parsed.Sections, parsedSection{Label: s.Label, Text: cleaned, WordCount: n})
		words += n
	}
	if len(parsed.Sections) == 0 {
		return filing.Errorf(filing.KindExtraction, "%w: all sections empty after cleaning", section.ErrNoSections)
	}

	loc, err := w.Blobs.StoreJSON(ctx, parsed)
	if err != nil {
		return filing.Errorf(filing.KindPersistence, "archive sections: %w", err)
	}
	next, err := w.Registry.MarkParsed(ctx, doc.ID, loc, words)
	if err != nil {
		return filing.WithKind(filing.KindPersistence, err)
	}
	r.doc = next
	r.parsed = parsed
	return nil
}

// chunk splits every section and moves the document to chunked. The
// chunks themselves are written by commit.
func (w *Worker) chunk(ctx context.Context, r *run) error {
	chunks, err := w.buildChunks(ctx, r)
	if err != nil {
		return err
	}
	next, err := w.Registry.MarkChunked(ctx, r.doc.ID)
	if err != nil {
		return filing.WithKind(filing.KindPersistence, err)
	}
	r.doc = next
	r.chunks = chunks
	return nil
}

func (w *Worker) buildChunks(ctx context.Context, r *run) ([]filing.Chunk, error) {
	if r.parsed == nil {
		var parsed parsedDocument
		if err := w.Blobs.RetrieveJSON(ctx, r.doc.ParsedLocator, &parsed); err != nil {
			return nil, filing.Errorf(filing.KindPersistence, "reload sections: %w", err)
		}
		r.parsed = &parsed
	}

	var chunks []filing.Chunk
	cfg := w.Chunker.Config()
	for _, s := range r.parsed.Sections {
		pieces := w.Chunker.Chunk(s.Text, string(s.Label))
		if err := chunker.Verify(s.Text, pieces, cfg); err != nil {
			return nil, filing.Errorf(filing.KindChunking, "section %s: %w", s.Label, err)
		}
		for _, p := range pieces {
			idx := len(chunks)
			chunks = append(chunks, filing.Chunk{
				ID:         identity.ChunkID(r.doc.ID, idx),
				DocumentID: r.doc.ID,
				Index:      idx,
				Text:       p.Text,
				Section:    p.Section,
				StartChar:  p.StartChar,
				EndChar:    p.EndChar,
				WordCount:  p.WordCount,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, filing.Errorf(filing.KindChunking, "no chunks produced")
	}
	return chunks, nil
}

// commit persists the chunks and moves chunked to indexed. Failures leave
// the document chunked.
func (w *Worker) commit(ctx context.Context, log *slog.Logger, r *run) error {
	if r.chunks == nil {
		chunks, err := w.buildChunks(ctx, r)
		if err != nil {
			return err
		}
		r.chunks = chunks
	}

	var (
		doc *filing.Document
		err error
	)
	for attempt := range MaxRetries {
		doc, err = w.Registry.CommitChunks(ctx, r.doc.ID, r.chunks)
		if err == nil || errors.Is(err, filing.ErrInvalidTransition) || attempt == MaxRetries-1 {
			break
		}
		log.Warn("chunk commit failed, retrying", "attempt", attempt, "error", err)
		if serr := sleep(ctx, w.Backoff(attempt)); serr != nil {
			return serr
		}
	}
	if err != nil {
		return filing.WithKind(filing.KindPersistence, err)
	}
	r.doc = doc

	tokens := make([]int, len(r.chunks))
	for i, c := range r.chunks {
		tokens[i] = chunker.EstimateTokens(c.Text)
	}
	w.Metrics.ChunksWritten(tokens)

	if err := w.Publisher.Indexed(ctx, doc); err != nil {
		log.Warn("publish indexed event failed", "error", err)
	}
	log.Info("document indexed", "chunks", doc.ChunkCount, "words", doc.WordCount)
	return nil
}

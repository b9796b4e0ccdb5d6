package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/filingest/internal/blob"
	"github.com/dgallion1/filingest/internal/chunker"
	"github.com/dgallion1/filingest/internal/cleaner"
	"github.com/dgallion1/filingest/internal/fetch"
	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/identity"
	"github.com/dgallion1/filingest/internal/metrics"
	"github.com/dgallion1/filingest/internal/parser"
	"github.com/dgallion1/filingest/internal/registry"
	"github.com/dgallion1/filingest/internal/section"
	"github.com/dgallion1/filingest/internal/store/memory"
)

// fakeFetcher serves canned responses per locator. A locator with queued
// errors returns them in order before its result.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*fetch.Result
	errs    map[string][]error
	calls   map[string]int
	hook    func(ctx context.Context)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string]*fetch.Result),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) serve(locator string, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[locator] = &fetch.Result{Data: []byte(data), Format: parser.FormatText, URL: locator}
}

func (f *fakeFetcher) failWith(locator string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[locator] = append(f.errs[locator], errs...)
}

func (f *fakeFetcher) count(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (*fetch.Result, error) {
	if f.hook != nil {
		f.hook(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[locator]++
	if errs := f.errs[locator]; len(errs) > 0 {
		f.errs[locator] = errs[1:]
		return nil, errs[0]
	}
	res, ok := f.results[locator]
	if !ok {
		return nil, fmt.Errorf("dial tcp: lookup %s: no such host", locator)
	}
	return res, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	docs []filing.Document
}

func (p *recordingPublisher) Indexed(_ context.Context, doc *filing.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, *doc)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.docs)
}

// flakyStore fails ReplaceChunks while failing is set.
type flakyStore struct {
	*memory.Store
	failing atomic.Bool
}

func (s *flakyStore) Update(ctx context.Context, fn func(registry.Tx) error) error {
	return s.Store.Update(ctx, func(tx registry.Tx) error {
		return fn(flakyTx{Tx: tx, store: s})
	})
}

type flakyTx struct {
	registry.Tx
	store *flakyStore
}

func (t flakyTx) ReplaceChunks(ctx context.Context, id string, chunks []filing.Chunk) error {
	if t.store.failing.Load() {
		return errors.New("disk I/O error")
	}
	return t.Tx.ReplaceChunks(ctx, id, chunks)
}

type harness struct {
	store     *flakyStore
	reg       *registry.Registry
	blobs     *blob.Store
	fetcher   *fakeFetcher
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	worker    *Worker
}

func newHarness(t *testing.T, cfg chunker.Config) *harness {
	t.Helper()
	ch, err := chunker.New(cfg)
	require.NoError(t, err)

	h := &harness{
		store:     &flakyStore{Store: memory.New()},
		blobs:     blob.New(afero.NewMemMapFs()),
		fetcher:   newFakeFetcher(),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(nil),
	}
	h.reg = registry.New(h.store)
	h.worker = NewWorker(Deps{
		Registry:  h.reg,
		Fetcher:   h.fetcher,
		Blobs:     h.blobs,
		Sections:  section.New(section.DefaultConfig()),
		Cleaner:   cleaner.New(cleaner.DefaultConfig()),
		Chunker:   ch,
		Publisher: h.publisher,
		Metrics:   h.metrics,
		Backoff:   func(int) time.Duration { return 0 },
	})
	return h
}

func smallChunks() chunker.Config { return chunker.Config{MaxWords: 50, OverlapWords: 5} }

func (h *harness) open(t *testing.T, source string) *filing.Document {
	t.Helper()
	doc, err := h.reg.Open(context.Background(), registry.Request{
		CompanyID: "cat",
		Ticker:    "CAT",
		Type:      filing.TypeAnnual,
		Date:      time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		Source:    source,
	})
	require.NoError(t, err)
	return doc
}

// prose returns n words as sentences of ten words in paragraphs of ten
// sentences.
func prose(n int, topic string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		switch {
		case i == 0:
		case i%100 == 0:
			b.WriteString(".\n\n")
		case i%10 == 0:
			b.WriteString(". ")
		default:
			b.WriteByte(' ')
		}
		if i%10 == 0 {
			b.WriteString(strings.ToUpper(topic[:1]) + topic[1:])
		} else {
			fmt.Fprintf(&b, "%s%d", topic, i%97)
		}
	}
	b.WriteString(".\n")
	return b.String()
}

func annualReport(risk, mda int) string {
	var b strings.Builder
	b.WriteString("CATERPILLAR INC.\nANNUAL REPORT ON FORM 10-K\n\n")
	b.WriteString("PART I\n\nItem 1A. Risk Factors\n\n")
	b.WriteString(prose(risk, "risk"))
	if mda > 0 {
		b.WriteString("\nPART II\n\nItem 7. Management's Discussion and Analysis\n\n")
		b.WriteString(prose(mda, "revenue"))
	}
	b.WriteString("\nSIGNATURES\n\nPursuant to the requirements.\n")
	return b.String()
}

func TestProcess_LargeFilingWithOnlyRiskFactors(t *testing.T) {
	h := newHarness(t, chunker.DefaultConfig())
	h.fetcher.serve("https://example.test/cat-10k.txt", annualReport(50000, 0))
	doc := h.open(t, "https://example.test/cat-10k.txt")

	res := h.worker.Process(context.Background(), doc.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, filing.StatusIndexed, res.Status)
	assert.Equal(t, "indexed", res.Outcome())

	got, err := h.reg.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusIndexed, got.Status)
	assert.GreaterOrEqual(t, got.WordCount, 50000)
	assert.True(t, identity.ValidFingerprint(got.Fingerprint))
	assert.NotNil(t, got.ProcessedAt)

	chunks, err := h.reg.Chunks(context.Background(), doc.ID)
	require.NoError(t, err)
	// 50k words in windows of 1000 stepping by 925.
	assert.GreaterOrEqual(t, len(chunks), 54)
	assert.Equal(t, len(chunks), got.ChunkCount)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, string(section.RiskFactors), c.Section, "chunk %d", i)
		assert.LessOrEqual(t, c.WordCount, 1000)
		assert.Equal(t, identity.ChunkID(doc.ID, i), c.ID)
	}

	assert.Equal(t, 1, h.publisher.count())
	assert.Equal(t, float64(len(chunks)), gathered(t, h.metrics, "filingest_chunks_written_total"))
}

// gathered sums every sample of the named counter.
func gathered(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
	}
	return sum
}

func TestProcess_IdenticalBytesResolveToExistingDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	report := annualReport(400, 300)
	h.fetcher.serve("https://example.test/a.txt", report)
	h.fetcher.serve("https://example.test/b.txt", report)

	first := h.open(t, "https://example.test/a.txt")
	res := h.worker.Process(ctx, first.ID)
	require.NoError(t, res.Err)
	indexed, err := h.reg.Get(ctx, first.ID)
	require.NoError(t, err)

	second := h.open(t, "https://example.test/b.txt")
	res = h.worker.Process(ctx, second.ID)
	require.NoError(t, res.Err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "duplicate", res.Outcome())
	assert.Equal(t, first.ID, res.DocumentID)
	assert.Equal(t, second.ID, res.AttemptID)

	_, err = h.reg.Get(ctx, second.ID)
	assert.ErrorIs(t, err, filing.ErrNotFound)

	again, err := h.reg.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, indexed.ChunkCount, again.ChunkCount)
	assert.Equal(t, indexed.Fingerprint, again.Fingerprint)

	docs, err := h.reg.List(ctx, filing.Filter{CompanyID: "cat"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1.0, gathered(t, h.metrics, "filingest_duplicates_total"))
	assert.Equal(t, 1, h.publisher.count())
}

func TestProcess_ConcurrentIdenticalBytesOnDisk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	osBlobs, err := blob.NewOS(t.TempDir())
	require.NoError(t, err)
	h.worker.Blobs = osBlobs

	for round := 0; round < 10; round++ {
		report := annualReport(400+round, 0)
		a := fmt.Sprintf("https://example.test/%d/primary.txt", round)
		b := fmt.Sprintf("https://mirror.example.test/%d/primary.txt", round)
		h.fetcher.serve(a, report)
		h.fetcher.serve(b, report)
		docs := []*filing.Document{h.open(t, a), h.open(t, b)}

		results := make([]Result, len(docs))
		var wg sync.WaitGroup
		for i, doc := range docs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = h.worker.Process(ctx, doc.ID)
			}()
		}
		wg.Wait()

		duplicates := 0
		for _, res := range results {
			require.NoError(t, res.Err, "round %d", round)
			if res.Duplicate {
				duplicates++
			} else {
				assert.Equal(t, filing.StatusIndexed, res.Status)
			}
		}
		assert.Equal(t, 1, duplicates, "round %d", round)
		assert.Equal(t, results[0].DocumentID, results[1].DocumentID)
	}
}

func TestProcess_SectionsAreLabelledInOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(120, 80))
	doc := h.open(t, "https://example.test/a.txt")

	res := h.worker.Process(ctx, doc.ID)
	require.NoError(t, res.Err)

	chunks, err := h.reg.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	seenMDA := false
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		switch c.Section {
		case string(section.RiskFactors):
			assert.False(t, seenMDA, "risk factors chunk after mda")
		case string(section.MDA):
			seenMDA = true
		default:
			t.Errorf("unexpected section %q", c.Section)
		}
	}
	assert.True(t, seenMDA)
}

func TestProcess_FetchErrorFailsDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	doc := h.open(t, "https://unreachable.test/x.txt")

	res := h.worker.Process(ctx, doc.ID)
	require.Error(t, res.Err)
	assert.Equal(t, filing.StatusFailed, res.Status)
	assert.Equal(t, "failed", res.Outcome())
	assert.Equal(t, 1, h.fetcher.count("https://unreachable.test/x.txt"), "transport errors are not retried")

	got, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusFailed, got.Status)
	assert.Equal(t, filing.KindFetch, got.ErrorKind)
	assert.Contains(t, got.ErrorMessage, "no such host")
	assert.Zero(t, got.ChunkCount)

	chunks, err := h.reg.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Zero(t, h.publisher.count())
}

func TestProcess_RetriesRetryableFetch(t *testing.T) {
	h := newHarness(t, smallChunks())
	loc := "https://example.test/busy.txt"
	h.fetcher.serve(loc, annualReport(100, 0))
	h.fetcher.failWith(loc,
		&fetch.RetryableError{StatusCode: 429, Message: "slow down"},
		&fetch.RetryableError{StatusCode: 503, Message: "unavailable"},
	)
	doc := h.open(t, loc)

	res := h.worker.Process(context.Background(), doc.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, filing.StatusIndexed, res.Status)
	assert.Equal(t, 3, h.fetcher.count(loc))
}

func TestProcess_RetryableFetchGivesUp(t *testing.T) {
	h := newHarness(t, smallChunks())
	loc := "https://example.test/down.txt"
	h.fetcher.serve(loc, annualReport(100, 0))
	for range MaxRetries {
		h.fetcher.failWith(loc, &fetch.RetryableError{StatusCode: 503, Message: "unavailable"})
	}
	doc := h.open(t, loc)

	res := h.worker.Process(context.Background(), doc.ID)
	require.Error(t, res.Err)
	assert.Equal(t, filing.StatusFailed, res.Status)
	assert.Equal(t, MaxRetries, h.fetcher.count(loc))
}

func TestProcess_NoSectionsIsExtractionFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/empty.txt", "Cover page only.\nNothing else here.\n")
	doc := h.open(t, "https://example.test/empty.txt")

	res := h.worker.Process(ctx, doc.ID)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, section.ErrNoSections)

	got, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusFailed, got.Status)
	assert.Equal(t, filing.KindExtraction, got.ErrorKind)
	assert.NotEmpty(t, got.Fingerprint, "failed after download keeps its fingerprint")
}

func TestProcess_CorruptBytesAreDecodeFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.mu.Lock()
	h.fetcher.results["https://example.test/bad.pdf"] = &fetch.Result{
		Data:   []byte("%PDF-1.4\nthis is not really a pdf"),
		Format: parser.FormatPDF,
	}
	h.fetcher.mu.Unlock()
	doc := h.open(t, "https://example.test/bad.pdf")

	res := h.worker.Process(ctx, doc.ID)
	require.Error(t, res.Err)

	got, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusFailed, got.Status)
	assert.Equal(t, filing.KindDecode, got.ErrorKind)
}

func TestProcess_Latin1SubmissionEnvelope(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	body := strings.Repeat("Caf\xe9 \xa9 1998 legacy header line.\n", 30) + annualReport(300, 0)
	h.fetcher.serve("https://example.test/0000018230-99-000001.txt",
		"<SEC-DOCUMENT>\n<DOCUMENT>\n<TYPE>10-K\n<TEXT>\n"+body+"</TEXT>\n</DOCUMENT>\n")
	doc := h.open(t, "https://example.test/0000018230-99-000001.txt")

	res := h.worker.Process(ctx, doc.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, filing.StatusIndexed, res.Status)

	chunks, err := h.reg.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "</TEXT>")
	}
}

func TestProcess_StagePanicIsRecordedAsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.hook = func(context.Context) { panic("nil map write") }
	doc := h.open(t, "https://example.test/cat-10k.txt")

	var res Result
	require.NotPanics(t, func() { res = h.worker.Process(ctx, doc.ID) })
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "nil map write")

	got, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusFailed, got.Status)
	assert.Equal(t, filing.KindFetch, got.ErrorKind)
}

func TestProcess_UsesUploadedBytes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	loc, err := h.blobs.Store(ctx, []byte(annualReport(200, 0)), parser.FormatText.Ext())
	require.NoError(t, err)

	doc, err := h.reg.Open(ctx, registry.Request{
		CompanyID:      "cat",
		Ticker:         "cat",
		Type:           filing.TypeAnnual,
		Date:           time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		StorageLocator: loc,
		Format:         string(parser.FormatText),
	})
	require.NoError(t, err)

	res := h.worker.Process(ctx, doc.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, filing.StatusIndexed, res.Status)
	assert.Empty(t, h.fetcher.calls)
}

func TestProcess_ResumesFromEachStage(t *testing.T) {
	ctx := context.Background()
	report := annualReport(300, 200)

	prepare := map[filing.Status]func(t *testing.T, h *harness, id string){
		filing.StatusDownloaded: func(t *testing.T, h *harness, id string) {
			downloaded(t, h, id, report)
		},
		filing.StatusParsed: func(t *testing.T, h *harness, id string) {
			downloaded(t, h, id, report)
			parsed(t, h, id)
		},
		filing.StatusChunked: func(t *testing.T, h *harness, id string) {
			downloaded(t, h, id, report)
			parsed(t, h, id)
			_, err := h.reg.MarkChunked(ctx, id)
			require.NoError(t, err)
		},
	}

	// Reference run from scratch.
	ref := newHarness(t, smallChunks())
	ref.fetcher.serve("https://example.test/a.txt", report)
	refDoc := ref.open(t, "https://example.test/a.txt")
	require.NoError(t, ref.worker.Process(ctx, refDoc.ID).Err)
	refChunks, err := ref.reg.Chunks(ctx, refDoc.ID)
	require.NoError(t, err)

	for status, setup := range prepare {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, smallChunks())
			doc := h.open(t, "https://example.test/a.txt")
			setup(t, h, doc.ID)

			got, err := h.reg.Get(ctx, doc.ID)
			require.NoError(t, err)
			require.Equal(t, status, got.Status)

			res := h.worker.Process(ctx, doc.ID)
			require.NoError(t, res.Err)
			assert.Equal(t, filing.StatusIndexed, res.Status)
			assert.Zero(t, h.fetcher.count("https://example.test/a.txt"), "resume must not refetch")

			chunks, err := h.reg.Chunks(ctx, doc.ID)
			require.NoError(t, err)
			require.Len(t, chunks, len(refChunks))
			for i := range chunks {
				assert.Equal(t, refChunks[i].Text, chunks[i].Text)
				assert.Equal(t, refChunks[i].Section, chunks[i].Section)
			}
		})
	}
}

// downloaded archives data and claims it for id, as the download stage
// would have before a crash.
func downloaded(t *testing.T, h *harness, id, data string) {
	t.Helper()
	ctx := context.Background()
	loc, err := h.blobs.Store(ctx, []byte(data), parser.FormatText.Ext())
	require.NoError(t, err)
	claim, err := h.reg.Claim(ctx, id, identity.Fingerprint([]byte(data)), loc, string(parser.FormatText))
	require.NoError(t, err)
	require.Equal(t, registry.Acquired, claim.Outcome)
}

// parsed runs the parse stage alone.
func parsed(t *testing.T, h *harness, id string) {
	t.Helper()
	ctx := context.Background()
	doc, err := h.reg.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, h.worker.parse(ctx, &run{doc: doc}))
}

func TestProcess_CommitFailureLeavesDocumentChunked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(200, 0))
	doc := h.open(t, "https://example.test/a.txt")

	h.store.failing.Store(true)
	res := h.worker.Process(ctx, doc.ID)
	require.Error(t, res.Err)
	assert.Equal(t, filing.StatusChunked, res.Status)
	assert.Equal(t, "stalled", res.Outcome())

	got, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusChunked, got.Status)
	assert.Empty(t, got.ErrorMessage)
	chunks, err := h.reg.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Zero(t, h.publisher.count())

	h.store.failing.Store(false)
	res = h.worker.Process(ctx, doc.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, filing.StatusIndexed, res.Status)
	assert.Equal(t, 1, h.publisher.count())
}

func TestProcess_CancellationWritesNothing(t *testing.T) {
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(200, 0))
	doc := h.open(t, "https://example.test/a.txt")

	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.hook = func(context.Context) { cancel() }

	res := h.worker.Process(ctx, doc.ID)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "interrupted", res.Outcome())

	got, err := h.reg.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, got.Fingerprint)
}

func TestProcess_TerminalDocumentIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(100, 0))
	doc := h.open(t, "https://example.test/a.txt")
	require.NoError(t, h.worker.Process(ctx, doc.ID).Err)

	res := h.worker.Process(ctx, doc.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, filing.StatusIndexed, res.Status)
	assert.Equal(t, 1, h.fetcher.count("https://example.test/a.txt"))
	assert.Equal(t, 1, h.publisher.count())
}

func TestProcess_MissingDocument(t *testing.T) {
	h := newHarness(t, smallChunks())
	res := h.worker.Process(context.Background(), "no-such-id")
	assert.ErrorIs(t, res.Err, filing.ErrNotFound)
}

func TestResult_Outcome(t *testing.T) {
	tests := []struct {
		res  Result
		want string
	}{
		{Result{Status: filing.StatusIndexed}, "indexed"},
		{Result{Status: filing.StatusIndexed, Duplicate: true}, "duplicate"},
		{Result{Status: filing.StatusFailed}, "failed"},
		{Result{Status: filing.StatusPending, Err: errors.New("x")}, "failed"},
		{Result{Status: filing.StatusChunked, Err: errors.New("x")}, "stalled"},
		{Result{Status: filing.StatusParsed, Err: context.Canceled}, "interrupted"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.res.Outcome())
	}
}

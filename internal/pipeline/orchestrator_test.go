package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(h *harness, cfg OrchestratorConfig) (*Orchestrator, <-chan Result) {
	o := NewOrchestrator(h.worker, h.reg, cfg, quietLogger())
	results := make(chan Result, 16)
	o.OnResult = func(r Result) { results <- r }
	return o, results
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for pipeline result")
		return Result{}
	}
}

func annualRequest(source string, date time.Time) registry.Request {
	return registry.Request{CompanyID: "cat", Ticker: "CAT", Type: filing.TypeAnnual, Date: date, Source: source}
}

func TestOrchestrator_SubmitProcessesDocuments(t *testing.T) {
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/2023.txt", annualReport(150, 50))
	h.fetcher.serve("https://example.test/2024.txt", annualReport(180, 60))

	o, results := newTestOrchestrator(h, OrchestratorConfig{WorkerCount: 2, MaxQueueSize: 4})
	o.Start(context.Background())
	defer o.Stop()

	ctx := context.Background()
	a, err := o.Submit(ctx, annualRequest("https://example.test/2023.txt", time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	b, err := o.Submit(ctx, annualRequest("https://example.test/2024.txt", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, filing.StatusPending, a.Status)

	done := map[string]Result{}
	for range 2 {
		r := waitResult(t, results)
		done[r.DocumentID] = r
	}
	for _, id := range []string{a.ID, b.ID} {
		require.Contains(t, done, id)
		assert.NoError(t, done[id].Err)
		assert.Equal(t, filing.StatusIndexed, done[id].Status)
	}
	assert.Empty(t, o.Jobs())
}

func TestOrchestrator_SubmitRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, smallChunks())
	o, _ := newTestOrchestrator(h, OrchestratorConfig{})
	_, err := o.Submit(context.Background(), registry.Request{CompanyID: "cat", Type: "S-1"})
	assert.ErrorIs(t, err, filing.ErrInvalidInput)
}

func TestOrchestrator_QueueFullLeavesDocumentPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	o, _ := newTestOrchestrator(h, OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 1})

	first, err := o.Submit(ctx, annualRequest("https://example.test/a.txt", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	second, err := o.Submit(ctx, annualRequest("https://example.test/b.txt", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, ErrQueueFull)
	require.NotNil(t, second)

	got, err := h.reg.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusPending, got.Status)

	assert.Equal(t, 1, o.QueueDepth())
	require.NoError(t, o.Enqueue(first.ID), "re-enqueueing a queued id is a no-op")
	assert.Equal(t, 1, o.QueueDepth())

	jobs := o.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ID, jobs[0].DocumentID)
	assert.Equal(t, JobQueued, jobs[0].State)
}

func TestOrchestrator_RecoverQueuesUnfinishedDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	report := annualReport(120, 40)
	h.fetcher.serve("https://example.test/a.txt", report)

	pending := h.open(t, "https://example.test/a.txt")
	midway, err := h.reg.Open(ctx, annualRequest("https://example.test/b.txt", time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	downloaded(t, h, midway.ID, annualReport(90, 30))

	o, results := newTestOrchestrator(h, OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 8})
	n, err := o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	o.Start(ctx)
	defer o.Stop()
	first := waitResult(t, results)
	second := waitResult(t, results)
	assert.Equal(t, pending.ID, first.DocumentID, "oldest first")
	assert.Equal(t, midway.ID, second.DocumentID)
	assert.Equal(t, filing.StatusIndexed, first.Status)
	assert.Equal(t, filing.StatusIndexed, second.Status)
	assert.Zero(t, h.fetcher.count("https://example.test/b.txt"))
}

func TestOrchestrator_Reprocess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(150, 0))
	doc := h.open(t, "https://example.test/a.txt")
	require.NoError(t, h.worker.Process(ctx, doc.ID).Err)
	before, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)

	o, results := newTestOrchestrator(h, OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 2})
	reset, err := o.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, filing.StatusPending, reset.Status)
	assert.Zero(t, reset.ChunkCount)

	_, err = o.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrInFlight)

	o.Start(ctx)
	defer o.Stop()
	r := waitResult(t, results)
	require.NoError(t, r.Err)
	assert.Equal(t, doc.ID, r.DocumentID)
	assert.Equal(t, filing.StatusIndexed, r.Status)

	after, err := h.reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
	assert.Equal(t, before.ChunkCount, after.ChunkCount)
	assert.Equal(t, 1, h.fetcher.count("https://example.test/a.txt"), "reprocess reads archived bytes")

	_, err = o.Reprocess(ctx, "missing")
	assert.ErrorIs(t, err, filing.ErrNotFound)
}

// gatedStore holds every Update until release is closed.
type gatedStore struct {
	registry.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Update(ctx context.Context, fn func(registry.Tx) error) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.Store.Update(ctx, fn)
}

func TestOrchestrator_ReprocessHoldsSlotDuringReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(150, 0))
	doc := h.open(t, "https://example.test/a.txt")
	require.NoError(t, h.worker.Process(ctx, doc.ID).Err)

	gate := &gatedStore{Store: h.store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(h.worker, registry.New(gate), OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 2}, quietLogger())

	done := make(chan error, 1)
	go func() {
		_, err := o.Reprocess(ctx, doc.ID)
		done <- err
	}()
	<-gate.entered

	assert.True(t, o.InFlight(doc.ID))
	require.NoError(t, o.Enqueue(doc.ID))
	assert.Zero(t, o.QueueDepth(), "a concurrent enqueue must not queue a second run")

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, o.QueueDepth())

	_, err := o.Reprocess(ctx, "missing")
	assert.ErrorIs(t, err, filing.ErrNotFound)
	assert.False(t, o.InFlight("missing"), "a failed reset releases the slot")
}

func TestOrchestrator_StopRejectsNewWork(t *testing.T) {
	h := newHarness(t, smallChunks())
	o, _ := newTestOrchestrator(h, OrchestratorConfig{WorkerCount: 1})
	o.Start(context.Background())
	o.Stop()
	o.Stop()

	assert.ErrorIs(t, o.Enqueue("anything"), ErrStopped)
}

func TestOrchestrator_DrainFinishesQueuedWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, smallChunks())
	h.fetcher.serve("https://example.test/a.txt", annualReport(100, 0))

	o, results := newTestOrchestrator(h, OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 2})
	doc, err := o.Submit(ctx, annualRequest("https://example.test/a.txt", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	o.Start(ctx)
	o.Drain()

	r := waitResult(t, results)
	assert.Equal(t, doc.ID, r.DocumentID)
	assert.Equal(t, filing.StatusIndexed, r.Status)
}

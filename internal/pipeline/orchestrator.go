package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/registry"
)

var (
	// ErrQueueFull is returned when no queue slot is free. The document
	// stays pending and Recover picks it up later.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned after Stop or Drain.
	ErrStopped = errors.New("pipeline stopped")
	// ErrInFlight is returned when reprocessing a document that is queued
	// or running.
	ErrInFlight = errors.New("document is being processed")
)

// OrchestratorConfig sizes the worker pool.
type OrchestratorConfig struct {
	WorkerCount  int
	MaxQueueSize int
}

// Orchestrator runs Workers over a bounded queue of document ids.
type Orchestrator struct {
	worker *Worker
	reg    *registry.Registry
	log    *slog.Logger
	cfg    OrchestratorConfig

	jobs  *jobSet
	queue chan string

	// OnResult, when set before Start, is called after every run.
	OnResult func(Result)

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(w *Worker, reg *registry.Registry, cfg OrchestratorConfig, log *slog.Logger) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	return &Orchestrator{
		worker: w,
		reg:    reg,
		log:    log,
		cfg:    cfg,
		jobs:   newJobSet(),
		queue:  make(chan string, cfg.MaxQueueSize),
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case id, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(workerCtx, id)
				}
			}
		}()
	}
}

func (o *Orchestrator) run(ctx context.Context, id string) {
	o.jobs.start(id)
	res := o.worker.Process(ctx, id)
	o.jobs.remove(id)

	log := o.log.With("document_id", res.DocumentID, "outcome", res.Outcome())
	if res.AttemptID != res.DocumentID {
		log = log.With("attempt_id", res.AttemptID)
	}
	if res.Err != nil {
		log.Warn("document run ended with error", "status", res.Status, "error", res.Err)
	} else {
		log.Info("document run finished", "status", res.Status)
	}
	if o.OnResult != nil {
		o.OnResult(res)
	}
}

// Stop cancels in-flight work and waits for the workers. Documents keep
// their last committed status.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.close()
	o.wg.Wait()
}

// Drain stops accepting work and waits for the queue to empty.
func (o *Orchestrator) Drain() {
	o.close()
	o.wg.Wait()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

// Submit opens a pending document for req and queues it.
func (o *Orchestrator) Submit(ctx context.Context, req registry.Request) (*filing.Document, error) {
	doc, err := o.reg.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.Enqueue(doc.ID); err != nil {
		return doc, err
	}
	return doc, nil
}

// Reprocess resets a document to pending and queues it. The job slot is
// reserved before the reset, so no other path can queue or run the
// document in between.
func (o *Orchestrator) Reprocess(ctx context.Context, id string) (*filing.Document, error) {
	if !o.jobs.add(id) {
		return nil, fmt.Errorf("%w: %s", ErrInFlight, id)
	}
	doc, err := o.reg.Reset(ctx, id)
	if err != nil {
		o.jobs.remove(id)
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.send(id); err != nil {
		return doc, err
	}
	return doc, nil
}

// Enqueue queues id unless it is already queued or running.
func (o *Orchestrator) Enqueue(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrStopped
	}
	if !o.jobs.add(id) {
		return nil
	}
	return o.send(id)
}

// send puts a reserved id on the queue, releasing the reservation if it
// cannot. o.mu must be held.
func (o *Orchestrator) send(id string) error {
	if o.closed {
		o.jobs.remove(id)
		return ErrStopped
	}
	select {
	case o.queue <- id:
		return nil
	default:
		o.jobs.remove(id)
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// Recover queues every document left in a non-terminal status, oldest
// first, and returns how many were queued.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	docs, err := o.reg.Unfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished documents: %w", err)
	}
	n := 0
	for _, d := range docs {
		if err := o.Enqueue(d.ID); err != nil {
			if errors.Is(err, ErrQueueFull) {
				o.log.Warn("recovery stopped, queue full", "queued", n, "remaining", len(docs)-n)
				return n, nil
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Jobs returns the queued and running documents.
func (o *Orchestrator) Jobs() []Job {
	return o.jobs.snapshot()
}

// InFlight reports whether id is queued or running.
func (o *Orchestrator) InFlight(id string) bool {
	return o.jobs.has(id)
}

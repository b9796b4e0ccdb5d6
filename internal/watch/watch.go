// Package watch turns files dropped under a directory into ingestion
// requests. Files are laid out as <root>/<TICKER>/<TYPE>/<YYYY-MM-DD>/<name>.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/identity"
	"github.com/dgallion1/filingest/internal/registry"
)

// ErrLayout is returned for paths that do not follow the drop layout.
var ErrLayout = errors.New("path does not match <TICKER>/<TYPE>/<YYYY-MM-DD>/<file>")

// Submitter accepts ingestion requests.
type Submitter interface {
	Submit(ctx context.Context, req registry.Request) (*filing.Document, error)
}

var extensions = map[string]bool{
	".pdf":  true,
	".htm":  true,
	".html": true,
	".txt":  true,
}

// ParseRequest maps a file under root to a request. companyFor resolves
// the ticker directory to a company id.
func ParseRequest(root, path string, companyFor func(ticker string) string) (registry.Request, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return registry.Request{}, fmt.Errorf("%w: %s", ErrLayout, path)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[0] == ".." {
		return registry.Request{}, fmt.Errorf("%w: %s", ErrLayout, rel)
	}
	ticker, typ, date, name := parts[0], parts[1], parts[2], parts[3]

	if !extensions[strings.ToLower(filepath.Ext(name))] {
		return registry.Request{}, fmt.Errorf("%w: unsupported extension %q", filing.ErrInvalidInput, filepath.Ext(name))
	}
	ft, err := filing.ParseType(typ)
	if err != nil {
		return registry.Request{}, err
	}
	d, err := time.Parse(filing.DateLayout, date)
	if err != nil {
		return registry.Request{}, fmt.Errorf("%w: filing date %q", filing.ErrInvalidInput, date)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return registry.Request{}, err
	}
	return registry.Request{
		CompanyID: companyFor(ticker),
		Ticker:    strings.ToUpper(ticker),
		Type:      ft,
		Date:      d,
		Source:    "file://" + filepath.ToSlash(abs),
	}, nil
}

// Config configures a Watcher.
type Config struct {
	Dir        string
	Debounce   time.Duration
	CompanyFor func(ticker string) string
}

// Watcher submits new and changed drop files once they have been quiet
// for the debounce delay.
type Watcher struct {
	cfg     Config
	submit  Submitter
	log     *slog.Logger
	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time

	// seen holds the fingerprint last submitted per path.
	seenMu sync.Mutex
	seen   map[string]string

	started bool
	done    chan struct{}
}

func New(cfg Config, submit Submitter, log *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch: directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.CompanyFor == nil {
		cfg.CompanyFor = strings.ToLower
	}
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		cfg:     cfg,
		submit:  submit,
		log:     log.With("drop_dir", cfg.Dir),
		watcher: fsw,
		pending: make(map[string]time.Time),
		seen:    make(map[string]string),
		done:    make(chan struct{}),
	}, nil
}

// Start watches the directory tree and queues files already present.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}
	if err := w.addTree(w.cfg.Dir); err != nil {
		return err
	}
	w.started = true
	go w.loop(ctx)
	w.log.Info("drop directory watcher started", "debounce", w.cfg.Debounce)
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

// addTree watches every directory under root and marks existing files
// pending.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if hidden(path, root) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			w.touch(path)
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func hidden(path, root string) bool {
	return path != root && strings.HasPrefix(filepath.Base(path), ".")
}

func (w *Watcher) touch(path string) {
	if !extensions[strings.ToLower(filepath.Ext(path))] {
		return
	}
	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		case <-ticker.C:
			w.flush(ctx, time.Now())
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.pendingMu.Lock()
		delete(w.pending, ev.Name)
		w.pendingMu.Unlock()
		w.seenMu.Lock()
		delete(w.seen, ev.Name)
		w.seenMu.Unlock()
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !hidden(ev.Name, w.cfg.Dir) {
				if err := w.addTree(ev.Name); err != nil {
					w.log.Warn("failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}
		w.touch(ev.Name)
	case ev.Has(fsnotify.Write):
		w.touch(ev.Name)
	}
}

// flush submits pending files whose last event is older than the
// debounce delay.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	var ready []string
	w.pendingMu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	log := w.log.With("path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to read drop file", "error", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}
	fp := identity.Fingerprint(data)
	w.seenMu.Lock()
	unchanged := w.seen[path] == fp
	w.seenMu.Unlock()
	if unchanged {
		return
	}

	req, err := ParseRequest(w.cfg.Dir, path, w.cfg.CompanyFor)
	if err != nil {
		log.Warn("ignoring drop file", "error", err)
		return
	}
	doc, err := w.submit.Submit(ctx, req)
	if err != nil && doc == nil {
		log.Error("submit drop file failed", "error", err)
		return
	}
	if err != nil {
		// Recorded as pending; recovery queues it later.
		log.Warn("drop file recorded but not queued", "document_id", doc.ID, "error", err)
	}
	w.seenMu.Lock()
	w.seen[path] = fp
	w.seenMu.Unlock()
	log.Info("drop file submitted", "document_id", doc.ID, "ticker", req.Ticker, "filing_type", req.Type)
}

// Package memory is an in-process registry.Store used by tests and by
// one-shot CLI runs that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/registry"
)

// Store keeps documents and chunks in maps behind one mutex. Update
// stages writes in an overlay and applies them only when fn succeeds.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]filing.Document
	chunks map[string][]filing.Chunk
}

var _ registry.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:   make(map[string]filing.Document),
		chunks: make(map[string][]filing.Chunk),
	}
}

func (s *Store) Update(ctx context.Context, fn func(registry.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:      s,
		docs:   make(map[string]*filing.Document),
		chunks: make(map[string][]filing.Chunk),
	}
	if err := fn(t); err != nil {
		return err
	}
	for id, d := range t.docs {
		if d == nil {
			delete(s.docs, id)
			continue
		}
		s.docs[id] = *d
	}
	for id, cs := range t.chunks {
		if len(cs) == 0 {
			delete(s.chunks, id)
			continue
		}
		s.chunks[id] = cs
	}
	return nil
}

func (s *Store) Document(_ context.Context, id string) (*filing.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, filing.ErrNotFound
	}
	return &d, nil
}

func (s *Store) Documents(_ context.Context, f filing.Filter) ([]filing.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []filing.Document
	for _, d := range s.docs {
		if f.Match(&d) {
			out = append(out, d)
		}
	}
	sortDocuments(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// sortDocuments orders newest filing first, then by creation, then id.
func sortDocuments(docs []filing.Document) {
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (s *Store) Chunks(_ context.Context, documentID string) ([]filing.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]filing.Chunk(nil), s.chunks[documentID]...), nil
}

func (s *Store) CountByStatus(_ context.Context) (map[filing.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[filing.Status]int)
	for _, d := range s.docs {
		out[d.Status]++
	}
	return out, nil
}

type tx struct {
	s *Store
	// nil entries are staged deletes.
	docs   map[string]*filing.Document
	chunks map[string][]filing.Chunk
}

func (t *tx) lookup(id string) (*filing.Document, bool) {
	if d, ok := t.docs[id]; ok {
		return d, d != nil
	}
	d, ok := t.s.docs[id]
	if !ok {
		return nil, false
	}
	return &d, true
}

// each visits the merged view of committed and staged documents.
func (t *tx) each(fn func(*filing.Document)) {
	for id, d := range t.s.docs {
		if _, staged := t.docs[id]; staged {
			continue
		}
		d := d
		fn(&d)
	}
	for _, d := range t.docs {
		if d != nil {
			fn(d)
		}
	}
}

func (t *tx) Document(_ context.Context, id string) (*filing.Document, error) {
	d, ok := t.lookup(id)
	if !ok {
		return nil, filing.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (t *tx) FindByKey(_ context.Context, key filing.Key, fingerprint, excludeID string) ([]filing.Document, error) {
	var out []filing.Document
	t.each(func(d *filing.Document) {
		if d.ID != excludeID && d.Fingerprint == fingerprint && sameKey(d.Key(), key) {
			out = append(out, *d)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sameKey(a, b filing.Key) bool {
	return a.CompanyID == b.CompanyID && a.Type == b.Type && a.Date.Equal(b.Date)
}

func (t *tx) PutDocument(_ context.Context, doc *filing.Document) error {
	if doc.Fingerprint != "" && doc.Status != filing.StatusFailed {
		conflict := false
		t.each(func(d *filing.Document) {
			if d.ID != doc.ID && d.Status != filing.StatusFailed &&
				d.Fingerprint == doc.Fingerprint && sameKey(d.Key(), doc.Key()) {
				conflict = true
			}
		})
		if conflict {
			return filing.ErrConflict
		}
	}
	cp := *doc
	t.docs[doc.ID] = &cp
	return nil
}

func (t *tx) DeleteDocument(_ context.Context, id string) error {
	t.docs[id] = nil
	t.chunks[id] = nil
	return nil
}

func (t *tx) ReplaceChunks(_ context.Context, documentID string, chunks []filing.Chunk) error {
	if _, ok := t.lookup(documentID); !ok {
		return filing.ErrNotFound
	}
	t.chunks[documentID] = append([]filing.Chunk(nil), chunks...)
	return nil
}

func (t *tx) DeleteChunks(_ context.Context, documentID string) error {
	t.chunks[documentID] = nil
	return nil
}

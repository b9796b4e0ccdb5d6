package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/pipeline"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// handleListDocuments lists documents matching the query filters.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.registry.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []filing.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func parseFilter(q url.Values) (filing.Filter, error) {
	f := filing.Filter{
		CompanyID: q.Get("company_id"),
		Ticker:    q.Get("ticker"),
		Limit:     defaultListLimit,
	}
	if v := q.Get("status"); v != "" {
		st, err := filing.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if v := q.Get("filing_type"); v != "" {
		ft, err := filing.ParseType(v)
		if err != nil {
			return f, err
		}
		f.Type = ft
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(filing.DateLayout, v)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be YYYY-MM-DD", filing.ErrInvalidInput, key)
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("%w: limit must be a positive integer", filing.ErrInvalidInput)
		}
		f.Limit = min(n, maxListLimit)
	}
	return f, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.registry.Get(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleListChunks returns a document's chunks in index order. Chunks
// exist only once the document is indexed.
func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	chunks, err := s.registry.Chunks(r.Context(), docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []filing.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": docID, "chunks": chunks, "count": len(chunks)})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	doc, err := s.orchestrator.Reprocess(r.Context(), chi.URLParam(r, "docID"))
	if err != nil && doc == nil {
		s.writeError(w, r, err)
		return
	}
	resp := ingestResponse{Document: doc, Queued: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleDeleteDocument deletes a document and its chunks. Archived bytes
// are content-addressed and may be shared, so they are kept.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if s.orchestrator.InFlight(docID) {
		s.writeError(w, r, fmt.Errorf("%w: %s", pipeline.ErrInFlight, docID))
		return
	}
	if err := s.registry.Delete(r.Context(), docID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("document deleted", "document_id", docID)
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/filingest/internal/fetch"
	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/parser"
	"github.com/dgallion1/filingest/internal/pipeline"
	"github.com/dgallion1/filingest/internal/registry"
)

// ingestRequest is the JSON body of POST /api/documents. Dates use
// filing.DateLayout.
type ingestRequest struct {
	CompanyID  string `json:"company_id"`
	Ticker     string `json:"ticker"`
	FilingType string `json:"filing_type"`
	FilingDate string `json:"filing_date"`
	Source     string `json:"source"`
}

type ingestResponse struct {
	Document *filing.Document `json:"document"`
	Queued   bool             `json:"queued"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.buildRequest(body.CompanyID, body.Ticker, body.FilingType, body.FilingDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Source = body.Source
	if strings.TrimSpace(req.Source) == "" {
		jsonError(w, "source is required", http.StatusBadRequest)
		return
	}
	src, err := s.checkSource(req.Source)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Source = src
	s.submit(w, r, req)
}

// checkSource accepts http(s) URLs and local paths inside the configured
// local root.
func (s *Server) checkSource(source string) (string, error) {
	source = strings.TrimSpace(source)
	if fetch.IsRemote(source) {
		return source, nil
	}
	root := s.cfg.LocalRoot()
	if root == "" {
		return "", errors.New("local sources are disabled: use an http(s) url or upload the file")
	}
	p, err := fetch.LocalPath(root, source)
	if err != nil {
		return "", err
	}
	return "file://" + p, nil
}

// handleUpload accepts a multipart filing whose bytes are archived before
// the document is queued, so the pipeline never fetches it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := s.buildRequest(r.FormValue("company_id"), r.FormValue("ticker"), r.FormValue("filing_type"), r.FormValue("filing_date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		jsonError(w, "file is empty", http.StatusBadRequest)
		return
	}

	format := parser.Detect(data, header.Header.Get("Content-Type"), filename)
	if format == "" {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusUnsupportedMediaType)
		return
	}

	loc, err := s.blobs.Store(r.Context(), data, format.Ext())
	if err != nil {
		s.writeError(w, r, fmt.Errorf("archive upload: %w", err))
		return
	}
	req.StorageLocator = loc
	req.Format = string(format)
	req.Source = "upload:" + filename
	s.submit(w, r, req)
}

func (s *Server) buildRequest(companyID, ticker, filingType, filingDate string) (registry.Request, error) {
	ft, err := filing.ParseType(filingType)
	if err != nil {
		return registry.Request{}, err
	}
	date, err := time.Parse(filing.DateLayout, strings.TrimSpace(filingDate))
	if err != nil {
		return registry.Request{}, fmt.Errorf("%w: filing_date must be YYYY-MM-DD", filing.ErrInvalidInput)
	}
	if strings.TrimSpace(companyID) == "" && ticker != "" {
		companyID = s.cfg.CompanyFor(ticker)
	}
	return registry.Request{CompanyID: companyID, Ticker: ticker, Type: ft, Date: date}, nil
}

// submit opens and queues req. A full queue still records the document as
// pending, so the response is 202 with queued=false.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, req registry.Request) {
	doc, err := s.orchestrator.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ingestResponse{Document: doc, Queued: true})
	case doc != nil && errors.Is(err, pipeline.ErrQueueFull):
		s.log.Warn("document recorded but not queued", "document_id", doc.ID, "error", err)
		writeJSON(w, http.StatusAccepted, ingestResponse{Document: doc, Error: err.Error()})
	default:
		s.writeError(w, r, err)
	}
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}

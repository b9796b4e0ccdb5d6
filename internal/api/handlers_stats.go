package api

import (
	"net/http"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.registry.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":   counts,
		"total":       total,
		"queue_depth": s.orchestrator.QueueDepth(),
		"jobs":        s.orchestrator.Jobs(),
	})
}

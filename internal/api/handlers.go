package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

type registerSiteRequest struct {
	RootURL     string `json:"root_url"`
	DisplayName string `json:"display_name"`
}

func (s *Server) registerSite(w http.ResponseWriter, r *http.Request) {
	var req registerSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.RootURL = strings.TrimSpace(req.RootURL)
	if req.RootURL == "" || !strings.HasPrefix(req.RootURL, "http") {
		s.writeError(w, http.StatusBadRequest, "root_url must be an absolute http(s) URL")
		return
	}
	site, err := s.store.RegisterSite(r.Context(), req.RootURL, req.DisplayName)
	if err != nil {
		s.logger.Error("register site failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to register site")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"site": site})
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	if sites == nil {
		sites = []audit.Site{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.store.GetSite(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		s.notFoundOr500(w, err, "site not found", "get site failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"site": site})
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	runID, err := s.store.LatestRun(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		s.notFoundOr500(w, err, "no sealed runs for site", "latest run failed")
		return
	}
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.notFoundOr500(w, err, "run not found", "get run failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.notFoundOr500(w, err, "run not found", "get run failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		s.notFoundOr500(w, err, "run not found", "get run failed")
		return
	}
	records, err := s.store.ListRecords(r.Context(), runID)
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []audit.AuditRecord{}
	}

	// ?flag= filters to records carrying a given discrepancy flag.
	if flag := strings.TrimSpace(r.URL.Query().Get("flag")); flag != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.HasFlag(audit.Flag(flag)) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "records": records})
}

func (s *Server) diffRuns(w http.ResponseWriter, r *http.Request) {
	runA := chi.URLParam(r, "run_id")
	runB := chi.URLParam(r, "other_run_id")
	deltas, err := s.store.Diff(r.Context(), runA, runB)
	if err != nil {
		switch {
		case errors.Is(err, audit.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, audit.ErrRunNotSealed):
			s.writeError(w, http.StatusConflict, "both runs must be sealed before diffing")
		default:
			s.logger.Error("diff failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to diff runs")
		}
		return
	}
	if deltas == nil {
		deltas = []audit.URLDelta{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_a": runA, "run_b": runB, "deltas": deltas})
}

func (s *Server) latestInspection(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	result, err := s.store.LatestInspection(r.Context(), url)
	if err != nil {
		s.notFoundOr500(w, err, "no inspections for url", "latest inspection failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"inspection": result})
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error, notFoundMsg, logMsg string) {
	if errors.Is(err, audit.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	s.logger.Error(logMsg, zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

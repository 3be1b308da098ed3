package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tessera/queue"
	"tessera/search"
)

// enqueueIngest accepts an optional JSON body scoping the job:
// {"artifact_paths": [...], "meta": {...}}. No body, or an empty
// artifact_paths, means reconcile everything on disk.
func (s *Server) enqueueIngest(w http.ResponseWriter, r *http.Request) {
	var sub queue.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := s.jobs.Enqueue(r.Context(), "ingest", sub)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	job, err := s.jobs.Job(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "unknown job") {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			s.writeError(w, http.StatusBadRequest, "limit must be in [1, 100]")
			return
		}
		limit = n
	}

	hits, err := s.searcher.Retrieve(r.Context(), query, limit)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if r.URL.Query().Get("aggregate") == "true" {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"query":     query,
			"documents": search.AggregateByDocument(hits),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"query": query, "hits": hits})
}

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	s.writeJSON(w, http.StatusOK, map[string]any{"profiles": names})
}

func (s *Server) validateProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	profile, ok := s.profiles[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown profile")
		return
	}
	result := s.validator.ValidateProfile(r.Context(), profile)
	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

func (s *Server) authHints(w http.ResponseWriter, _ *http.Request) {
	recent, err := s.hints.Recent()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byDomain, err := s.hints.ByDomain()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"recent":    recent,
		"by_domain": byDomain,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

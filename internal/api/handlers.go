package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/orchestrator"
)

type createJobRequest struct {
	Seeds []string `json:"seeds"`
}

type jobSummary struct {
	JobID string         `json:"job_id"`
	Stats crawl.JobStats `json:"stats"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Seeds) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "at least one seed url is required")
		return
	}

	job, err := s.manager.StartCrawl(req.Seeds)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.manager.Jobs()
	out := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobSummary{JobID: job.ID, Stats: job.Stats()})
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.manager.StopCrawl(r.Context(), jobID); err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "job not found")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"state":  string(crawl.JobStateStopped),
	})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.Resume(r.Context(), jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	stats, err := s.manager.Stats(jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "job not found")
		return
	}
	job, _ := s.manager.Job(jobID)
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"stats":  stats,
		"errors": job.LastErrors(),
	})
}

func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.manager.Job(jobID)
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"job_id":  jobID,
		"results": job.Recent(),
	})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(s.logger, w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	resp, err := s.search.Search(r.Context(), query)
	if err != nil {
		writeError(s.logger, w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, resp)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write response failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}

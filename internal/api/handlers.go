package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riverbend/watchlistd/internal"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	redisStatus := "ok"
	if err := s.health.PingRedis(ctx); err != nil {
		redisStatus = "fail"
	}
	depth, err := s.health.QueueDepth(ctx)
	if err != nil {
		depth = -1
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"redis":       redisStatus,
		"uptime_s":    int(time.Since(s.startedAt).Seconds()),
		"queue_depth": depth,
	})
}

// submitJobRequest is the POST /jobs and POST /scrape-sync request body.
type submitJobRequest struct {
	UserID       string `json:"userID"`
	ForceRefresh *bool  `json:"forceRefresh,omitempty"`
}

// decodeSubmitRequest validates that userID matches ur\d+ (reject with 400
// otherwise) and that forceRefresh, if present, is a bool (guaranteed by
// the typed field above; malformed JSON itself is caught by json.Decode
// failing).
func decodeSubmitRequest(r *http.Request) (submitJobRequest, error) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, internal.NewError(internal.ErrValidation, "malformed request body", err)
	}
	if !userIDPattern.MatchString(req.UserID) {
		return req, internal.NewError(internal.ErrValidation, "userID must match ur\\d+", nil)
	}
	return req, nil
}

func (req submitJobRequest) forceRefresh() bool {
	return req.ForceRefresh != nil && *req.ForceRefresh
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmitRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, internal.ErrValidation, err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.UserID, req.forceRefresh())
	if err != nil {
		kind := internal.KindOf(err)
		writeError(w, statusForKind(kind), kind, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobID":  job.JobID,
		"status": job.Status,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, internal.ErrCacheBackend, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, internal.ErrNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListJobs is the ListRecent HTTP surface: GET /jobs, optionally
// filtered by ?status=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := internal.JobFilter{
		UserID: r.URL.Query().Get("userID"),
		Status: internal.JobStatus(r.URL.Query().Get("status")),
	}
	jobs, err := s.jobs.ListRecent(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, internal.ErrCacheBackend, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !userIDPattern.MatchString(userID) {
		writeError(w, http.StatusBadRequest, internal.ErrValidation, "userID must match ur\\d+")
		return
	}

	entry, _, ok, err := s.resultCache.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, internal.ErrCacheBackend, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, internal.ErrNotFound, "no cached watchlist for "+userID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"data":     entry.Items,
		"metadata": entry.Metadata,
	})
}

// handleScrapeSync implements the optional POST /scrape-sync endpoint:
// submit, then poll GetStatus until terminal or syncWait elapses, returning
// 202 + JobID on timeout so the client falls back to polling GET
// /jobs/{id}.
func (s *Server) handleScrapeSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmitRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, internal.ErrValidation, err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.UserID, req.forceRefresh())
	if err != nil {
		kind := internal.KindOf(err)
		writeError(w, statusForKind(kind), kind, err.Error())
		return
	}

	deadline := time.Now().Add(s.syncWait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		current, ok, err := s.jobs.GetStatus(r.Context(), job.JobID)
		if err == nil && ok && isTerminal(current.Status) {
			writeJSON(w, http.StatusOK, current)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobID":  job.JobID,
		"status": job.Status,
	})
}

func isTerminal(status internal.JobStatus) bool {
	return status == internal.JobCompleted || status == internal.JobFailed
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/MimeLyc/vibetracker/internal/emotion"
	"github.com/MimeLyc/vibetracker/internal/frame"
	"github.com/MimeLyc/vibetracker/internal/jobs"
	"github.com/MimeLyc/vibetracker/pkg/log"
)

type captureRequest struct {
	DataURI string `json:"data_uri"`
}

type captureResponse struct {
	ID      string         `json:"id"`
	Pending int            `json:"pending"`
	Batch   *jobs.BatchJob `json:"batch,omitempty"`
}

type jobsResponse struct {
	Pending int              `json:"pending"`
	Jobs    []*jobs.BatchJob `json:"jobs"`
}

// handleCaptures accepts one snapshot, either as a raw data URI or as JSON.
func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxCaptureSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "capture too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	dataURI := string(body)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		var req captureRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		dataURI = req.DataURI
	}
	dataURI = strings.TrimSpace(dataURI)
	if dataURI == "" {
		writeError(w, http.StatusBadRequest, "data_uri is required")
		return
	}
	if _, err := frame.Encode(dataURI); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	capture := frame.NewCapture(dataURI)
	batch := s.captures.AddCapture(capture)
	writeJSON(w, http.StatusAccepted, captureResponse{
		ID:      capture.ID,
		Pending: s.captures.Pending(),
		Batch:   batch,
	})
}

func (s *Server) handleEmotions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if app := r.URL.Query().Get("app"); app != "" {
			writeJSON(w, http.StatusOK, s.store.QueryByApplication(app))
			return
		}
		writeJSON(w, http.StatusOK, s.store.All())
	case http.MethodDelete:
		s.store.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	top := s.summaryTopN
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, emotion.Summarize(s.store.All(), top))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{
		Pending: s.captures.Pending(),
		Jobs:    s.queue.List(),
	})
}

// handleJobDetail serves /api/jobs/{id}.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, ok := s.queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"ok":      true,
		"pending": s.captures.Pending(),
		"records": s.store.Len(),
	}
	if s.counter != nil {
		counts, err := s.counter.CountByStatus(r.Context())
		if err != nil {
			log.Warn("Failed to count ledger jobs: %v", err)
			body["ok"] = false
		} else {
			body["ledger"] = counts
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

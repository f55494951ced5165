package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/infra/logging"
)

const maxBodyBytes = 1 << 20

// submitRequest accepts both the bare form and a CloudEvents structured
// envelope; only data is read.
type submitRequest struct {
	Data *struct {
		UID       string `json:"uid"`
		ImageName string `json:"image_name"`
	} `json:"data"`
}

type failureDTO struct {
	JobID      string    `json:"job_id"`
	UID        string    `json:"uid"`
	ImageName  string    `json:"image_name"`
	Status     string    `json:"status"`
	Error      string    `json:"error"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Data == nil {
		writeError(w, http.StatusBadRequest, "missing data")
		return
	}

	_, err := s.intake.Submit(ctx, req.Data.UID, req.Data.ImageName, logging.TraceIDFrom(ctx))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidJob) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "could not enqueue job")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"msg": "Image processing..."})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		// intake-only process: nothing to wait for
		writeJSON(w, http.StatusOK, map[string]string{"model": "n/a"})
		return
	}
	st := s.state.State()
	code := http.StatusOK
	if st != model.ResourceReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"model": st.String()})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []failureDTO{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	runs, err := s.runs.ListRecentFailures(r.Context(), nil, limit)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("list failures")
		writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	out := make([]failureDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, failureDTO{
			JobID:      run.JobID,
			UID:        run.RequesterID,
			ImageName:  run.ImageKey,
			Status:     string(run.Status),
			Error:      run.Error,
			Attempts:   run.Attempts,
			DurationMS: run.Duration.Milliseconds(),
			FinishedAt: run.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "queue stats unavailable")
		return
	}
	pending, dead, err := s.queue.Len(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": pending, "dead": dead})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

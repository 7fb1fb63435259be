// Package api exposes the feasibility job manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/jobs"
	"github.com/sells-group/parcel-feasibility/internal/model"
	"github.com/sells-group/parcel-feasibility/internal/monitoring"
	"github.com/sells-group/parcel-feasibility/internal/store"
)

// Jobs is the job boundary served by the handler.
type Jobs interface {
	Start(ctx context.Context, parcelID string) (jobs.JobID, error)
	Job(ctx context.Context, id jobs.JobID) (*model.Job, error)
	Result(ctx context.Context, id jobs.JobID) (*feasibility.Summary, error)
	List(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// StatsFunc collects job health over a lookback window in hours.
type StatsFunc func(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)

// Option configures a Handler.
type Option func(*Handler)

// WithBreakerStates reports GIS circuit breaker states on /health.
func WithBreakerStates(fn func() map[string]string) Option {
	return func(h *Handler) { h.breakers = fn }
}

// WithStats mounts GET /api/stats.
func WithStats(fn StatsFunc, defaultHours int) Option {
	return func(h *Handler) {
		h.stats = fn
		h.statsHours = defaultHours
	}
}

// Handler serves the job API.
type Handler struct {
	jobs       Jobs
	breakers   func() map[string]string
	stats      StatsFunc
	statsHours int
}

// NewHandler creates a Handler.
func NewHandler(j Jobs, opts ...Option) *Handler {
	h := &Handler{jobs: j, statsHours: 24}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router with every endpoint mounted.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/feasibility/{parcelID}", h.handleStart)
		r.Get("/jobs", h.handleList)
		r.Get("/jobs/{jobID}", h.handleStatus)
		r.Get("/jobs/{jobID}/result", h.handleResult)
		if h.stats != nil {
			r.Get("/stats", h.handleStats)
		}
	})
	return r
}

type startResponse struct {
	JobID    string          `json:"job_id"`
	ParcelID string          `json:"parcel_id"`
	Status   model.JobStatus `json:"status"`
}

type statusResponse struct {
	JobID     string            `json:"job_id"`
	ParcelID  string            `json:"parcel_id"`
	Status    model.JobStatus   `json:"status"`
	Phase     feasibility.Phase `json:"phase,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"gis_breakers,omitempty"`
}

// handleHealth always answers 200. Open breakers mark the status degraded.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.breakers != nil {
		resp.Breakers = h.breakers()
		for _, st := range resp.Breakers {
			if st == "open" {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := h.statsHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid hours")
			return
		}
		hours = n
	}

	snap, err := h.stats(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	parcelID := strings.TrimSpace(chi.URLParam(r, "parcelID"))
	if parcelID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "parcel id is required")
		return
	}

	id, err := h.jobs.Start(r.Context(), parcelID)
	if err != nil {
		if errors.Is(err, jobs.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
			return
		}
		zap.L().Error("api: start job failed", zap.String("parcel_id", parcelID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not start job")
		return
	}

	w.Header().Set("Location", "/api/jobs/"+id)
	writeJSON(w, http.StatusAccepted, startResponse{
		JobID:    id,
		ParcelID: parcelID,
		Status:   model.JobStatusPending,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStatus(*job))
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	sum, err := h.jobs.Result(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, jobs.ErrNotComplete):
		writeError(w, http.StatusConflict, "not_complete", err.Error())
	default:
		zap.L().Error("api: get result failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not load result")
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:   model.JobStatus(q.Get("status")),
		ParcelID: q.Get("parcel_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid status")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit")
			return
		}
		filter.Limit = n
	}

	list, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not list jobs")
		return
	}
	out := make([]statusResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toStatus(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	id := chi.URLParam(r, "jobID")
	job, err := h.jobs.Job(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("api: get job failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not load job")
		return nil, false
	}
	return job, true
}

func toStatus(j model.Job) statusResponse {
	return statusResponse{
		JobID:     j.ID,
		ParcelID:  j.ParcelID,
		Status:    j.Status,
		Phase:     j.Phase,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/rangefetch/internal/engine"
	"github.com/italolelis/rangefetch/internal/job"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/manager"
)

const maxRequestBody = 64 * 1024

// Collection is the job collection the handler commands.
type Collection interface {
	Add(ctx context.Context, rawURL, algorithm, digest string) (*job.Job, error)
	Get(id string) (*job.Job, error)
	List() []*job.Job
	Pause(id string) error
	Resume(ctx context.Context, id string) error
	Cancel(id string) error
	Clear(id string) error
	ClearFinished() int
}

type AddDownloadRequest struct {
	URL       string `json:"url"`
	Algorithm string `json:"algorithm,omitempty"`
	Digest    string `json:"digest,omitempty"`
}

// DownloadView is the JSON shape of a job.
type DownloadView struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	File            string  `json:"file"`
	Status          string  `json:"status"`
	Size            int64   `json:"size"`
	Downloaded      int64   `json:"downloaded"`
	Progress        float64 `json:"progress"`
	SizeHuman       string  `json:"size_human"`
	DownloadedHuman string  `json:"downloaded_human"`
	Verified        bool    `json:"verified,omitempty"`
	Error           *string `json:"error,omitempty"`
}

type ClearResponse struct {
	Cleared int `json:"cleared"`
}

func NewDownloadView(j *job.Job) DownloadView {
	size := j.Size()

	sizeHuman := "unknown"
	if size >= 0 {
		sizeHuman = humanize.Bytes(uint64(size))
	}

	v := DownloadView{
		ID:              j.ID(),
		URL:             j.URL(),
		File:            j.FileName(),
		Status:          j.Status().String(),
		Size:            size,
		Downloaded:      j.Downloaded(),
		Progress:        j.Progress(),
		SizeHuman:       sizeHuman,
		DownloadedHuman: humanize.Bytes(uint64(j.Downloaded())),
		Verified:        j.Verified(),
	}

	if err := j.Err(); err != nil {
		msg := err.Error()
		v.Error = &msg
	}

	return v
}

type DownloadsHandler struct {
	jobs     Collection
	username string
	password string
}

// NewDownloadsHandler creates the download command handler. Empty credentials disable basic auth.
func NewDownloadsHandler(jobs Collection, username, password string) *DownloadsHandler {
	return &DownloadsHandler{
		jobs:     jobs,
		username: username,
		password: password,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" || h.password != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/downloads", h.HandleAdd)
	r.Get("/downloads", h.HandleList)
	r.Delete("/downloads", h.HandleClearFinished)

	r.Route("/downloads/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Delete("/", h.HandleClear)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
		r.Post("/cancel", h.HandleCancel)
	})

	return r
}

func (h *DownloadsHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req AddDownloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	j, err := h.jobs.Add(r.Context(), req.URL, req.Algorithm, req.Digest)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTarget) {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		// The job exists but could not be scheduled; it is reported in Error.
		if j == nil {
			logger.Error("failed to add download", "err", err)
			http.Error(w, "failed to add download", http.StatusInternalServerError)

			return
		}

		logger.Error("failed to start download", "job_id", j.ID(), "err", err)
	}

	writeJSON(r.Context(), w, http.StatusCreated, NewDownloadView(j))
}

func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()

	views := make([]DownloadView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, NewDownloadView(j))
	}

	writeJSON(r.Context(), w, http.StatusOK, views)
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, NewDownloadView(j))
}

func (h *DownloadsHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.jobs.Pause)
}

func (h *DownloadsHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(id string) error { return h.jobs.Resume(r.Context(), id) })
}

func (h *DownloadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.jobs.Cancel)
}

// command applies fn to the job in the path and answers with the job's current view.
func (h *DownloadsHandler) command(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := chi.URLParam(r, "id")

	if err := fn(id); err != nil {
		writeError(w, err)

		return
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(r.Context(), w, http.StatusAccepted, NewDownloadView(j))
}

func (h *DownloadsHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Clear(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) HandleClearFinished(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, ClearResponse{Cleared: h.jobs.ClearFinished()})
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="rangefetch"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, manager.ErrNotClearable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/job/id"
	"github.com/maauso/faceswap-api/internal/storage"
)

const (
	defaultMaxUploadBytes = 2 << 30
	multipartMemory       = 32 << 20
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *job.Service
	store          storage.Storage
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the total size of a job submission.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		store:          store,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs multipart requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := CreateJobForm{
		Video:       firstFile(r.MultipartForm, "video"),
		VideoURL:    strings.TrimSpace(r.FormValue("video_url")),
		SourceFaces: r.MultipartForm.File["source_faces"],
		Background:  firstFile(r.MultipartForm, "background"),
	}

	// Validate request
	if err := h.validator.Struct(form); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	if (form.Video == nil) == (form.VideoURL == "") {
		writeError(w, http.StatusBadRequest, "provide exactly one of video or video_url", "VALIDATION_ERROR")
		return
	}

	jobID := id.Generate()
	sub, saved, err := h.saveUploads(r.Context(), jobID, form)
	if err != nil {
		h.cleanup(jobID, saved)
		h.logger.Error("failed to store uploads",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store uploads", "UPLOAD_FAILED")
		return
	}

	createdJob, err := h.service.Submit(r.Context(), sub)
	if err != nil {
		h.cleanup(jobID, saved)
		if isSubmissionError(err) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("source_faces", len(sub.SourceFaces)),
		slog.Bool("background", sub.BackgroundPath != ""),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// saveUploads stores every uploaded file under the job and returns the
// submission plus the paths written so far.
func (h *Handlers) saveUploads(ctx context.Context, jobID string, form CreateJobForm) (job.Submission, []string, error) {
	sub := job.Submission{ID: jobID, InputVideoURL: form.VideoURL}
	var saved []string

	save := func(fh *multipart.FileHeader, name string) (string, error) {
		f, err := fh.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		defer func() { _ = f.Close() }()

		path, err := h.store.SaveUpload(ctx, jobID, name+strings.ToLower(filepath.Ext(fh.Filename)), f)
		if err != nil {
			return "", err
		}
		saved = append(saved, path)
		return path, nil
	}

	if form.Video != nil {
		path, err := save(form.Video, "video")
		if err != nil {
			return sub, saved, err
		}
		sub.InputVideoPath = path
	}
	for i, fh := range form.SourceFaces {
		path, err := save(fh, fmt.Sprintf("source_%02d", i))
		if err != nil {
			return sub, saved, err
		}
		sub.SourceFaces = append(sub.SourceFaces, path)
	}
	if form.Background != nil {
		path, err := save(form.Background, "background")
		if err != nil {
			return sub, saved, err
		}
		sub.BackgroundPath = path
	}
	return sub, saved, nil
}

func (h *Handlers) cleanup(jobID string, paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := h.store.Remove(context.Background(), paths); err != nil {
		h.logger.Warn("failed to remove uploads",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(foundJob))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJobOutput handles GET /jobs/{id}/output requests. Locally stored
// videos are streamed; remote ones are redirected to.
func (h *Handlers) GetJobOutput(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if foundJob.Status != job.StatusCompleted || foundJob.OutputRef == "" {
		writeError(w, http.StatusConflict, "job has no output yet", "JOB_NOT_COMPLETED")
		return
	}

	path, local := h.store.LocalPath(foundJob.OutputRef)
	if !local {
		http.Redirect(w, r, foundJob.OutputRef, http.StatusFound)
		return
	}

	f, err := h.store.Open(r.Context(), path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "output file not found", "OUTPUT_NOT_FOUND")
		return
	}
	if err != nil {
		h.logger.Error("failed to open job output",
			slog.String("job_id", foundJob.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to open output", "OUTPUT_OPEN_FAILED")
		return
	}
	defer func() { _ = f.Close() }()

	name := foundJob.ID + ".mp4"
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, foundJob.UpdatedAt, rs)
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("failed to stream job output",
			slog.String("job_id", foundJob.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RequeueJob handles POST /jobs/{id}/requeue requests.
func (h *Handlers) RequeueJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	requeued, err := h.service.Requeue(r.Context(), jobID)
	switch {
	case err == nil:
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	case errors.Is(err, job.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "only failed jobs can be requeued", "JOB_NOT_FAILED")
		return
	default:
		h.logger.Error("failed to requeue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to requeue job", "JOB_REQUEUE_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     requeued.ID,
		Status: string(requeued.Status),
	})
}

// lookup loads the job named by the {id} path value, writing an error
// response when it cannot.
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	foundJob, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	return foundJob, true
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if files := form.File[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

func isSubmissionError(err error) bool {
	return errors.Is(err, job.ErrNoInputVideo) ||
		errors.Is(err, job.ErrAmbiguousInput) ||
		errors.Is(err, job.ErrNoSourceFaces)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

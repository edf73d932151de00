// Package server provides the HTTP server for the face-swap API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"mime/multipart"
	"time"

	"github.com/maauso/faceswap-api/internal/job"
)

// CreateJobForm is the multipart request for creating a new job.
type CreateJobForm struct {
	// Video is the uploaded input video. Exclusive with VideoURL.
	Video *multipart.FileHeader
	// VideoURL is a remote input video. Exclusive with Video.
	VideoURL string `validate:"omitempty,http_url"`
	// SourceFaces are the ordered source face images.
	SourceFaces []*multipart.FileHeader `validate:"required,min=1,max=16,dive,required"`
	// Background is the optional replacement background image.
	Background *multipart.FileHeader
}

// CreateJobResponse is the HTTP response after creating or requeueing a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the job status after the request.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// OutputRef references the produced video once completed.
	OutputRef string `json:"output_ref,omitempty"`
	// Error contains the failure reason if the job failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the job was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Progress:  j.Progress,
		OutputRef: j.OutputRef,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
	}
}

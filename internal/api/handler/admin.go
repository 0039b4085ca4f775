package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/api/middleware"
	"github.com/3T-LVTN/model/internal/api/models"
	"github.com/3T-LVTN/model/internal/api/response"
	"github.com/3T-LVTN/model/internal/ingest"
	"github.com/3T-LVTN/model/internal/worker"
)

// uploadField is the multipart field carrying the file.
const uploadField = "file"

// FileUploader stores uploaded outcome files.
type FileUploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (*ingest.SyncedFile, error)
}

// JobPublisher enqueues worker jobs.
type JobPublisher interface {
	Publish(ctx context.Context, msg worker.JobMessage) (string, error)
}

// AdminHandler handles upload and training endpoints.
type AdminHandler struct {
	uploader  FileUploader
	publisher JobPublisher
	maxSize   int64
	logger    zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler. maxSize bounds the request
// body of uploads (default: ingest.DefaultMaxUploadSize).
func NewAdminHandler(uploader FileUploader, publisher JobPublisher, maxSize int64, logger zerolog.Logger) *AdminHandler {
	if maxSize <= 0 {
		maxSize = ingest.DefaultMaxUploadSize
	}
	return &AdminHandler{uploader: uploader, publisher: publisher, maxSize: maxSize, logger: logger}
}

// Upload handles POST /v1/prediction/upload - store an outcome file for
// the next sync.
func (h *AdminHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		response.ServiceUnavailable(w, r, "uploads are not configured")
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+1<<20)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(w, r, "file too large", nil)
			return
		}
		response.BadRequest(w, r, "multipart field \"file\" is required", []models.FieldError{
			{Field: uploadField, Message: "required", Code: "required"},
		})
		return
	}
	defer file.Close()

	synced, err := h.uploader.Upload(r.Context(), header.Filename, file)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrFileNotAllowed):
		response.BadRequest(w, r, "only .csv files are accepted", []models.FieldError{
			{Field: uploadField, Message: "extension not allowed", Code: "extension"},
		})
		return
	case errors.Is(err, ingest.ErrEmptyFile), errors.Is(err, ingest.ErrFileTooLarge):
		response.BadRequest(w, r, err.Error(), nil)
		return
	case errors.Is(err, ingest.ErrFileExists):
		response.Conflict(w, r, "file already uploaded")
		return
	default:
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("upload failed")
		response.InternalError(w, r, "failed to store upload")
		return
	}

	h.logger.Info().
		Str("file_name", synced.FileName).
		Str("subject", middleware.GetSubject(r.Context())).
		Msg("outcome file accepted")
	response.OK(w, r, models.UploadResponse{FileName: synced.FileName})
}

// Train handles POST /v1/admin/train - enqueue a training job.
func (h *AdminHandler) Train(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		response.ServiceUnavailable(w, r, "job queue is not configured")
		return
	}

	var input models.TrainRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(w, r, "invalid JSON body", nil)
			return
		}
	}
	if input.TimeWindowID < 0 {
		response.BadRequest(w, r, "invalid train request", []models.FieldError{
			{Field: "timeWindowId", Message: "must not be negative", Code: "min"},
		})
		return
	}

	id, err := h.publisher.Publish(r.Context(), worker.JobMessage{
		JobType:      worker.JobTrainModel,
		TimeWindowID: input.TimeWindowID,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("publishing train job failed")
		response.ServiceUnavailable(w, r, "failed to enqueue training")
		return
	}
	response.Accepted(w, r, models.TrainResponse{MessageID: id})
}

package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/service"
	"github.com/sealbox/sealbox/internal/storage"
	"github.com/sealbox/sealbox/internal/validation"
)

// Multipart overhead allowed on top of the upload size limit.
const multipartSlack = 1 << 20

type FilesHandler struct {
	fileService *service.FileService
	maxSize     int64
}

func NewFilesHandler(fileService *service.FileService, maxSize int64) *FilesHandler {
	return &FilesHandler{
		fileService: fileService,
		maxSize:     maxSize,
	}
}

type listResponse struct {
	Files []*model.File `json:"files"`
}

func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.fileService.List(r.Context())
	if err != nil {
		status, msg := fileErrorStatus(err)
		slog.Error("failed to list files", "error", err)
		writeError(w, status, msg)
		return
	}
	if files == nil {
		files = []*model.File{}
	}
	writeJSON(w, http.StatusOK, listResponse{Files: files})
}

func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartSlack)

	err := r.ParseMultipartForm(32 << 20)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		removeErr := r.MultipartForm.RemoveAll()
		if removeErr != nil {
			slog.Warn("failed to remove multipart temp files", "error", removeErr)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			slog.Error("failed to close file", "error", closeErr)
		}
	}()

	// One byte past the limit is enough to reject the upload
	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		slog.Error("failed to read upload", "error", err)
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	record, err := h.fileService.Ingest(r.Context(), service.IngestInput{
		Name:        header.Filename,
		ContentType: validation.DetectContentType(header.Header.Get("Content-Type"), data),
		Data:        data,
		Tags:        r.FormValue("tags"),
	})
	if err != nil {
		status, msg := fileErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("upload failed", "name", header.Filename, "error", err)
		} else {
			slog.Info("upload rejected", "name", header.Filename, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d, err := h.fileService.Retrieve(r.Context(), id)
	if err != nil {
		status, msg := fileErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("download failed", "file_id", id, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	sendFile(w, d)
}

// Delete removes a file and its blob.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.fileService.Delete(r.Context(), id)
	if err != nil {
		status, msg := fileErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("delete failed", "file_id", id, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// fileErrorStatus maps pipeline errors to a status code and a message safe
// to show to clients.
func fileErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported video format, use MP4, MOV, AVI or MKV"
	case errors.Is(err, service.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, service.ErrInvalidName):
		return http.StatusBadRequest, "invalid file name"
	case errors.Is(err, service.ErrInvalidTags):
		return http.StatusBadRequest, "invalid tags"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "file not found"
	case errors.Is(err, service.ErrChecksumMismatch),
		errors.Is(err, service.ErrCipher),
		errors.Is(err, service.ErrArchive):
		return http.StatusInternalServerError, "file failed integrity check"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusInternalServerError, "file content missing"
	case errors.Is(err, service.ErrBlobRead), errors.Is(err, service.ErrBlobWrite):
		return http.StatusBadGateway, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

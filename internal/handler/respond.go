package handler

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/sealbox/sealbox/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// sendFile writes a decrypted file as an attachment. Nothing is written
// before the whole pipeline has succeeded, so a failed check never leaks
// partial bytes.
func sendFile(w http.ResponseWriter, d *service.Download) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": d.Name})
	if disposition == "" {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Data)))
	w.WriteHeader(http.StatusOK)

	_, err := w.Write(d.Data)
	if err != nil {
		slog.Warn("failed to write download", "file_id", d.File.ID, "error", err)
	}
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sealbox/sealbox/internal/service"
	"github.com/sealbox/sealbox/internal/validation"
)

type ShareHandler struct {
	shareService *service.ShareService
}

func NewShareHandler(shareService *service.ShareService) *ShareHandler {
	return &ShareHandler{
		shareService: shareService,
	}
}

type shareResponse struct {
	FileID    string    `json:"file_id"`
	ShareURL  string    `json:"share_url"`
	ExpiresAt time.Time `json:"expires_at"`
	Emailed   bool      `json:"emailed"`
}

// Create issues a share link. When the form carries an email address the
// link is also mailed there.
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		share *service.Share
		err   error
	)

	recipient := strings.TrimSpace(r.FormValue("email"))
	if recipient != "" {
		recipient, err = validation.NormalizeEmail(recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid email address")
			return
		}
		share, err = h.shareService.Send(r.Context(), id, recipient)
	} else {
		share, err = h.shareService.Create(r.Context(), id)
	}
	if err != nil {
		status, msg := shareErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("failed to share file", "file_id", id, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	slog.Info("share link issued", "file_id", share.File.ID, "expires_at", share.ExpiresAt, "emailed", recipient != "")
	writeJSON(w, http.StatusCreated, shareResponse{
		FileID:    share.File.ID,
		ShareURL:  share.URL,
		ExpiresAt: share.ExpiresAt,
		Emailed:   recipient != "",
	})
}

// QR issues a share link and returns it as a PNG QR code.
func (h *ShareHandler) QR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	png, share, err := h.shareService.QR(r.Context(), id)
	if err != nil {
		status, msg := shareErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("failed to render share QR code", "file_id", id, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("X-Share-Expires-At", share.ExpiresAt.Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(png)
	if err != nil {
		slog.Warn("failed to write QR code", "file_id", id, "error", err)
	}
}

// Redeem serves the file a share link grants. Every token problem gets the
// same response.
func (h *ShareHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	d, err := h.shareService.Redeem(r.Context(), r.PathValue("token"))
	if err != nil {
		status, msg := shareErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("shared download failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	sendFile(w, d)
}

func shareErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrLinkInvalid):
		return http.StatusBadRequest, "invalid or expired link"
	case errors.Is(err, service.ErrEmailDelivery):
		return http.StatusBadGateway, "failed to send email"
	default:
		return fileErrorStatus(err)
	}
}

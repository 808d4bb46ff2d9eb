package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sealbox/sealbox/internal/service"
)

type AdminHandler struct {
	reconcileService *service.ReconcileService
}

func NewAdminHandler(reconcileService *service.ReconcileService) *AdminHandler {
	return &AdminHandler{
		reconcileService: reconcileService,
	}
}

// Reconcile runs a reconciliation pass and returns its report.
// ?deep=true also verifies every blob checksum.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	deep, _ := strconv.ParseBool(r.URL.Query().Get("deep"))

	report, err := h.reconcileService.Run(r.Context(), deep)
	if err != nil {
		status, msg := reconcileErrorStatus(err)
		slog.Warn("reconcile request failed", "deep", deep, "error", err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// LastReport returns the report of the most recent completed pass.
func (h *AdminHandler) LastReport(w http.ResponseWriter, r *http.Request) {
	report := h.reconcileService.Last()
	if report == nil {
		writeError(w, http.StatusNotFound, "no reconciliation has run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func reconcileErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrReconcileInProgress):
		return http.StatusConflict, "reconciliation already in progress"
	default:
		return http.StatusBadGateway, "reconciliation failed"
	}
}

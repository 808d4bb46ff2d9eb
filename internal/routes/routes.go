package routes

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sealbox/sealbox/internal/app"
	"github.com/sealbox/sealbox/internal/handler"
	"github.com/sealbox/sealbox/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	health := handler.NewHealthHandler(app.DB)
	files := handler.NewFilesHandler(app.FileService, app.Cfg.MaxUploadSize)
	share := handler.NewShareHandler(app.ShareService)
	admin := handler.NewAdminHandler(app.ReconcileService)

	mux := http.NewServeMux()

	// ============================================================================
	// OPERATIONS
	// ============================================================================

	mux.HandleFunc("GET /healthz", health.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// ============================================================================
	// FILES
	// ============================================================================

	mux.HandleFunc("GET /files", files.List)
	mux.HandleFunc("POST /files", files.Upload)
	mux.HandleFunc("GET /files/{id}/download", files.Download)

	// Share links
	mux.HandleFunc("POST /files/{id}/share", share.Create)
	mux.HandleFunc("GET /files/{id}/share/qr", share.QR)

	// Shared downloads (rate limited per IP)
	shareLimit := middleware.RateLimit(app.Cfg.ShareRateLimit, time.Minute)
	mux.HandleFunc("GET /s/{token}", shareLimit(share.Redeem))

	// ============================================================================
	// ADMIN
	// ============================================================================

	adminAuth := middleware.AdminAuth(app.Cfg.AdminToken)
	mux.HandleFunc("DELETE /files/{id}", adminAuth(files.Delete))
	mux.HandleFunc("POST /admin/reconcile", adminAuth(admin.Reconcile))
	mux.HandleFunc("GET /admin/reconcile", adminAuth(admin.LastReport))

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.RequestID,       // First so every log line carries the ID
		middleware.SecurityHeaders, // nosniff, no-store, no-referrer
		middleware.Config(app.Cfg),
		middleware.RequestLogging, // Last: reads the route pattern ServeMux sets on this request
	)

	return handler
}

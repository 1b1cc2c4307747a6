package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/aarushishahhh/supplysync/project/internal/auth"
	"github.com/aarushishahhh/supplysync/project/internal/checker"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
	"github.com/aarushishahhh/supplysync/project/internal/storage"
	"github.com/aarushishahhh/supplysync/project/internal/supplier"
)

const maxFormMemory = 10 << 20

type Handler struct {
	store     *storage.Storage
	client    *supplier.Client
	checker   *checker.Checker
	publisher notify.Publisher
}

type Deps struct {
	Store          *storage.Storage
	Client         *supplier.Client
	Checker        *checker.Checker
	Publisher      notify.Publisher
	Verifier       *auth.Verifier
	AllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	h := &Handler{
		store:     d.Store,
		client:    d.Client,
		checker:   d.Checker,
		publisher: d.Publisher,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogging)
	r.Use(withRecover)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
	}).Handler)

	r.Get("/healthz", h.Health)

	r.Route("/app/api", func(r chi.Router) {
		r.Use(d.Verifier.Middleware)

		r.Post("/external", h.External)

		r.Get("/connections", h.ListConnections)
		r.Post("/connections", h.CreateConnection)
		r.Get("/connections/{id}", h.GetConnection)
		r.Delete("/connections/{id}", h.DeleteConnection)
		r.Get("/connections/{id}/checks", h.GetProbeResults)
		r.Post("/connections/{id}/validate", h.ValidateConnection)

		r.Get("/cron", h.GetSchedule)
		r.Post("/cron", h.UpdateSchedule)

		r.Post("/resync", h.Resync)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// parseForm accepts url-encoded and multipart bodies.
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxFormMemory)
	}
	return r.ParseForm()
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   message,
	})
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// writeSupplierError maps a supplier failure to its status and message.
// Anything else is logged and reported as an internal error.
// upstreamStatus maps a failing supplier status to the response status.
// Anything below 400 cannot carry an error body and becomes 502.
func upstreamStatus(status int) int {
	if status < http.StatusBadRequest {
		return http.StatusBadGateway
	}
	return status
}

func writeSupplierError(w http.ResponseWriter, r *http.Request, err error) {
	var supplierErr *supplier.Error
	if errors.As(err, &supplierErr) {
		writeError(w, upstreamStatus(supplierErr.Status), supplierErr.Message)
		return
	}
	slog.Error("supplier call failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
	writeInternalError(w)
}

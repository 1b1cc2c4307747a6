package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aarushishahhh/supplysync/project/internal/auth"
	"github.com/aarushishahhh/supplysync/project/internal/models"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
	"github.com/aarushishahhh/supplysync/project/internal/storage"
	"github.com/aarushishahhh/supplysync/project/internal/supplier"
)

type connectionResponse struct {
	Success    bool               `json:"success"`
	Connection *models.Connection `json:"connection"`
}

type validateResponse struct {
	Success bool               `json:"success"`
	Probe   models.ProbeRecord `json:"probe"`
}

func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := h.store.ListConnections(auth.Shop(r.Context()))
	if err != nil {
		slog.Error("failed to list connections", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, models.ConnectionList{Success: true, Items: connections})
}

func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	req := models.CreateConnectionRequest{
		Name:        strings.TrimSpace(r.PostFormValue("name")),
		APIURL:      strings.TrimSpace(r.PostFormValue("apiUrl")),
		AccessToken: supplier.NormalizeToken(r.PostFormValue("accessToken")),
	}

	if req.Name == "" || req.APIURL == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "name, apiUrl and accessToken are required")
		return
	}

	// Validate and canonicalize URL
	canonicalURL, err := storage.CanonicalizeURL(req.APIURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid URL: %v", err))
		return
	}

	parsed, err := url.Parse(canonicalURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid URL")
		return
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		writeError(w, http.StatusBadRequest, "URL must use HTTP or HTTPS scheme")
		return
	}

	// Handle idempotency key
	var idempotencyKey *string
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		idempotencyKey = &key
	}

	shop := auth.Shop(r.Context())
	conn, isNew, err := h.store.CreateConnection(shop, req, canonicalURL, idempotencyKey)
	if err != nil {
		slog.Error("failed to create connection", "error", err, "shop", shop, "url", req.APIURL)
		writeInternalError(w)
		return
	}

	statusCode := http.StatusOK
	if isNew {
		statusCode = http.StatusCreated
		h.emit(r.Context(), notify.TypeSuccess, notify.KindConnectionCreated, conn.ID, "Connection "+conn.Name+" saved")
	}

	writeJSON(w, statusCode, connectionResponse{Success: true, Connection: conn})
}

func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookupConnection(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, connectionResponse{Success: true, Connection: conn})
}

func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	shop := auth.Shop(r.Context())

	err := h.store.DeleteConnection(shop, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete connection", "error", err, "connection_id", id)
		writeInternalError(w)
		return
	}

	h.emit(r.Context(), notify.TypeInfo, notify.KindConnectionDeleted, id, "Connection removed")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) GetProbeResults(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookupConnection(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	// Parse query parameters
	var since *time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			parsed = parsed.UTC()
			since = &parsed
		} else {
			writeError(w, http.StatusBadRequest, "invalid since parameter, expected RFC3339 format")
			return
		}
	}

	limit := 50 // default
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	results, err := h.store.GetProbeResults(conn.ID, since, limit)
	if err != nil {
		slog.Error("failed to get probe results", "error", err, "connection_id", conn.ID)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// ValidateConnection probes a stored connection now and records the result.
func (h *Handler) ValidateConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookupConnection(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	result := h.checker.Validate(r.Context(), *conn)
	writeJSON(w, http.StatusOK, validateResponse{Success: result.Success, Probe: result})
}

// lookupConnection loads a connection of the session's shop and writes the
// error response when it cannot.
func (h *Handler) lookupConnection(w http.ResponseWriter, r *http.Request, id string) (*models.Connection, bool) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "connectionId is required")
		return nil, false
	}

	conn, err := h.store.GetConnection(auth.Shop(r.Context()), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Connection not found")
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load connection", "error", err, "connection_id", id)
		writeInternalError(w)
		return nil, false
	}

	return conn, true
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aarushishahhh/supplysync/project/internal/auth"
	"github.com/aarushishahhh/supplysync/project/internal/models"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
)

const (
	actionValidateConnection = "validateConnection"
	actionFetchSampleData    = "fetchSampleData"
	actionFetchSampleFields  = "fetchSampleFields"
)

type sampleResponse struct {
	Success bool `json:"success"`
	*models.SampleFetchResult
}

type fieldsResponse struct {
	Success bool `json:"success"`
	*models.FieldSet
}

// External dispatches the supplier actions posted by the import UI.
func (h *Handler) External(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	req := models.ProbeRequest{
		APIURL:      r.PostFormValue("apiUrl"),
		AccessToken: r.PostFormValue("accessToken"),
	}

	switch r.PostFormValue("action") {
	case actionValidateConnection:
		h.validateConnection(w, r, req)
	case actionFetchSampleData:
		h.fetchSampleData(w, r, req)
	case actionFetchSampleFields:
		h.fetchSampleFields(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "Invalid action")
	}
}

func (h *Handler) validateConnection(w http.ResponseWriter, r *http.Request, req models.ProbeRequest) {
	result := h.client.Probe(r.Context(), req)
	if !result.Success {
		h.emit(r.Context(), notify.TypeError, notify.KindConnectionFailed, "", "Connection failed: "+result.Error)
		writeJSON(w, upstreamStatus(result.Status), result)
		return
	}

	h.emit(r.Context(), notify.TypeSuccess, notify.KindConnectionValidated, "", "Connection successful")
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) fetchSampleData(w http.ResponseWriter, r *http.Request, req models.ProbeRequest) {
	page := 1
	if p, err := strconv.Atoi(r.PostFormValue("page")); err == nil && p > 0 {
		page = p
	}

	result, err := h.client.FetchSample(r.Context(), req, page)
	if err != nil {
		writeSupplierError(w, r, err)
		return
	}

	h.emit(r.Context(), notify.TypeInfo, notify.KindSampleFetched, "", fmt.Sprintf("Fetched %d records", len(result.Items)))
	writeJSON(w, http.StatusOK, sampleResponse{Success: true, SampleFetchResult: result})
}

func (h *Handler) fetchSampleFields(w http.ResponseWriter, r *http.Request, req models.ProbeRequest) {
	result, err := h.client.DiscoverFields(r.Context(), req)
	if err != nil {
		writeSupplierError(w, r, err)
		return
	}

	h.emit(r.Context(), notify.TypeInfo, notify.KindFieldsDiscovered, "", fmt.Sprintf("Discovered %d fields", len(result.Fields)))
	writeJSON(w, http.StatusOK, fieldsResponse{Success: true, FieldSet: result})
}

func (h *Handler) emit(ctx context.Context, typ notify.Type, kind, connectionID, message string) {
	notify.Emit(ctx, h.publisher, notify.Event{
		Type:         typ,
		Kind:         kind,
		Shop:         auth.Shop(ctx),
		ConnectionID: connectionID,
		Message:      message,
	})
}

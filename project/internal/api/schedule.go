package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aarushishahhh/supplysync/project/internal/auth"
	"github.com/aarushishahhh/supplysync/project/internal/models"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
	"github.com/aarushishahhh/supplysync/project/internal/schedule"
)

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookupConnection(w, r, r.URL.Query().Get("connectionId"))
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse(conn.Schedule, time.Now()))
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	conn, ok := h.lookupConnection(w, r, r.PostFormValue("connectionId"))
	if !ok {
		return
	}

	cfg, err := scheduleFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.store.UpdateSchedule(auth.Shop(r.Context()), conn.ID, cfg)
	if errors.Is(err, schedule.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to update schedule", "error", err, "connection_id", conn.ID)
		writeInternalError(w)
		return
	}

	h.emit(r.Context(), notify.TypeSuccess, notify.KindScheduleUpdated, conn.ID, "Sync schedule saved")
	writeJSON(w, http.StatusOK, scheduleResponse(updated.Schedule, time.Now()))
}

// Resync asks the sync engine to run a connection now.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	conn, ok := h.lookupConnection(w, r, r.PostFormValue("connectionId"))
	if !ok {
		return
	}

	message := "Sync requested for " + conn.Name
	h.emit(r.Context(), notify.TypeInfo, notify.KindSyncRequested, conn.ID, message)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": message,
	})
}

func scheduleFromForm(r *http.Request) (*schedule.Config, error) {
	cfg := &schedule.Config{
		Enabled:   parseBool(r.PostFormValue("enabled")),
		Frequency: schedule.Frequency(strings.ToLower(strings.TrimSpace(r.PostFormValue("frequency")))),
		TimeOfDay: strings.TrimSpace(r.PostFormValue("time")),
		Timezone:  strings.TrimSpace(r.PostFormValue("timezone")),
	}
	if cfg.Frequency == "" {
		cfg.Frequency = schedule.Daily
	}
	if s := strings.TrimSpace(r.PostFormValue("weekday")); s != "" {
		day, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.New("weekday must be a number 0-6")
		}
		cfg.Weekday = day
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func scheduleResponse(cfg *schedule.Config, now time.Time) models.ScheduleResponse {
	resp := models.ScheduleResponse{Success: true, Schedule: cfg}
	if next, ok := cfg.NextRun(now); ok {
		resp.NextRunAt = &next
	}
	return resp
}

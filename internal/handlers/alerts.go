package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quotagate/quotagate/internal/database"
)

// ListAlerts returns alerts, optionally filtered by status.
func ListAlerts(w http.ResponseWriter, r *http.Request) {
	var status *database.AlertStatus
	if q := r.URL.Query().Get("status"); q != "" {
		s := database.AlertStatus(q)
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid alert status")
			return
		}
		status = &s
	}

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	alerts, err := alertDispatcher.List(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// AcknowledgeAlert marks one alert acknowledged.
func AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	var body struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.By == "" {
		writeError(w, http.StatusBadRequest, "Field 'by' is required")
		return
	}

	if err := alertDispatcher.Acknowledge(r.Context(), uint(id), body.By); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// ResolveAlert marks one alert resolved.
func ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	if err := alertDispatcher.Resolve(r.Context(), uint(id)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// AcknowledgeAllAlerts acknowledges every active alert, optionally
// scoped to one usage.
func AcknowledgeAllAlerts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		By      string `json:"by"`
		UsageID *uint  `json:"usage_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.By == "" {
		writeError(w, http.StatusBadRequest, "Field 'by' is required")
		return
	}

	n, err := alertDispatcher.BulkAcknowledge(r.Context(), body.By, body.UsageID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"acknowledged": n})
}

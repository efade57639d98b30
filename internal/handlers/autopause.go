package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ListAutoPauseLogs returns pause/resume history.
func ListAutoPauseLogs(w http.ResponseWriter, r *http.Request) {
	var projectID *uint
	if q := r.URL.Query().Get("project"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid project ID")
			return
		}
		id := uint(n)
		projectID = &id
	}

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := pauseController.ListLogs(r.Context(), projectID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// OverrideProjectPause marks the project's latest pause as
// operator-overridden, optionally resuming immediately.
func OverrideProjectPause(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	var body struct {
		User   string `json:"user"`
		Resume bool   `json:"resume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.User == "" {
		writeError(w, http.StatusBadRequest, "Field 'user' is required")
		return
	}

	if err := pauseController.ApplyManualOverride(r.Context(), uint(id), body.User, body.Resume); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "overridden"})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/quotagate/quotagate/internal/faults"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses:
// NotFound -> 404, InvalidTransition -> 409, anything else -> 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case faults.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case faults.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/queue"
)

// EnqueueRequest defers one outbound provider call.
func EnqueueRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID uint    `json:"provider_id"`
		ProjectID  *uint   `json:"project_id"`
		SessionID  *string `json:"session_id"`
		Endpoint   string  `json:"endpoint"`
		Method     string  `json:"method"`
		Payload    string  `json:"payload"`
		Headers    string  `json:"headers"`
		Priority   string  `json:"priority"`
		MaxRetries int     `json:"max_retries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ProviderID == 0 || body.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "provider_id and endpoint are required")
		return
	}

	req, err := requestQueue.Enqueue(r.Context(), queue.EnqueueParams{
		ProviderID: body.ProviderID,
		ProjectID:  body.ProjectID,
		SessionID:  body.SessionID,
		Endpoint:   body.Endpoint,
		Method:     body.Method,
		Payload:    body.Payload,
		Headers:    body.Headers,
		Priority:   database.Priority(body.Priority),
		MaxRetries: body.MaxRetries,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListQueue returns queued requests, optionally filtered by status.
func ListQueue(w http.ResponseWriter, r *http.Request) {
	var status *database.QueueStatus
	if q := r.URL.Query().Get("status"); q != "" {
		s := database.QueueStatus(q)
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid queue status")
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

	reqs, err := requestQueue.List(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// GetQueueStats returns per-status request counts.
func GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := requestQueue.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CancelQueuedRequest withdraws one non-terminal request.
func CancelQueuedRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	if err := requestQueue.Cancel(r.Context(), uint(id)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// FlushQueue bulk-deletes terminal requests.
func FlushQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Statuses   []string   `json:"statuses"`
		ProviderID *uint      `json:"provider_id"`
		ProjectID  *uint      `json:"project_id"`
		OlderThan  *time.Time `json:"older_than"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	params := queue.FlushParams{
		ProviderID: body.ProviderID,
		ProjectID:  body.ProjectID,
		OlderThan:  body.OlderThan,
	}
	for _, s := range body.Statuses {
		params.Statuses = append(params.Statuses, database.QueueStatus(s))
	}

	counts, err := requestQueue.Flush(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

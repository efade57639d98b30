package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quotagate/quotagate/internal/ratelimit"
)

// RecordRateLimitEvent is the caller's 429 report.
func RecordRateLimitEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID    uint              `json:"provider_id"`
		ProjectID     *uint             `json:"project_id"`
		SessionID     *string           `json:"session_id"`
		HTTPStatus    int               `json:"http_status"`
		Endpoint      string            `json:"endpoint"`
		Method        string            `json:"method"`
		Headers       map[string]string `json:"headers"`
		Body          string            `json:"body"`
		AttemptNumber int               `json:"attempt_number"`
		MaxAttempts   int               `json:"max_attempts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ProviderID == 0 {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	ev, err := rateLimits.RecordEvent(r.Context(), ratelimit.EventParams{
		ProviderID:    body.ProviderID,
		ProjectID:     body.ProjectID,
		SessionID:     body.SessionID,
		HTTPStatus:    body.HTTPStatus,
		Endpoint:      body.Endpoint,
		Method:        body.Method,
		Headers:       body.Headers,
		Body:          body.Body,
		AttemptNumber: body.AttemptNumber,
		MaxAttempts:   body.MaxAttempts,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListRateLimitEvents returns recent events, newest first.
func ListRateLimitEvents(w http.ResponseWriter, r *http.Request) {
	var providerID *uint
	if q := r.URL.Query().Get("provider"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid provider ID")
			return
		}
		id := uint(n)
		providerID = &id
	}

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := rateLimits.List(r.Context(), providerID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetRateLimitEvent returns one event by ID.
func GetRateLimitEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event ID")
		return
	}

	ev, err := rateLimits.Get(r.Context(), uint(id))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quotagate/quotagate/internal/database"
)

// parseScope reads provider and optional project query parameters.
func parseScope(r *http.Request) (providerID uint, projectID *uint, ok bool) {
	p, err := strconv.Atoi(r.URL.Query().Get("provider"))
	if err != nil || p <= 0 {
		return 0, nil, false
	}
	providerID = uint(p)

	if q := r.URL.Query().Get("project"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			return 0, nil, false
		}
		id := uint(n)
		projectID = &id
	}
	return providerID, projectID, true
}

// GetQuotaUsage returns usage snapshots, optionally filtered by
// provider.
func GetQuotaUsage(w http.ResponseWriter, r *http.Request) {
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

	snapshots, err := quotaTracker.List(r.Context(), providerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// IncrementQuota is the caller's success report: it spends quota for a
// completed provider call. Callers may identify the provider by ID or
// by name.
func IncrementQuota(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID uint   `json:"provider_id"`
		Provider   string `json:"provider"`
		ProjectID  *uint  `json:"project_id"`
		Requests   int64  `json:"requests"`
		Tokens     int64  `json:"tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ProviderID == 0 && body.Provider != "" {
		p, err := database.GetProviderByName(body.Provider)
		if err != nil {
			writeError(w, http.StatusNotFound, "Unknown provider "+body.Provider)
			return
		}
		body.ProviderID = p.ID
	}
	if body.ProviderID == 0 {
		writeError(w, http.StatusBadRequest, "provider_id or provider is required")
		return
	}
	if body.Requests <= 0 {
		body.Requests = 1
	}

	usage, err := quotaTracker.IncrementUsage(r.Context(), body.ProviderID, body.ProjectID, body.Requests, body.Tokens)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage":         usage,
		"usage_percent": usage.UsagePercent(),
		"is_over_limit": usage.IsOverLimit(),
	})
}

// ShouldQueue is the admission signal callers consult before dispatching
// to a provider.
func ShouldQueue(w http.ResponseWriter, r *http.Request) {
	providerID, projectID, ok := parseScope(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid provider or project ID")
		return
	}

	should, reason, err := requestQueue.ShouldQueueRequest(r.Context(), providerID, projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"should_queue": should,
		"reason":       reason,
	})
}

package handlers

import (
	"net/http"

	"github.com/quotagate/quotagate/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	subscribers := 0
	if eventHub != nil {
		subscribers = eventHub.ClientCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            status,
		"database":          dbStatus,
		"event_subscribers": subscribers,
	})
}

package handlers

import "net/http"

// Events streams alert, pause, resume and rate-limit notifications to
// dashboard clients over a websocket.
func Events(w http.ResponseWriter, r *http.Request) {
	eventHub.ServeWS(w, r)
}

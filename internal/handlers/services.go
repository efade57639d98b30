package handlers

import (
	"github.com/quotagate/quotagate/internal/alerts"
	"github.com/quotagate/quotagate/internal/autopause"
	"github.com/quotagate/quotagate/internal/notify"
	"github.com/quotagate/quotagate/internal/queue"
	"github.com/quotagate/quotagate/internal/quota"
	"github.com/quotagate/quotagate/internal/ratelimit"
)

// Services wired in by main before the router starts serving.
var (
	quotaTracker    *quota.Tracker
	alertDispatcher *alerts.Dispatcher
	requestQueue    *queue.Queue
	rateLimits      *ratelimit.Tracker
	pauseController *autopause.Controller
	eventHub        *notify.Hub
)

// Init wires the service objects the handlers delegate to.
func Init(
	q *quota.Tracker,
	a *alerts.Dispatcher,
	rq *queue.Queue,
	rl *ratelimit.Tracker,
	ap *autopause.Controller,
	hub *notify.Hub,
) {
	quotaTracker = q
	alertDispatcher = a
	requestQueue = rq
	rateLimits = rl
	pauseController = ap
	eventHub = hub
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/quotagate/quotagate/internal/alerts"
	"github.com/quotagate/quotagate/internal/autopause"
	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/handlers"
	"github.com/quotagate/quotagate/internal/logging"
	"github.com/quotagate/quotagate/internal/notify"
	"github.com/quotagate/quotagate/internal/queue"
	"github.com/quotagate/quotagate/internal/quota"
	"github.com/quotagate/quotagate/internal/ratelimit"
	"github.com/quotagate/quotagate/internal/scheduler"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hub := notify.NewHub()

	var desktop alerts.DesktopNotifier = alerts.NopNotifier{}
	if config.Cfg.DesktopAlerts || config.Cfg.AudioAlerts {
		desktop = alerts.BeeepNotifier{}
	}

	alertDispatcher := alerts.NewDispatcher(database.DB, hub, desktop)
	quotaTracker := quota.NewTracker(database.DB, hub, alertDispatcher)
	rateLimits := ratelimit.NewTracker(database.DB, hub)
	requestQueue := queue.NewQueue(database.DB, hub, quotaTracker)
	pauseController := autopause.NewController(database.DB, hub)

	handlers.Init(quotaTracker, alertDispatcher, requestQueue, rateLimits, pauseController, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Queue workers
	queueInterval, err := time.ParseDuration(config.Cfg.QueueInterval)
	if err != nil {
		queueInterval = 5 * time.Second
	}
	for i := 0; i < config.Cfg.QueueWorkers; i++ {
		worker := queue.NewWorker(requestQueue, quotaTracker, rateLimits, config.Cfg.QueueBatchSize, queueInterval)
		go worker.Run(ctx)
	}
	log.Printf("Started %d queue workers (batch=%d, interval=%s)",
		config.Cfg.QueueWorkers, config.Cfg.QueueBatchSize, queueInterval)

	// Background sweeps
	sched := scheduler.New(alertDispatcher, pauseController)
	if err := sched.Start(); err != nil {
		log.Fatalf("Scheduler start: %v", err)
	}
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/quota", func(r chi.Router) {
			r.Get("/usage", handlers.GetQuotaUsage)
			r.Post("/increment", handlers.IncrementQuota)
			r.Get("/should-queue", handlers.ShouldQueue)
		})

		r.Route("/ratelimit", func(r chi.Router) {
			r.Post("/events", handlers.RecordRateLimitEvent)
			r.Get("/events", handlers.ListRateLimitEvents)
			r.Get("/events/{id}", handlers.GetRateLimitEvent)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", handlers.ListAlerts)
			r.Post("/{id}/acknowledge", handlers.AcknowledgeAlert)
			r.Post("/{id}/resolve", handlers.ResolveAlert)
			r.Post("/acknowledge-all", handlers.AcknowledgeAllAlerts)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Post("/", handlers.EnqueueRequest)
			r.Get("/", handlers.ListQueue)
			r.Get("/stats", handlers.GetQueueStats)
			r.Post("/{id}/cancel", handlers.CancelQueuedRequest)
			r.Post("/flush", handlers.FlushQueue)
		})

		r.Get("/autopause/logs", handlers.ListAutoPauseLogs)
		r.Post("/projects/{id}/override", handlers.OverrideProjectPause)

		r.Get("/events", handlers.Events)

		r.Get("/server/logs", handlers.GetServerLogs)
		r.Delete("/server/logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("Listening on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}

// Package scheduler runs the periodic sweeps: alert escalations,
// auto-pause and auto-resume. Quota resets are lazy and need no job;
// the queue workers run their own loop.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/alerts"
	"github.com/quotagate/quotagate/internal/autopause"
	"github.com/quotagate/quotagate/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler owns the cron instance behind the background sweeps.
type Scheduler struct {
	cron      *cron.Cron
	alerts    *alerts.Dispatcher
	autopause *autopause.Controller
}

func New(alertDispatcher *alerts.Dispatcher, pauseController *autopause.Controller) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		alerts:    alertDispatcher,
		autopause: pauseController,
	}
}

// Start registers the sweeps with their configured intervals and starts
// the cron loop. Bad intervals fall back to a one-minute default.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		interval string
		run      func()
	}{
		{"escalation sweep", config.Cfg.EscalationSweepInterval, s.runEscalations},
		{"auto-pause sweep", config.Cfg.AutoPauseSweepInterval, s.runAutoPause},
		{"auto-resume sweep", config.Cfg.AutoResumeSweepInterval, s.runAutoResume},
	}

	for _, j := range jobs {
		spec := "@every " + normalizeInterval(j.name, j.interval)
		if _, err := s.cron.AddFunc(spec, j.run); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.Println("[scheduler] background sweeps started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func normalizeInterval(name, interval string) string {
	if _, err := time.ParseDuration(interval); err != nil {
		log.Printf("[scheduler] %s: bad interval %q, using 1m", name, interval)
		return "1m"
	}
	return interval
}

func (s *Scheduler) runEscalations() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n, err := s.alerts.CheckEscalations(ctx); err != nil {
		log.Printf("[scheduler] escalation sweep: %v", err)
	} else if n > 0 {
		log.Printf("[scheduler] escalated %d alerts", n)
	}
}

func (s *Scheduler) runAutoPause() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n, err := s.autopause.CheckQuotasAndPause(ctx, nil); err != nil {
		log.Printf("[scheduler] auto-pause sweep: %v", err)
	} else if n > 0 {
		log.Printf("[scheduler] paused %d projects", n)
	}
}

func (s *Scheduler) runAutoResume() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n, err := s.autopause.CheckAndAutoResume(ctx, nil); err != nil {
		log.Printf("[scheduler] auto-resume sweep: %v", err)
	} else if n > 0 {
		log.Printf("[scheduler] resumed %d projects", n)
	}
}

// Package autopause suspends whole projects when quota runs critical,
// cheapest priority first, and resumes them when headroom returns.
// Pauses and resumes are control-plane actions: they never fail the
// request path, only flip project state and notify.
package autopause

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/faults"
	"gorm.io/gorm"
)

const (
	// resumeThresholdPercent is the usage level below which paused
	// projects become eligible for auto-resume.
	resumeThresholdPercent = 70.0
	// recentActionWindow suppresses repeated pause actions on the same
	// project.
	recentActionWindow = time.Hour
	// warningInterval rate-limits pre-pause warnings per project.
	warningInterval = 30 * time.Minute
)

type notifySink interface {
	Notify(topic string, payload map[string]any)
}

// Controller drives project pause/resume from quota usage.
type Controller struct {
	db    *gorm.DB
	sink  notifySink
	nowFn func() time.Time

	warnMu   sync.Mutex
	lastWarn map[uint]time.Time // project ID -> last warning
}

func NewController(db *gorm.DB, sink notifySink) *Controller {
	return &Controller{
		db:       db,
		sink:     sink,
		nowFn:    time.Now,
		lastWarn: make(map[uint]time.Time),
	}
}

// ascendingPriority pauses cheap projects first; descendingPriority
// resumes expensive ones first.
const (
	ascendingPriority  = "CASE priority WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END ASC, id ASC"
	descendingPriority = "CASE priority WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, id ASC"
)

// CheckQuotasAndPause sweeps usage rows and pauses at most one project
// per hot usage: the lowest-priority running or idle project whose
// pause threshold the usage has crossed. Projects between their warning
// and pause thresholds get a warning notification instead, at most once
// per warningInterval.
func (c *Controller) CheckQuotasAndPause(ctx context.Context, providerID *uint) (int, error) {
	usages, err := c.loadUsages(ctx, providerID)
	if err != nil {
		return 0, err
	}

	paused := 0
	for i := range usages {
		usage := &usages[i]
		percent := usage.UsagePercent()
		if percent <= 0 {
			continue
		}

		projects, err := c.candidateProjects(ctx, usage, ascendingPriority,
			[]database.ProjectStatus{database.ProjectRunning, database.ProjectIdle})
		if err != nil {
			return paused, err
		}

		for j := range projects {
			project := &projects[j]
			if !project.AutoPauseEnabled {
				continue
			}
			recent, err := c.recentlyActedOn(ctx, project.ID)
			if err != nil {
				return paused, err
			}
			if recent {
				continue
			}

			if percent >= project.PauseThresholdPercent {
				if err := c.pause(ctx, project, usage, percent); err != nil {
					return paused, err
				}
				paused++
				break // one pause per hot usage per sweep
			}
			if percent >= project.WarnThresholdPercent {
				c.warn(project, usage, percent)
			}
		}
	}
	return paused, nil
}

func (c *Controller) pause(ctx context.Context, project *database.Project, usage *database.QuotaUsage, percent float64) error {
	entry := database.AutoPauseLog{
		ProjectID:        project.ID,
		Trigger:          fmt.Sprintf("quota at %.1f%% of provider %d", percent, usage.ProviderID),
		Status:           database.PausePending,
		ThresholdPercent: project.PauseThresholdPercent,
		PriorityAtPause:  project.Priority,
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("create pause log: %w", err)
		}
		if err := tx.Model(project).Update("status", database.ProjectPaused).Error; err != nil {
			return fmt.Errorf("pause project %d: %w", project.ID, err)
		}
		if !entry.Status.CanTransition(database.PausePaused) {
			return faults.InvalidTransitionf("pause log %d: %s -> paused", entry.ID, entry.Status)
		}
		return tx.Model(&entry).Update("status", database.PausePaused).Error
	})
	if err != nil {
		return err
	}

	project.Status = database.ProjectPaused
	log.Printf("[autopause] paused project %d (%s priority) at %.1f%%", project.ID, project.Priority, percent)
	c.sink.Notify("project.paused", map[string]any{
		"project_id": project.ID,
		"priority":   project.Priority,
		"percent":    percent,
		"provider":   usage.ProviderID,
	})
	return nil
}

func (c *Controller) warn(project *database.Project, usage *database.QuotaUsage, percent float64) {
	c.warnMu.Lock()
	last, ok := c.lastWarn[project.ID]
	now := c.nowFn()
	if ok && now.Sub(last) < warningInterval {
		c.warnMu.Unlock()
		return
	}
	c.lastWarn[project.ID] = now
	c.warnMu.Unlock()

	c.sink.Notify("project.quota_warning", map[string]any{
		"project_id": project.ID,
		"percent":    percent,
		"threshold":  project.PauseThresholdPercent,
		"provider":   usage.ProviderID,
	})
}

// CheckAndAutoResume resumes paused auto_resume projects once their
// usage drops below the resume threshold, most important first.
func (c *Controller) CheckAndAutoResume(ctx context.Context, providerID *uint) (int, error) {
	usages, err := c.loadUsages(ctx, providerID)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range usages {
		usage := &usages[i]
		if usage.UsagePercent() >= resumeThresholdPercent {
			continue
		}

		projects, err := c.candidateProjects(ctx, usage, descendingPriority,
			[]database.ProjectStatus{database.ProjectPaused})
		if err != nil {
			return resumed, err
		}

		for j := range projects {
			project := &projects[j]
			if !project.AutoResume {
				continue
			}
			if err := c.resume(ctx, project, "project.resumed"); err != nil {
				return resumed, err
			}
			resumed++
		}
	}
	return resumed, nil
}

// resume restores a paused project and closes its most recent pause
// log.
func (c *Controller) resume(ctx context.Context, project *database.Project, topic string) error {
	target := database.ProjectIdle
	if project.ActiveAgents > 0 {
		target = database.ProjectRunning
	}

	now := c.nowFn()
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(project).Update("status", target).Error; err != nil {
			return fmt.Errorf("resume project %d: %w", project.ID, err)
		}

		var entry database.AutoPauseLog
		err := tx.Where("project_id = ? AND status = ?", project.ID, database.PausePaused).
			Order("id DESC").First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load pause log: %w", err)
		}
		return tx.Model(&entry).Updates(map[string]any{
			"status":     database.PauseResumed,
			"resumed_at": now,
		}).Error
	})
	if err != nil {
		return err
	}

	project.Status = target
	log.Printf("[autopause] resumed project %d to %s", project.ID, target)
	c.sink.Notify(topic, map[string]any{
		"project_id": project.ID,
		"status":     target,
	})
	return nil
}

// ApplyManualOverride marks the project's most recent paused log as
// operator-overridden and optionally resumes the project immediately,
// bypassing the thresholds.
func (c *Controller) ApplyManualOverride(ctx context.Context, projectID uint, user string, resume bool) error {
	var project database.Project
	if err := c.db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.NotFoundf("project %d", projectID)
		}
		return err
	}

	var entry database.AutoPauseLog
	err := c.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, database.PausePaused).
		Order("id DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return faults.NotFoundf("no paused log for project %d", projectID)
	}
	if err != nil {
		return err
	}

	if err := c.db.WithContext(ctx).Model(&entry).Updates(map[string]any{
		"status":        database.PauseOverridden,
		"overridden_by": user,
	}).Error; err != nil {
		return fmt.Errorf("override pause log %d: %w", entry.ID, err)
	}

	c.sink.Notify("project.override", map[string]any{
		"project_id": projectID,
		"user":       user,
		"resume":     resume,
	})

	if resume && project.Status == database.ProjectPaused {
		target := database.ProjectIdle
		if project.ActiveAgents > 0 {
			target = database.ProjectRunning
		}
		return c.db.WithContext(ctx).Model(&project).Update("status", target).Error
	}
	return nil
}

// ListLogs returns pause/resume history, newest first.
func (c *Controller) ListLogs(ctx context.Context, projectID *uint, limit int) ([]database.AutoPauseLog, error) {
	if limit <= 0 {
		limit = 100
	}
	q := c.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	}
	var logs []database.AutoPauseLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Controller) loadUsages(ctx context.Context, providerID *uint) ([]database.QuotaUsage, error) {
	q := c.db.WithContext(ctx)
	if providerID != nil {
		q = q.Where("provider_id = ?", *providerID)
	}
	var usages []database.QuotaUsage
	if err := q.Find(&usages).Error; err != nil {
		return nil, fmt.Errorf("load usages: %w", err)
	}
	return usages, nil
}

// candidateProjects returns the projects a usage row governs: the
// usage's own project when scoped, otherwise every project in the
// given statuses.
func (c *Controller) candidateProjects(ctx context.Context, usage *database.QuotaUsage, order string, statuses []database.ProjectStatus) ([]database.Project, error) {
	q := c.db.WithContext(ctx).Where("status IN ?", statuses).Order(order)
	if usage.ProjectID != nil {
		q = q.Where("id = ?", *usage.ProjectID)
	}
	var projects []database.Project
	if err := q.Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	return projects, nil
}

// recentlyActedOn reports whether the project has a pending or paused
// log inside the suppression window.
func (c *Controller) recentlyActedOn(ctx context.Context, projectID uint) (bool, error) {
	cutoff := c.nowFn().Add(-recentActionWindow)
	var count int64
	err := c.db.WithContext(ctx).Model(&database.AutoPauseLog{}).
		Where("project_id = ? AND status IN ? AND created_at >= ?",
			projectID,
			[]database.PauseStatus{database.PausePending, database.PausePaused},
			cutoff).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Package quota maintains rolling usage counters per (provider,
// project) pair and their reset periods. It is the synchronization
// point every other component reads: admission decisions, alerting and
// auto-pause all key off the counters maintained here.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/faults"
	"gorm.io/gorm"
)

// AlertChecker is invoked after every usage increment; the alert
// dispatcher implements it.
type AlertChecker interface {
	CheckAndSend(ctx context.Context, usage *database.QuotaUsage) error
}

type notifySink interface {
	Notify(topic string, payload map[string]any)
}

// Tracker owns the QuotaUsage rows. All mutation happens inside
// transactions with the usage row locked, so concurrent callers never
// lose updates.
type Tracker struct {
	db     *gorm.DB
	sink   notifySink
	alerts AlertChecker // nil disables threshold checks
	nowFn  func() time.Time
}

func NewTracker(db *gorm.DB, sink notifySink, alerts AlertChecker) *Tracker {
	return &Tracker{db: db, sink: sink, alerts: alerts, nowFn: time.Now}
}

// SetAlertChecker wires the alert dispatcher in after construction;
// the dispatcher and tracker are built independently in main.
func (t *Tracker) SetAlertChecker(a AlertChecker) { t.alerts = a }

// GetOrCreateUsage returns the usage row for (provider, project),
// creating it lazily on first use. Reads apply the lazy period reset
// before returning.
func (t *Tracker) GetOrCreateUsage(ctx context.Context, providerID uint, projectID *uint) (*database.QuotaUsage, error) {
	provider, err := t.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if projectID != nil {
		if err := t.checkProject(ctx, *projectID); err != nil {
			return nil, err
		}
	}

	var usage database.QuotaUsage
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := t.lockUsage(tx, provider, projectID)
		if err != nil {
			return err
		}
		if err := t.maybeReset(tx, provider, u); err != nil {
			return err
		}
		usage = *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// IncrementUsage adds to the counters for (provider, project) and runs
// the alert threshold check on the result. This is the single shared
// mutation point for all concurrent callers; the usage row is locked
// for the duration of the read-modify-write.
func (t *Tracker) IncrementUsage(ctx context.Context, providerID uint, projectID *uint, requests, tokens int64) (*database.QuotaUsage, error) {
	provider, err := t.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if projectID != nil {
		if err := t.checkProject(ctx, *projectID); err != nil {
			return nil, err
		}
	}

	var usage database.QuotaUsage
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := t.lockUsage(tx, provider, projectID)
		if err != nil {
			return err
		}
		if err := t.maybeReset(tx, provider, u); err != nil {
			return err
		}

		now := t.nowFn()
		u.CurrentRequests += requests
		u.CurrentTokens += tokens
		u.LastRequestAt = &now
		if u.IsOverLimit() {
			u.OverageCount++
		}
		if err := tx.Save(u).Error; err != nil {
			return fmt.Errorf("save usage %d: %w", u.ID, err)
		}
		usage = *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if t.alerts != nil {
		if err := t.alerts.CheckAndSend(ctx, &usage); err != nil {
			// Threshold breaches are control-plane signals; an alerting
			// failure must not fail the usage report.
			log.Printf("[quota] alert check for usage %d: %v", usage.ID, err)
		}
	}

	return &usage, nil
}

// Snapshot is one usage row joined with its provider name and computed
// percentage, for operator surfaces.
type Snapshot struct {
	database.QuotaUsage
	ProviderName string  `json:"provider_name"`
	Percent      float64 `json:"usage_percent"`
	OverLimit    bool    `json:"is_over_limit"`
}

// List returns usage snapshots, optionally filtered by provider. The
// lazy reset is applied to each row read.
func (t *Tracker) List(ctx context.Context, providerID *uint) ([]Snapshot, error) {
	var usages []database.QuotaUsage
	q := t.db.WithContext(ctx).Order("provider_id, project_id")
	if providerID != nil {
		q = q.Where("provider_id = ?", *providerID)
	}
	if err := q.Find(&usages).Error; err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(usages))
	for i := range usages {
		u := usages[i]
		provider, err := t.loadProvider(ctx, u.ProviderID)
		if err != nil {
			return nil, err
		}
		if t.nowFn().After(u.PeriodEnd) || t.nowFn().Equal(u.PeriodEnd) {
			refreshed, err := t.GetOrCreateUsage(ctx, u.ProviderID, u.ProjectID)
			if err != nil {
				return nil, err
			}
			u = *refreshed
		}
		snapshots = append(snapshots, Snapshot{
			QuotaUsage:   u,
			ProviderName: provider.Name,
			Percent:      u.UsagePercent(),
			OverLimit:    u.IsOverLimit(),
		})
	}
	return snapshots, nil
}

// lockUsage loads the usage row for update, creating it if missing.
func (t *Tracker) lockUsage(tx *gorm.DB, provider *database.Provider, projectID *uint) (*database.QuotaUsage, error) {
	var usage database.QuotaUsage
	q := database.LockForUpdate(tx).Where("provider_id = ?", provider.ID)
	if projectID == nil {
		q = q.Where("project_id IS NULL")
	} else {
		q = q.Where("project_id = ?", *projectID)
	}

	err := q.First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := t.nowFn()
		usage = database.QuotaUsage{
			ProviderID:       provider.ID,
			ProjectID:        projectID,
			QuotaLimit:       provider.DefaultQuotaLimit,
			QuotaLimitTokens: int64(provider.TokensPerDay),
			PeriodStart:      now,
			PeriodEnd:        NextReset(provider, now),
		}
		if err := tx.Create(&usage).Error; err != nil {
			return nil, fmt.Errorf("create usage: %w", err)
		}
		return &usage, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	return &usage, nil
}

// maybeReset rolls the usage over into a fresh period when the current
// one has ended: counters zeroed, the next period computed from the
// provider policy, and every open alert on the usage resolved.
func (t *Tracker) maybeReset(tx *gorm.DB, provider *database.Provider, usage *database.QuotaUsage) error {
	now := t.nowFn()
	if now.Before(usage.PeriodEnd) {
		return nil
	}

	usage.CurrentRequests = 0
	usage.CurrentTokens = 0
	usage.PeriodStart = now
	usage.PeriodEnd = NextReset(provider, now)
	usage.LastResetAt = &now
	if err := tx.Save(usage).Error; err != nil {
		return fmt.Errorf("reset usage %d: %w", usage.ID, err)
	}

	res := tx.Model(&database.QuotaAlert{}).
		Where("quota_usage_id = ? AND status <> ?", usage.ID, database.AlertResolved).
		Updates(map[string]any{"status": database.AlertResolved, "resolved_at": now})
	if res.Error != nil {
		return fmt.Errorf("resolve alerts for usage %d: %w", usage.ID, res.Error)
	}

	if t.sink != nil {
		t.sink.Notify("quota.reset", map[string]any{
			"usage_id":        usage.ID,
			"provider_id":     usage.ProviderID,
			"period_end":      usage.PeriodEnd,
			"alerts_resolved": res.RowsAffected,
		})
	}
	return nil
}

func (t *Tracker) loadProvider(ctx context.Context, id uint) (*database.Provider, error) {
	var p database.Provider
	if err := t.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NotFoundf("provider %d", id)
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return &p, nil
}

func (t *Tracker) checkProject(ctx context.Context, id uint) error {
	var count int64
	if err := t.db.WithContext(ctx).Model(&database.Project{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return faults.NotFoundf("project %d", id)
	}
	return nil
}

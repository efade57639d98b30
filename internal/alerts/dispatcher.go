// Package alerts turns quota-threshold crossings into de-duplicated,
// cooled-down, escalating notifications across the dashboard, desktop
// and audio channels.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/faults"
	"gorm.io/gorm"
)

type notifySink interface {
	Notify(topic string, payload map[string]any)
}

// Dispatcher owns AlertConfig and QuotaAlert rows.
type Dispatcher struct {
	db      *gorm.DB
	sink    notifySink
	desktop DesktopNotifier
	nowFn   func() time.Time
}

func NewDispatcher(db *gorm.DB, sink notifySink, desktop DesktopNotifier) *Dispatcher {
	if desktop == nil {
		desktop = NopNotifier{}
	}
	return &Dispatcher{db: db, sink: sink, desktop: desktop, nowFn: time.Now}
}

// GetOrCreateConfig resolves the most specific AlertConfig for the
// scope: (provider, project), then provider-wide, then project-wide,
// then a lazily-created global default.
func (d *Dispatcher) GetOrCreateConfig(ctx context.Context, providerID, projectID *uint) (*database.AlertConfig, error) {
	var cfg database.AlertConfig

	type scope struct{ provider, project *uint }
	scopes := []scope{}
	if providerID != nil && projectID != nil {
		scopes = append(scopes, scope{providerID, projectID})
	}
	if providerID != nil {
		scopes = append(scopes, scope{providerID, nil})
	}
	if projectID != nil {
		scopes = append(scopes, scope{nil, projectID})
	}

	for _, s := range scopes {
		err := scopedConfig(d.db.WithContext(ctx), s.provider, s.project).First(&cfg).Error
		if err == nil {
			return &cfg, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load alert config: %w", err)
		}
	}

	// Global fallback, created with defaults on first lookup.
	err := scopedConfig(d.db.WithContext(ctx), nil, nil).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = database.AlertConfig{
			WarningThreshold:   80,
			CriticalThreshold:  90,
			EmergencyThreshold: 95,
			DashboardEnabled:   true,
			DesktopEnabled:     true,
			AudioEnabled:       true,
			CooldownMinutes:    30,
			EscalationEnabled:  true,
			EscalationMinutes:  15,
			MaxEscalations:     3,
		}
		if err := d.db.WithContext(ctx).Create(&cfg).Error; err != nil {
			return nil, fmt.Errorf("create global alert config: %w", err)
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load global alert config: %w", err)
	}
	return &cfg, nil
}

func scopedConfig(db *gorm.DB, providerID, projectID *uint) *gorm.DB {
	q := db.Model(&database.AlertConfig{})
	if providerID == nil {
		q = q.Where("provider_id IS NULL")
	} else {
		q = q.Where("provider_id = ?", *providerID)
	}
	if projectID == nil {
		q = q.Where("project_id IS NULL")
	} else {
		q = q.Where("project_id = ?", *projectID)
	}
	return q
}

// CheckAndSend classifies the usage against the configured thresholds
// and dispatches at most one alert. Repeat crossings of the same tier
// update the active alert in place; new dispatches respect the
// cooldown unless the severity increased past every currently-active
// alert.
func (d *Dispatcher) CheckAndSend(ctx context.Context, usage *database.QuotaUsage) error {
	cfg, err := d.GetOrCreateConfig(ctx, &usage.ProviderID, usage.ProjectID)
	if err != nil {
		return err
	}

	percent := usage.UsagePercent()
	alertType, threshold := classify(percent, cfg)
	if alertType == "" {
		return nil
	}

	now := d.nowFn()

	// De-duplicate: one active alert per (usage, type).
	var existing database.QuotaAlert
	err = d.db.WithContext(ctx).
		Where("quota_usage_id = ? AND alert_type = ? AND status = ?", usage.ID, alertType, database.AlertActive).
		First(&existing).Error
	if err == nil {
		return d.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"current_usage":     usage.CurrentRequests,
			"threshold_percent": threshold,
			"message":           alertMessage(alertType, usage, percent),
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load active alert: %w", err)
	}

	// Cooldown applies to new dispatches, but never suppresses a
	// crossing into a higher tier than anything currently active.
	if usage.LastAlertAt != nil {
		cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute
		if now.Before(usage.LastAlertAt.Add(cooldown)) && !outranksActive(d.db, usage.ID, alertType) {
			log.Printf("[alerts] usage %d: %s alert suppressed by cooldown", usage.ID, alertType)
			return nil
		}
	}

	channels := d.enabledChannels(cfg, percent)
	alert := database.QuotaAlert{
		QuotaUsageID:     usage.ID,
		AlertType:        alertType,
		Status:           database.AlertActive,
		ThresholdPercent: threshold,
		CurrentUsage:     usage.CurrentRequests,
		QuotaLimit:       usage.QuotaLimit,
		Message:          alertMessage(alertType, usage, percent),
		Channels:         strings.Join(channels, ","),
	}
	if err := d.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	if err := d.db.WithContext(ctx).Model(&database.QuotaUsage{}).
		Where("id = ?", usage.ID).
		Update("last_alert_at", now).Error; err != nil {
		return fmt.Errorf("stamp last_alert_at: %w", err)
	}
	usage.LastAlertAt = &now

	d.dispatch(&alert, channels, "alert.triggered", 0)
	return nil
}

// classify maps a usage percentage to an alert tier; empty means no
// threshold crossed. At or beyond the emergency threshold (and at
// 100%) the tier is overage.
func classify(percent float64, cfg *database.AlertConfig) (database.AlertType, float64) {
	switch {
	case percent >= 100 || percent >= cfg.EmergencyThreshold:
		return database.AlertOverage, cfg.EmergencyThreshold
	case percent >= cfg.CriticalThreshold:
		return database.AlertCritical, cfg.CriticalThreshold
	case percent >= cfg.WarningThreshold:
		return database.AlertWarning, cfg.WarningThreshold
	}
	return "", 0
}

// outranksActive reports whether the candidate type is strictly more
// severe than every currently-active alert on the usage.
func outranksActive(db *gorm.DB, usageID uint, candidate database.AlertType) bool {
	var active []database.QuotaAlert
	if err := db.Where("quota_usage_id = ? AND status = ?", usageID, database.AlertActive).Find(&active).Error; err != nil {
		return false
	}
	if len(active) == 0 {
		return false
	}
	for _, a := range active {
		if a.AlertType.Rank() >= candidate.Rank() {
			return false
		}
	}
	return true
}

func (d *Dispatcher) enabledChannels(cfg *database.AlertConfig, percent float64) []string {
	var channels []string
	if cfg.DashboardEnabled {
		channels = append(channels, ChannelDashboard)
	}
	if cfg.DesktopEnabled {
		channels = append(channels, ChannelDesktop)
	}
	// Audio is reserved for emergencies.
	if cfg.AudioEnabled && percent >= cfg.EmergencyThreshold {
		channels = append(channels, ChannelAudio)
	}
	return channels
}

func alertMessage(alertType database.AlertType, usage *database.QuotaUsage, percent float64) string {
	switch alertType {
	case database.AlertOverage:
		return fmt.Sprintf("Quota exceeded: %d/%d requests (%.1f%%)", usage.CurrentRequests, usage.QuotaLimit, percent)
	case database.AlertCritical:
		return fmt.Sprintf("Quota critical: %d/%d requests (%.1f%%)", usage.CurrentRequests, usage.QuotaLimit, percent)
	default:
		return fmt.Sprintf("Quota warning: %d/%d requests (%.1f%%)", usage.CurrentRequests, usage.QuotaLimit, percent)
	}
}

// dispatch pushes one alert out on its channels. urgency counts
// escalations: 0 for the initial dispatch.
func (d *Dispatcher) dispatch(alert *database.QuotaAlert, channels []string, topic string, urgency int) {
	payload := map[string]any{
		"alert_id":       alert.ID,
		"quota_usage_id": alert.QuotaUsageID,
		"alert_type":     alert.AlertType,
		"message":        alert.Message,
		"current_usage":  alert.CurrentUsage,
		"quota_limit":    alert.QuotaLimit,
		"urgency":        urgency,
	}

	for _, ch := range channels {
		switch ch {
		case ChannelDashboard:
			d.sink.Notify(topic, payload)
		case ChannelDesktop:
			title := fmt.Sprintf("Quota %s", alert.AlertType)
			if urgency > 0 {
				title = fmt.Sprintf("Quota %s (escalation %d)", alert.AlertType, urgency)
			}
			if err := d.desktop.Notify(title, alert.Message); err != nil {
				log.Printf("[alerts] desktop notification: %v", err)
			}
		case ChannelAudio:
			if err := d.desktop.Beep(); err != nil {
				log.Printf("[alerts] audio alert: %v", err)
			}
		}
	}
}

// CheckEscalations re-dispatches aged, unresolved alerts at rising
// urgency. Acknowledging an alert does not stop escalation; only
// resolution does. Invoked by the periodic scheduler.
func (d *Dispatcher) CheckEscalations(ctx context.Context) (int, error) {
	var active []database.QuotaAlert
	if err := d.db.WithContext(ctx).
		Where("status IN ?", []database.AlertStatus{database.AlertActive, database.AlertAcknowledged}).
		Find(&active).Error; err != nil {
		return 0, fmt.Errorf("load unresolved alerts: %w", err)
	}

	now := d.nowFn()
	escalated := 0
	for i := range active {
		alert := &active[i]

		var usage database.QuotaUsage
		if err := d.db.WithContext(ctx).First(&usage, alert.QuotaUsageID).Error; err != nil {
			log.Printf("[alerts] escalation: usage %d missing for alert %d", alert.QuotaUsageID, alert.ID)
			continue
		}
		cfg, err := d.GetOrCreateConfig(ctx, &usage.ProviderID, usage.ProjectID)
		if err != nil {
			return escalated, err
		}

		if !cfg.EscalationEnabled || alert.EscalationCount >= cfg.MaxEscalations {
			continue
		}
		interval := time.Duration(cfg.EscalationMinutes) * time.Minute
		if now.Sub(alert.CreatedAt) < interval {
			continue
		}
		if alert.EscalationAt != nil && now.Sub(*alert.EscalationAt) < interval {
			continue
		}

		alert.EscalationCount++
		alert.EscalationAt = &now
		if err := d.db.WithContext(ctx).Model(alert).Updates(map[string]any{
			"escalation_count": alert.EscalationCount,
			"escalation_at":    now,
		}).Error; err != nil {
			return escalated, fmt.Errorf("escalate alert %d: %w", alert.ID, err)
		}

		d.dispatch(alert, strings.Split(alert.Channels, ","), "alert.escalated", alert.EscalationCount)
		escalated++
	}

	return escalated, nil
}

// Acknowledge transitions an active alert to acknowledged. The alert
// keeps escalating until resolved or its escalation budget runs out.
func (d *Dispatcher) Acknowledge(ctx context.Context, id uint, by string) error {
	alert, err := d.get(ctx, id)
	if err != nil {
		return err
	}
	if !alert.Status.CanTransition(database.AlertAcknowledged) {
		return faults.InvalidTransitionf("alert %d: %s -> acknowledged", id, alert.Status)
	}

	now := d.nowFn()
	return d.db.WithContext(ctx).Model(alert).Updates(map[string]any{
		"status":          database.AlertAcknowledged,
		"acknowledged_by": by,
		"acknowledged_at": now,
	}).Error
}

// Resolve transitions an active or acknowledged alert to resolved.
func (d *Dispatcher) Resolve(ctx context.Context, id uint) error {
	alert, err := d.get(ctx, id)
	if err != nil {
		return err
	}
	if !alert.Status.CanTransition(database.AlertResolved) {
		return faults.InvalidTransitionf("alert %d: %s -> resolved", id, alert.Status)
	}

	now := d.nowFn()
	if err := d.db.WithContext(ctx).Model(alert).Updates(map[string]any{
		"status":      database.AlertResolved,
		"resolved_at": now,
	}).Error; err != nil {
		return err
	}
	d.sink.Notify("alert.resolved", map[string]any{"alert_id": id})
	return nil
}

// BulkAcknowledge acknowledges every active alert, optionally scoped to
// one usage. Returns the number acknowledged.
func (d *Dispatcher) BulkAcknowledge(ctx context.Context, by string, usageID *uint) (int64, error) {
	now := d.nowFn()
	q := d.db.WithContext(ctx).Model(&database.QuotaAlert{}).Where("status = ?", database.AlertActive)
	if usageID != nil {
		q = q.Where("quota_usage_id = ?", *usageID)
	}
	res := q.Updates(map[string]any{
		"status":          database.AlertAcknowledged,
		"acknowledged_by": by,
		"acknowledged_at": now,
	})
	return res.RowsAffected, res.Error
}

// List returns alerts filtered by status, newest first.
func (d *Dispatcher) List(ctx context.Context, status *database.AlertStatus, limit int) ([]database.QuotaAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	q := d.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var alerts []database.QuotaAlert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (d *Dispatcher) get(ctx context.Context, id uint) (*database.QuotaAlert, error) {
	var alert database.QuotaAlert
	if err := d.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NotFoundf("alert %d", id)
		}
		return nil, err
	}
	return &alert, nil
}

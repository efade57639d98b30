package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/faults"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	topics []string
}

func (s *recordingSink) Notify(topic string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
}

func (s *recordingSink) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type recordingDesktop struct {
	mu      sync.Mutex
	notices []string
	beeps   int
}

func (d *recordingDesktop) Notify(title, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, title)
	return nil
}

func (d *recordingDesktop) Beep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beeps++
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createUsage(t *testing.T, db *gorm.DB, requests, limit int64) *database.QuotaUsage {
	t.Helper()
	p := database.Provider{
		Name:               "claude",
		DisplayName:        "Anthropic Claude",
		DefaultQuotaLimit:  limit,
		QuotaResetType:     database.ResetDaily,
		QuotaResetTimezone: "UTC",
		IsActive:           true,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create provider: %v", err)
	}
	u := database.QuotaUsage{
		ProviderID:      p.ID,
		CurrentRequests: requests,
		QuotaLimit:      limit,
		PeriodStart:     time.Now(),
		PeriodEnd:       time.Now().Add(24 * time.Hour),
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create usage: %v", err)
	}
	return &u
}

func alertCount(t *testing.T, db *gorm.DB, usageID uint) int64 {
	t.Helper()
	var n int64
	db.Model(&database.QuotaAlert{}).Where("quota_usage_id = ?", usageID).Count(&n)
	return n
}

func TestGetOrCreateConfigGlobalDefault(t *testing.T) {
	db := setupTestDB(t)
	d := NewDispatcher(db, &recordingSink{}, nil)

	cfg, err := d.GetOrCreateConfig(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("GetOrCreateConfig: %v", err)
	}
	if cfg.WarningThreshold != 80 || cfg.CriticalThreshold != 90 || cfg.EmergencyThreshold != 95 {
		t.Errorf("unexpected default thresholds: %v/%v/%v",
			cfg.WarningThreshold, cfg.CriticalThreshold, cfg.EmergencyThreshold)
	}

	again, err := d.GetOrCreateConfig(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("second GetOrCreateConfig: %v", err)
	}
	if again.ID != cfg.ID {
		t.Error("global config should be created once")
	}
}

func TestGetOrCreateConfigMostSpecificWins(t *testing.T) {
	db := setupTestDB(t)
	d := NewDispatcher(db, &recordingSink{}, nil)

	providerID := uint(1)
	scoped := database.AlertConfig{
		ProviderID:        &providerID,
		WarningThreshold:  50,
		CriticalThreshold: 60,
	}
	if err := db.Create(&scoped).Error; err != nil {
		t.Fatalf("create scoped config: %v", err)
	}

	cfg, err := d.GetOrCreateConfig(context.Background(), &providerID, nil)
	if err != nil {
		t.Fatalf("GetOrCreateConfig: %v", err)
	}
	if cfg.ID != scoped.ID {
		t.Errorf("expected provider-scoped config %d, got %d", scoped.ID, cfg.ID)
	}
}

func TestCheckAndSendBelowThreshold(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	d := NewDispatcher(db, sink, nil)
	u := createUsage(t, db, 50, 100)

	if err := d.CheckAndSend(context.Background(), u); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}
	if n := alertCount(t, db, u.ID); n != 0 {
		t.Errorf("alerts = %d, want 0", n)
	}
	if sink.count("alert.triggered") != 0 {
		t.Error("no notification expected below warning threshold")
	}
}

func TestCheckAndSendClassification(t *testing.T) {
	cases := []struct {
		name     string
		requests int64
		want     database.AlertType
	}{
		{"warning at 80", 80, database.AlertWarning},
		{"critical at 90", 90, database.AlertCritical},
		{"overage at 95", 95, database.AlertOverage},
		{"overage at limit", 100, database.AlertOverage},
		{"overage past limit", 120, database.AlertOverage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := setupTestDB(t)
			d := NewDispatcher(db, &recordingSink{}, nil)
			u := createUsage(t, db, tc.requests, 100)

			if err := d.CheckAndSend(context.Background(), u); err != nil {
				t.Fatalf("CheckAndSend: %v", err)
			}

			var alert database.QuotaAlert
			if err := db.Where("quota_usage_id = ?", u.ID).First(&alert).Error; err != nil {
				t.Fatalf("expected one alert: %v", err)
			}
			if alert.AlertType != tc.want {
				t.Errorf("alert_type = %s, want %s", alert.AlertType, tc.want)
			}
			if alert.Status != database.AlertActive {
				t.Errorf("status = %s, want active", alert.Status)
			}
		})
	}
}

func TestCheckAndSendDeduplicates(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	d := NewDispatcher(db, sink, nil)
	u := createUsage(t, db, 80, 100)
	ctx := context.Background()

	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("first CheckAndSend: %v", err)
	}

	// Same tier again: the active alert is updated, not duplicated.
	u.CurrentRequests = 85
	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("second CheckAndSend: %v", err)
	}

	if n := alertCount(t, db, u.ID); n != 1 {
		t.Fatalf("alerts = %d, want 1", n)
	}
	var alert database.QuotaAlert
	db.Where("quota_usage_id = ?", u.ID).First(&alert)
	if alert.CurrentUsage != 85 {
		t.Errorf("current_usage = %d, want 85", alert.CurrentUsage)
	}
	if sink.count("alert.triggered") != 1 {
		t.Errorf("triggered notifications = %d, want 1", sink.count("alert.triggered"))
	}
}

func TestCheckAndSendSeverityBypassesCooldown(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	d := NewDispatcher(db, sink, nil)
	u := createUsage(t, db, 80, 100)
	ctx := context.Background()

	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("warning CheckAndSend: %v", err)
	}

	// Seconds later the usage crosses into critical: the cooldown from
	// the warning must not suppress it.
	u.CurrentRequests = 90
	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("critical CheckAndSend: %v", err)
	}

	var critical database.QuotaAlert
	err := db.Where("quota_usage_id = ? AND alert_type = ?", u.ID, database.AlertCritical).First(&critical).Error
	if err != nil {
		t.Fatalf("expected critical alert: %v", err)
	}
	if n := alertCount(t, db, u.ID); n != 2 {
		t.Errorf("alerts = %d, want 2", n)
	}
}

func TestCheckAndSendCooldownSuppressesSameRank(t *testing.T) {
	db := setupTestDB(t)
	d := NewDispatcher(db, &recordingSink{}, nil)
	u := createUsage(t, db, 80, 100)
	ctx := context.Background()

	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}

	// Resolve the warning, then cross the same tier again inside the
	// cooldown window: no new dispatch.
	db.Model(&database.QuotaAlert{}).Where("quota_usage_id = ?", u.ID).
		Update("status", database.AlertResolved)

	u.CurrentRequests = 82
	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("second CheckAndSend: %v", err)
	}
	if n := alertCount(t, db, u.ID); n != 1 {
		t.Errorf("alerts = %d, want 1 (cooldown should suppress)", n)
	}
}

func TestCheckAndSendAudioOnlyAtEmergency(t *testing.T) {
	db := setupTestDB(t)
	desktop := &recordingDesktop{}
	d := NewDispatcher(db, &recordingSink{}, desktop)
	ctx := context.Background()

	warn := createUsage(t, db, 80, 100)
	if err := d.CheckAndSend(ctx, warn); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}
	if desktop.beeps != 0 {
		t.Errorf("beeps = %d after warning, want 0", desktop.beeps)
	}
	if len(desktop.notices) != 1 {
		t.Errorf("desktop notices = %d, want 1", len(desktop.notices))
	}

	warn.CurrentRequests = 96
	if err := d.CheckAndSend(ctx, warn); err != nil {
		t.Fatalf("overage CheckAndSend: %v", err)
	}
	if desktop.beeps != 1 {
		t.Errorf("beeps = %d after overage, want 1", desktop.beeps)
	}
}

func TestCheckEscalations(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	d := NewDispatcher(db, sink, nil)
	u := createUsage(t, db, 95, 100)
	ctx := context.Background()

	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}

	// Too young to escalate.
	n, err := d.CheckEscalations(ctx)
	if err != nil {
		t.Fatalf("CheckEscalations: %v", err)
	}
	if n != 0 {
		t.Errorf("escalated = %d, want 0", n)
	}

	// Age past the escalation interval.
	d.nowFn = func() time.Time { return time.Now().Add(16 * time.Minute) }
	n, err = d.CheckEscalations(ctx)
	if err != nil {
		t.Fatalf("CheckEscalations: %v", err)
	}
	if n != 1 {
		t.Fatalf("escalated = %d, want 1", n)
	}
	if sink.count("alert.escalated") != 1 {
		t.Error("expected one alert.escalated notification")
	}

	// Within the interval of the previous escalation: nothing.
	n, _ = d.CheckEscalations(ctx)
	if n != 0 {
		t.Errorf("escalated = %d immediately after, want 0", n)
	}

	// Budget exhausted after MaxEscalations.
	for i := 2; i <= 4; i++ {
		d.nowFn = func() time.Time { return time.Now().Add(time.Duration(i*16) * time.Minute) }
		d.CheckEscalations(ctx)
	}
	var alert database.QuotaAlert
	db.Where("quota_usage_id = ?", u.ID).First(&alert)
	if alert.EscalationCount != 3 {
		t.Errorf("escalation_count = %d, want 3", alert.EscalationCount)
	}
}

func TestAcknowledgedAlertStillEscalates(t *testing.T) {
	db := setupTestDB(t)
	d := NewDispatcher(db, &recordingSink{}, nil)
	u := createUsage(t, db, 95, 100)
	ctx := context.Background()

	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}
	var alert database.QuotaAlert
	db.Where("quota_usage_id = ?", u.ID).First(&alert)

	if err := d.Acknowledge(ctx, alert.ID, "operator"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	// Acknowledgement silences nothing: only resolution does.
	d.nowFn = func() time.Time { return time.Now().Add(16 * time.Minute) }
	n, err := d.CheckEscalations(ctx)
	if err != nil {
		t.Fatalf("CheckEscalations: %v", err)
	}
	if n != 1 {
		t.Errorf("escalated = %d for acknowledged alert, want 1", n)
	}

	if err := d.Resolve(ctx, alert.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d.nowFn = func() time.Time { return time.Now().Add(40 * time.Minute) }
	n, _ = d.CheckEscalations(ctx)
	if n != 0 {
		t.Errorf("escalated = %d for resolved alert, want 0", n)
	}
}

func TestAlertLifecycle(t *testing.T) {
	db := setupTestDB(t)
	d := NewDispatcher(db, &recordingSink{}, nil)
	u := createUsage(t, db, 95, 100)
	ctx := context.Background()

	if err := d.CheckAndSend(ctx, u); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}
	var alert database.QuotaAlert
	db.Where("quota_usage_id = ?", u.ID).First(&alert)

	if err := d.Acknowledge(ctx, alert.ID, "operator"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	db.First(&alert, alert.ID)
	if alert.Status != database.AlertAcknowledged || alert.AcknowledgedBy != "operator" {
		t.Errorf("status = %s by %q, want acknowledged by operator", alert.Status, alert.AcknowledgedBy)
	}

	// Double acknowledge rejected.
	if err := d.Acknowledge(ctx, alert.ID, "operator"); !faults.IsInvalidTransition(err) {
		t.Errorf("expected InvalidTransition, got %v", err)
	}

	if err := d.Resolve(ctx, alert.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	db.First(&alert, alert.ID)
	if alert.Status != database.AlertResolved || alert.ResolvedAt == nil {
		t.Errorf("expected resolved with timestamp, got %s %v", alert.Status, alert.ResolvedAt)
	}

	// Resolved is terminal.
	if err := d.Resolve(ctx, alert.ID); !faults.IsInvalidTransition(err) {
		t.Errorf("expected InvalidTransition, got %v", err)
	}
	if err := d.Acknowledge(ctx, 999, "x"); !faults.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestBulkAcknowledge(t *testing.T) {
	db := setupTestDB(t)
	d := NewDispatcher(db, &recordingSink{}, nil)
	ctx := context.Background()

	u1 := createUsage(t, db, 95, 100)
	if err := d.CheckAndSend(ctx, u1); err != nil {
		t.Fatalf("CheckAndSend: %v", err)
	}
	u1.CurrentRequests = 90
	// Plant a second active alert of a different tier directly.
	db.Create(&database.QuotaAlert{
		QuotaUsageID: u1.ID,
		AlertType:    database.AlertCritical,
		Status:       database.AlertActive,
	})

	n, err := d.BulkAcknowledge(ctx, "operator", nil)
	if err != nil {
		t.Fatalf("BulkAcknowledge: %v", err)
	}
	if n != 2 {
		t.Errorf("acknowledged = %d, want 2", n)
	}

	var remaining int64
	db.Model(&database.QuotaAlert{}).Where("status = ?", database.AlertActive).Count(&remaining)
	if remaining != 0 {
		t.Errorf("active alerts remaining = %d, want 0", remaining)
	}
}

package autopause

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

func createProject(t *testing.T, db *gorm.DB, name string, priority database.ProjectPriority, status database.ProjectStatus) *database.Project {
	t.Helper()
	p := database.Project{
		Name:                  name,
		Priority:              priority,
		Status:                status,
		ActiveAgents:          1,
		AutoPauseEnabled:      true,
		PauseThresholdPercent: 95,
		WarnThresholdPercent:  80,
		AutoResume:            true,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return &p
}

func TestPauseCheapestPriorityFirst(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	c := NewController(db, sink)
	ctx := context.Background()

	createUsage(t, db, 96, 100)
	critical := createProject(t, db, "flagship", database.ProjectCritical, database.ProjectRunning)
	low := createProject(t, db, "sandbox", database.ProjectLow, database.ProjectRunning)

	n, err := c.CheckQuotasAndPause(ctx, nil)
	if err != nil {
		t.Fatalf("CheckQuotasAndPause: %v", err)
	}
	if n != 1 {
		t.Fatalf("paused = %d, want 1", n)
	}

	var lowLoaded, critLoaded database.Project
	db.First(&lowLoaded, low.ID)
	db.First(&critLoaded, critical.ID)
	if lowLoaded.Status != database.ProjectPaused {
		t.Errorf("low project status = %s, want paused", lowLoaded.Status)
	}
	if critLoaded.Status != database.ProjectRunning {
		t.Errorf("critical project status = %s, want running", critLoaded.Status)
	}

	var entry database.AutoPauseLog
	if err := db.Where("project_id = ?", low.ID).First(&entry).Error; err != nil {
		t.Fatalf("expected a pause log: %v", err)
	}
	if entry.Status != database.PausePaused || entry.PriorityAtPause != database.ProjectLow {
		t.Errorf("log = %+v", entry)
	}
	if sink.count("project.paused") != 1 {
		t.Error("expected one project.paused notification")
	}
}

func TestPauseSkipsDisabledAndRecent(t *testing.T) {
	db := setupTestDB(t)
	c := NewController(db, &recordingSink{})
	ctx := context.Background()

	createUsage(t, db, 96, 100)

	disabled := createProject(t, db, "disabled", database.ProjectLow, database.ProjectRunning)
	db.Model(disabled).Update("auto_pause_enabled", false)

	recent := createProject(t, db, "recent", database.ProjectMedium, database.ProjectRunning)
	db.Create(&database.AutoPauseLog{
		ProjectID: recent.ID,
		Trigger:   "earlier sweep",
		Status:    database.PausePaused,
	})
	db.Model(&database.Project{}).Where("id = ?", recent.ID).Update("status", database.ProjectRunning)

	eligible := createProject(t, db, "eligible", database.ProjectHigh, database.ProjectRunning)

	n, err := c.CheckQuotasAndPause(ctx, nil)
	if err != nil {
		t.Fatalf("CheckQuotasAndPause: %v", err)
	}
	if n != 1 {
		t.Fatalf("paused = %d, want 1", n)
	}

	var loaded database.Project
	db.First(&loaded, eligible.ID)
	if loaded.Status != database.ProjectPaused {
		t.Errorf("eligible project status = %s, want paused", loaded.Status)
	}
	loaded = database.Project{}
	db.First(&loaded, disabled.ID)
	if loaded.Status != database.ProjectRunning {
		t.Errorf("disabled project status = %s, want running", loaded.Status)
	}
}

func TestWarningRateLimited(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	c := NewController(db, sink)
	ctx := context.Background()

	// Between warning (80) and pause (95) thresholds.
	createUsage(t, db, 85, 100)
	createProject(t, db, "warm", database.ProjectMedium, database.ProjectRunning)

	for i := 0; i < 3; i++ {
		if _, err := c.CheckQuotasAndPause(ctx, nil); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if got := sink.count("project.quota_warning"); got != 1 {
		t.Errorf("warnings = %d, want 1 inside the interval", got)
	}

	// Past the interval a fresh warning goes out.
	c.nowFn = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if _, err := c.CheckQuotasAndPause(ctx, nil); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := sink.count("project.quota_warning"); got != 2 {
		t.Errorf("warnings = %d, want 2 after interval", got)
	}
}

func TestAutoResume(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	c := NewController(db, sink)
	ctx := context.Background()

	usage := createUsage(t, db, 96, 100)
	project := createProject(t, db, "sandbox", database.ProjectLow, database.ProjectRunning)

	if _, err := c.CheckQuotasAndPause(ctx, nil); err != nil {
		t.Fatalf("pause sweep: %v", err)
	}

	// Still hot: no resume.
	n, err := c.CheckAndAutoResume(ctx, nil)
	if err != nil {
		t.Fatalf("CheckAndAutoResume: %v", err)
	}
	if n != 0 {
		t.Errorf("resumed = %d while hot, want 0", n)
	}

	// Usage drops below the resume threshold.
	db.Model(usage).Update("current_requests", 50)
	n, err = c.CheckAndAutoResume(ctx, nil)
	if err != nil {
		t.Fatalf("CheckAndAutoResume: %v", err)
	}
	if n != 1 {
		t.Fatalf("resumed = %d, want 1", n)
	}

	var loaded database.Project
	db.First(&loaded, project.ID)
	if loaded.Status != database.ProjectRunning {
		t.Errorf("status = %s, want running (has active agents)", loaded.Status)
	}

	var entry database.AutoPauseLog
	db.Where("project_id = ?", project.ID).Order("id DESC").First(&entry)
	if entry.Status != database.PauseResumed || entry.ResumedAt == nil {
		t.Errorf("log = %+v, want resumed with timestamp", entry)
	}
	if sink.count("project.resumed") != 1 {
		t.Error("expected one project.resumed notification")
	}
}

func TestAutoResumeToIdleWithoutAgents(t *testing.T) {
	db := setupTestDB(t)
	c := NewController(db, &recordingSink{})
	ctx := context.Background()

	createUsage(t, db, 10, 100)
	project := createProject(t, db, "quiet", database.ProjectLow, database.ProjectPaused)
	db.Model(project).Update("active_agents", 0)
	db.Create(&database.AutoPauseLog{ProjectID: project.ID, Trigger: "t", Status: database.PausePaused})

	if _, err := c.CheckAndAutoResume(ctx, nil); err != nil {
		t.Fatalf("CheckAndAutoResume: %v", err)
	}

	var loaded database.Project
	db.First(&loaded, project.ID)
	if loaded.Status != database.ProjectIdle {
		t.Errorf("status = %s, want idle", loaded.Status)
	}
}

func TestAutoResumeRespectsOptOut(t *testing.T) {
	db := setupTestDB(t)
	c := NewController(db, &recordingSink{})
	ctx := context.Background()

	createUsage(t, db, 10, 100)
	project := createProject(t, db, "manual", database.ProjectLow, database.ProjectPaused)
	db.Model(project).Update("auto_resume", false)

	n, err := c.CheckAndAutoResume(ctx, nil)
	if err != nil {
		t.Fatalf("CheckAndAutoResume: %v", err)
	}
	if n != 0 {
		t.Errorf("resumed = %d, want 0 with auto_resume off", n)
	}
}

func TestManualOverride(t *testing.T) {
	db := setupTestDB(t)
	sink := &recordingSink{}
	c := NewController(db, sink)
	ctx := context.Background()

	createUsage(t, db, 96, 100)
	project := createProject(t, db, "sandbox", database.ProjectLow, database.ProjectRunning)
	if _, err := c.CheckQuotasAndPause(ctx, nil); err != nil {
		t.Fatalf("pause sweep: %v", err)
	}

	if err := c.ApplyManualOverride(ctx, project.ID, "operator", true); err != nil {
		t.Fatalf("ApplyManualOverride: %v", err)
	}

	var entry database.AutoPauseLog
	db.Where("project_id = ?", project.ID).Order("id DESC").First(&entry)
	if entry.Status != database.PauseOverridden || entry.OverriddenBy != "operator" {
		t.Errorf("log = %+v, want overridden by operator", entry)
	}

	var loaded database.Project
	db.First(&loaded, project.ID)
	if loaded.Status != database.ProjectRunning {
		t.Errorf("status = %s, want running after override resume", loaded.Status)
	}
	if sink.count("project.override") != 1 {
		t.Error("expected one project.override notification")
	}
}

func TestManualOverrideWithoutPause(t *testing.T) {
	db := setupTestDB(t)
	c := NewController(db, &recordingSink{})
	project := createProject(t, db, "never-paused", database.ProjectLow, database.ProjectRunning)

	err := c.ApplyManualOverride(context.Background(), project.ID, "operator", false)
	if !faults.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	err = c.ApplyManualOverride(context.Background(), 999, "operator", false)
	if !faults.IsNotFound(err) {
		t.Fatalf("expected NotFound for unknown project, got %v", err)
	}
}

package database

import (
	"os"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSeedProvidersDefaults(t *testing.T) {
	db := setupTestDB(t)

	if err := SeedProviders(db, ""); err != nil {
		t.Fatalf("SeedProviders: %v", err)
	}

	var count int64
	db.Model(&Provider{}).Count(&count)
	if count != 4 {
		t.Fatalf("providers = %d, want 4", count)
	}

	var claude Provider
	if err := db.Where("name = ?", "claude").First(&claude).Error; err != nil {
		t.Fatalf("load claude: %v", err)
	}
	if claude.QuotaResetType != ResetDaily || claude.QuotaResetTimezone != "UTC" || !claude.IsActive {
		t.Errorf("claude = %+v", claude)
	}
}

func TestSeedProvidersIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := SeedProviders(db, ""); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	// Operator edits survive a reseed.
	db.Model(&Provider{}).Where("name = ?", "claude").Update("default_quota_limit", 42)

	if err := SeedProviders(db, ""); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	db.Model(&Provider{}).Count(&count)
	if count != 4 {
		t.Errorf("providers = %d after reseed, want 4", count)
	}
	var claude Provider
	db.Where("name = ?", "claude").First(&claude)
	if claude.DefaultQuotaLimit != 42 {
		t.Errorf("limit = %d, seed must not clobber edits", claude.DefaultQuotaLimit)
	}
}

func TestSeedProvidersFromFile(t *testing.T) {
	db := setupTestDB(t)

	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `providers:
  - name: claude
    display_name: Anthropic Claude
    default_quota_limit: 250
    quota_reset_type: monthly
    quota_reset_day_of_month: 15
    quota_reset_timezone: America/New_York
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	if err := SeedProviders(db, path); err != nil {
		t.Fatalf("SeedProviders: %v", err)
	}

	var claude Provider
	if err := db.Where("name = ?", "claude").First(&claude).Error; err != nil {
		t.Fatalf("load claude: %v", err)
	}
	if claude.DefaultQuotaLimit != 250 || claude.QuotaResetType != ResetMonthly ||
		claude.QuotaResetDayOfMonth != 15 || claude.QuotaResetTimezone != "America/New_York" {
		t.Errorf("claude = %+v", claude)
	}
}

func TestSeedProvidersRejectsBadResetType(t *testing.T) {
	db := setupTestDB(t)

	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `providers:
  - name: broken
    display_name: Broken
    quota_reset_type: hourly
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	if err := SeedProviders(db, path); err == nil {
		t.Fatal("expected error for unknown reset type")
	}
}
